package signal

import (
	"encoding/json"

	"github.com/dkeye/RetroHub/internal/domain"
)

type envelope struct {
	Type domain.EventKind   `json:"type"`
	Data domain.NotifyEvent `json:"data"`
}

// EncodeEvent renders an event as {"type": <variant>, "data": {...}}.
func EncodeEvent(ev domain.NotifyEvent) ([]byte, error) {
	return json.Marshal(envelope{Type: ev.Kind(), Data: ev})
}
