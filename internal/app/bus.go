package app

import (
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Bus delivers events to online users. Delivery is fire-and-forget:
// offline targets are skipped and full channels follow the registry policy.
type Bus struct {
	reg *Registry
}

func NewBus(reg *Registry) *Bus {
	return &Bus{reg: reg}
}

func (b *Bus) Notify(user domain.UserID, ev domain.NotifyEvent) {
	n := b.reg.deliver(user, ev)
	log.Debug().
		Str("module", "app.bus").
		Int64("user", int64(user)).
		Str("event", string(ev.Kind())).
		Int("streams", n).
		Msg("notify")
}

func (b *Bus) NotifyMany(users []domain.UserID, ev domain.NotifyEvent) {
	for _, u := range users {
		b.Notify(u, ev)
	}
}

func (b *Bus) NotifyAll(ev domain.NotifyEvent) {
	n := b.reg.deliverAll(ev)
	log.Debug().Str("module", "app.bus").Str("event", string(ev.Kind())).Int("streams", n).Msg("notify all")
}
