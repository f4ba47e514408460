package app

import "github.com/dkeye/RetroHub/internal/domain"

type BackpressureAction int

const (
	// DropOldest evicts the oldest queued event so the newest state gets through.
	DropOldest BackpressureAction = iota
	// DropNewest discards the event being delivered.
	DropNewest
)

// Policy decides what happens when a subscriber's channel is full.
type Policy interface {
	OnBackPressure(user domain.UserID, ev domain.NotifyEvent) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.UserID, domain.NotifyEvent) BackpressureAction {
	return DropOldest
}
