package core

import (
	"context"
	"time"

	"github.com/dkeye/RetroHub/internal/domain"
)

// UserStore is the read side of the external account store.
type UserStore interface {
	// GetUserBasic returns identity fields only; presence fields are left zero.
	GetUserBasic(ctx context.Context, id domain.UserID) (domain.UserBasic, error)
	// GetFriendIDs returns accepted friends of id.
	GetFriendIDs(ctx context.Context, id domain.UserID) ([]domain.UserID, error)
}

// GameRecordStore accumulates play time per (user, game).
type GameRecordStore interface {
	StartGame(ctx context.Context, user domain.UserID, game domain.GameID) error
	// EndGame adds now - max(last start, ref) to the play total. A zero ref is a no-op.
	EndGame(ctx context.Context, user domain.UserID, game domain.GameID, ref time.Time) error
	// PauseGame accounts like EndGame when the user drops offline mid-game.
	PauseGame(ctx context.Context, user domain.UserID, game domain.GameID, ref time.Time) error
}
