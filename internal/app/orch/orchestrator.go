package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/RetroHub/internal/app"
	"github.com/dkeye/RetroHub/internal/app/sfu"
	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultStaleAfter = 30 * 24 * time.Hour

// Orchestrator coordinates presence, rooms, invites and voice.
// State lives in Presence, Rooms and Voice; the orchestrator only sequences
// mutations and the notifications that follow them.
type Orchestrator struct {
	Presence *app.Registry
	Bus      *app.Bus
	Rooms    *app.RoomManager
	Users    core.UserStore
	Records  core.GameRecordStore
	Voice    *sfu.VoiceRelay

	// StaleAfter is how long a room with an offline host survives without updates.
	StaleAfter time.Duration
	Now        func() time.Time
}

func New(
	presence *app.Registry,
	bus *app.Bus,
	rooms *app.RoomManager,
	users core.UserStore,
	records core.GameRecordStore,
	voice *sfu.VoiceRelay,
) *Orchestrator {
	o := &Orchestrator{
		Presence:   presence,
		Bus:        bus,
		Rooms:      rooms,
		Users:      users,
		Records:    records,
		Voice:      voice,
		StaleAfter: DefaultStaleAfter,
		Now:        time.Now,
	}
	presence.OnOffline(o.onOffline)
	return o
}

// Connect opens an event stream for user and announces them to their friends.
// The caller must Close the subscription; closing the last one runs the offline cascade.
func (o *Orchestrator) Connect(ctx context.Context, user domain.UserID) *app.Subscription {
	sub := o.Presence.Subscribe(user)
	o.notifyPresence(ctx, user)
	return sub
}

func (o *Orchestrator) onOffline(user domain.UserID, connectedAt time.Time) {
	ctx := context.Background()
	logger := log.With().Str("module", "orch.presence").Int64("user", int64(user)).Logger()

	if o.Presence.IsOnline(user) {
		logger.Debug().Err(domain.ErrRegistryRace).Msg("user came back before offline cascade")
		return
	}
	if room, ok := o.Rooms.PlayingOf(user); ok {
		if err := o.Records.PauseGame(ctx, user, room.GameID, connectedAt); err != nil {
			logger.Error().Err(err).Int64("game", int64(room.GameID)).Msg("pause game")
		}
		if o.Voice != nil {
			o.Voice.Drop(room.ID, user)
		}
	}
	o.notifyPresence(ctx, user)
}

// userBasic is the store view decorated with live presence.
func (o *Orchestrator) userBasic(ctx context.Context, user domain.UserID) (domain.UserBasic, error) {
	b, err := o.Users.GetUserBasic(ctx, user)
	if err != nil {
		return domain.UserBasic{}, err
	}
	b.ID = user
	b.Status = domain.StatusOffline
	if o.Presence.IsOnline(user) {
		b.Status = domain.StatusOnline
	}
	if room, ok := o.Rooms.PlayingOf(user); ok {
		b.Playing = &room
	}
	return b, nil
}

// notifyPresence pushes the user's current state to their friends.
func (o *Orchestrator) notifyPresence(ctx context.Context, user domain.UserID) {
	logger := log.With().Str("module", "orch.presence").Int64("user", int64(user)).Logger()
	b, err := o.userBasic(ctx, user)
	if err != nil {
		logger.Error().Err(err).Msg("load user")
		return
	}
	friends, err := o.Users.GetFriendIDs(ctx, user)
	if err != nil {
		logger.Error().Err(err).Msg("load friends")
		return
	}
	o.Bus.NotifyMany(friends, domain.UserUpdated{User: b})
}

// refTime is the accounting reference for an online user; zero when offline.
func (o *Orchestrator) refTime(user domain.UserID) time.Time {
	t, _ := o.Presence.ConnectedAt(user)
	return t
}

// RelaySignal forwards peer-to-peer netplay signaling to target.
func (o *Orchestrator) RelaySignal(from, target domain.UserID, payload string) {
	o.Bus.Notify(target, domain.Signal{UserID: from, JSON: payload})
}

// LoginPing tells every open stream of user that a new login happened.
func (o *Orchestrator) LoginPing(user domain.UserID) {
	o.Bus.Notify(user, domain.LoginPing{})
}

func (o *Orchestrator) AnnounceGame(game domain.Game) {
	o.Bus.NotifyAll(domain.NewGame{Game: game})
}

var ErrNotPublishable = errors.New("event is not published by the store")

// Publish forwards an event produced by the external store to target.
func (o *Orchestrator) Publish(target domain.UserID, ev domain.NotifyEvent) error {
	switch ev.(type) {
	case domain.FriendApplied, domain.FriendAccepted, domain.FriendDeleted,
		domain.NewMessage, domain.FavoriteChanged:
	default:
		return ErrNotPublishable
	}
	o.Bus.Notify(target, ev)
	return nil
}

func (o *Orchestrator) IsOnline(user domain.UserID) bool { return o.Presence.IsOnline(user) }

func (o *Orchestrator) OnlineCount() int { return o.Presence.OnlineCount() }
