package orch

import (
	"context"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateInvite invites target into room id. A previous invite from the same
// sender to the same target is replaced, and the target hears about the
// deletion before the new invite.
func (o *Orchestrator) CreateInvite(ctx context.Context, sender domain.UserID, id domain.RoomID, target domain.UserID) (domain.Invite, error) {
	if _, err := o.Users.GetUserBasic(ctx, target); err != nil {
		return domain.Invite{}, err
	}
	inv, superseded, room, err := o.Rooms.CreateInvite(sender, id, target)
	if err != nil {
		return domain.Invite{}, err
	}
	if superseded != nil {
		o.Bus.Notify(target, domain.InviteDeleted{InviteID: superseded.ID})
	}
	o.Bus.Notify(target, domain.NewInvite{Invite: inv, Room: room})
	log.Info().
		Str("module", "orch.invite").
		Int64("invite", int64(inv.ID)).
		Int64("sender", int64(sender)).
		Int64("target", int64(target)).
		Int64("room", int64(id)).
		Msg("invite created")
	return inv, nil
}

// AcceptInvite enters the invite's room. It reports false without error when
// the invite or its room has already gone away.
func (o *Orchestrator) AcceptInvite(ctx context.Context, user domain.UserID, id domain.InviteID) (bool, error) {
	logger := log.With().Str("module", "orch.invite").Int64("invite", int64(id)).Int64("user", int64(user)).Logger()

	inv, ok := o.Rooms.TakeInvite(user, id)
	if !ok {
		logger.Debug().Err(domain.ErrInviteNotFound).Msg("accept ignored")
		return false, nil
	}
	if current, ok := o.Rooms.PlayingOf(user); ok && current.ID == inv.RoomID {
		return true, nil
	}
	if _, ok := o.Rooms.Get(inv.RoomID); !ok {
		logger.Debug().Err(domain.ErrRoomNotFound).Msg("accept ignored")
		return false, nil
	}
	o.vacateHosted(ctx, user, inv.RoomID)
	if _, err := o.enter(ctx, user, inv.RoomID, o.Rooms.Enter); err != nil {
		if IsRoomGone(err) {
			logger.Debug().Err(err).Msg("accept ignored")
			return false, nil
		}
		return false, err
	}
	o.notifyPresence(ctx, user)
	return true, nil
}

// DeclineInvite deletes the invite and tells its sender. A missing invite is a no-op.
func (o *Orchestrator) DeclineInvite(ctx context.Context, user domain.UserID, id domain.InviteID) error {
	inv, ok := o.Rooms.TakeInvite(user, id)
	if !ok {
		return nil
	}
	o.Bus.Notify(inv.SenderID, domain.InviteDeleted{InviteID: inv.ID})
	return nil
}

// WithdrawInvites deletes every invite sent by sender and tells each target.
func (o *Orchestrator) WithdrawInvites(ctx context.Context, sender domain.UserID) []domain.Invite {
	invites := o.Rooms.WithdrawInvites(sender)
	for _, inv := range invites {
		o.Bus.Notify(inv.TargetID, domain.InviteDeleted{InviteID: inv.ID})
	}
	return invites
}

func (o *Orchestrator) InvitesFor(target domain.UserID) []domain.Invite {
	return o.Rooms.InvitesTo(target)
}

func (o *Orchestrator) InvitesFrom(sender domain.UserID) []domain.Invite {
	return o.Rooms.InvitesFrom(sender)
}
