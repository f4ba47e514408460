package orch

import (
	"context"
	"errors"

	"github.com/dkeye/RetroHub/internal/app"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) CreateRoom(ctx context.Context, host domain.UserID, game domain.GameID, private bool) (domain.Room, error) {
	o.vacateHosted(ctx, host, 0)
	room := o.Rooms.Create(host, game, private)
	if _, err := o.enter(ctx, host, room.ID, o.Rooms.Enter); err != nil {
		return domain.Room{}, err
	}
	o.notifyPresence(ctx, host)
	return room, nil
}

func (o *Orchestrator) UpdateRoom(ctx context.Context, host domain.UserID, id domain.RoomID, edit domain.RoomEdit) (domain.Room, error) {
	old, room, err := o.Rooms.Update(host, id, edit)
	if err != nil {
		return domain.Room{}, err
	}
	if old.GameID != room.GameID {
		o.endGame(ctx, host, old.GameID)
		o.startGame(ctx, host, room.GameID)
	}
	log.Info().Str("module", "orch.room").Int64("room", int64(id)).Int64("host", int64(room.Host)).Msg("room updated")

	o.notifyPresence(ctx, host)
	if room.Host != host {
		o.notifyPresence(ctx, room.Host)
	}
	o.Bus.NotifyMany(o.Rooms.Members(id), domain.RoomUpdated{Room: room})
	return room, nil
}

func (o *Orchestrator) UpdateRoomScreenshot(ctx context.Context, host domain.UserID, id domain.RoomID, screenshot string) (domain.Room, error) {
	room, err := o.Rooms.SetScreenshot(host, id, screenshot)
	if err != nil {
		return domain.Room{}, err
	}
	o.Bus.NotifyMany(o.Rooms.Members(id), domain.RoomUpdated{Room: room})
	return room, nil
}

func (o *Orchestrator) EnterPublicRoom(ctx context.Context, user domain.UserID, id domain.RoomID) (domain.Room, error) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if room.Private {
		return domain.Room{}, domain.ErrPrivateRoomAccessDenied
	}
	o.vacateHosted(ctx, user, id)
	// the room may have turned private since the lookup
	room, err := o.enter(ctx, user, id, o.Rooms.EnterPublic)
	if err != nil {
		return domain.Room{}, err
	}
	o.notifyPresence(ctx, user)
	return room, nil
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, user domain.UserID) error {
	res, err := o.Rooms.Leave(user)
	if err != nil {
		return err
	}
	o.endGame(ctx, user, res.Room.GameID)
	if o.Voice != nil {
		o.Voice.Drop(res.Room.ID, user)
	}
	for _, inv := range res.Withdrawn {
		o.Bus.Notify(inv.TargetID, domain.InviteDeleted{InviteID: inv.ID})
	}
	if res.Deleted != nil {
		o.afterDelete(ctx, *res.Deleted, user)
	}
	log.Info().Str("module", "orch.room").Int64("room", int64(res.Room.ID)).Int64("user", int64(user)).Bool("deleted", res.Deleted != nil).Msg("left room")
	o.notifyPresence(ctx, user)
	return nil
}

// ListRooms returns public rooms that have at least one online member.
func (o *Orchestrator) ListRooms(ctx context.Context) []domain.RoomView {
	out := make([]domain.RoomView, 0)
	for _, room := range o.Rooms.List() {
		view := o.view(ctx, room)
		if len(view.Users) > 0 {
			out = append(out, view)
		}
	}
	return out
}

func (o *Orchestrator) GetRoom(ctx context.Context, id domain.RoomID) (domain.RoomView, error) {
	room, ok := o.Rooms.Get(id)
	if !ok {
		return domain.RoomView{}, domain.ErrRoomNotFound
	}
	return o.view(ctx, room), nil
}

func (o *Orchestrator) view(ctx context.Context, room domain.Room) domain.RoomView {
	view := domain.RoomView{Room: room, Users: make([]domain.UserBasic, 0)}
	for _, u := range o.Rooms.Members(room.ID) {
		if !o.Presence.IsOnline(u) {
			continue
		}
		b, err := o.userBasic(ctx, u)
		if err != nil {
			log.Warn().Str("module", "orch.room").Err(err).Int64("user", int64(u)).Msg("load member")
			continue
		}
		view.Users = append(view.Users, b)
	}
	return view
}

// enter moves user into room id, settling play time and invites.
func (o *Orchestrator) enter(ctx context.Context, user domain.UserID, id domain.RoomID, move func(domain.UserID, domain.RoomID) (app.EnterResult, error)) (domain.Room, error) {
	res, err := move(user, id)
	if err != nil {
		return domain.Room{}, err
	}
	if res.Previous != nil {
		o.endGame(ctx, user, res.Previous.GameID)
		if o.Voice != nil {
			o.Voice.Drop(res.Previous.ID, user)
		}
	}
	o.startGame(ctx, user, res.Room.GameID)
	for _, inv := range res.Cleared {
		o.Bus.Notify(inv.TargetID, domain.InviteDeleted{InviteID: inv.ID})
	}
	log.Info().Str("module", "orch.room").Int64("room", int64(id)).Int64("user", int64(user)).Msg("entered room")
	return res.Room, nil
}

// vacateHosted deletes the room user hosts, unless it is keep.
func (o *Orchestrator) vacateHosted(ctx context.Context, user domain.UserID, keep domain.RoomID) {
	room, ok := o.Rooms.PlayingOf(user)
	if !ok || room.Host != user || room.ID == keep {
		return
	}
	o.deleteRoom(ctx, room.ID)
}

func (o *Orchestrator) deleteRoom(ctx context.Context, id domain.RoomID) bool {
	res, ok := o.Rooms.Delete(id)
	if !ok {
		return false
	}
	o.afterDelete(ctx, res, 0)
	return true
}

// afterDelete settles every member of a deleted room. settled was already handled by the caller.
func (o *Orchestrator) afterDelete(ctx context.Context, res app.DeleteResult, settled domain.UserID) {
	if o.Voice != nil {
		o.Voice.CloseRoom(res.Room.ID)
	}
	for _, inv := range res.Invites {
		o.Bus.Notify(inv.TargetID, domain.InviteDeleted{InviteID: inv.ID})
	}
	o.Bus.NotifyAll(domain.RoomDeleted{RoomID: res.Room.ID})
	for _, u := range res.Members {
		if u == settled {
			continue
		}
		o.endGame(ctx, u, res.Room.GameID)
		o.notifyPresence(ctx, u)
	}
}

func (o *Orchestrator) startGame(ctx context.Context, user domain.UserID, game domain.GameID) {
	if err := o.Records.StartGame(ctx, user, game); err != nil {
		log.Error().Str("module", "orch.record").Err(err).Int64("user", int64(user)).Int64("game", int64(game)).Msg("start game")
	}
}

func (o *Orchestrator) endGame(ctx context.Context, user domain.UserID, game domain.GameID) {
	if err := o.Records.EndGame(ctx, user, game, o.refTime(user)); err != nil {
		log.Error().Str("module", "orch.record").Err(err).Int64("user", int64(user)).Int64("game", int64(game)).Msg("end game")
	}
}

// IsRoomGone reports errors that mean the room vanished under a racing request.
func IsRoomGone(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound)
}
