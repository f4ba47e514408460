package orch

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/RetroHub/internal/adapters/store"
	"github.com/dkeye/RetroHub/internal/app"
	"github.com/dkeye/RetroHub/internal/app/sfu"
	"github.com/dkeye/RetroHub/internal/app/sfu/sfutest"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = domain.UserID(1)
	bob   = domain.UserID(2)
	carol = domain.UserID(3)
	dave  = domain.UserID(4)
)

type fixture struct {
	o     *Orchestrator
	mem   *store.Memory
	conns *sfutest.Factory
	subs  map[domain.UserID]*app.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.AddUser(alice, "alice", "Alice")
	mem.AddUser(bob, "bob", "Bob")
	mem.AddUser(carol, "carol", "Carol")
	mem.AddUser(dave, "dave", "Dave")
	mem.AddFriendship(alice, bob)
	mem.AddFriendship(alice, carol)

	reg := app.NewRegistry(64, nil)
	bus := app.NewBus(reg)
	conns := sfutest.NewFactory()
	voice := sfu.NewVoiceRelay(conns.New, bus)

	f := &fixture{
		o:     New(reg, bus, app.NewRoomManager(), mem, mem, voice),
		mem:   mem,
		conns: conns,
		subs:  make(map[domain.UserID]*app.Subscription),
	}
	t.Cleanup(func() {
		for _, s := range f.subs {
			s.Close()
		}
	})
	return f
}

func (f *fixture) connect(users ...domain.UserID) {
	for _, u := range users {
		f.subs[u] = f.o.Connect(context.Background(), u)
	}
	for _, u := range users {
		f.drain(u)
	}
}

func (f *fixture) drain(u domain.UserID) []domain.NotifyEvent {
	var out []domain.NotifyEvent
	for {
		select {
		case ev, ok := <-f.subs[u].Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func userUpdates(evs []domain.NotifyEvent, about domain.UserID) []domain.UserBasic {
	var out []domain.UserBasic
	for _, ev := range evs {
		if uu, ok := ev.(domain.UserUpdated); ok && uu.User.ID == about {
			out = append(out, uu.User)
		}
	}
	return out
}

func count[T domain.NotifyEvent](evs []domain.NotifyEvent, match func(T) bool) int {
	n := 0
	for _, ev := range evs {
		if v, ok := ev.(T); ok && match(v) {
			n++
		}
	}
	return n
}

func TestConnectAnnouncesToFriends(t *testing.T) {
	f := newFixture(t)
	f.connect(bob)

	f.subs[alice] = f.o.Connect(context.Background(), alice)
	got := userUpdates(f.drain(bob), alice)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StatusOnline, got[0].Status)
	assert.Equal(t, "alice", got[0].Username)
	assert.True(t, f.o.IsOnline(alice))
	assert.Equal(t, 2, f.o.OnlineCount())
}

func TestEndToEndRoomLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	updates := userUpdates(f.drain(bob), alice)
	require.NotEmpty(t, updates)
	require.NotNil(t, updates[len(updates)-1].Playing)
	assert.Equal(t, room.ID, updates[len(updates)-1].Playing.ID)

	_, err = f.o.EnterPublicRoom(ctx, bob, room.ID)
	require.NoError(t, err)
	playing, ok := f.o.Rooms.PlayingOf(bob)
	require.True(t, ok)
	assert.Equal(t, room.ID, playing.ID)
	f.drain(alice)
	f.drain(bob)

	require.NoError(t, f.o.LeaveRoom(ctx, alice))
	evs := f.drain(bob)
	assert.Equal(t, 1, count(evs, func(e domain.RoomDeleted) bool { return e.RoomID == room.ID }))
	_, ok = f.o.Rooms.PlayingOf(bob)
	assert.False(t, ok)
	updates = userUpdates(evs, alice)
	require.NotEmpty(t, updates)
	assert.Nil(t, updates[len(updates)-1].Playing)

	// alice hears that bob's room went away too
	bobUpdates := userUpdates(f.drain(alice), bob)
	require.NotEmpty(t, bobUpdates)
	assert.Nil(t, bobUpdates[len(bobUpdates)-1].Playing)

	assert.ErrorIs(t, f.o.LeaveRoom(ctx, alice), domain.ErrNotPlaying)
}

func TestHostLeaveDeletesInvitesAndBroadcastsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob, carol, dave)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	_, err = f.o.EnterPublicRoom(ctx, carol, room.ID)
	require.NoError(t, err)
	inv, err := f.o.CreateInvite(ctx, carol, room.ID, dave)
	require.NoError(t, err)
	for _, u := range []domain.UserID{alice, bob, carol, dave} {
		f.drain(u)
	}

	require.NoError(t, f.o.LeaveRoom(ctx, alice))
	for _, u := range []domain.UserID{alice, bob, carol, dave} {
		evs := f.drain(u)
		assert.Equal(t, 1, count(evs, func(e domain.RoomDeleted) bool { return e.RoomID == room.ID }), "user %d", u)
		if u == dave {
			assert.Contains(t, evs, domain.NotifyEvent(domain.InviteDeleted{InviteID: inv.ID}))
		}
	}
	assert.Empty(t, f.o.InvitesFor(dave))
	_, ok := f.o.Rooms.Get(room.ID)
	assert.False(t, ok)
	_, ok = f.o.Rooms.PlayingOf(carol)
	assert.False(t, ok)
}

func TestMemberLeaveWithdrawsSentInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, carol, dave)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	_, err = f.o.EnterPublicRoom(ctx, carol, room.ID)
	require.NoError(t, err)
	inv, err := f.o.CreateInvite(ctx, carol, room.ID, dave)
	require.NoError(t, err)
	f.drain(dave)

	require.NoError(t, f.o.LeaveRoom(ctx, carol))
	assert.Contains(t, f.drain(dave), domain.NotifyEvent(domain.InviteDeleted{InviteID: inv.ID}))
	_, ok := f.o.Rooms.Get(room.ID)
	assert.True(t, ok)
}

func TestInviteSupersessionOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob, carol)

	room1, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	room2, err := f.o.CreateRoom(ctx, carol, 6, false)
	require.NoError(t, err)
	f.drain(bob)

	first, err := f.o.CreateInvite(ctx, alice, room1.ID, bob)
	require.NoError(t, err)
	second, err := f.o.CreateInvite(ctx, alice, room2.ID, bob)
	require.NoError(t, err)

	assert.Equal(t, []domain.Invite{second}, f.o.InvitesFor(bob))
	assert.Equal(t, []domain.NotifyEvent{
		domain.NewInvite{Invite: first, Room: room1},
		domain.InviteDeleted{InviteID: first.ID},
		domain.NewInvite{Invite: second, Room: room2},
	}, f.drain(bob))
}

func TestCreateInviteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	_, err = f.o.EnterPublicRoom(ctx, bob, room.ID)
	require.NoError(t, err)

	_, err = f.o.CreateInvite(ctx, alice, room.ID, bob)
	assert.ErrorIs(t, err, domain.ErrInviteTargetAlreadyInRoom)
	_, err = f.o.CreateInvite(ctx, alice, room.ID, 404)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestAcceptInviteToleratesStaleInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	ok, err := f.o.AcceptInvite(ctx, bob, 12345)
	require.NoError(t, err)
	assert.False(t, ok)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	inv, err := f.o.CreateInvite(ctx, alice, room.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.o.LeaveRoom(ctx, alice))

	ok, err = f.o.AcceptInvite(ctx, bob, inv.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, playing := f.o.Rooms.PlayingOf(bob)
	assert.False(t, playing)
}

func TestAcceptInviteDeletesHostedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	own, err := f.o.CreateRoom(ctx, bob, 7, false)
	require.NoError(t, err)
	target, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	inv, err := f.o.CreateInvite(ctx, alice, target.ID, bob)
	require.NoError(t, err)
	f.drain(alice)

	ok, err := f.o.AcceptInvite(ctx, bob, inv.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, exists := f.o.Rooms.Get(own.ID)
	assert.False(t, exists)
	playing, _ := f.o.Rooms.PlayingOf(bob)
	assert.Equal(t, target.ID, playing.ID)

	evs := f.drain(alice)
	assert.Equal(t, 1, count(evs, func(e domain.RoomDeleted) bool { return e.RoomID == own.ID }))
	updates := userUpdates(evs, bob)
	require.NotEmpty(t, updates)
	assert.Equal(t, target.ID, updates[len(updates)-1].Playing.ID)
}

func TestDeclineAndWithdrawNotifyOppositeParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob, carol)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	toBob, err := f.o.CreateInvite(ctx, alice, room.ID, bob)
	require.NoError(t, err)
	toCarol, err := f.o.CreateInvite(ctx, alice, room.ID, carol)
	require.NoError(t, err)
	f.drain(alice)
	f.drain(carol)

	require.NoError(t, f.o.DeclineInvite(ctx, bob, toBob.ID))
	assert.Contains(t, f.drain(alice), domain.NotifyEvent(domain.InviteDeleted{InviteID: toBob.ID}))
	require.NoError(t, f.o.DeclineInvite(ctx, bob, toBob.ID))

	withdrawn := f.o.WithdrawInvites(ctx, alice)
	assert.Equal(t, []domain.Invite{toCarol}, withdrawn)
	assert.Contains(t, f.drain(carol), domain.NotifyEvent(domain.InviteDeleted{InviteID: toCarol.ID}))
	assert.Empty(t, f.o.InvitesFrom(alice))
}

func TestPrivateRoomDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	room, err := f.o.CreateRoom(ctx, alice, 5, true)
	require.NoError(t, err)
	_, err = f.o.EnterPublicRoom(ctx, bob, room.ID)
	assert.ErrorIs(t, err, domain.ErrPrivateRoomAccessDenied)
	_, err = f.o.EnterPublicRoom(ctx, bob, 999)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	// an invite is the way in
	inv, err := f.o.CreateInvite(ctx, alice, room.ID, bob)
	require.NoError(t, err)
	ok, err := f.o.AcceptInvite(ctx, bob, inv.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateRoomSwitchesAccounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob, carol)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	_, err = f.o.EnterPublicRoom(ctx, carol, room.ID)
	require.NoError(t, err)
	f.drain(bob)
	f.drain(carol)

	_, err = f.o.UpdateRoom(ctx, carol, room.ID, domain.RoomEdit{GameID: 6})
	assert.ErrorIs(t, err, domain.ErrNotHost)

	updated, err := f.o.UpdateRoom(ctx, alice, room.ID, domain.RoomEdit{GameID: 6})
	require.NoError(t, err)
	assert.Equal(t, domain.GameID(6), updated.GameID)

	_, ok := f.mem.Record(alice, 6)
	assert.True(t, ok, "accounting started for the new game")
	rec, ok := f.mem.Record(alice, 5)
	require.True(t, ok)
	assert.False(t, rec.LastEnd.IsZero(), "accounting stopped for the old game")

	assert.Contains(t, f.drain(carol), domain.NotifyEvent(domain.RoomUpdated{Room: updated}))
	assert.NotEmpty(t, userUpdates(f.drain(bob), alice))

	shot, err := f.o.UpdateRoomScreenshot(ctx, alice, room.ID, "png")
	require.NoError(t, err)
	assert.Equal(t, "png", shot.Screenshot)
}

func TestGameOnlyEditKeepsRoomPrivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	room, err := f.o.CreateRoom(ctx, alice, 5, true)
	require.NoError(t, err)

	updated, err := f.o.UpdateRoom(ctx, alice, room.ID, domain.RoomEdit{GameID: 6})
	require.NoError(t, err)
	assert.Equal(t, domain.GameID(6), updated.GameID)
	assert.True(t, updated.Private)

	_, err = f.o.EnterPublicRoom(ctx, bob, room.ID)
	assert.ErrorIs(t, err, domain.ErrPrivateRoomAccessDenied)
	assert.Empty(t, f.o.ListRooms(ctx))
}

func TestOfflineCascadePausesPlayTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob)

	now := time.Now().Add(time.Hour)
	f.mem.SetClock(func() time.Time { return now })
	_, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	f.drain(bob)

	now = now.Add(30 * time.Minute)
	f.subs[alice].Close()
	delete(f.subs, alice)

	assert.False(t, f.o.IsOnline(alice))
	rec, ok := f.mem.Record(alice, 5)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, rec.PlayTotal)

	updates := userUpdates(f.drain(bob), alice)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.StatusOffline, updates[0].Status)
	assert.NotNil(t, updates[0].Playing, "an offline user keeps their room")
}

func TestSweepStaleRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob, carol)

	abandoned, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	kept, err := f.o.CreateRoom(ctx, carol, 5, false)
	require.NoError(t, err)
	f.subs[alice].Close()
	delete(f.subs, alice)
	f.drain(bob)

	assert.Equal(t, 0, f.o.SweepStaleRooms(ctx), "rooms are not stale yet")

	f.o.Now = func() time.Time { return time.Now().Add(DefaultStaleAfter + time.Hour) }
	assert.Equal(t, 1, f.o.SweepStaleRooms(ctx))
	assert.Equal(t, 0, f.o.SweepStaleRooms(ctx))

	_, ok := f.o.Rooms.Get(abandoned.ID)
	assert.False(t, ok)
	_, ok = f.o.Rooms.Get(kept.ID)
	assert.True(t, ok, "online host keeps the room")
	assert.Equal(t, 1, count(f.drain(bob), func(e domain.RoomDeleted) bool { return e.RoomID == abandoned.ID }))
}

func TestScheduleRoomGC(t *testing.T) {
	f := newFixture(t)
	c, err := f.o.ScheduleRoomGC("@every 1h")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = f.o.ScheduleRoomGC("not a spec")
	assert.Error(t, err)
}

func TestListAndGetRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, carol)

	public, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	_, err = f.o.CreateRoom(ctx, carol, 5, true)
	require.NoError(t, err)

	rooms := f.o.ListRooms(ctx)
	require.Len(t, rooms, 1)
	assert.Equal(t, public.ID, rooms[0].ID)
	require.Len(t, rooms[0].Users, 1)
	assert.Equal(t, alice, rooms[0].Users[0].ID)

	view, err := f.o.GetRoom(ctx, public.ID)
	require.NoError(t, err)
	assert.Equal(t, public.ID, view.ID)
	_, err = f.o.GetRoom(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	f.subs[alice].Close()
	delete(f.subs, alice)
	assert.Empty(t, f.o.ListRooms(ctx), "rooms without online members are hidden")
}

func TestRelayAndBroadcastHelpers(t *testing.T) {
	f := newFixture(t)
	f.connect(alice, bob)
	second := f.o.Connect(context.Background(), alice)
	defer second.Close()
	f.drain(bob)

	f.o.RelaySignal(alice, bob, `{"sdp":"x"}`)
	assert.Equal(t, []domain.NotifyEvent{domain.Signal{UserID: alice, JSON: `{"sdp":"x"}`}}, f.drain(bob))

	f.o.LoginPing(alice)
	assert.Contains(t, f.drain(alice), domain.NotifyEvent(domain.LoginPing{}))

	f.o.AnnounceGame(domain.Game{ID: 9, Name: "Contra"})
	assert.Contains(t, f.drain(bob), domain.NotifyEvent(domain.NewGame{Game: domain.Game{ID: 9, Name: "Contra"}}))

	require.NoError(t, f.o.Publish(bob, domain.FriendDeleted{UserID: alice}))
	assert.Equal(t, []domain.NotifyEvent{domain.FriendDeleted{UserID: alice}}, f.drain(bob))
	assert.ErrorIs(t, f.o.Publish(bob, domain.RoomDeleted{RoomID: 1}), ErrNotPublishable)
}

func TestVoiceFollowsRoomMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(alice, bob, carol)

	room, err := f.o.CreateRoom(ctx, alice, 5, false)
	require.NoError(t, err)
	_, err = f.o.EnterPublicRoom(ctx, bob, room.ID)
	require.NoError(t, err)

	offer := `{"type":"offer","sdp":"v=0 client"}`
	err = f.o.HandleVoiceSignal(ctx, carol, domain.VoiceMessage{Kind: domain.VoiceOffer, RoomID: room.ID, JSON: offer})
	assert.ErrorIs(t, err, domain.ErrNotPlaying)

	for _, u := range []domain.UserID{alice, bob} {
		require.NoError(t, f.o.HandleVoiceSignal(ctx, u, domain.VoiceMessage{Kind: domain.VoiceOffer, RoomID: room.ID, JSON: offer}))
	}
	assert.Equal(t, []domain.UserID{alice, bob}, f.o.Voice.Peers(room.ID))
	assert.NotEmpty(t, count(f.drain(bob), func(e domain.VoiceSignal) bool { return e.RoomID == room.ID }))

	require.NoError(t, f.o.LeaveRoom(ctx, bob))
	assert.Equal(t, []domain.UserID{alice}, f.o.Voice.Peers(room.ID))
	assert.True(t, f.conns.Conn(room.ID, bob).IsClosed())

	require.NoError(t, f.o.LeaveRoom(ctx, alice))
	assert.Empty(t, f.o.Voice.Peers(room.ID))

	err = f.o.HandleVoiceSignal(ctx, alice, domain.VoiceMessage{Kind: "bogus", RoomID: room.ID})
	assert.ErrorIs(t, err, domain.ErrNegotiationFailure)
}
