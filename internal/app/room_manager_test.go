package app

import (
	"testing"
	"time"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterKeepsOnePlayingRecord(t *testing.T) {
	m := NewRoomManager()
	r1 := m.Create(1, 5, false)
	r2 := m.Create(2, 6, false)

	res, err := m.Enter(3, r1.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Previous)

	res, err = m.Enter(3, r2.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Previous)
	assert.Equal(t, r1.ID, res.Previous.ID)

	playing, ok := m.PlayingOf(3)
	require.True(t, ok)
	assert.Equal(t, r2.ID, playing.ID)
	assert.Empty(t, m.Members(r1.ID))
	assert.Equal(t, []domain.UserID{3}, m.Members(r2.ID))

	_, err = m.Enter(3, 999)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestEnterClearsInvites(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	sent, _, _, err := m.CreateInvite(2, r.ID, 4)
	require.NoError(t, err)
	received, _, _, err := m.CreateInvite(1, r.ID, 2)
	require.NoError(t, err)

	res, err := m.Enter(2, r.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Invite{sent, received}, res.Cleared)
	assert.Empty(t, m.InvitesTo(2))
	assert.Empty(t, m.InvitesFrom(2))
}

func TestInviteSupersession(t *testing.T) {
	m := NewRoomManager()
	r1 := m.Create(1, 5, false)
	r2 := m.Create(3, 5, false)

	first, superseded, _, err := m.CreateInvite(1, r1.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, superseded)

	second, superseded, room, err := m.CreateInvite(1, r2.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, superseded)
	assert.Equal(t, first.ID, superseded.ID)
	assert.Equal(t, r2.ID, room.ID)

	assert.Equal(t, []domain.Invite{second}, m.InvitesTo(2))
	assert.Equal(t, []domain.Invite{second}, m.InvitesFrom(1))
}

func TestInviteTargetAlreadyInRoom(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	_, err := m.Enter(2, r.ID)
	require.NoError(t, err)

	_, _, _, err = m.CreateInvite(1, r.ID, 2)
	assert.ErrorIs(t, err, domain.ErrInviteTargetAlreadyInRoom)
	_, _, _, err = m.CreateInvite(1, 77, 3)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestTakeInviteOnlyByTarget(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	inv, _, _, err := m.CreateInvite(1, r.ID, 2)
	require.NoError(t, err)

	_, ok := m.TakeInvite(1, inv.ID)
	assert.False(t, ok)
	got, ok := m.TakeInvite(2, inv.ID)
	require.True(t, ok)
	assert.Equal(t, inv, got)
	_, ok = m.TakeInvite(2, inv.ID)
	assert.False(t, ok)
}

func TestHostLeaveDeletesRoom(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	_, err := m.Enter(1, r.ID)
	require.NoError(t, err)
	_, err = m.Enter(2, r.ID)
	require.NoError(t, err)
	inv, _, _, err := m.CreateInvite(2, r.ID, 3)
	require.NoError(t, err)
	other, _, _, err := m.CreateInvite(1, r.ID, 4)
	require.NoError(t, err)

	res, err := m.Leave(1)
	require.NoError(t, err)
	require.NotNil(t, res.Deleted)
	assert.Equal(t, []domain.UserID{2}, res.Deleted.Members)
	assert.ElementsMatch(t, []domain.Invite{inv}, res.Deleted.Invites)
	assert.Equal(t, []domain.Invite{other}, res.Withdrawn)

	_, ok := m.Get(r.ID)
	assert.False(t, ok)
	_, ok = m.PlayingOf(2)
	assert.False(t, ok)

	_, ok = m.Delete(r.ID)
	assert.False(t, ok, "a room is deleted once")
	_, err = m.Leave(1)
	assert.ErrorIs(t, err, domain.ErrNotPlaying)
}

func TestMemberLeaveKeepsRoom(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	_, _ = m.Enter(1, r.ID)
	_, _ = m.Enter(2, r.ID)
	inv, _, _, err := m.CreateInvite(2, r.ID, 3)
	require.NoError(t, err)

	res, err := m.Leave(2)
	require.NoError(t, err)
	assert.Nil(t, res.Deleted)
	assert.Equal(t, []domain.Invite{inv}, res.Withdrawn)
	assert.Equal(t, []domain.UserID{1}, m.Members(r.ID))
}

func TestUpdateRoom(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	_, _ = m.Enter(1, r.ID)
	_, _ = m.Enter(2, r.ID)

	_, _, err := m.Update(2, r.ID, domain.RoomEdit{GameID: 6})
	assert.ErrorIs(t, err, domain.ErrNotHost)
	_, _, err = m.Update(1, r.ID, domain.RoomEdit{Host: 3})
	assert.ErrorIs(t, err, domain.ErrHostNotMember)

	private := true
	old, updated, err := m.Update(1, r.ID, domain.RoomEdit{GameID: 6, Private: &private, Host: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.GameID(5), old.GameID)
	assert.Equal(t, domain.GameID(6), updated.GameID)
	assert.Equal(t, domain.UserID(2), updated.Host)
	assert.True(t, updated.Private)

	// a game-only edit leaves privacy alone
	_, updated, err = m.Update(2, r.ID, domain.RoomEdit{GameID: 7})
	require.NoError(t, err)
	assert.Equal(t, domain.GameID(7), updated.GameID)
	assert.True(t, updated.Private)

	public := false
	_, updated, err = m.Update(2, r.ID, domain.RoomEdit{Private: &public})
	require.NoError(t, err)
	assert.Equal(t, domain.GameID(7), updated.GameID)
	assert.False(t, updated.Private)

	shot, err := m.SetScreenshot(2, r.ID, "data:image/png;base64,AA==")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AA==", shot.Screenshot)
}

func TestEnterPublicRefusesPrivateRoom(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	_, err := m.Enter(1, r.ID)
	require.NoError(t, err)

	res, err := m.EnterPublic(2, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, res.Room.ID)

	private := true
	_, _, err = m.Update(1, r.ID, domain.RoomEdit{Private: &private})
	require.NoError(t, err)

	_, err = m.EnterPublic(3, r.ID)
	assert.ErrorIs(t, err, domain.ErrPrivateRoomAccessDenied)
	_, ok := m.PlayingOf(3)
	assert.False(t, ok)
	_, err = m.EnterPublic(3, 999)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	// invited entry still goes through Enter
	_, err = m.Enter(3, r.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{1, 2, 3}, m.Members(r.ID))
}

func TestEnterPublicRacesPrivacyToggle(t *testing.T) {
	m := NewRoomManager()
	r := m.Create(1, 5, false)
	_, err := m.Enter(1, r.ID)
	require.NoError(t, err)

	private := true
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = m.Update(1, r.ID, domain.RoomEdit{Private: &private})
	}()
	_, enterErr := m.EnterPublic(2, r.ID)
	<-done

	// either the stranger got in before the room turned private, or they were refused
	_, playing := m.PlayingOf(2)
	if enterErr != nil {
		assert.ErrorIs(t, enterErr, domain.ErrPrivateRoomAccessDenied)
		assert.False(t, playing)
	} else {
		assert.True(t, playing)
	}
	room, ok := m.Get(r.ID)
	require.True(t, ok)
	assert.True(t, room.Private)
}

func TestListAndStale(t *testing.T) {
	m := NewRoomManager()
	base := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return base }
	old := m.Create(1, 5, false)
	m.now = func() time.Time { return base.Add(time.Hour) }
	fresh := m.Create(2, 5, false)
	m.Create(3, 5, true)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Equal(t, old.ID, list[1].ID)

	stale := m.Stale(base.Add(time.Minute))
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
