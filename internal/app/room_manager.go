package app

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

// DeleteResult is what a room deletion removed, for the caller to notify about.
type DeleteResult struct {
	Room    domain.Room
	Members []domain.UserID
	Invites []domain.Invite
}

type EnterResult struct {
	Room domain.Room
	// Previous is the room the user left by entering, if any.
	Previous *domain.Room
	// Cleared are the invites sent or received by the user that were dropped on entry.
	Cleared []domain.Invite
}

type LeaveResult struct {
	Room domain.Room
	// Withdrawn are the invites the leaver had sent.
	Withdrawn []domain.Invite
	// Deleted is set when the leave removed the room (host left or room emptied).
	Deleted *DeleteResult
}

// RoomManager owns rooms, playing records and invites.
// Every method is one critical section and returns copies.
type RoomManager struct {
	mu      sync.Mutex
	rooms   map[domain.RoomID]*domain.Room
	playing map[domain.UserID]domain.PlayingRecord
	invites map[domain.InviteID]*domain.Invite

	lastRoom   domain.RoomID
	lastInvite domain.InviteID
	now        func() time.Time
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:   make(map[domain.RoomID]*domain.Room),
		playing: make(map[domain.UserID]domain.PlayingRecord),
		invites: make(map[domain.InviteID]*domain.Invite),
		now:     time.Now,
	}
}

// Create allocates a room row. It does not enter the host.
func (m *RoomManager) Create(host domain.UserID, game domain.GameID, private bool) domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRoom++
	now := m.now()
	r := &domain.Room{
		ID:        m.lastRoom,
		GameID:    game,
		Host:      host,
		Private:   private,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rooms[r.ID] = r
	log.Info().Str("module", "app.rooms").Int64("room", int64(r.ID)).Int64("host", int64(host)).Msg("room created")
	return *r
}

func (m *RoomManager) Get(id domain.RoomID) (domain.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, false
	}
	return *r, true
}

// Update applies a host edit and returns the room before and after.
func (m *RoomManager) Update(host domain.UserID, id domain.RoomID, edit domain.RoomEdit) (domain.Room, domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, domain.Room{}, domain.ErrRoomNotFound
	}
	if r.Host != host {
		return domain.Room{}, domain.Room{}, domain.ErrNotHost
	}
	if edit.Host != 0 && edit.Host != r.Host {
		if rec, ok := m.playing[edit.Host]; !ok || rec.RoomID != id {
			return domain.Room{}, domain.Room{}, domain.ErrHostNotMember
		}
	}
	old := *r
	if edit.GameID != 0 {
		r.GameID = edit.GameID
	}
	if edit.Host != 0 {
		r.Host = edit.Host
	}
	if edit.Private != nil {
		r.Private = *edit.Private
	}
	r.UpdatedAt = m.now()
	return old, *r, nil
}

func (m *RoomManager) SetScreenshot(host domain.UserID, id domain.RoomID, screenshot string) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if r.Host != host {
		return domain.Room{}, domain.ErrNotHost
	}
	r.Screenshot = screenshot
	r.UpdatedAt = m.now()
	return *r, nil
}

// Enter replaces the user's playing record and clears every invite the user sent or received.
func (m *RoomManager) Enter(user domain.UserID, id domain.RoomID) (EnterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enterLocked(user, id, false)
}

// EnterPublic is Enter for a user without an invite: a private room refuses them.
func (m *RoomManager) EnterPublic(user domain.UserID, id domain.RoomID) (EnterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enterLocked(user, id, true)
}

func (m *RoomManager) enterLocked(user domain.UserID, id domain.RoomID, public bool) (EnterResult, error) {
	r, ok := m.rooms[id]
	if !ok {
		return EnterResult{}, domain.ErrRoomNotFound
	}
	if public && r.Private {
		return EnterResult{}, domain.ErrPrivateRoomAccessDenied
	}
	res := EnterResult{Room: *r}
	if rec, ok := m.playing[user]; ok && rec.RoomID != id {
		if prev, ok := m.rooms[rec.RoomID]; ok {
			p := *prev
			res.Previous = &p
		}
	}
	m.playing[user] = domain.PlayingRecord{UserID: user, RoomID: id, CreatedAt: m.now()}
	for invID, inv := range m.invites {
		if inv.SenderID == user || inv.TargetID == user {
			res.Cleared = append(res.Cleared, *inv)
			delete(m.invites, invID)
		}
	}
	return res, nil
}

// Leave removes the user's playing record and withdraws the invites they sent.
// The room is deleted in the same step when the host left or nobody remains.
func (m *RoomManager) Leave(user domain.UserID) (LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.playing[user]
	if !ok {
		return LeaveResult{}, domain.ErrNotPlaying
	}
	delete(m.playing, user)
	r, ok := m.rooms[rec.RoomID]
	if !ok {
		return LeaveResult{}, domain.ErrNotPlaying
	}
	res := LeaveResult{Room: *r}
	for invID, inv := range m.invites {
		if inv.SenderID == user {
			res.Withdrawn = append(res.Withdrawn, *inv)
			delete(m.invites, invID)
		}
	}
	if r.Host == user || len(m.membersLocked(r.ID)) == 0 {
		del := m.deleteLocked(r.ID)
		res.Deleted = &del
	}
	return res, nil
}

// Delete removes the room with its playing records and invites.
// ok is false when the room was already gone, so only one caller sees the removal.
func (m *RoomManager) Delete(id domain.RoomID) (DeleteResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return DeleteResult{}, false
	}
	return m.deleteLocked(id), true
}

func (m *RoomManager) deleteLocked(id domain.RoomID) DeleteResult {
	res := DeleteResult{Room: *m.rooms[id], Members: m.membersLocked(id)}
	for _, u := range res.Members {
		delete(m.playing, u)
	}
	for invID, inv := range m.invites {
		if inv.RoomID == id {
			res.Invites = append(res.Invites, *inv)
			delete(m.invites, invID)
		}
	}
	delete(m.rooms, id)
	log.Info().Str("module", "app.rooms").Int64("room", int64(id)).Int("members", len(res.Members)).Msg("room deleted")
	return res
}

func (m *RoomManager) membersLocked(id domain.RoomID) []domain.UserID {
	var out []domain.UserID
	for u, rec := range m.playing {
		if rec.RoomID == id {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return out
}

func (m *RoomManager) Members(id domain.RoomID) []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membersLocked(id)
}

// PlayingOf returns the room the user currently occupies.
func (m *RoomManager) PlayingOf(user domain.UserID) (domain.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.playing[user]
	if !ok {
		return domain.Room{}, false
	}
	r, ok := m.rooms[rec.RoomID]
	if !ok {
		return domain.Room{}, false
	}
	return *r, true
}

// List returns public rooms, newest first.
func (m *RoomManager) List() []domain.Room {
	m.mu.Lock()
	out := make([]domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if !r.Private {
			out = append(out, *r)
		}
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.Room) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out
}

// Stale returns rooms not updated since before.
func (m *RoomManager) Stale(before time.Time) []domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Room
	for _, r := range m.rooms {
		if r.UpdatedAt.Before(before) {
			out = append(out, *r)
		}
	}
	return out
}

// CreateInvite stores a fresh invite, replacing the previous one for the same (sender, target) pair.
func (m *RoomManager) CreateInvite(sender domain.UserID, id domain.RoomID, target domain.UserID) (domain.Invite, *domain.Invite, domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Invite{}, nil, domain.Room{}, domain.ErrRoomNotFound
	}
	if rec, ok := m.playing[target]; ok && rec.RoomID == id {
		return domain.Invite{}, nil, domain.Room{}, domain.ErrInviteTargetAlreadyInRoom
	}
	var superseded *domain.Invite
	for invID, inv := range m.invites {
		if inv.SenderID == sender && inv.TargetID == target {
			old := *inv
			superseded = &old
			delete(m.invites, invID)
			break
		}
	}
	m.lastInvite++
	now := m.now()
	inv := &domain.Invite{
		ID:        m.lastInvite,
		RoomID:    id,
		SenderID:  sender,
		TargetID:  target,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.invites[inv.ID] = inv
	return *inv, superseded, *r, nil
}

// TakeInvite removes and returns the invite if it is addressed to target.
func (m *RoomManager) TakeInvite(target domain.UserID, id domain.InviteID) (domain.Invite, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok || inv.TargetID != target {
		return domain.Invite{}, false
	}
	delete(m.invites, id)
	return *inv, true
}

// WithdrawInvites deletes every invite sent by sender.
func (m *RoomManager) WithdrawInvites(sender domain.UserID) []domain.Invite {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invite
	for id, inv := range m.invites {
		if inv.SenderID == sender {
			out = append(out, *inv)
			delete(m.invites, id)
		}
	}
	return out
}

func (m *RoomManager) InvitesTo(target domain.UserID) []domain.Invite {
	return m.filterInvites(func(inv *domain.Invite) bool { return inv.TargetID == target })
}

func (m *RoomManager) InvitesFrom(sender domain.UserID) []domain.Invite {
	return m.filterInvites(func(inv *domain.Invite) bool { return inv.SenderID == sender })
}

func (m *RoomManager) filterInvites(keep func(*domain.Invite) bool) []domain.Invite {
	m.mu.Lock()
	out := make([]domain.Invite, 0)
	for _, inv := range m.invites {
		if keep(inv) {
			out = append(out, *inv)
		}
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.Invite) int { return int(b.ID - a.ID) })
	return out
}
