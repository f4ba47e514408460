// Package store holds the external user and play-record stores the core consumes.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
)

type recordKey struct {
	user domain.UserID
	game domain.GameID
}

// Record is the accumulated play time of one user on one game.
type Record struct {
	PlayTotal time.Duration
	LastStart time.Time
	LastEnd   time.Time
}

// Memory is a process-local store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	users   map[domain.UserID]domain.UserBasic
	friends map[domain.UserID]map[domain.UserID]struct{}
	records map[recordKey]*Record
	now     func() time.Time
}

var (
	_ core.UserStore       = (*Memory)(nil)
	_ core.GameRecordStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[domain.UserID]domain.UserBasic),
		friends: make(map[domain.UserID]map[domain.UserID]struct{}),
		records: make(map[recordKey]*Record),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for play-time accounting.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) AddUser(id domain.UserID, username, nickname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = domain.UserBasic{ID: id, Username: username, Nickname: nickname}
}

// AddFriendship records an accepted friendship in both directions.
func (m *Memory) AddFriendship(a, b domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pair := range [][2]domain.UserID{{a, b}, {b, a}} {
		set, ok := m.friends[pair[0]]
		if !ok {
			set = make(map[domain.UserID]struct{})
			m.friends[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

func (m *Memory) GetUserBasic(_ context.Context, id domain.UserID) (domain.UserBasic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.UserBasic{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) GetFriendIDs(_ context.Context, id domain.UserID) ([]domain.UserID, error) {
	m.mu.RLock()
	out := make([]domain.UserID, 0, len(m.friends[id]))
	for f := range m.friends[id] {
		out = append(out, f)
	}
	m.mu.RUnlock()
	slices.Sort(out)
	return out, nil
}

func (m *Memory) StartGame(_ context.Context, user domain.UserID, game domain.GameID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey{user, game}
	r, ok := m.records[k]
	if !ok {
		r = &Record{}
		m.records[k] = r
	}
	r.LastStart = m.now()
	return nil
}

func (m *Memory) EndGame(_ context.Context, user domain.UserID, game domain.GameID, ref time.Time) error {
	if ref.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey{user, game}]
	if !ok {
		return nil
	}
	now := m.now()
	r.PlayTotal += now.Sub(latest(r.LastStart, ref))
	r.LastEnd = now
	return nil
}

func (m *Memory) PauseGame(ctx context.Context, user domain.UserID, game domain.GameID, ref time.Time) error {
	return m.EndGame(ctx, user, game, ref)
}

// Record returns a copy of the play record for (user, game).
func (m *Memory) Record(user domain.UserID, game domain.GameID) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordKey{user, game}]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
