package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultChannelCapacity = 5

type subscriber struct {
	id     uint64
	ch     chan domain.NotifyEvent
	lagged atomic.Uint64
}

// offer never blocks. It reports whether ev was queued.
func (s *subscriber) offer(ev domain.NotifyEvent, action BackpressureAction) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}
	if action == DropNewest {
		s.lagged.Add(1)
		return false
	}
	select {
	case <-s.ch:
		s.lagged.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.lagged.Add(1)
		return false
	}
}

type presenceSession struct {
	connectedAt time.Time
	subs        map[uint64]*subscriber
}

// Registry maps online users to their live event subscriptions.
// A user is online iff they have at least one subscription.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*presenceSession

	capacity int
	policy   Policy
	nextID   atomic.Uint64
	now      func() time.Time

	offline func(user domain.UserID, connectedAt time.Time)
}

func NewRegistry(capacity int, policy Policy) *Registry {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		sessions: make(map[domain.UserID]*presenceSession),
		capacity: capacity,
		policy:   policy,
		now:      time.Now,
	}
}

// OnOffline sets the hook run after a user's last subscription is released.
// It runs outside the registry lock and must be set before the first Subscribe.
func (r *Registry) OnOffline(fn func(user domain.UserID, connectedAt time.Time)) {
	r.offline = fn
}

// Subscribe opens a new event stream for user, creating the session when it is the first one.
func (r *Registry) Subscribe(user domain.UserID) *Subscription {
	s := &subscriber{
		id: r.nextID.Add(1),
		ch: make(chan domain.NotifyEvent, r.capacity),
	}

	r.mu.Lock()
	sess, ok := r.sessions[user]
	if !ok {
		sess = &presenceSession{
			connectedAt: r.now(),
			subs:        make(map[uint64]*subscriber),
		}
		r.sessions[user] = sess
	}
	sess.subs[s.id] = s
	count := len(sess.subs)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Int64("user", int64(user)).Int("streams", count).Msg("subscribed")
	return &Subscription{user: user, sub: s, reg: r}
}

// release drops one subscription. The session goes away with the last one.
func (r *Registry) release(user domain.UserID, id uint64) {
	var (
		last        bool
		connectedAt time.Time
	)

	r.mu.Lock()
	sess, ok := r.sessions[user]
	if ok {
		if s, found := sess.subs[id]; found {
			delete(sess.subs, id)
			close(s.ch)
		}
		if len(sess.subs) == 0 {
			delete(r.sessions, user)
			last = true
			connectedAt = sess.connectedAt
		}
	}
	r.mu.Unlock()

	if !last {
		log.Debug().Str("module", "app.registry").Int64("user", int64(user)).Msg("released stream")
		return
	}
	log.Info().Str("module", "app.registry").Int64("user", int64(user)).Msg("user offline")
	if r.offline != nil {
		r.offline(user, connectedAt)
	}
}

func (r *Registry) IsOnline(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[user]
	return ok
}

// ConnectedAt returns when the user's current session started.
func (r *Registry) ConnectedAt(user domain.UserID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sess, ok := r.sessions[user]; ok {
		return sess.connectedAt, true
	}
	return time.Time{}, false
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// deliver pushes ev to every subscription of user and returns how many accepted it.
// Channels are closed only under the write lock, so sending under RLock is safe.
func (r *Registry) deliver(user domain.UserID, ev domain.NotifyEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deliverLocked(user, ev)
}

func (r *Registry) deliverLocked(user domain.UserID, ev domain.NotifyEvent) int {
	sess, ok := r.sessions[user]
	if !ok {
		return 0
	}
	action := r.policy.OnBackPressure(user, ev)
	sent := 0
	for _, s := range sess.subs {
		if s.offer(ev, action) {
			sent++
		}
	}
	return sent
}

func (r *Registry) deliverAll(ev domain.NotifyEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for user := range r.sessions {
		sent += r.deliverLocked(user, ev)
	}
	return sent
}

// Subscription is one live event stream. Close must be called on every exit path.
type Subscription struct {
	user domain.UserID
	sub  *subscriber
	reg  *Registry
	once sync.Once
}

func (s *Subscription) User() domain.UserID { return s.user }

// Events is closed after Close.
func (s *Subscription) Events() <-chan domain.NotifyEvent { return s.sub.ch }

// Lagged counts events dropped because the subscriber fell behind.
func (s *Subscription) Lagged() uint64 { return s.sub.lagged.Load() }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.reg.release(s.user, s.sub.id)
	})
}
