// Package session holds per-user conversation history in memory and expires
// it after a period of inactivity.
package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/pkg/logger"
)

const (
	// DefaultIdleWindow is how long a conversation may sit idle before it is dropped.
	DefaultIdleWindow = 5 * time.Minute
	// DefaultGrace is added to the idle window when arming the expiry check.
	DefaultGrace = 1 * time.Minute
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("session store is closed")

type entry struct {
	messages     []Turn
	lastActivity time.Time
	gen          uint64
	timer        *time.Timer
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Stats is a point-in-time snapshot of the store.
type Stats struct {
	Sessions int    `json:"sessions"`
	Turns    int    `json:"turns"`
	Expired  uint64 `json:"expired"`
	Cleared  uint64 `json:"cleared"`
}

// Store owns every live conversation. Create one per process with New and
// release it with Close.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
	expired  uint64
	cleared  uint64

	locksMu sync.Mutex
	locks   map[string]*keyLock

	window   time.Duration
	grace    time.Duration
	now      func() time.Time
	onExpire func(userID string)
	log      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIdleWindow sets the inactivity window.
func WithIdleWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithGrace sets the slack added to the window before the expiry check runs.
func WithGrace(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l).Named("session") }
}

// WithOnExpire registers a callback invoked (outside the store lock) after a
// session is evicted for inactivity.
func WithOnExpire(fn func(userID string)) Option {
	return func(s *Store) { s.onExpire = fn }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		locks:    make(map[string]*keyLock),
		window:   DefaultIdleWindow,
		grace:    DefaultGrace,
		now:      time.Now,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds turn to the user's history, creating the session if needed,
// refreshes its activity time and re-arms its expiry check.
func (s *Store) Append(userID string, turn Turn) error {
	now := s.now()
	if turn.At.IsZero() {
		turn.At = now
	}
	turn.Parts = append([]Part(nil), turn.Parts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	e, ok := s.sessions[userID]
	if !ok {
		e = &entry{}
		s.sessions[userID] = e
		s.log.Debug("session created", zap.String("user", userID))
	}
	e.messages = append(e.messages, turn)
	e.lastActivity = now
	e.gen++

	// One pending check per session: the newest update supersedes the old one.
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(s.window+s.grace, func() { s.expire(userID, gen) })
	return nil
}

// expire deletes the session only when no update happened after the check
// identified by gen was armed and the window has really elapsed.
func (s *Store) expire(userID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.sessions[userID]
	if !ok || e.gen != gen || s.now().Sub(e.lastActivity) < s.window {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, userID)
	s.expired++
	onExpire := s.onExpire
	s.mu.Unlock()

	s.log.Info("cleared idle conversation", zap.String("user", userID))
	if onExpire != nil {
		onExpire(userID)
	}
}

// Get returns a copy of the user's ordered history. The bool is false when no
// session exists.
func (s *Store) Get(userID string) ([]Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	out := make([]Turn, len(e.messages))
	for i, t := range e.messages {
		t.Parts = append([]Part(nil), t.Parts...)
		out[i] = t
	}
	return out, true
}

// Clear deletes the session immediately and reports whether one existed.
func (s *Store) Clear(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.sessions, userID)
	s.cleared++
	s.log.Info("cleared conversation on request", zap.String("user", userID))
	return true
}

// Lock acquires the per-user mutex and returns its release func. Callers use
// it to make a read-modify-append sequence atomic for one user.
func (s *Store) Lock(userID string) (unlock func()) {
	s.locksMu.Lock()
	kl, ok := s.locks[userID]
	if !ok {
		kl = &keyLock{}
		s.locks[userID] = kl
	}
	kl.refs++
	s.locksMu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()
			s.locksMu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(s.locks, userID)
			}
			s.locksMu.Unlock()
		})
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stats returns counters for health reporting.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Sessions: len(s.sessions), Expired: s.expired, Cleared: s.cleared}
	for _, e := range s.sessions {
		st.Turns += len(e.messages)
	}
	return st
}

// Close stops every pending expiry check and drops all sessions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for id, e := range s.sessions {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.sessions, id)
	}
	s.closed = true
	s.log.Info("session store closed")
}
