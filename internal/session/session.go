package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/msnctl/internal/status"
	"github.com/rs/zerolog/log"
)

var ErrActionQueueClosed = errors.New("session: action queue closed")

// Account is the signed-in user.
type Account struct {
	Account  string
	Password string
	Status   status.Status
}

// Config sizes the event and action queues.
type Config struct {
	EventBuffer  int
	ActionBuffer int
}

func DefaultConfig() Config {
	return Config{
		EventBuffer:  256,
		ActionBuffer: 64,
	}
}

type Session struct {
	mu       sync.RWMutex
	account  Account
	extras   map[string]string
	contacts *Directory

	events  chan Event
	actions chan Action
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func New(cfg Config) *Session {
	def := DefaultConfig()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.ActionBuffer <= 0 {
		cfg.ActionBuffer = def.ActionBuffer
	}
	return &Session{
		account:  Account{Status: status.Online},
		extras:   make(map[string]string),
		contacts: NewDirectory(),
		events:   make(chan Event, cfg.EventBuffer),
		actions:  make(chan Action, cfg.ActionBuffer),
		closed:   make(chan struct{}),
	}
}

func (s *Session) Account() Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

func (s *Session) SetAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

func (s *Session) SetStatus(st status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.Status = st
}

func (s *Session) Contacts() *Directory {
	return s.contacts
}

func (s *Session) SetExtra(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extras[key] = value
}

func (s *Session) Extra(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.extras[key]
	return v, ok
}

// Extras returns a copy of the scratch map.
func (s *Session) Extras() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.extras))
	for k, v := range s.extras {
		out[k] = v
	}
	return out
}

// AddEvent never blocks the engine; when the client falls behind the event
// is dropped and counted.
func (s *Session) AddEvent(kind EventKind, args ...any) {
	ev := Event{Kind: kind, Args: args, At: time.Now()}
	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		log.Warn().Msgf("session.Session.AddEvent dropped kind=%q dropped_total=%d", kind, n)
	}
}

func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) DroppedEvents() uint64 {
	return s.dropped.Load()
}

// Submit queues an action for the engine.
func (s *Session) Submit(ctx context.Context, a Action) error {
	select {
	case <-s.closed:
		return ErrActionQueueClosed
	default:
	}
	select {
	case s.actions <- a:
		return nil
	case <-s.closed:
		return ErrActionQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Actions() <-chan Action {
	return s.actions
}

// Close rejects further submissions. Queued actions stay readable.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
	})
}
