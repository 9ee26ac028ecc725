package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ChangeFunc is notified after a new snapshot has been published
type ChangeFunc func(previous, current SecurityConfig)

// PersistFunc writes an updated configuration to durable storage
type PersistFunc func(SecurityConfig) error

// Store publishes SecurityConfig snapshots. Readers take a snapshot once and
// use it for the whole request; writers swap in a new value atomically, so
// a reader never observes a half-applied change and never blocks a writer.
type Store struct {
	current atomic.Pointer[SecurityConfig]

	mu       sync.Mutex // serializes writers
	persist  PersistFunc
	onChange []ChangeFunc
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithPersistence persists every accepted update before it is published
func WithPersistence(fn PersistFunc) StoreOption {
	return func(s *Store) {
		s.persist = fn
	}
}

// WithChangeListener registers a listener at construction time
func WithChangeListener(fn ChangeFunc) StoreOption {
	return func(s *Store) {
		s.onChange = append(s.onChange, fn)
	}
}

// NewStore creates a store holding initial
func NewStore(initial SecurityConfig, opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	snap := initial.Clone()
	s.current.Store(&snap)
	return s
}

// Snapshot returns the current configuration. The returned value must be
// treated as read-only.
func (s *Store) Snapshot() SecurityConfig {
	return *s.current.Load()
}

// Update applies fn to a copy of the current configuration, validates and
// persists it, then publishes it. Requests already holding a snapshot are
// unaffected.
func (s *Store) Update(fn func(*SecurityConfig)) (SecurityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := *s.current.Load()
	next := previous.Clone()
	fn(&next)

	if _, err := next.Validate(); err != nil {
		return previous, fmt.Errorf("invalid mcp config: %w", err)
	}
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return previous, fmt.Errorf("persist mcp config: %w", err)
		}
	}

	published := next.Clone()
	s.current.Store(&published)

	for _, fn := range s.onChange {
		fn(previous, published)
	}
	return published, nil
}

// OnChange registers a listener for future updates
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}
