package core

import (
	"context"
	"sync"
)

// Supervisor owns the cancellation scope of the in-flight Submit. A fresh
// scope is opened for every Submit, so a stale Cancel never leaks into the
// next turn. Cancel is idempotent and edge-triggered.
type Supervisor struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	active bool
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Begin opens a fresh cancellation scope for a Submit, derived from parent.
// Any previous scope is cancelled first.
func (s *Supervisor) Begin(parent context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.active = true
	return ctx
}

// Cancel fires the current scope. A no-op when nothing is in flight.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.cancel != nil {
		s.cancel()
	}
}

// End closes the current scope, releasing its resources. Safe to call after
// Cancel.
func (s *Supervisor) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.active = false
}

// Active reports whether a Submit is in flight.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
