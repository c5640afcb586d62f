package core

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler gates concurrent tool executions behind a counting semaphore.
// Background tasks (snapshot flush, consolidation) run on a separate
// unbounded track so they never block a foreground tool.
type Scheduler struct {
	tools *semaphore.Weighted
	bg    sync.WaitGroup
}

// NewScheduler creates a scheduler admitting up to maxParallelTools
// concurrent tool executions (default 3).
func NewScheduler(maxParallelTools int) *Scheduler {
	if maxParallelTools < 1 {
		maxParallelTools = 3
	}
	return &Scheduler{tools: semaphore.NewWeighted(int64(maxParallelTools))}
}

// AcquireTool blocks until a tool permit is available or ctx is cancelled.
// The returned release function must be called exactly once.
func (s *Scheduler) AcquireTool(ctx context.Context) (release func(), err error) {
	if err := s.tools.Acquire(ctx, 1); err != nil {
		return nil, ErrCancelled()
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.tools.Release(1) })
	}, nil
}

// Background runs fn on the unbounded background track.
func (s *Scheduler) Background(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// WaitBackground blocks until all background tasks finish. Used on
// shutdown.
func (s *Scheduler) WaitBackground() {
	s.bg.Wait()
}
