package engine

import (
	"context"
	"time"
)

// Clock abstracts time so tests can simulate deadlines deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Scheduler pauses and resumes external triggers that could start a second
// concurrent run of the same handler. The engine only names the capability;
// hosts provide concrete implementations.
type Scheduler interface {
	Pause(ctx context.Context, handlerName string) error
	Resume(ctx context.Context, handlerName string) error
}

// NoopScheduler is used when no trigger host is wired.
type NoopScheduler struct{}

func (NoopScheduler) Pause(context.Context, string) error  { return nil }
func (NoopScheduler) Resume(context.Context, string) error { return nil }

// Locker is the process-wide exclusion capability. Acquire returns false
// without error when another instance holds the lock.
type Locker interface {
	Acquire(ctx context.Context, wait time.Duration) (bool, error)
	Release() error
}
