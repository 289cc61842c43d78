// Package pacing spaces requests to upstreams that throttle aggressively.
package pacing

import (
	"context"
	"time"
)

// DefaultDelay is the wait before every request, found empirically to keep
// Google Trends from blocking the client.
const DefaultDelay = 8 * time.Second

// Decision is the outcome of Session.Wait.
type Decision int

const (
	// Permit means the caller may issue its request now.
	Permit Decision = iota
	// Blocked means the upstream signalled throttling (or the context ended);
	// the caller must stop issuing requests for this session.
	Blocked
)

func (d Decision) String() string {
	if d == Blocked {
		return "blocked"
	}
	return "permit"
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Governor hands out sessions sharing one fixed pacing policy.
type Governor struct {
	delay time.Duration
	sleep SleepFunc
}

// New creates a governor. A non-positive delay falls back to DefaultDelay.
func New(delay time.Duration) *Governor {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Governor{delay: delay, sleep: sleepContext}
}

// WithSleep replaces the wait implementation. Used by tests.
func (g *Governor) WithSleep(fn SleepFunc) *Governor {
	g.sleep = fn
	return g
}

// Delay returns the fixed wait applied before each request.
func (g *Governor) Delay() time.Duration { return g.delay }

// Session starts a fresh pacing window, typically one per region.
func (g *Governor) Session() *Session {
	return &Session{g: g}
}

// Session tracks whether the upstream has throttled within one window.
// It is not safe for concurrent use.
type Session struct {
	g       *Governor
	blocked bool
}

// Wait sleeps the fixed delay and permits the next request, unless the
// session is already blocked.
func (s *Session) Wait(ctx context.Context) Decision {
	if s.blocked {
		return Blocked
	}
	if err := s.g.sleep(ctx, s.g.delay); err != nil {
		s.blocked = true
		return Blocked
	}
	return Permit
}

// Block records a throttle signal. Every later Wait returns Blocked.
func (s *Session) Block() { s.blocked = true }

// Blocked reports whether the session has been blocked.
func (s *Session) Blocked() bool { return s.blocked }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
