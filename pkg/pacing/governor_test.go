package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestSessionWaitsBeforeEveryPermit(t *testing.T) {
	rec := &recordingSleep{}
	g := New(8 * time.Second).WithSleep(rec.sleep)

	s := g.Session()
	for i := 0; i < 3; i++ {
		assert.Equal(t, Permit, s.Wait(context.Background()))
	}
	assert.Equal(t, []time.Duration{8 * time.Second, 8 * time.Second, 8 * time.Second}, rec.waits)
}

func TestBlockedSessionSkipsWaiting(t *testing.T) {
	rec := &recordingSleep{}
	s := New(time.Second).WithSleep(rec.sleep).Session()

	assert.Equal(t, Permit, s.Wait(context.Background()))
	s.Block()
	assert.True(t, s.Blocked())
	assert.Equal(t, Blocked, s.Wait(context.Background()))
	assert.Equal(t, Blocked, s.Wait(context.Background()))
	assert.Len(t, rec.waits, 1)
}

func TestNewSessionStartsUnblocked(t *testing.T) {
	g := New(time.Second).WithSleep((&recordingSleep{}).sleep)

	first := g.Session()
	first.Block()

	second := g.Session()
	assert.False(t, second.Blocked())
	assert.Equal(t, Permit, second.Wait(context.Background()))
}

func TestCancelledContextBlocks(t *testing.T) {
	s := New(time.Hour).Session()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, Blocked, s.Wait(ctx))
	assert.True(t, s.Blocked())
}

func TestDefaultDelay(t *testing.T) {
	assert.Equal(t, DefaultDelay, New(0).Delay())
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "permit", Permit.String())
}
