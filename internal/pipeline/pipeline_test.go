package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/elonfeng/popradar/internal/metrics"
	"github.com/elonfeng/popradar/internal/store"
	"github.com/elonfeng/popradar/pkg/aggregate"
	"github.com/elonfeng/popradar/pkg/alert"
	"github.com/elonfeng/popradar/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

type fnAdapter struct {
	platform source.Platform
	fn       func(ctx context.Context, region string) source.Result
}

func (f fnAdapter) Platform() source.Platform { return f.platform }
func (f fnAdapter) Fetch(ctx context.Context, region string) source.Result {
	return f.fn(ctx, region)
}

func okAdapter(platform source.Platform, metric string, value float64) fnAdapter {
	return fnAdapter{platform: platform, fn: func(_ context.Context, region string) source.Result {
		return source.Result{Records: []source.Record{
			source.NewRecord(string(platform)+"-"+region, platform, region, "", map[string]float64{metric: value}),
		}}
	}}
}

func failingAdapter(platform source.Platform) fnAdapter {
	return fnAdapter{platform: platform, fn: func(context.Context, string) source.Result {
		return source.Result{Err: errors.New("upstream down")}
	}}
}

type capture struct {
	mu sync.Mutex
	n  []*alert.Notification
}

func (c *capture) Name() string { return "capture" }
func (c *capture) Send(_ context.Context, n *alert.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = append(c.n, n)
	return nil
}

func newPipeline(t *testing.T, adapters []source.Adapter, notifier alert.Notifier) (*Pipeline, *store.FileStore, *store.Holder) {
	t.Helper()
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "workflows.json"))
	holder := store.NewHolder(fs)
	var mgr *alert.Manager
	if notifier != nil {
		mgr = alert.NewManager([]alert.Notifier{notifier})
	}
	agg := aggregate.New(adapters, nil, discard)
	return New(agg, []string{"US", "IN"}, fs, holder, mgr, metrics.New(), discard), fs, holder
}

func TestRunOnceWritesSnapshotDespiteFailingAdapter(t *testing.T) {
	ctx := context.Background()
	notes := &capture{}
	p, fs, holder := newPipeline(t, []source.Adapter{
		failingAdapter(source.PlatformYouTube),
		okAdapter(source.PlatformDiscourse, "replies", 42),
		okAdapter(source.PlatformGoogle, "average_interest", 17),
	}, notes)

	rep, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Written)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 4, rep.Records)
	assert.Equal(t, map[string]int{"YouTube": 0, "Discourse": 2, "Google": 2}, rep.ByPlatform())

	onDisk, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, onDisk, 4)
	for _, r := range onDisk {
		assert.NotEqual(t, source.PlatformYouTube, r.Platform)
	}

	cached, err := holder.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, onDisk, cached)

	require.Len(t, notes.n, 1)
	assert.Equal(t, []string{"YouTube/US", "YouTube/IN"}, notes.n[0].Failures)
	assert.Equal(t, "Discourse", string(notes.n[0].Top[0].Platform))
}

func TestRunOnceEmptyPassKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	healthy := true
	adapter := fnAdapter{platform: source.PlatformDiscourse, fn: func(_ context.Context, region string) source.Result {
		if !healthy {
			return source.Result{Err: errors.New("down")}
		}
		return source.Result{Records: []source.Record{source.NewRecord("t", source.PlatformDiscourse, region, "", nil)}}
	}}
	p, fs, _ := newPipeline(t, []source.Adapter{adapter}, nil)

	_, err := p.RunOnce(ctx)
	require.NoError(t, err)

	healthy = false
	rep, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Written)

	onDisk, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, onDisk, 2)
}

func TestRunOnceCancelledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := fnAdapter{platform: source.PlatformGoogle, fn: func(_ context.Context, region string) source.Result {
		cancel()
		return source.Result{Records: []source.Record{source.NewRecord("kw", source.PlatformGoogle, region, "", nil)}}
	}}
	p, fs, _ := newPipeline(t, []source.Adapter{adapter}, nil)

	rep, err := p.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, rep.Written)

	onDisk, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, onDisk)
}

func TestRunOnceRejectsConcurrentPass(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	adapter := fnAdapter{platform: source.PlatformDiscourse, fn: func(_ context.Context, region string) source.Result {
		if region == "US" {
			close(entered)
			<-release
		}
		return source.Result{}
	}}
	p, _, _ := newPipeline(t, []source.Adapter{adapter}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(context.Background())
		done <- err
	}()

	<-entered
	_, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(release)
	assert.NoError(t, <-done)
}
