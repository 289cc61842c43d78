package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/elonfeng/popradar/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	platform source.Platform
	fetch    func(region string) source.Result
	calls    []string
}

func (s *stubAdapter) Platform() source.Platform { return s.platform }

func (s *stubAdapter) Fetch(_ context.Context, region string) source.Result {
	s.calls = append(s.calls, region)
	return s.fetch(region)
}

func titled(platform source.Platform, region string, titles ...string) []source.Record {
	var out []source.Record
	for _, t := range titles {
		out = append(out, source.NewRecord(t, platform, region, "", nil))
	}
	return out
}

func echoAdapter(platform source.Platform, titles ...string) *stubAdapter {
	return &stubAdapter{platform: platform, fetch: func(region string) source.Result {
		return source.Result{Records: titled(platform, region, titles...)}
	}}
}

type recordingObserver struct{ reports []Report }

func (r *recordingObserver) ObserveFetch(rep Report) { r.reports = append(r.reports, rep) }

func keys(records []source.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Region + "/" + string(r.Platform) + "/" + r.Title
	}
	return out
}

var discard = slog.New(slog.DiscardHandler)

func TestRunOrdersRegionMajorThenAdapter(t *testing.T) {
	video := echoAdapter(source.PlatformYouTube, "v1", "v2")
	forum := echoAdapter(source.PlatformDiscourse, "f1")
	trend := echoAdapter(source.PlatformGoogle, "t1")

	obs := &recordingObserver{}
	out := New([]source.Adapter{video, forum, trend}, obs, discard).Run(context.Background(), []string{"US", "IN"})

	assert.Equal(t, []string{
		"US/YouTube/v1", "US/YouTube/v2", "US/Discourse/f1", "US/Google/t1",
		"IN/YouTube/v1", "IN/YouTube/v2", "IN/Discourse/f1", "IN/Google/t1",
	}, keys(out.Records))
	assert.Len(t, out.Reports, 6)
	assert.Equal(t, out.Reports, obs.reports)
	assert.Equal(t, []string{"US", "IN"}, forum.calls)
}

func TestRunIsolatesFailingAdapter(t *testing.T) {
	video := &stubAdapter{platform: source.PlatformYouTube, fetch: func(string) source.Result {
		return source.Result{Err: errors.New("quota exceeded")}
	}}
	forum := &stubAdapter{platform: source.PlatformDiscourse, fetch: func(string) source.Result {
		panic("boom")
	}}
	trend := echoAdapter(source.PlatformGoogle, "t1")

	out := New([]source.Adapter{video, forum, trend}, nil, discard).Run(context.Background(), []string{"US", "IN"})

	assert.Equal(t, []string{"US/Google/t1", "IN/Google/t1"}, keys(out.Records))
	require.Len(t, out.Reports, 6)
	assert.EqualError(t, out.Reports[0].Err, "quota exceeded")
	assert.ErrorContains(t, out.Reports[1].Err, "panic")
	assert.Equal(t, []string{"US", "IN"}, forum.calls)
}

func TestRunContinuesAfterRateLimit(t *testing.T) {
	trend := &stubAdapter{platform: source.PlatformGoogle, fetch: func(region string) source.Result {
		if region == "US" {
			return source.Result{Records: titled(source.PlatformGoogle, region, "kw1"), RateLimited: true, Err: source.ErrRateLimited}
		}
		return source.Result{Records: titled(source.PlatformGoogle, region, "kw1", "kw2", "kw3", "kw4")}
	}}
	video := echoAdapter(source.PlatformYouTube, "v1")

	out := New([]source.Adapter{video, trend}, nil, discard).Run(context.Background(), []string{"US", "IN"})

	assert.Equal(t, []string{
		"US/YouTube/v1", "US/Google/kw1",
		"IN/YouTube/v1", "IN/Google/kw1", "IN/Google/kw2", "IN/Google/kw3", "IN/Google/kw4",
	}, keys(out.Records))
	assert.True(t, out.Reports[1].RateLimited)
	assert.False(t, out.Reports[3].RateLimited)
}

func TestRunWithoutRegions(t *testing.T) {
	out := New([]source.Adapter{echoAdapter(source.PlatformYouTube, "v")}, nil, discard).Run(context.Background(), nil)
	assert.Empty(t, out.Records)
	assert.Empty(t, out.Reports)
}
