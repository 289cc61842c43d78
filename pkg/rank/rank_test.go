package rank

import (
	"fmt"
	"testing"

	"github.com/elonfeng/popradar/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forum(title, region string, replies float64) source.Record {
	return source.NewRecord(title, source.PlatformDiscourse, region, "", map[string]float64{"replies": replies, "views": 1000})
}

func trend(title, region string, avg float64) source.Record {
	return source.NewRecord(title, source.PlatformGoogle, region, "", map[string]float64{"average_interest": avg, "latest_interest": 99})
}

func video(title, region string) source.Record {
	return source.NewRecord(title, source.PlatformYouTube, region, "", map[string]float64{"views": 0, "likes": 0, "comments": 0})
}

func titles(records []source.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		record source.Record
		want   float64
	}{
		{"forum uses replies not views", forum("f", "US", 42), 42},
		{"trend uses average interest", trend("t", "US", 17), 17},
		{"video placeholder", video("v", "US"), 0},
		{"video with stats", source.NewRecord("v", source.PlatformYouTube, "US", "", map[string]float64{"views": 900}), 900},
		{"forum missing replies", source.NewRecord("f", source.PlatformDiscourse, "US", "", nil), 0},
		{"unknown platform", source.Record{Platform: "Mastodon", Metrics: map[string]float64{"replies": 500, "views": 500}}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Score(tc.record))
		})
	}
}

func TestQueryEndToEndOrdering(t *testing.T) {
	snapshot := []source.Record{video("video", "US"), trend("trend", "US", 17), forum("forum", "US", 42)}

	got := Query(snapshot, Filter{Limit: 10})

	assert.Equal(t, []string{"forum", "trend", "video"}, titles(got))
	assert.Equal(t, []string{"video", "trend", "forum"}, titles(snapshot), "input must not be reordered")
}

func TestQueryIsStableAndNonIncreasing(t *testing.T) {
	snapshot := []source.Record{
		forum("a", "US", 5),
		source.Record{Title: "unknown-1", Platform: "Mastodon", Region: "US"},
		trend("b", "US", 5),
		video("c", "US"),
		forum("d", "US", 9),
		source.Record{Title: "unknown-2", Platform: "Mastodon", Region: "US"},
		trend("e", "US", 5),
	}

	got := Query(snapshot, Filter{})

	assert.Equal(t, []string{"d", "a", "b", "e", "unknown-1", "c", "unknown-2"}, titles(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, Score(got[i-1]), Score(got[i]))
	}
}

func TestQueryFilters(t *testing.T) {
	snapshot := []source.Record{
		forum("f-us", "US", 1),
		forum("f-in", "IN", 2),
		trend("t-us", "US", 3),
		video("v-us", "us"),
	}

	all := Query(snapshot, Filter{})
	got := Query(snapshot, Filter{Platform: "discourse", Region: "us"})

	require.Equal(t, []string{"f-us"}, titles(got))
	for _, r := range got {
		assert.Equal(t, source.PlatformDiscourse, r.Platform)
		assert.Equal(t, "US", r.Region)
		assert.Contains(t, all, r)
	}

	assert.Equal(t, []string{"v-us"}, titles(Query(snapshot, Filter{Platform: "YOUTUBE", Region: "US"})))
	assert.Empty(t, Query(snapshot, Filter{Platform: "Disc"}), "platform match is exact")
	assert.Empty(t, Query(snapshot, Filter{Region: "DE"}))
}

func TestQueryLimit(t *testing.T) {
	var snapshot []source.Record
	for i := 0; i < 120; i++ {
		snapshot = append(snapshot, forum(fmt.Sprintf("f%03d", i), "US", float64(i%7)))
	}

	for _, n := range []int{1, 5, 50, 119, 120, 500} {
		got := Query(snapshot, Filter{Limit: n})
		want := Query(snapshot, Filter{Limit: len(snapshot)})
		require.Len(t, got, min(n, len(snapshot)))
		assert.Equal(t, want[:len(got)], got, "limit %d must return the top-N prefix", n)
	}

	assert.Len(t, Query(snapshot, Filter{}), DefaultLimit)
	assert.Len(t, Query(snapshot, Filter{Limit: 3, Platform: "Google"}), 0)
}
