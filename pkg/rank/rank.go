package rank

import (
	"errors"
	"sort"
	"strings"

	"github.com/elonfeng/popradar/pkg/source"
)

// DefaultLimit caps query results when no limit is given.
const DefaultLimit = 50

// ErrNoData means the snapshot is empty: the pipeline has not produced
// anything yet, as opposed to a filter matching nothing.
var ErrNoData = errors.New("no data available")

// Score projects a record onto a single comparable number. Each platform
// reports a different vocabulary, so the rule switches on the platform tag:
//   - YouTube: views (zero unless statistics are fetched)
//   - Discourse: replies
//   - Google: average_interest, already a 0-100 index
//
// Anything else scores 0.
func Score(r source.Record) float64 {
	var key string
	switch r.Platform {
	case source.PlatformYouTube:
		key = source.MetricViews
	case source.PlatformDiscourse:
		key = source.MetricReplies
	case source.PlatformGoogle:
		key = source.MetricAverageInterest
	default:
		return 0
	}
	v, _ := r.Metric(key)
	return v
}

// Filter selects and truncates records for a query.
type Filter struct {
	Platform string
	Region   string
	Limit    int
}

// Matches reports whether r passes the platform and region predicates.
// Both comparisons are case-insensitive and exact.
func (f Filter) Matches(r source.Record) bool {
	if f.Platform != "" && !strings.EqualFold(string(r.Platform), f.Platform) {
		return false
	}
	if f.Region != "" && !strings.EqualFold(r.Region, f.Region) {
		return false
	}
	return true
}

type scored struct {
	record source.Record
	score  float64
}

// Query filters, ranks by Score descending and truncates. Ties keep their
// snapshot order. The input slice is left untouched and scores are not
// attached to the returned records.
func Query(records []source.Record, f Filter) []source.Record {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	matched := make([]scored, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			matched = append(matched, scored{record: r, score: Score(r)})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]source.Record, len(matched))
	for i, m := range matched {
		out[i] = m.record
	}
	return out
}
