package source

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Platform identifies which upstream a record came from.
type Platform string

const (
	PlatformYouTube   Platform = "YouTube"
	PlatformDiscourse Platform = "Discourse"
	PlatformGoogle    Platform = "Google"
)

// Metric keys. Each platform uses its own subset, see Vocabulary.
const (
	MetricViews           = "views"
	MetricLikes           = "likes"
	MetricComments        = "comments"
	MetricReplies         = "replies"
	MetricContributors    = "contributors"
	MetricAverageInterest = "average_interest"
	MetricLatestInterest  = "latest_interest"
)

var vocabularies = map[Platform][]string{
	PlatformYouTube:   {MetricViews, MetricLikes, MetricComments},
	PlatformDiscourse: {MetricViews, MetricLikes, MetricReplies, MetricContributors},
	PlatformGoogle:    {MetricAverageInterest, MetricLatestInterest},
}

// ErrRateLimited is reported when an upstream answers with 429.
var ErrRateLimited = errors.New("rate limited")

// Record is the normalized unit shared by every adapter, the snapshot and
// the query layer. Metrics keep the platform's own vocabulary.
type Record struct {
	Title    string             `json:"title"`
	Platform Platform           `json:"platform"`
	Region   string             `json:"region"`
	Metrics  map[string]float64 `json:"metrics"`
	URL      string             `json:"url"`
}

// NewRecord builds a record, copying metrics and dropping any key that is
// not part of the platform's vocabulary.
func NewRecord(title string, platform Platform, region, url string, metrics map[string]float64) Record {
	m := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		if KnownMetric(platform, k) {
			m[k] = v
		}
	}
	return Record{
		Title:    title,
		Platform: platform,
		Region:   region,
		Metrics:  m,
		URL:      url,
	}
}

// Metric returns the value stored under key and whether it was present.
func (r Record) Metric(key string) (float64, bool) {
	v, ok := r.Metrics[key]
	return v, ok
}

// Vocabulary returns the metric keys a platform may report.
func Vocabulary(p Platform) []string {
	keys := vocabularies[p]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// KnownMetric reports whether key belongs to the platform's vocabulary.
func KnownMetric(p Platform, key string) bool {
	for _, k := range vocabularies[p] {
		if k == key {
			return true
		}
	}
	return false
}

// AllPlatforms returns the known platforms in aggregation order.
func AllPlatforms() []Platform {
	return []Platform{PlatformYouTube, PlatformDiscourse, PlatformGoogle}
}

// Result is what an adapter hands back for one region. Err is a diagnostic
// note only: adapters never fail the surrounding pass.
type Result struct {
	Records     []Record
	Err         error
	RateLimited bool
}

// Adapter isolates one upstream API behind a common shape.
type Adapter interface {
	Platform() Platform
	Fetch(ctx context.Context, region string) Result
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
