package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const defaultDiscourseURL = "https://community.n8n.io"

// Discourse reads the latest topics of a Discourse forum. The forum has no
// regional partition, so region is kept on records for provenance only.
type Discourse struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewDiscourse creates a new Discourse adapter.
func NewDiscourse(baseURL string, logger *slog.Logger) *Discourse {
	if baseURL == "" {
		baseURL = defaultDiscourseURL
	}
	return &Discourse{
		client:  newHTTPClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("platform", PlatformDiscourse),
	}
}

func (d *Discourse) Platform() Platform { return PlatformDiscourse }

func (d *Discourse) Fetch(ctx context.Context, region string) Result {
	topics, err := d.latest(ctx)
	if err != nil {
		d.logger.Error("latest topics failed", "region", region, "error", err)
		return Result{Err: err}
	}

	records := make([]Record, 0, len(topics))
	for _, t := range topics {
		records = append(records, NewRecord(t.Title, PlatformDiscourse, region, d.topicURL(t),
			map[string]float64{
				MetricViews:        float64(t.Views),
				MetricLikes:        float64(t.LikeCount),
				MetricReplies:      float64(t.PostsCount),
				MetricContributors: float64(len(t.Posters)),
			}))
	}
	return Result{Records: records}
}

func (d *Discourse) latest(ctx context.Context) ([]discourseTopic, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/latest.json", nil)
	if err != nil {
		return nil, fmt.Errorf("create discourse request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "popradar/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch discourse latest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("discourse latest: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discourse latest status %d", resp.StatusCode)
	}

	var listing discourseLatest
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode discourse latest: %w", err)
	}
	return listing.TopicList.Topics, nil
}

func (d *Discourse) topicURL(t discourseTopic) string {
	if t.Slug != "" {
		return fmt.Sprintf("%s/t/%s/%d", d.baseURL, t.Slug, t.ID)
	}
	return fmt.Sprintf("%s/t/%d", d.baseURL, t.ID)
}

type discourseLatest struct {
	TopicList struct {
		Topics []discourseTopic `json:"topics"`
	} `json:"topic_list"`
}

type discourseTopic struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	Views      int64  `json:"views"`
	LikeCount  int64  `json:"like_count"`
	PostsCount int64  `json:"posts_count"`
	Posters    []struct {
		UserID int64 `json:"user_id"`
	} `json:"posters"`
}
