package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

const (
	defaultYouTubeAPI   = "https://www.googleapis.com/youtube/v3"
	defaultYouTubeFeeds = "https://www.youtube.com/feeds/videos.xml"
	defaultYouTubeQuery = "n8n workflow"
)

// YouTubeOptions configures the YouTube adapter.
type YouTubeOptions struct {
	APIKey     string
	Query      string
	MaxResults int
	// Channels are channel ids whose uploads feed is read in addition to search.
	Channels []string
	// FetchStatistics enables the videos?part=statistics lookup. When off,
	// engagement metrics stay at zero.
	FetchStatistics bool
	BaseURL         string
	FeedURL         string
}

// YouTube searches for videos per region code.
type YouTube struct {
	client *http.Client
	parser *gofeed.Parser
	opts   YouTubeOptions
	logger *slog.Logger
}

// NewYouTube creates a new YouTube adapter.
func NewYouTube(opts YouTubeOptions, logger *slog.Logger) *YouTube {
	if opts.Query == "" {
		opts.Query = defaultYouTubeQuery
	}
	if opts.MaxResults <= 0 || opts.MaxResults > 50 {
		opts.MaxResults = 50
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultYouTubeAPI
	}
	if opts.FeedURL == "" {
		opts.FeedURL = defaultYouTubeFeeds
	}
	return &YouTube{
		client: newHTTPClient(),
		parser: gofeed.NewParser(),
		opts:   opts,
		logger: logger.With("platform", PlatformYouTube),
	}
}

func (y *YouTube) Platform() Platform { return PlatformYouTube }

func (y *YouTube) Fetch(ctx context.Context, region string) Result {
	var res Result

	if y.opts.APIKey == "" {
		res.Err = fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
		y.logger.Warn("search skipped", "region", region, "error", res.Err)
	} else {
		videos, err := y.search(ctx, region)
		if err != nil {
			res.Err = err
			y.logger.Error("search failed", "region", region, "error", err)
		} else {
			if y.opts.FetchStatistics && len(videos) > 0 {
				y.enrichWithStats(ctx, videos)
			}
			for _, v := range videos {
				res.Records = append(res.Records, v.record(region))
			}
		}
	}

	for _, channel := range y.opts.Channels {
		videos, err := y.channelUploads(ctx, channel)
		if err != nil {
			y.logger.Error("channel feed failed", "channel", channel, "error", err)
			continue
		}
		for _, v := range videos {
			res.Records = append(res.Records, v.record(region))
		}
	}

	return res
}

type ytVideo struct {
	id       string
	title    string
	views    int64
	likes    int64
	comments int64
}

func (v ytVideo) record(region string) Record {
	return NewRecord(v.title, PlatformYouTube, region,
		"https://youtube.com/watch?v="+v.id,
		map[string]float64{
			MetricViews:    float64(v.views),
			MetricLikes:    float64(v.likes),
			MetricComments: float64(v.comments),
		})
}

func (y *YouTube) search(ctx context.Context, region string) ([]ytVideo, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", y.opts.Query)
	params.Set("maxResults", strconv.Itoa(y.opts.MaxResults))
	params.Set("regionCode", region)
	params.Set("type", "video")
	params.Set("key", y.opts.APIKey)

	reqURL := y.opts.BaseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create youtube search request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch youtube search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("youtube search: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube search status %d", resp.StatusCode)
	}

	var result ytSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode youtube search: %w", err)
	}

	var videos []ytVideo
	for _, item := range result.Items {
		if item.ID.VideoID == "" {
			continue
		}
		videos = append(videos, ytVideo{id: item.ID.VideoID, title: item.Snippet.Title})
	}
	return videos, nil
}

// enrichWithStats fills engagement counts in place. Errors leave the zero
// placeholders untouched.
func (y *YouTube) enrichWithStats(ctx context.Context, videos []ytVideo) {
	idx := make(map[string]int, len(videos))
	ids := make([]string, 0, len(videos))
	for i, v := range videos {
		idx[v.id] = i
		ids = append(ids, v.id)
	}

	// The videos endpoint accepts at most 50 ids per request.
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))

		params := url.Values{}
		params.Set("part", "statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", y.opts.APIKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.opts.BaseURL+"/videos?"+params.Encode(), nil)
		if err != nil {
			continue
		}
		resp, err := y.client.Do(req)
		if err != nil {
			y.logger.Warn("statistics lookup failed", "error", err)
			continue
		}

		var result ytVideoResult
		if resp.StatusCode == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(&result)
		} else {
			err = fmt.Errorf("youtube videos status %d", resp.StatusCode)
		}
		resp.Body.Close()
		if err != nil {
			y.logger.Warn("statistics lookup failed", "error", err)
			continue
		}

		for _, video := range result.Items {
			if i, ok := idx[video.ID]; ok {
				videos[i].views = video.Statistics.ViewCount
				videos[i].likes = video.Statistics.LikeCount
				videos[i].comments = video.Statistics.CommentCount
			}
		}
	}
}

func (y *YouTube) channelUploads(ctx context.Context, channel string) ([]ytVideo, error) {
	reqURL := y.opts.FeedURL + "?channel_id=" + url.QueryEscape(channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create channel feed request %s: %w", channel, err)
	}
	req.Header.Set("User-Agent", "popradar/1.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch channel feed %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("channel feed %s status %d", channel, resp.StatusCode)
	}

	feed, err := y.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse channel feed %s: %w", channel, err)
	}

	var videos []ytVideo
	for _, entry := range feed.Items {
		id := feedVideoID(entry)
		if id == "" {
			continue
		}
		videos = append(videos, ytVideo{id: id, title: entry.Title})
	}
	return videos, nil
}

// feedVideoID reads the yt:videoId extension, falling back to the v= query
// parameter of the entry link.
func feedVideoID(entry *gofeed.Item) string {
	if yt, ok := entry.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 && ids[0].Value != "" {
			return strings.TrimSpace(ids[0].Value)
		}
	}
	if entry.Link == "" {
		return ""
	}
	u, err := url.Parse(entry.Link)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    int64 `json:"viewCount,string"`
			LikeCount    int64 `json:"likeCount,string"`
			CommentCount int64 `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
