package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/elonfeng/popradar/pkg/pacing"
)

const (
	defaultTrendsURL       = "https://trends.google.com"
	defaultTrendsTimeframe = "today 3-m"
)

// DefaultTrendKeywords are the search terms tracked on Google Trends.
var DefaultTrendKeywords = []string{
	"n8n workflow",
	"n8n automation",
	"n8n tutorial",
	"n8n integration",
}

// GoogleTrendsOptions configures the Google Trends adapter.
type GoogleTrendsOptions struct {
	Keywords  []string
	Timeframe string
	Language  string
	// TZOffset is minutes west of UTC as Trends expects; zero means UTC.
	TZOffset  int
	BaseURL   string
}

// GoogleTrends reads interest over time for a fixed keyword set. Every
// keyword request goes through the pacing governor; a 429 ends the keyword
// loop for the current region.
type GoogleTrends struct {
	client   *http.Client
	opts     GoogleTrendsOptions
	governor *pacing.Governor
	logger   *slog.Logger
	warmed   bool
}

// NewGoogleTrends creates a new Google Trends adapter.
func NewGoogleTrends(opts GoogleTrendsOptions, governor *pacing.Governor, logger *slog.Logger) *GoogleTrends {
	if len(opts.Keywords) == 0 {
		opts.Keywords = DefaultTrendKeywords
	}
	if opts.Timeframe == "" {
		opts.Timeframe = defaultTrendsTimeframe
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultTrendsURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if governor == nil {
		governor = pacing.New(pacing.DefaultDelay)
	}

	client := newHTTPClient()
	if jar, err := cookiejar.New(nil); err == nil {
		client.Jar = jar
	}

	return &GoogleTrends{
		client:   client,
		opts:     opts,
		governor: governor,
		logger:   logger.With("platform", PlatformGoogle),
	}
}

func (g *GoogleTrends) Platform() Platform { return PlatformGoogle }

func (g *GoogleTrends) Fetch(ctx context.Context, region string) Result {
	var res Result
	g.warmup(ctx, region)

	session := g.governor.Session()
	for i, kw := range g.opts.Keywords {
		if session.Wait(ctx) == pacing.Blocked {
			if err := ctx.Err(); err != nil && res.Err == nil {
				res.Err = err
			}
			g.logger.Warn("keyword loop halted", "region", region,
				"skipped", len(g.opts.Keywords)-i, "collected", len(res.Records))
			break
		}

		rec, ok, err := g.interest(ctx, kw, region)
		switch {
		case errors.Is(err, ErrRateLimited):
			session.Block()
			res.RateLimited = true
			res.Err = err
			g.logger.Warn("throttled", "region", region, "keyword", kw)
		case err != nil:
			g.logger.Error("keyword failed", "region", region, "keyword", kw, "error", err)
		case !ok:
			g.logger.Debug("no data", "region", region, "keyword", kw)
		default:
			res.Records = append(res.Records, rec)
		}
	}
	return res
}

// warmup collects the NID cookie the API expects. Best effort, once.
func (g *GoogleTrends) warmup(ctx context.Context, region string) {
	if g.warmed {
		return
	}
	g.warmed = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL+"/?geo="+url.QueryEscape(region), nil)
	if err != nil {
		return
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("cookie warmup failed", "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (g *GoogleTrends) interest(ctx context.Context, keyword, region string) (Record, bool, error) {
	widget, ok, err := g.explore(ctx, keyword, region)
	if err != nil || !ok {
		return Record{}, false, err
	}

	points, err := g.timeline(ctx, widget)
	if err != nil {
		return Record{}, false, err
	}
	if len(points) == 0 {
		return Record{}, false, nil
	}

	var sum float64
	for _, p := range points {
		sum += p
	}
	avg := float64(int64(sum / float64(len(points))))
	latest := points[len(points)-1]

	link := g.opts.BaseURL + "/trends/explore?" + url.Values{
		"q":    {keyword},
		"geo":  {region},
		"date": {g.opts.Timeframe},
	}.Encode()

	return NewRecord(keyword, PlatformGoogle, region, link, map[string]float64{
		MetricAverageInterest: avg,
		MetricLatestInterest:  latest,
	}), true, nil
}

func (g *GoogleTrends) explore(ctx context.Context, keyword, region string) (trendsWidget, bool, error) {
	payload, err := json.Marshal(exploreRequest{
		ComparisonItem: []comparisonItem{{Keyword: keyword, Time: g.opts.Timeframe, Geo: region}},
		Category:       0,
		Property:       "",
	})
	if err != nil {
		return trendsWidget{}, false, fmt.Errorf("encode explore request: %w", err)
	}

	params := g.baseParams()
	params.Set("req", string(payload))

	var explore struct {
		Widgets []trendsWidget `json:"widgets"`
	}
	if err := g.get(ctx, "/trends/api/explore", params, &explore); err != nil {
		return trendsWidget{}, false, fmt.Errorf("explore %q: %w", keyword, err)
	}

	for _, w := range explore.Widgets {
		if w.ID == "TIMESERIES" && w.Token != "" {
			return w, true, nil
		}
	}
	return trendsWidget{}, false, nil
}

func (g *GoogleTrends) timeline(ctx context.Context, w trendsWidget) ([]float64, error) {
	params := g.baseParams()
	params.Set("req", string(w.Request))
	params.Set("token", w.Token)

	var data struct {
		Default struct {
			TimelineData []struct {
				Value   []float64 `json:"value"`
				HasData []bool    `json:"hasData"`
			} `json:"timelineData"`
		} `json:"default"`
	}
	if err := g.get(ctx, "/trends/api/widgetdata/multiline", params, &data); err != nil {
		return nil, fmt.Errorf("interest over time: %w", err)
	}

	points := make([]float64, 0, len(data.Default.TimelineData))
	for _, row := range data.Default.TimelineData {
		if len(row.Value) == 0 || (len(row.HasData) > 0 && !row.HasData[0]) {
			continue
		}
		points = append(points, row.Value[0])
	}
	return points, nil
}

func (g *GoogleTrends) baseParams() url.Values {
	params := url.Values{}
	params.Set("hl", g.opts.Language)
	params.Set("tz", fmt.Sprintf("%d", g.opts.TZOffset))
	return params
}

func (g *GoogleTrends) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "popradar/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(stripXSSIPrefix(body), out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// stripXSSIPrefix drops the ")]}'" guard Google puts in front of JSON.
func stripXSSIPrefix(body []byte) []byte {
	if i := bytes.IndexByte(body, '{'); i > 0 {
		return body[i:]
	}
	return body
}

type exploreRequest struct {
	ComparisonItem []comparisonItem `json:"comparisonItem"`
	Category       int              `json:"category"`
	Property       string           `json:"property"`
}

type comparisonItem struct {
	Keyword string `json:"keyword"`
	Time    string `json:"time"`
	Geo     string `json:"geo"`
}

type trendsWidget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request"`
}
