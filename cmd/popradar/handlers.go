package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/popradar/internal/config"
	"github.com/elonfeng/popradar/internal/metrics"
	"github.com/elonfeng/popradar/internal/pipeline"
	"github.com/elonfeng/popradar/internal/scheduler"
	"github.com/elonfeng/popradar/internal/store"
	"github.com/elonfeng/popradar/pkg/aggregate"
	"github.com/elonfeng/popradar/pkg/alert"
	"github.com/elonfeng/popradar/pkg/pacing"
	"github.com/elonfeng/popradar/pkg/rank"
	"github.com/elonfeng/popradar/pkg/server"
	"github.com/elonfeng/popradar/pkg/source"
)

type queryOpts struct {
	platform string
	region   string
	limit    int
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildAdapters(cfg *config.Config, logger *slog.Logger) []source.Adapter {
	var adapters []source.Adapter

	if yt := cfg.Sources.YouTube; yt.Enabled {
		adapters = append(adapters, source.NewYouTube(source.YouTubeOptions{
			APIKey:          yt.APIKey,
			Query:           yt.Query,
			MaxResults:      yt.MaxResults,
			Channels:        yt.Channels,
			FetchStatistics: yt.FetchStatistics,
			BaseURL:         yt.BaseURL,
		}, logger))
	}
	if d := cfg.Sources.Discourse; d.Enabled {
		adapters = append(adapters, source.NewDiscourse(d.BaseURL, logger))
	}
	if gt := cfg.Sources.GoogleTrends; gt.Enabled {
		adapters = append(adapters, source.NewGoogleTrends(source.GoogleTrendsOptions{
			Keywords:  gt.Keywords,
			Timeframe: gt.Timeframe,
			TZOffset:  gt.TZOffset,
			BaseURL:   gt.BaseURL,
		}, pacing.New(gt.ParseDelay()), logger))
	}

	return adapters
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// app bundles the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	holder   *store.Holder
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log)

	db, err := store.Open(cfg.Snapshot.Driver, cfg.Snapshot.Path, cfg.Snapshot.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	holder := store.NewHolder(db)
	agg := aggregate.New(buildAdapters(cfg, logger), m, logger)
	p := pipeline.New(agg, cfg.Regions, db, holder, buildAlertManager(cfg), m, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    db,
		holder:   holder,
		metrics:  m,
		pipeline: p,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func runCollect(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := a.pipeline.RunOnce(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tREGION\tRECORDS\tSTATUS")
	for _, f := range rep.Fetches {
		status := "ok"
		switch {
		case f.RateLimited:
			status = "rate limited"
		case f.Err != nil:
			status = f.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.Platform, f.Region, f.Records, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !rep.Written {
		fmt.Fprintf(os.Stderr, "\nno records collected; previous snapshot kept\n")
		return nil
	}
	fmt.Fprintf(os.Stderr, "\ntotal: %d records in %s (run %s)\n",
		rep.Records, rep.Duration.Round(time.Millisecond), rep.RunID)
	return nil
}

func runQuery(ctx context.Context, opts queryOpts, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.holder.Records(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no data available (try collecting first: popradar collect)")
		return nil
	}

	if mr, ok := a.store.(store.MetaReader); ok {
		if meta, err := mr.LastMeta(ctx); err == nil && meta != nil {
			fmt.Fprintf(os.Stderr, "snapshot %s: %d records, written %s\n",
				meta.RunID, meta.Records, meta.WrittenAt.Format(time.RFC3339))
		}
	}

	ranked := rank.Query(records, rank.Filter{
		Platform: opts.platform,
		Region:   opts.region,
		Limit:    opts.limit,
	})

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"count": len(ranked), "workflows": ranked})
	}

	if len(ranked) == 0 {
		fmt.Println("no records match the filter")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tPLATFORM\tREGION\tTITLE\tMETRICS")
	for _, r := range ranked {
		fmt.Fprintf(w, "%.1f\t%s\t%s\t%s\t%s\n",
			rank.Score(r), r.Platform, r.Region, r.Title, formatMetrics(r.Metrics))
	}
	return w.Flush()
}

func formatMetrics(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, m[k])
	}
	return strings.Join(parts, " ")
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.serve(ctx, port)
}

func runDaemon(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(a.pipeline,
		a.cfg.Schedule.At,
		a.cfg.Schedule.ParseInterval(),
		a.cfg.Schedule.RunOnStart,
		a.logger,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("scheduler error", "error", err)
		}
	}()

	return a.serve(ctx, port)
}

// serve runs the HTTP server until ctx is cancelled.
func (a *app) serve(ctx context.Context, port int) error {
	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(port, a.holder, a.pipeline, a.metrics, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
