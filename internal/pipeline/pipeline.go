package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elonfeng/popradar/internal/metrics"
	"github.com/elonfeng/popradar/internal/store"
	"github.com/elonfeng/popradar/pkg/aggregate"
	"github.com/elonfeng/popradar/pkg/alert"
	"github.com/elonfeng/popradar/pkg/rank"
	"github.com/elonfeng/popradar/pkg/source"
	"github.com/google/uuid"
)

// ErrPassInProgress is returned when a pass is requested while one runs.
var ErrPassInProgress = errors.New("aggregation pass already in progress")

// Report summarizes one pass.
type Report struct {
	RunID    string             `json:"run_id"`
	Started  time.Time          `json:"started_at"`
	Duration time.Duration      `json:"duration"`
	Records  int                `json:"records"`
	Written  bool               `json:"written"`
	Fetches  []aggregate.Report `json:"-"`
}

// ByPlatform counts records per platform.
func (r *Report) ByPlatform() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Fetches {
		out[string(f.Platform)] += f.Records
	}
	return out
}

// Pipeline runs aggregation passes and publishes their snapshot. It is the
// single writer of the store.
type Pipeline struct {
	aggregator *aggregate.Aggregator
	regions    []string
	store      store.Store
	holder     *store.Holder
	alerts     *alert.Manager
	metrics    *metrics.Metrics
	logger     *slog.Logger

	running sync.Mutex
}

// New creates a pipeline. alerts and m may be nil.
func New(agg *aggregate.Aggregator, regions []string, s store.Store, holder *store.Holder,
	alerts *alert.Manager, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		aggregator: agg,
		regions:    regions,
		store:      s,
		holder:     holder,
		alerts:     alerts,
		metrics:    m,
		logger:     logger,
	}
}

// RunOnce performs a full pass and replaces the snapshot. The snapshot is
// left untouched when the pass is cancelled or produced no records at all.
func (p *Pipeline) RunOnce(ctx context.Context) (*Report, error) {
	if !p.running.TryLock() {
		return nil, ErrPassInProgress
	}
	defer p.running.Unlock()

	rep := &Report{RunID: uuid.NewString(), Started: time.Now().UTC()}
	logger := p.logger.With("run_id", rep.RunID)
	logger.Info("pass started", "regions", p.regions)

	out := p.aggregator.Run(ctx, p.regions)
	rep.Fetches = out.Reports
	rep.Records = len(out.Records)
	rep.Duration = time.Since(rep.Started)

	if err := ctx.Err(); err != nil {
		p.metrics.ObservePass(rep.Duration, "cancelled", 0)
		logger.Warn("pass cancelled, snapshot unchanged", "error", err)
		return rep, fmt.Errorf("pass %s: %w", rep.RunID, err)
	}

	if len(out.Records) == 0 {
		p.metrics.ObservePass(rep.Duration, "empty", 0)
		logger.Warn("pass produced no records, keeping previous snapshot")
		p.notify(ctx, rep, nil)
		return rep, nil
	}

	meta := store.Meta{RunID: rep.RunID, Records: len(out.Records), WrittenAt: time.Now().UTC()}
	if err := p.store.Replace(ctx, out.Records, meta); err != nil {
		p.metrics.ObservePass(rep.Duration, "error", 0)
		logger.Error("snapshot write failed", "error", err)
		return rep, fmt.Errorf("write snapshot: %w", err)
	}
	if p.holder != nil {
		p.holder.Set(out.Records)
	}
	rep.Written = true

	p.metrics.ObservePass(rep.Duration, "written", rep.Records)
	logger.Info("pass complete", "records", rep.Records, "duration", rep.Duration)
	p.notify(ctx, rep, out.Records)
	return rep, nil
}

func (p *Pipeline) notify(ctx context.Context, rep *Report, records []source.Record) {
	if !p.alerts.HasNotifiers() {
		return
	}

	n := &alert.Notification{
		Title:      "popradar pass complete",
		RunID:      rep.RunID,
		Records:    rep.Records,
		ByPlatform: rep.ByPlatform(),
		Top:        rank.Query(records, rank.Filter{Limit: 5}),
	}
	for _, f := range rep.Fetches {
		label := fmt.Sprintf("%s/%s", f.Platform, f.Region)
		switch {
		case f.RateLimited:
			n.RateLimited = append(n.RateLimited, label)
		case f.Err != nil:
			n.Failures = append(n.Failures, label)
		}
	}
	if rep.Written {
		n.Body = fmt.Sprintf("Snapshot replaced after %d fetches in %s", len(rep.Fetches), rep.Duration.Round(time.Second))
	} else {
		n.Title = "popradar pass produced no data"
		n.Body = "Previous snapshot kept"
	}

	if err := p.alerts.Broadcast(ctx, n); err != nil {
		p.logger.Error("alert failed", "run_id", rep.RunID, "error", err)
	}
}
