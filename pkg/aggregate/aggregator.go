package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elonfeng/popradar/pkg/source"
)

// Observer receives one report per adapter call. Implemented by the
// metrics package; may be nil.
type Observer interface {
	ObserveFetch(r Report)
}

// Report describes what one adapter produced for one region.
type Report struct {
	Platform    source.Platform
	Region      string
	Records     int
	Err         error
	RateLimited bool
}

// Output is the result of a full pass.
type Output struct {
	Records []source.Record
	Reports []Report
}

// Aggregator calls every adapter once per region, in order, on a single
// goroutine. Upstream throttling makes concurrency counterproductive here.
type Aggregator struct {
	adapters []source.Adapter
	observer Observer
	logger   *slog.Logger
}

// New creates an aggregator. Adapters run in the given order within each region.
func New(adapters []source.Adapter, observer Observer, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		adapters: adapters,
		observer: observer,
		logger:   logger,
	}
}

// Run collects records region-major, then in adapter order. A failing
// adapter contributes nothing but never stops the loop.
func (a *Aggregator) Run(ctx context.Context, regions []string) Output {
	var out Output
	for _, region := range regions {
		for _, adapter := range a.adapters {
			res := a.fetch(ctx, adapter, region)

			rep := Report{
				Platform:    adapter.Platform(),
				Region:      region,
				Records:     len(res.Records),
				Err:         res.Err,
				RateLimited: res.RateLimited,
			}
			out.Reports = append(out.Reports, rep)
			out.Records = append(out.Records, res.Records...)

			if a.observer != nil {
				a.observer.ObserveFetch(rep)
			}
			a.logger.Info("fetched",
				"platform", rep.Platform,
				"region", region,
				"records", rep.Records,
				"rate_limited", rep.RateLimited,
				"error", rep.Err,
			)
		}
	}
	return out
}

func (a *Aggregator) fetch(ctx context.Context, adapter source.Adapter, region string) (res source.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = source.Result{Err: fmt.Errorf("%s adapter panic: %v", adapter.Platform(), p)}
		}
	}()
	return adapter.Fetch(ctx, region)
}
