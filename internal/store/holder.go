package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/elonfeng/popradar/pkg/source"
)

// MetaReader is implemented by stores that keep snapshot metadata.
type MetaReader interface {
	LastMeta(ctx context.Context) (*Meta, error)
}

// Holder caches the snapshot for the query layer. The slice it hands out is
// never mutated; a new pass or a reload swaps in a fresh one.
type Holder struct {
	store   Store
	current atomic.Pointer[[]source.Record]

	loadMu sync.Mutex
}

// NewHolder creates a holder that lazily loads from s on first read.
func NewHolder(s Store) *Holder {
	return &Holder{store: s}
}

// Records returns the cached snapshot, loading it on first use.
func (h *Holder) Records(ctx context.Context) ([]source.Record, error) {
	if p := h.current.Load(); p != nil {
		return *p, nil
	}

	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	if p := h.current.Load(); p != nil {
		return *p, nil
	}
	return h.reloadLocked(ctx)
}

// Reload re-reads the store and replaces the cache. On error the previous
// cache is kept.
func (h *Holder) Reload(ctx context.Context) ([]source.Record, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	return h.reloadLocked(ctx)
}

func (h *Holder) reloadLocked(ctx context.Context) ([]source.Record, error) {
	records, err := h.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	h.current.Store(&records)
	return records, nil
}

// Set publishes records written by a pass. It waits for an in-flight load
// so that an older read cannot land on top of the new snapshot.
func (h *Holder) Set(records []source.Record) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	h.current.Store(&records)
}
