package search

import (
	"context"
	"time"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/pkg/models"
)

// Source yields the latest catalog snapshot. *catalog.Store satisfies it.
type Source interface {
	Get(ctx context.Context) (*catalog.Snapshot, error)
}

// Index binds Search to a Source. It holds no snapshot of its own: every
// call asks the Source, so a refresh is visible to the next query while a
// query already running keeps its old reference.
type Index struct {
	source  Source
	opts    Options
	observe func(time.Duration)
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithOptions sets the default ordering options.
func WithOptions(o Options) IndexOption {
	return func(ix *Index) { ix.opts = o }
}

// WithDurationObserver reports how long each scan took.
func WithDurationObserver(fn func(time.Duration)) IndexOption {
	return func(ix *Index) { ix.observe = fn }
}

// NewIndex creates an Index over src.
func NewIndex(src Source, opts ...IndexOption) *Index {
	ix := &Index{source: src, observe: func(time.Duration) {}}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Search runs q against the latest snapshot using the default options.
func (ix *Index) Search(ctx context.Context, q Query, limit int) ([]models.CatalogEntry, error) {
	return ix.SearchWithOptions(ctx, q, limit, ix.opts)
}

// SearchWithOptions runs q with explicit ordering options. The only error
// is the Source failing to produce any snapshot.
func (ix *Index) SearchWithOptions(ctx context.Context, q Query, limit int, opts Options) ([]models.CatalogEntry, error) {
	snap, err := ix.source.Get(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out := SearchWithOptions(snap, q, limit, opts)
	ix.observe(time.Since(start))
	return out, nil
}

// Options returns the default ordering options.
func (ix *Index) Options() Options { return ix.opts }
