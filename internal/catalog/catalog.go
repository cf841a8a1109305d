// Package catalog owns the in-memory coin catalog: an immutable Snapshot
// fetched from an upstream provider and a Store that serves it with a
// staleness policy, single-flight refresh and stale-on-error fallback.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/seenimoa/coinsentinel/pkg/models"
)

// --- Sentinel errors ---

// ErrUpstreamUnavailable is returned on network errors, timeouts and
// non-success statuses from the catalog provider.
var ErrUpstreamUnavailable = errors.New("catalog upstream unavailable")

// ErrUpstreamMalformed is returned when the provider payload is not a
// sequence of objects each carrying an id.
var ErrUpstreamMalformed = errors.New("catalog upstream payload malformed")

// ErrNoSnapshot is returned by Store.Get when no snapshot has ever been
// fetched and the refresh failed.
var ErrNoSnapshot = errors.New("no catalog snapshot available")

// Fetcher retrieves the full catalog in one shot. Implementations do not
// retry; retry policy belongs to the Store.
type Fetcher interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*Snapshot, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context) (*Snapshot, error) { return f(ctx) }

// Snapshot is an immutable point-in-time copy of the catalog. It is never
// mutated after NewSnapshot returns; refreshes replace it wholesale.
type Snapshot struct {
	entries   []models.CatalogEntry
	byID      map[string]int
	bySymbol  map[string][]int
	FetchedAt time.Time
}

// NewSnapshot builds a snapshot from entries in provider order. Ids are
// lowercased and duplicates dropped (first occurrence wins) so that ids
// stay unique within the snapshot.
func NewSnapshot(entries []models.CatalogEntry, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		entries:   make([]models.CatalogEntry, 0, len(entries)),
		byID:      make(map[string]int, len(entries)),
		bySymbol:  make(map[string][]int),
		FetchedAt: fetchedAt,
	}
	for _, e := range entries {
		e.ID = strings.ToLower(strings.TrimSpace(e.ID))
		if e.ID == "" {
			continue
		}
		if _, dup := s.byID[e.ID]; dup {
			continue
		}
		idx := len(s.entries)
		s.entries = append(s.entries, e)
		s.byID[e.ID] = idx
		sym := strings.ToLower(e.Symbol)
		s.bySymbol[sym] = append(s.bySymbol[sym], idx)
	}
	return s
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the entries in catalog order. The slice is shared and
// must not be modified.
func (s *Snapshot) Entries() []models.CatalogEntry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Lookup returns the entry with the given id.
func (s *Snapshot) Lookup(id string) (models.CatalogEntry, bool) {
	if s == nil {
		return models.CatalogEntry{}, false
	}
	idx, ok := s.byID[strings.ToLower(id)]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return s.entries[idx], true
}

// BySymbol returns every entry sharing the ticker, in catalog order.
func (s *Snapshot) BySymbol(symbol string) []models.CatalogEntry {
	if s == nil {
		return nil
	}
	idxs := s.bySymbol[strings.ToLower(symbol)]
	out := make([]models.CatalogEntry, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.entries[i])
	}
	return out
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
