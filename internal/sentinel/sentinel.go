// Package sentinel is the single pipeline every surface (HTTP API,
// websocket, CLI) goes through: catalog search, resolution to market data,
// and risk scoring with the flagged-token dataset.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/internal/flags"
	"github.com/seenimoa/coinsentinel/internal/infra"
	"github.com/seenimoa/coinsentinel/internal/resolve"
	"github.com/seenimoa/coinsentinel/internal/risk"
	"github.com/seenimoa/coinsentinel/internal/search"
	"github.com/seenimoa/coinsentinel/pkg/models"
	"github.com/seenimoa/coinsentinel/pkg/utils"
)

// Default and maximum sizes.
const (
	DefaultSearchLimit  = 10
	MaxSearchLimit      = 50
	DefaultPageSize     = 10
	MaxPageSize         = 100
	DefaultSuggestLimit = 10
)

// Catalog is the read side of the Catalog Store.
type Catalog interface {
	Get(ctx context.Context) (*catalog.Snapshot, error)
	Peek() (*catalog.Snapshot, bool)
}

// Config wires a Service.
type Config struct {
	Catalog  Catalog
	Market   resolve.MarketData
	Resolver *resolve.Resolver // built from Market when nil
	Scorer   *risk.Scorer      // Fixed(DefaultBaseline) when nil
	Flags    *flags.Dataset    // empty when nil
	Clock    infra.Clock
	Logger   *slog.Logger

	DefaultMode   search.Mode
	SearchOptions search.Options
	DefaultLimit  int
	MaxLimit      int
	SuggestLimit  int

	// SearchObserver receives the duration of each catalog scan.
	SearchObserver func(time.Duration)
}

// Service is safe for concurrent use.
type Service struct {
	catalog  Catalog
	index    *search.Index
	resolver *resolve.Resolver
	scorer   *risk.Scorer
	flags    *flags.Dataset
	clock    infra.Clock
	logger   *slog.Logger

	defaultMode  search.Mode
	defaultLimit int
	maxLimit     int
	suggestLimit int

	mu     sync.Mutex
	sorted *sortedView
}

// sortedView caches the alphabetical order of one snapshot.
type sortedView struct {
	snap    *catalog.Snapshot
	entries []models.CatalogEntry
}

// New creates a Service. Catalog and either Market or Resolver are
// required.
func New(cfg Config) *Service {
	s := &Service{
		catalog:      cfg.Catalog,
		resolver:     cfg.Resolver,
		scorer:       cfg.Scorer,
		flags:        cfg.Flags,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		defaultMode:  cfg.DefaultMode,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		suggestLimit: cfg.SuggestLimit,
	}
	if s.resolver == nil {
		s.resolver = resolve.New(cfg.Market, resolve.WithLogger(cfg.Logger))
	}
	if s.scorer == nil {
		s.scorer = risk.New(nil)
	}
	if s.flags == nil {
		s.flags = flags.Empty()
	}
	if s.clock == nil {
		s.clock = infra.SystemClock
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxLimit <= 0 {
		s.maxLimit = MaxSearchLimit
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = DefaultSearchLimit
	}
	s.defaultLimit = min(s.defaultLimit, s.maxLimit)
	if s.suggestLimit <= 0 {
		s.suggestLimit = DefaultSuggestLimit
	}

	opts := []search.IndexOption{search.WithOptions(cfg.SearchOptions)}
	if cfg.SearchObserver != nil {
		opts = append(opts, search.WithDurationObserver(cfg.SearchObserver))
	}
	s.index = search.NewIndex(cfg.Catalog, opts...)
	return s
}

// DefaultMode returns the match mode used when callers do not pick one.
func (s *Service) DefaultMode() search.Mode { return s.defaultMode }

// --- Search ---

// Search matches text against the latest catalog. A limit of zero or less
// means the default; larger limits are capped at the maximum. It fails only
// when no catalog has ever been fetched.
func (s *Service) Search(ctx context.Context, text string, mode search.Mode, limit int) ([]models.CatalogEntry, error) {
	return s.SearchWithOptions(ctx, text, mode, limit, s.index.Options())
}

// SearchWithOptions is Search with explicit ordering options.
func (s *Service) SearchWithOptions(ctx context.Context, text string, mode search.Mode, limit int, opts search.Options) ([]models.CatalogEntry, error) {
	return s.index.SearchWithOptions(ctx, search.Query{Text: text, Mode: mode}, s.clampLimit(limit), opts)
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return min(limit, s.maxLimit)
}

// --- Resolve ---

// ResolveRequest carries either a catalog id picked from search results or
// free text submitted directly. ID wins when both are set.
type ResolveRequest struct {
	ID   string
	Text string
}

// Report is the full answer for one coin.
type Report struct {
	Stats models.CoinStats      `json:"stats"`
	Risk  models.RiskAssessment `json:"risk"`
	Flag  *models.FlaggedToken  `json:"flag,omitempty"`
	Entry *models.CatalogEntry  `json:"entry,omitempty"`
}

// NotFoundError is returned when nothing matches the request. Suggestions
// are catalog entries the caller can offer instead. It matches
// resolve.ErrNotFound under errors.Is.
type NotFoundError struct {
	Query       string
	Suggestions []models.CatalogEntry
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("coin %q not found (%d suggestions)", e.Query, len(e.Suggestions))
}

func (e *NotFoundError) Unwrap() error { return resolve.ErrNotFound }

// Resolve fetches market data for the request and scores it.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Report, error) {
	id := strings.ToLower(strings.TrimSpace(req.ID))
	text := strings.TrimSpace(req.Text)

	switch {
	case id != "":
		return s.resolveID(ctx, id)
	case utils.NormalizeQuery(text) != "":
		return s.resolveText(ctx, text)
	default:
		return nil, fmt.Errorf("%w: id or query is required", resolve.ErrInvalidInput)
	}
}

func (s *Service) resolveID(ctx context.Context, id string) (*Report, error) {
	entry := models.CatalogEntry{ID: id}
	snap, err := s.catalog.Get(ctx)
	if err == nil {
		found, ok := snap.Lookup(id)
		if !ok {
			return nil, s.notFound(snap, id)
		}
		entry = found
	} else {
		// The id is still worth a market lookup without a catalog.
		s.logger.Debug("resolving id without catalog", "id", id, "error", err)
	}

	stats, err := s.resolver.ResolveBySelection(ctx, entry)
	if err != nil {
		if errors.Is(err, resolve.ErrNotFound) {
			return nil, s.notFound(snap, id)
		}
		return nil, err
	}
	var ep *models.CatalogEntry
	if entry.Name != "" || entry.Symbol != "" {
		ep = &entry
	}
	return s.report(stats, ep), nil
}

func (s *Service) resolveText(ctx context.Context, text string) (*Report, error) {
	stats, err := s.resolver.ResolveByFreeText(ctx, text)
	if err != nil {
		if errors.Is(err, resolve.ErrNotFound) {
			snap, _ := s.catalog.Peek()
			if snap == nil {
				snap, _ = s.catalog.Get(ctx)
			}
			return nil, s.notFound(snap, text)
		}
		return nil, err
	}

	var ep *models.CatalogEntry
	if snap, ok := s.catalog.Peek(); ok {
		if e, ok := snap.Lookup(stats.ID); ok {
			ep = &e
		}
	}
	return s.report(stats, ep), nil
}

func (s *Service) notFound(snap *catalog.Snapshot, query string) error {
	return &NotFoundError{
		Query:       query,
		Suggestions: search.Search(snap, search.Query{Text: query, Mode: search.ModeSubstring}, s.suggestLimit),
	}
}

func (s *Service) report(stats *models.CoinStats, entry *models.CatalogEntry) *Report {
	symbol := stats.Symbol
	if symbol == "" && entry != nil {
		symbol = entry.Symbol
	}
	flag, _ := s.flags.Lookup(symbol)
	return &Report{
		Stats: *stats,
		Risk:  s.scorer.Score(*stats, flag),
		Flag:  flag,
		Entry: entry,
	}
}

// --- Flagged tokens ---

// Flag returns the flagged-token record for symbol.
func (s *Service) Flag(symbol string) (*models.FlaggedToken, error) {
	sym := utils.NormalizeSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("%w: symbol is required", resolve.ErrInvalidInput)
	}
	rec, ok := s.flags.Lookup(sym)
	if !ok {
		return nil, fmt.Errorf("%w: token %s", resolve.ErrNotFound, sym)
	}
	return rec, nil
}

// --- Discover ---

// Order is the direction of the discover listing.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder accepts "asc", "desc" or "" (asc).
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderAsc:
		return OrderAsc, nil
	case OrderDesc:
		return OrderDesc, nil
	default:
		return OrderAsc, fmt.Errorf("%w: unknown order %q", resolve.ErrInvalidInput, s)
	}
}

// Page is one page of the discover listing.
type Page struct {
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	Total      int                   `json:"total"`
	TotalPages int                   `json:"totalPages"`
	Order      Order                 `json:"order"`
	Coins      []models.CatalogEntry `json:"coins"`
}

// Discover lists the catalog alphabetically by name, one page at a time.
// page starts at 1. Pages past the end are empty.
func (s *Service) Discover(ctx context.Context, page, pageSize int, order Order) (*Page, error) {
	snap, err := s.catalog.Get(ctx)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)
	if order != OrderDesc {
		order = OrderAsc
	}

	all := s.alphabetical(snap)
	total := len(all)
	out := &Page{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
		Order:      order,
		Coins:      []models.CatalogEntry{},
	}
	// Compare pages before multiplying so a huge page cannot overflow.
	if page > out.TotalPages {
		return out, nil
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	for i := start; i < end; i++ {
		idx := i
		if order == OrderDesc {
			idx = total - 1 - i
		}
		out.Coins = append(out.Coins, all[idx])
	}
	return out, nil
}

func (s *Service) alphabetical(snap *catalog.Snapshot) []models.CatalogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sorted != nil && s.sorted.snap == snap {
		return s.sorted.entries
	}
	entries := append([]models.CatalogEntry(nil), snap.Entries()...)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if a != b {
			return a < b
		}
		return entries[i].ID < entries[j].ID
	})
	s.sorted = &sortedView{snap: snap, entries: entries}
	return entries
}

// --- Status ---

// Status describes the catalog currently held.
type Status struct {
	Ready        bool          `json:"ready"`
	Entries      int           `json:"entries"`
	FetchedAt    time.Time     `json:"fetchedAt"`
	Age          time.Duration `json:"-"`
	AgeSeconds   float64       `json:"ageSeconds"`
	FlaggedCount int           `json:"flaggedTokens"`
}

// Status reports on the held snapshot without triggering a refresh.
func (s *Service) Status() Status {
	st := Status{FlaggedCount: s.flags.Len()}
	snap, ok := s.catalog.Peek()
	if !ok || snap == nil {
		return st
	}
	st.Ready = true
	st.Entries = snap.Len()
	st.FetchedAt = snap.FetchedAt
	st.Age = snap.Age(s.clock.Now())
	st.AgeSeconds = st.Age.Seconds()
	return st
}
