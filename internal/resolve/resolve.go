// Package resolve turns a catalog selection or free text into a canonical
// coin id and fetches its market data.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seenimoa/coinsentinel/internal/infra"
	"github.com/seenimoa/coinsentinel/pkg/models"
	"github.com/seenimoa/coinsentinel/pkg/utils"
)

// --- Sentinel errors ---

// ErrNotFound means the id or text matches no coin. It is an expected
// outcome and routes callers to the not-found experience.
var ErrNotFound = errors.New("coin not found")

// ErrMarketDataUnavailable means the market-data provider could not be
// reached or answered with a non-success status. It is retryable.
var ErrMarketDataUnavailable = errors.New("market data unavailable")

// ErrMalformed means the market-data payload was missing entirely or was
// not an object. Individually missing numeric fields are not an error.
var ErrMalformed = errors.New("market data payload malformed")

// ErrInvalidInput means the request carried no usable id or text.
var ErrInvalidInput = errors.New("invalid input")

// MarketData fetches market statistics for a canonical coin id.
type MarketData interface {
	Coin(ctx context.Context, id string) (*models.CoinStats, error)
}

// Resolver is stateless between calls; it only wraps upstream fetches in a
// fixed attempt budget.
type Resolver struct {
	market   MarketData
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAttempts sets the fixed attempt budget and the pause between tries.
func WithAttempts(n int, backoff time.Duration) Option {
	return func(r *Resolver) {
		r.attempts = n
		r.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver over a market-data provider.
func New(market MarketData, opts ...Option) *Resolver {
	r := &Resolver{
		market:   market,
		attempts: 2,
		backoff:  500 * time.Millisecond,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ResolveBySelection fetches market data for an entry picked from search
// results. The id is authoritative; only the downstream fetch can fail.
func (r *Resolver) ResolveBySelection(ctx context.Context, entry models.CatalogEntry) (*models.CoinStats, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("%w: selection has no id", ErrInvalidInput)
	}
	stats, err := r.fetch(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if stats.Name == "" {
		stats.Name = entry.Name
	}
	if stats.Symbol == "" {
		stats.Symbol = entry.Symbol
	}
	return stats, nil
}

// ResolveByFreeText looks up text submitted without a prior selection.
// The text is trimmed and lowercased into id form. On ErrNotFound callers
// are expected to offer search suggestions instead.
func (r *Resolver) ResolveByFreeText(ctx context.Context, text string) (*models.CoinStats, error) {
	id := utils.NormalizeCoinID(text)
	if id == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if !utils.IsCoinID(id) {
		// Nothing the provider could know about; skip the round trip.
		return nil, fmt.Errorf("%w: %q", ErrNotFound, text)
	}
	return r.fetch(ctx, id)
}

func (r *Resolver) fetch(ctx context.Context, id string) (*models.CoinStats, error) {
	var stats *models.CoinStats
	err := infra.Retry(ctx, r.attempts, r.backoff, isRetryable, func(ctx context.Context) error {
		var err error
		stats, err = r.market.Coin(ctx, id)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrMalformed), errors.Is(err, ErrMarketDataUnavailable):
		default:
			err = fmt.Errorf("%w: %w", ErrMarketDataUnavailable, err)
		}
		r.logger.Debug("resolve failed", "id", id, "error", err)
		return nil, err
	}
	if stats == nil {
		return nil, fmt.Errorf("%w: no payload for %q", ErrMalformed, id)
	}
	return stats, nil
}

func isRetryable(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMalformed)
}
