// Package coingecko implements the catalog provider and the market-data
// provider on top of the CoinGecko public REST API.
//
// Endpoints used:
//   - GET /coins/list       full id/name/symbol catalog
//   - GET /coins/{id}       coin detail with nested market_data
package coingecko

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/internal/infra"
	"github.com/seenimoa/coinsentinel/internal/resolve"
	"github.com/seenimoa/coinsentinel/pkg/models"
)

// DefaultBaseURL is the public CoinGecko API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// APIKeyHeader carries the optional demo-plan API key.
const APIKeyHeader = "x-cg-demo-api-key"

// Endpoint labels reported to the request observer.
const (
	EndpointCoinsList = "coins_list"
	EndpointCoin      = "coin"
)

// Options configures a Client.
type Options struct {
	BaseURL    string          // defaults to DefaultBaseURL
	VSCurrency string          // quote currency for market data, defaults to "usd"
	Upstream   *infra.Upstream // shared HTTP access, defaults to a bare NewUpstream
	Clock      infra.Clock     // stamps snapshot fetch times
	Logger     *slog.Logger

	// Observe, when set, is called once per upstream request with the
	// endpoint label and an outcome ("ok", "not_found", "error", "malformed").
	Observe func(endpoint, outcome string)
}

// Client talks to one CoinGecko-compatible API root.
// It satisfies catalog.Fetcher and resolve.MarketData.
type Client struct {
	baseURL  string
	currency string
	upstream *infra.Upstream
	clock    infra.Clock
	logger   *slog.Logger
	observe  func(endpoint, outcome string)
}

// New creates a client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		currency: sanitizeCurrency(opts.VSCurrency),
		upstream: opts.Upstream,
		clock:    opts.Clock,
		logger:   opts.Logger,
		observe:  opts.Observe,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.upstream == nil {
		c.upstream = infra.NewUpstream(infra.UpstreamOptions{})
	}
	if c.clock == nil {
		c.clock = infra.SystemClock
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.observe == nil {
		c.observe = func(string, string) {}
	}
	return c
}

// Currency returns the quote currency used for market data.
func (c *Client) Currency() string { return c.currency }

// --- Catalog provider ---

// Fetch retrieves the full coin list. Unknown fields are ignored; a payload
// that is not an array of objects each carrying a string id is rejected.
func (c *Client) Fetch(ctx context.Context) (*catalog.Snapshot, error) {
	body, err := c.upstream.Get(ctx, c.baseURL+"/coins/list")
	if err != nil {
		c.observe(EndpointCoinsList, "error")
		return nil, fmt.Errorf("%w: coingecko coins list: %w", catalog.ErrUpstreamUnavailable, err)
	}

	entries, err := parseCoinsList(body)
	if err != nil {
		c.observe(EndpointCoinsList, "malformed")
		c.logger.Warn("malformed coin list payload", "error", err, "bytes", len(body))
		return nil, err
	}

	c.observe(EndpointCoinsList, "ok")
	return catalog.NewSnapshot(entries, c.clock.Now()), nil
}

func parseCoinsList(body []byte) ([]models.CatalogEntry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", catalog.ErrUpstreamMalformed)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", catalog.ErrUpstreamMalformed, root.Type)
	}

	var (
		entries []models.CatalogEntry
		bad     error
		idx     int
	)
	root.ForEach(func(_, v gjson.Result) bool {
		defer func() { idx++ }()
		if !v.IsObject() {
			bad = fmt.Errorf("%w: element %d is not an object", catalog.ErrUpstreamMalformed, idx)
			return false
		}
		id := v.Get("id")
		if id.Type != gjson.String || strings.TrimSpace(id.Str) == "" {
			bad = fmt.Errorf("%w: element %d has no id", catalog.ErrUpstreamMalformed, idx)
			return false
		}
		entries = append(entries, models.CatalogEntry{
			ID:     strings.ToLower(strings.TrimSpace(id.Str)),
			Name:   v.Get("name").String(),
			Symbol: v.Get("symbol").String(),
		})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return entries, nil
}

// --- Market-data provider ---

// Coin fetches market data for a canonical coin id. Absent numeric fields
// become zero; only a missing or non-object payload is an error.
func (c *Client) Coin(ctx context.Context, id string) (*models.CoinStats, error) {
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	u := fmt.Sprintf("%s/coins/%s?%s", c.baseURL, url.PathEscape(id), q.Encode())

	body, err := c.upstream.Get(ctx, u)
	if err != nil {
		if infra.StatusCode(err) == http.StatusNotFound {
			c.observe(EndpointCoin, "not_found")
			return nil, fmt.Errorf("%w: coin %q", resolve.ErrNotFound, id)
		}
		c.observe(EndpointCoin, "error")
		return nil, fmt.Errorf("%w: coingecko coin %q: %w", resolve.ErrMarketDataUnavailable, id, err)
	}

	stats, err := parseCoin(body, c.currency)
	if err != nil {
		if errors.Is(err, resolve.ErrNotFound) {
			c.observe(EndpointCoin, "not_found")
			return nil, fmt.Errorf("%w: coin %q", err, id)
		}
		c.observe(EndpointCoin, "malformed")
		c.logger.Warn("malformed coin payload", "id", id, "error", err)
		return nil, err
	}
	if stats.ID == "" {
		stats.ID = id
	}
	c.observe(EndpointCoin, "ok")
	return stats, nil
}

func parseCoin(body []byte, currency string) (*models.CoinStats, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: empty payload", resolve.ErrMalformed)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", resolve.ErrMalformed)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", resolve.ErrMalformed, root.Type)
	}
	// Some deployments answer 200 with {"error":"coin not found"}.
	if e := root.Get("error"); e.Exists() && !root.Get("market_data").Exists() && !root.Get("id").Exists() {
		return nil, fmt.Errorf("%w: %s", resolve.ErrNotFound, e.String())
	}

	md := root.Get("market_data")
	return &models.CoinStats{
		ID:        root.Get("id").String(),
		Name:      root.Get("name").String(),
		Symbol:    root.Get("symbol").String(),
		Price:     md.Get("current_price." + currency).Float(),
		MarketCap: md.Get("market_cap." + currency).Float(),
		Volume24h: md.Get("total_volume." + currency).Float(),
		High24h:   md.Get("high_24h." + currency).Float(),
		Low24h:    md.Get("low_24h." + currency).Float(),
		Currency:  currency,
	}, nil
}

// sanitizeCurrency keeps only ASCII letters so the value is safe inside a
// gjson path.
func sanitizeCurrency(cur string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(cur) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "usd"
	}
	return b.String()
}

// NewUpstream builds the shared upstream access for one CoinGecko account:
// timeout, rate limit and the optional API key header.
func NewUpstream(timeout time.Duration, perSecond float64, burst int, userAgent, apiKey string) *infra.Upstream {
	headers := map[string]string{}
	if apiKey != "" {
		headers[APIKeyHeader] = apiKey
	}
	return infra.NewUpstream(infra.UpstreamOptions{
		Timeout:   timeout,
		UserAgent: userAgent,
		Headers:   headers,
		Limiter:   infra.NewRateLimiter(perSecond, burst),
	})
}
