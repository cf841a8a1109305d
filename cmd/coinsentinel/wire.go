package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/seenimoa/coinsentinel/api"
	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/internal/config"
	"github.com/seenimoa/coinsentinel/internal/flags"
	"github.com/seenimoa/coinsentinel/internal/metrics"
	"github.com/seenimoa/coinsentinel/internal/providers/coingecko"
	"github.com/seenimoa/coinsentinel/internal/resolve"
	"github.com/seenimoa/coinsentinel/internal/risk"
	"github.com/seenimoa/coinsentinel/internal/search"
	"github.com/seenimoa/coinsentinel/internal/sentinel"
)

// app holds the components shared by the serve and one-shot commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	hub     *api.WSHub
	store   *catalog.Store
	flags   *flags.Dataset
	svc     *sentinel.Service
}

// newApp builds the component graph from cfg. Both the catalog and market
// clients share one rate-limited upstream, so a single CoinGecko account
// budget covers every outbound call.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	mode, err := search.ParseMode(cfg.Search.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("search.default_mode: %w", err)
	}

	ds, err := flags.Load(cfg.Risk.FlagsFile)
	if err != nil {
		return nil, fmt.Errorf("risk.flags_file: %w", err)
	}

	m := metrics.New()
	hub := api.NewWSHub()

	upstream := coingecko.NewUpstream(
		cfg.Upstream.Timeout,
		cfg.Upstream.RateLimit,
		cfg.Upstream.Burst,
		cfg.Upstream.UserAgent,
		cfg.Market.APIKey,
	)
	market := coingecko.New(coingecko.Options{
		BaseURL:    cfg.Market.BaseURL,
		VSCurrency: cfg.Market.VSCurrency,
		Upstream:   upstream,
		Logger:     logger,
		Observe:    m.ObserveUpstream,
	})
	provider := market
	if u := strings.TrimRight(cfg.Catalog.ProviderURL, "/"); u != "" && u != strings.TrimRight(cfg.Market.BaseURL, "/") {
		provider = coingecko.New(coingecko.Options{
			BaseURL:  u,
			Upstream: upstream,
			Logger:   logger,
			Observe:  m.ObserveUpstream,
		})
	}

	store := catalog.NewStore(provider,
		catalog.WithTTL(cfg.Catalog.TTL),
		catalog.WithRefreshAttempts(cfg.Catalog.RefreshAttempts, cfg.Catalog.RetryBackoff),
		catalog.WithFailureBackoff(cfg.Catalog.FailureBackoff),
		catalog.WithLogger(logger),
		catalog.WithObserver(catalog.Observers(m, hub.CatalogObserver())),
	)

	resolver := resolve.New(market,
		resolve.WithAttempts(cfg.Market.Attempts, cfg.Market.RetryBackoff),
		resolve.WithLogger(logger),
	)

	svc := sentinel.New(sentinel.Config{
		Catalog:        store,
		Resolver:       resolver,
		Scorer:         risk.New(risk.Fixed(cfg.Risk.BaselineScore)),
		Flags:          ds,
		Logger:         logger,
		DefaultMode:    mode,
		SearchOptions:  search.Options{RankExact: cfg.Search.RankExact},
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxLimit:       cfg.Search.MaxLimit,
		SearchObserver: m.ObserveSearch,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		hub:     hub,
		store:   store,
		flags:   ds,
		svc:     svc,
	}, nil
}

// server builds the HTTP API around the app's service.
func (a *app) server() *api.Server {
	return api.NewServer(api.ServerConfig{
		Config:  a.cfg,
		Service: a.svc,
		Metrics: a.metrics,
		Hub:     a.hub,
		Logger:  a.logger,
		Version: version,
	})
}
