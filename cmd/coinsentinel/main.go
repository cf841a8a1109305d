// coinsentinel: coin catalog search, market lookup and scam-risk scoring.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/coinsentinel/internal/config"
	"github.com/seenimoa/coinsentinel/internal/infra"
	"github.com/seenimoa/coinsentinel/internal/search"
	"github.com/seenimoa/coinsentinel/internal/sentinel"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger, set in PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coinsentinel",
	Short: "coinsentinel: coin search, market stats and scam-risk scoring",
	Long: `coinsentinel keeps a cached catalog of every coin a CoinGecko-compatible
provider lists, answers prefix and substring searches against it, resolves a
coin to live market statistics and attaches a scam-risk assessment backed by
a dataset of documented rug pulls.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		logger = infra.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coinsentinel %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if p, _ := cmd.Flags().GetInt("port"); p > 0 {
			cfg.API.Port = p
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.hub.Run(ctx)
			return nil
		})
		if cfg.Catalog.WarmOnStart {
			g.Go(func() error {
				if _, err := a.store.Refresh(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("initial catalog fetch failed, will retry on demand", "error", err)
				}
				return nil
			})
		}
		g.Go(func() error { return a.store.Run(ctx) })

		addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
		srv := a.server()
		g.Go(func() error { return srv.ListenAndServe(ctx, addr) })

		logger.Info("coinsentinel started", "addr", addr, "version", version, "flagged_tokens", a.flags.Len())
		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "override api.port")
}

// --- Search Command ---

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search the coin catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		mode := a.svc.DefaultMode()
		if raw, _ := cmd.Flags().GetString("mode"); raw != "" {
			if mode, err = search.ParseMode(raw); err != nil {
				return err
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")
		rank, _ := cmd.Flags().GetBool("rank")

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		results, err := a.svc.SearchWithOptions(ctx, args[0], mode, limit, search.Options{RankExact: rank || cfg.Search.RankExact})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(results) == 0 {
			fmt.Printf("No coins match %q (%s)\n", args[0], mode)
			return nil
		}
		fmt.Printf("🔎 %d result(s) for %q (%s)\n", len(results), args[0], mode)
		for _, e := range results {
			fmt.Printf("  %-32s %-28s %s\n", e.ID, e.Name, e.Symbol)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "maximum number of results (default: search.default_limit)")
	searchCmd.Flags().String("mode", "", "match mode: prefix or substring (default: search.default_mode)")
	searchCmd.Flags().Bool("rank", false, "list exact matches first, then prefix matches")
}

// --- Resolve Command ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <id-or-text>",
	Short: "Resolve a coin to market statistics and a risk assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		req := sentinel.ResolveRequest{Text: args[0]}
		if byID, _ := cmd.Flags().GetBool("id"); byID {
			req = sentinel.ResolveRequest{ID: args[0]}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		rep, err := a.svc.Resolve(ctx, req)
		if err != nil {
			var nf *sentinel.NotFoundError
			if errors.As(err, &nf) && len(nf.Suggestions) > 0 {
				fmt.Printf("No coin found for %q. Did you mean:\n", nf.Query)
				for _, e := range nf.Suggestions {
					fmt.Printf("  %-32s %s\n", e.ID, e.Name)
				}
			}
			return err
		}

		s := rep.Stats
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  %s (%s)\n", s.Name, s.Symbol)
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  ID:          %s\n", s.ID)
		fmt.Printf("  Price:       %g %s\n", s.Price, s.Currency)
		fmt.Printf("  Market Cap:  %g\n", s.MarketCap)
		fmt.Printf("  Volume 24h:  %g\n", s.Volume24h)
		fmt.Printf("  High 24h:    %g\n", s.High24h)
		fmt.Printf("  Low 24h:     %g\n", s.Low24h)
		fmt.Println()
		fmt.Printf("  Risk:        %d/100 (%s)\n", rep.Risk.Score, rep.Risk.Label)
		if rep.Risk.Reason != "" {
			fmt.Printf("  Reason:      %s\n", rep.Risk.Reason)
		}
		if rep.Flag != nil && rep.Flag.FundsLost != "" {
			fmt.Printf("  Funds Lost:  %s\n", rep.Flag.FundsLost)
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func init() {
	resolveCmd.Flags().Bool("id", false, "treat the argument as an exact catalog id")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and catalog status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fetch, _ := cmd.Flags().GetBool("fetch")

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  coinsentinel — Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		if cfg.File != "" {
			fmt.Printf("  Config File:   %s\n", cfg.File)
		}
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Catalog:       %s (ttl %s)\n", cfg.Catalog.ProviderURL, cfg.Catalog.TTL)
		fmt.Printf("    Market Data:   %s (%s)\n", cfg.Market.BaseURL, cfg.Market.VSCurrency)
		fmt.Printf("    Search:        %s, limit %d/%d\n", cfg.Search.DefaultMode, cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
		fmt.Printf("    Risk Baseline: %d\n", cfg.Risk.BaselineScore)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  API Keys:")
		keys := config.CheckAPIKeys(cfg)
		for _, k := range keys {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println("  Data:")
		fmt.Printf("    Flagged Tokens: %d (%d records)\n", a.flags.Len(), a.flags.Records())
		if fetch {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if _, err := a.store.Get(ctx); err != nil {
				fmt.Printf("    Catalog:        ❌ %v\n", err)
			}
		}
		st := a.svc.Status()
		if st.Ready {
			fmt.Printf("    Catalog:        ✅ %d coins (fetched %s)\n", st.Entries, st.FetchedAt.Format(time.RFC3339))
		} else if !fetch {
			fmt.Println("    Catalog:        not loaded (use --fetch)")
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("fetch", false, "fetch the catalog and report its size")
}
