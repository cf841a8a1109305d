package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/seenimoa/coinsentinel/internal/config"
	"github.com/seenimoa/coinsentinel/internal/search"
	"github.com/seenimoa/coinsentinel/internal/sentinel"
)

const coinsList = `[
  {"id":"bitcoin","symbol":"btc","name":"Bitcoin"},
  {"id":"bitcoin-cash","symbol":"bch","name":"Bitcoin Cash"},
  {"id":"squid-game","symbol":"squid","name":"Squid Game"},
  {"id":"wrapped-bitcoin","symbol":"wbtc","name":"Wrapped Bitcoin"}
]`

func fakeCoinGecko(t *testing.T, listCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/list", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(listCalls, 1)
		fmt.Fprint(w, coinsList)
	})
	mux.HandleFunc("/coins/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/coins/") {
		case "bitcoin":
			fmt.Fprint(w, `{"id":"bitcoin","symbol":"btc","name":"Bitcoin","market_data":{"current_price":{"usd":64000.5},"market_cap":{"usd":1.2e12}}}`)
		case "squid-game":
			fmt.Fprint(w, `{"id":"squid-game","symbol":"squid","name":"Squid Game","market_data":{"current_price":{"usd":0.003}}}`)
		default:
			http.Error(w, `{"error":"coin not found"}`, http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	t.Setenv("COINSENTINEL_MARKET_API_KEY", "")
	dir := t.TempDir()

	flagsPath := filepath.Join(dir, "flagged.json")
	flagsJSON := `[{"Symbol":"SQUID","wasRekt":true,"TypeOfIssue":"Exit Scam","FundsLost":"$3,380,000"}]`
	if err := os.WriteFile(flagsPath, []byte(flagsJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`catalog:
  provider_url: %s
  retry_backoff: 1ms
market:
  base_url: %s
  retry_backoff: 1ms
upstream:
  rate_limit: 1000
  burst: 100
search:
  default_mode: prefix
risk:
  flags_file: %s
`, baseURL, baseURL, flagsPath)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAppSearchAndResolve(t *testing.T) {
	var listCalls int32
	srv := fakeCoinGecko(t, &listCalls)
	cfg := testConfig(t, srv.URL)

	a, err := newApp(cfg, quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.svc.DefaultMode() != search.ModePrefix {
		t.Errorf("DefaultMode = %s, want prefix", a.svc.DefaultMode())
	}
	if a.flags.Len() != 1 {
		t.Errorf("flags.Len = %d, want 1", a.flags.Len())
	}

	ctx := context.Background()
	results, err := a.svc.Search(ctx, "bitcoin", a.svc.DefaultMode(), 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "bitcoin" || results[1].ID != "bitcoin-cash" {
		t.Errorf("prefix results = %+v", results)
	}

	results, err = a.svc.Search(ctx, "bitcoin", search.ModeSubstring, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("substring results = %d, want 3", len(results))
	}

	rep, err := a.svc.Resolve(ctx, sentinel.ResolveRequest{ID: "bitcoin"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rep.Stats.Price != 64000.5 || rep.Stats.Currency != "usd" {
		t.Errorf("stats = %+v", rep.Stats)
	}
	if rep.Risk.Flagged || rep.Risk.Score != cfg.Risk.BaselineScore {
		t.Errorf("risk = %+v, want baseline %d", rep.Risk, cfg.Risk.BaselineScore)
	}

	rep, err = a.svc.Resolve(ctx, sentinel.ResolveRequest{Text: "Squid Game"})
	if err != nil {
		t.Fatalf("Resolve squid: %v", err)
	}
	if !rep.Risk.Flagged || rep.Risk.Score != 100 {
		t.Errorf("squid risk = %+v, want flagged 100", rep.Risk)
	}

	if got := atomic.LoadInt32(&listCalls); got != 1 {
		t.Errorf("coins/list calls = %d, want 1 (snapshot reused)", got)
	}
}

func TestNewAppResolveNotFoundSuggests(t *testing.T) {
	var listCalls int32
	srv := fakeCoinGecko(t, &listCalls)
	a, err := newApp(testConfig(t, srv.URL), quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	_, err = a.svc.Resolve(context.Background(), sentinel.ResolveRequest{ID: "bitcoin-gold"})
	var nf *sentinel.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if len(nf.Suggestions) != 0 {
		// "bitcoin-gold" is not a substring of any entry.
		t.Errorf("suggestions = %+v, want none", nf.Suggestions)
	}
}

func TestNewAppRecordsUpstreamMetrics(t *testing.T) {
	var listCalls int32
	srv := fakeCoinGecko(t, &listCalls)
	a, err := newApp(testConfig(t, srv.URL), quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if _, err := a.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec := httptest.NewRecorder()
	a.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`coinsentinel_upstream_requests_total{endpoint="coins_list",outcome="ok"} 1`,
		`coinsentinel_catalog_entries 4`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestNewAppRejectsMissingFlagsFile(t *testing.T) {
	var listCalls int32
	srv := fakeCoinGecko(t, &listCalls)
	cfg := testConfig(t, srv.URL)
	cfg.Risk.FlagsFile = filepath.Join(t.TempDir(), "missing.json")

	if _, err := newApp(cfg, quietLogger()); err == nil {
		t.Fatal("expected error for missing flags file")
	}
}

func TestServerRoutesHealth(t *testing.T) {
	var listCalls int32
	srv := fakeCoinGecko(t, &listCalls)
	a, err := newApp(testConfig(t, srv.URL), quietLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	rec := httptest.NewRecorder()
	a.server().Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}
