package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/internal/config"
	"github.com/seenimoa/coinsentinel/internal/flags"
	"github.com/seenimoa/coinsentinel/internal/metrics"
	"github.com/seenimoa/coinsentinel/internal/resolve"
	"github.com/seenimoa/coinsentinel/internal/sentinel"
	"github.com/seenimoa/coinsentinel/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

type stubCatalog struct {
	mu    sync.Mutex
	snap  *catalog.Snapshot
	err   error
	stall chan struct{} // when set, the next Get waits for it or ctx
}

func (c *stubCatalog) Get(ctx context.Context) (*catalog.Snapshot, error) {
	c.mu.Lock()
	stall := c.stall
	c.stall = nil
	c.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return nil, c.err
	}
	return c.snap, nil
}

func (c *stubCatalog) stallNextGet() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stall = make(chan struct{})
	return c.stall
}

func (c *stubCatalog) Peek() (*catalog.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.snap != nil
}

type stubMarket struct {
	coins map[string]models.CoinStats
	err   error
}

func (m *stubMarket) Coin(ctx context.Context, id string) (*models.CoinStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.coins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", resolve.ErrNotFound, id)
	}
	return &c, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Search.DefaultLimit = 10
	cfg.Search.MaxLimit = 50
	cfg.Search.DefaultMode = "substring"
	cfg.Search.Debounce = 50 * time.Millisecond
	cfg.Market.APIKey = "CG-secret-key-123456"
	return cfg
}

type testEnv struct {
	srv     *Server
	catalog *stubCatalog
	market  *stubMarket
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	cat := &stubCatalog{snap: catalog.NewSnapshot([]models.CatalogEntry{
		{ID: "dogecoin", Name: "Dogecoin", Symbol: "doge"},
		{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc"},
		{ID: "squid-game", Name: "Squid Game", Symbol: "squid"},
		{ID: "wrapped-bitcoin", Name: "Wrapped Bitcoin", Symbol: "wbtc"},
	}, time.Now())}
	market := &stubMarket{coins: map[string]models.CoinStats{
		"dogecoin":   {ID: "dogecoin", Name: "Dogecoin", Symbol: "doge", Price: 0.15},
		"squid-game": {ID: "squid-game", Name: "Squid Game", Symbol: "squid", Price: 0.0001},
	}}
	ds, err := flags.Parse(strings.NewReader(`[{"Symbol":"SQUID","wasRekt":true,"TypeOfIssue":"Exit Scam"}]`))
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	svc := sentinel.New(sentinel.Config{
		Catalog:      cat,
		Resolver:     resolve.New(market, resolve.WithAttempts(1, 0)),
		Flags:        ds,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
	})
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := NewServer(ServerConfig{
		Config:  cfg,
		Service: svc,
		Metrics: metrics.New(),
		Hub:     hub,
		Version: "test",
	})
	return &testEnv{srv: srv, catalog: cat, market: market}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// decodeData re-decodes the envelope's data field into v.
func decodeData(t *testing.T, resp APIResponse, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Health
// ════════════════════════════════════════════════════════════════════

func TestHandleHealth(t *testing.T) {
	env := testServer(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := env.get(t, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var h HealthResponse
		decodeData(t, decodeResponse(t, rec), &h)
		if h.Status != "ok" || h.Version != "test" || h.Catalog.Entries != 4 {
			t.Errorf("%s: health = %+v", path, h)
		}
	}
}

func TestHandleHealthDegraded(t *testing.T) {
	env := testServer(t)
	env.catalog.snap = nil
	env.catalog.err = catalog.ErrNoSnapshot

	var h HealthResponse
	decodeData(t, decodeResponse(t, env.get(t, "/health")), &h)
	if h.Status != "degraded" || h.Catalog.Ready {
		t.Errorf("health = %+v", h)
	}
}

// ════════════════════════════════════════════════════════════════════
// Search
// ════════════════════════════════════════════════════════════════════

func TestHandleSearch(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/search?q=bit&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var sr SearchResponse
	decodeData(t, decodeResponse(t, rec), &sr)
	if sr.Count != 2 || sr.Results[0].ID != "bitcoin" || sr.Mode != "substring" {
		t.Errorf("search = %+v", sr)
	}
}

func TestHandleSearchPrefixMode(t *testing.T) {
	env := testServer(t)
	var sr SearchResponse
	decodeData(t, decodeResponse(t, env.get(t, "/api/v1/search?q=do&mode=prefix")), &sr)
	if sr.Count != 1 || sr.Results[0].ID != "dogecoin" {
		t.Errorf("search = %+v", sr)
	}
}

func TestHandleSearchRank(t *testing.T) {
	env := testServer(t)
	var sr SearchResponse
	decodeData(t, decodeResponse(t, env.get(t, "/api/v1/search?q=wbtc&rank=true")), &sr)
	if sr.Count != 1 || sr.Results[0].ID != "wrapped-bitcoin" {
		t.Errorf("search = %+v", sr)
	}
}

func TestHandleSearchMetacharacters(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/search?q=%5Bbtc%5D")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sr SearchResponse
	decodeData(t, decodeResponse(t, rec), &sr)
	if sr.Count != 0 {
		t.Errorf("metacharacters must match literally, got %+v", sr.Results)
	}
}

func TestHandleSearchBadRequests(t *testing.T) {
	env := testServer(t)
	for _, path := range []string{
		"/api/v1/search",
		"/api/v1/search?q=",
		"/api/v1/search?q=%20%20",
		"/api/v1/search?q=btc&limit=ten",
		"/api/v1/search?q=btc&mode=fuzzy",
		"/api/v1/search?q=btc&rank=maybe",
	} {
		rec := env.get(t, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
		if resp := decodeResponse(t, rec); resp.Success || resp.Error == "" {
			t.Errorf("%s: response = %+v", path, resp)
		}
	}
}

func TestHandleSearchNoCatalog(t *testing.T) {
	env := testServer(t)
	env.catalog.snap = nil
	env.catalog.err = fmt.Errorf("%w: %w", catalog.ErrNoSnapshot, catalog.ErrUpstreamUnavailable)
	if rec := env.get(t, "/api/v1/search?q=btc"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Resolve
// ════════════════════════════════════════════════════════════════════

func TestHandleResolveByID(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/resolve?id=dogecoin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var rep sentinel.Report
	decodeData(t, decodeResponse(t, rec), &rep)
	if rep.Stats.Price != 0.15 || rep.Risk.Label != models.RiskLow || rep.Entry == nil {
		t.Errorf("report = %+v", rep)
	}
}

func TestHandleResolveFlagged(t *testing.T) {
	env := testServer(t)
	var rep sentinel.Report
	decodeData(t, decodeResponse(t, env.get(t, "/api/v1/resolve?q=Squid%20Game")), &rep)
	if !rep.Risk.Flagged || rep.Risk.Score != 100 || rep.Flag == nil {
		t.Errorf("report = %+v", rep)
	}
}

func TestHandleResolveNotFound(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/resolve?q=btc")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Error("expected success=false")
	}
	var nf NotFoundResponse
	decodeData(t, resp, &nf)
	if nf.Query != "btc" || len(nf.Suggestions) != 2 {
		t.Errorf("not found = %+v", nf)
	}
}

func TestHandleResolveUnknownCoin(t *testing.T) {
	env := testServer(t)
	if rec := env.get(t, "/api/v1/resolve?q=not-a-real-coin-xyz"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleResolveMissingParams(t *testing.T) {
	env := testServer(t)
	if rec := env.get(t, "/api/v1/resolve"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleResolveUpstreamUnavailable(t *testing.T) {
	env := testServer(t)
	env.market.err = resolve.ErrMarketDataUnavailable
	rec := env.get(t, "/api/v1/resolve?id=dogecoin")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if resp := decodeResponse(t, rec); !strings.Contains(resp.Error, "retry") {
		t.Errorf("error = %q, want a retry hint", resp.Error)
	}
}

// ════════════════════════════════════════════════════════════════════
// Discover / tokens / config / metrics
// ════════════════════════════════════════════════════════════════════

func TestHandleDiscover(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/coins?page=1&page_size=2&order=asc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var p sentinel.Page
	decodeData(t, decodeResponse(t, rec), &p)
	if p.Total != 4 || p.TotalPages != 2 || len(p.Coins) != 2 || p.Coins[0].ID != "bitcoin" {
		t.Errorf("page = %+v", p)
	}
}

func TestHandleDiscoverBadRequests(t *testing.T) {
	env := testServer(t)
	for _, path := range []string{"/api/v1/coins?page=x", "/api/v1/coins?page_size=x", "/api/v1/coins?order=rank"} {
		if rec := env.get(t, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestHandleToken(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/tokens/squid")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var tok models.FlaggedToken
	decodeData(t, decodeResponse(t, rec), &tok)
	if tok.Symbol != "SQUID" || !tok.WasRekt {
		t.Errorf("token = %+v", tok)
	}
	if rec := env.get(t, "/api/v1/tokens/DOGE"); rec.Code != http.StatusNotFound {
		t.Errorf("DOGE: status = %d, want 404", rec.Code)
	}
}

func TestHandleConfigHidesSecrets(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "CG-secret-key-123456") {
		t.Error("config response leaks the API key")
	}

	rec = env.get(t, "/api/v1/config/keys")
	body := rec.Body.String()
	if strings.Contains(body, "CG-secret-key-123456") || !strings.Contains(body, `"is_set":true`) {
		t.Errorf("keys response = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)
	env.get(t, "/api/v1/search?q=btc")
	rec := env.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `coinsentinel_http_requests_total{method="GET",route="/api/v1/search",status="200"} 1`) {
		t.Errorf("request not recorded:\n%s", body)
	}
}

func TestMetricsCountPanickingRequests(t *testing.T) {
	env := testServer(t)
	env.srv.Router().Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	if rec := env.get(t, "/boom"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body, _ := io.ReadAll(env.get(t, "/metrics").Body)
	if !strings.Contains(string(body), `coinsentinel_http_requests_total{method="GET",route="/boom",status="500"} 1`) {
		t.Errorf("panicking request not recorded:\n%s", body)
	}
}

func TestDiscoverHugePage(t *testing.T) {
	env := testServer(t)
	rec := env.get(t, "/api/v1/coins?page=92233720368547760&page_size=100")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Errorf("success = false: %s", resp.Error)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{resolve.ErrInvalidInput, http.StatusBadRequest},
		{&sentinel.NotFoundError{Query: "x"}, http.StatusNotFound},
		{fmt.Errorf("%w: x", resolve.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: %w", catalog.ErrNoSnapshot, catalog.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{resolve.ErrMarketDataUnavailable, http.StatusBadGateway},
		{resolve.ErrMalformed, http.StatusBadGateway},
		{catalog.ErrUpstreamMalformed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusTeapot, "short and stout")
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Success || resp.Error != "short and stout" || resp.Data != nil {
		t.Errorf("response = %+v", resp)
	}
}

// ════════════════════════════════════════════════════════════════════
// WebSocket live search
// ════════════════════════════════════════════════════════════════════

func dialSearch(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.Router())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/search"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello wsInbound
	readMsg(t, conn, &hello)
	if hello.Type != MsgSession {
		t.Fatalf("first message = %q, want session", hello.Type)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func sendQuery(t *testing.T, conn *websocket.Conn, q QueryMessage) {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{Type: MsgQuery, Data: q}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketSearchDebounces(t *testing.T) {
	env := testServer(t)
	conn := dialSearch(t, env)

	for _, q := range []string{"b", "bi", "bit"} {
		sendQuery(t, conn, QueryMessage{Query: q, Limit: 5})
	}

	var msg wsInbound
	readMsg(t, conn, &msg)
	if msg.Type != MsgResults {
		t.Fatalf("type = %q, want results", msg.Type)
	}
	var res ResultsMessage
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Query != "bit" || len(res.Results) != 2 {
		t.Errorf("results = %+v, want only the last query", res)
	}

	// The burst produced one reply; the next message is the pong.
	if err := conn.WriteJSON(WSMessage{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	readMsg(t, conn, &msg)
	if msg.Type != MsgPong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestWebSocketSlowQueryDoesNotAnswerAfterNewer(t *testing.T) {
	env := testServer(t)
	release := env.catalog.stallNextGet()
	defer close(release)
	conn := dialSearch(t, env)

	// "d" passes the debounce window and stalls inside the search.
	sendQuery(t, conn, QueryMessage{Query: "d", Limit: 5})
	time.Sleep(150 * time.Millisecond)
	sendQuery(t, conn, QueryMessage{Query: "doge", Limit: 5})

	var msg wsInbound
	readMsg(t, conn, &msg)
	if msg.Type != MsgResults {
		t.Fatalf("type = %q, want results", msg.Type)
	}
	var res ResultsMessage
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Query != "doge" {
		t.Errorf("first reply for %q, want doge", res.Query)
	}

	// Neither results nor an error for "d" may follow.
	if err := conn.WriteJSON(WSMessage{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	readMsg(t, conn, &msg)
	if msg.Type != MsgPong {
		t.Errorf("type = %q (%s), want pong", msg.Type, msg.Data)
	}
}

func TestServerRunsOwnHubWhenNoneGiven(t *testing.T) {
	env := testServer(t)
	srv := NewServer(ServerConfig{Config: env.srv.cfg, Service: env.srv.svc})
	t.Cleanup(srv.Close)

	conn := dialSearch(t, &testEnv{srv: srv, catalog: env.catalog, market: env.market})
	sendQuery(t, conn, QueryMessage{Query: "btc", Limit: 5})

	var msg wsInbound
	readMsg(t, conn, &msg)
	if msg.Type != MsgResults {
		t.Fatalf("type = %q, want results", msg.Type)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Hub().ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", srv.Hub().ClientCount())
	}
}

func TestWebSocketInvalidMode(t *testing.T) {
	env := testServer(t)
	conn := dialSearch(t, env)

	sendQuery(t, conn, QueryMessage{Query: "btc", Mode: "fuzzy"})
	var msg wsInbound
	readMsg(t, conn, &msg)
	if msg.Type != MsgError {
		t.Errorf("type = %q, want error", msg.Type)
	}
}

func TestWebSocketCatalogBroadcast(t *testing.T) {
	env := testServer(t)
	conn := dialSearch(t, env)

	// Registration goes through the hub loop; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	env.srv.Hub().CatalogObserver().RefreshSucceeded(42, time.Second)

	var msg wsInbound
	readMsg(t, conn, &msg)
	if msg.Type != MsgCatalog {
		t.Fatalf("type = %q, want catalog", msg.Type)
	}
	if !strings.Contains(string(msg.Data), `"entries":42`) {
		t.Errorf("data = %s", msg.Data)
	}
}

// ════════════════════════════════════════════════════════════════════
// Hub
// ════════════════════════════════════════════════════════════════════

func TestWSHub_RegisterAndUnregister(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{id: "a", hub: hub, send: make(chan WSMessage, 1)}
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", hub.ClientCount())
	}
	if client.trySend(WSMessage{Type: MsgPing}) {
		t.Error("send on an unregistered client should fail")
	}
}

func TestWSHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{id: "slow", hub: hub, send: make(chan WSMessage, 1)}
	hub.Register(client)
	hub.Broadcast(WSMessage{Type: MsgCatalog})
	hub.Broadcast(WSMessage{Type: MsgCatalog})

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Error("slow client should be disconnected")
	}
}

func TestWSHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	client := &WSClient{id: "late", hub: hub, send: make(chan WSMessage, 1)}
	finished := make(chan struct{})
	go func() {
		hub.Register(client)
		hub.Unregister(client)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Register/Unregister blocked on a stopped hub")
	}
}
