package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polyburg/clients"
	"polyburg/config"

	"go.uber.org/zap"
)

func venueServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets":
			w.Write([]byte(`{"data": [{
				"id": "m1", "question": "Will it rain?", "slug": "rain", "category": "Weather",
				"liquidity": 100, "volume_24h": 10,
				"outcomes": [{"token_id": "m1-yes", "name": "Yes", "price": 0.4}]
			}], "next_cursor": "LTE="}`))
		case "/trades":
			w.Write([]byte(`{"data": [
				{"id": "t1", "created_at": "2025-01-02T03:05:00Z", "user": "0xABC", "market_id": "m1",
				 "token_id": "m1-yes", "outcome": "Yes", "side": "buy", "price": 0.5, "amount": 20000}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func runnerConfig(venueURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Polymarket.GammaAPIURL = venueURL
	cfg.Polymarket.DataAPIURL = venueURL
	cfg.Polymarket.RequestRetry = 0
	cfg.Websocket.Enabled = false
	return cfg
}

func TestNewRunner(t *testing.T) {
	cfg := runnerConfig("http://example.com")
	cfg.Websocket.Enabled = true
	clts := clients.NewClients(zap.NewNop(), cfg)

	runner := NewRunner(clts, cfg)

	if runner.clients != clts {
		t.Error("unexpected clients")
	}
	if runner.worker == nil {
		t.Error("expected market worker when websocket is enabled")
	}
	if runner.ingestor.watcher == nil {
		t.Error("expected ingestor to watch alerted tokens")
	}
	if runner.api.Addr() != "127.0.0.1:0" {
		t.Errorf("unexpected addr: %s", runner.api.Addr())
	}
}

func TestNewRunner_WebsocketDisabled(t *testing.T) {
	cfg := runnerConfig("http://example.com")
	runner := NewRunner(clients.NewClients(nil, cfg), cfg)

	if runner.worker != nil {
		t.Error("expected no market worker")
	}
	if runner.ingestor.watcher != nil {
		t.Error("expected nil watcher interface")
	}
}

func TestRunner_RunIngestsAndShutsDown(t *testing.T) {
	server := venueServer(t)
	defer server.Close()

	cfg := runnerConfig(server.URL)
	fake := &fakeNotifier{}
	clts := clients.NewClients(zap.NewNop(), cfg)
	clts.Notifier = fake
	runner := NewRunner(clts, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	eventually(t, func() bool { return runner.store.Counts().Trades == 1 && len(fake.sent()) == 1 })

	if n := runner.store.Counts().Markets; n != 1 {
		t.Errorf("expected 1 market, got %d", n)
	}
	if n := runner.store.Counts().Trades; n != 1 {
		t.Errorf("expected 1 trade, got %d", n)
	}
	if alerts := fake.sent(); len(alerts) != 1 || alerts[0].Wallet != "0xabc" {
		t.Errorf("unexpected alerts: %+v", alerts)
	}

	stats := runner.GetStats()
	if !stats.Ingest.Running || stats.Ingest.Cursor == "" {
		t.Errorf("unexpected ingest stats: %+v", stats.Ingest)
	}
	if stats.Store.Markets != 1 || stats.UptimeSec < 0 || stats.Build.Commit == "" {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(stats.Leaderboard.Windows) != 3 || stats.Leaderboard.CacheTTL == "" {
		t.Errorf("unexpected leaderboard stats: %+v", stats.Leaderboard)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down")
	}

	if runner.ingestor.Running() {
		t.Error("expected ingestion to be stopped")
	}
	if !fake.closed {
		t.Error("expected notifier to be closed")
	}
}

func TestRunner_StartFailureKeepsServing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := runnerConfig(server.URL)
	runner := NewRunner(clients.NewClients(nil, cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// The store stays empty but the API keeps answering.
	time.Sleep(100 * time.Millisecond)
	rec := doGet(t, runner.api, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected health to answer, got %d", rec.Code)
	}
	if runner.ingestor.Running() {
		t.Error("expected ingestion to be stopped after failed start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down")
	}
}

func TestRunner_ApplyPrice(t *testing.T) {
	server := venueServer(t)
	defer server.Close()

	cfg := runnerConfig(server.URL)
	runner := NewRunner(clients.NewClients(nil, cfg), cfg)

	if err := runner.ingestor.RefreshMarkets(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner.applyPrice("m1-yes", 0.75)
	runner.applyPrice("unknown", 0.1)

	m, ok := runner.store.Market("m1")
	if !ok || m.OutcomeTokens[0].Price != 0.75 {
		t.Errorf("expected token price to update, got %+v", m.OutcomeTokens)
	}
}
