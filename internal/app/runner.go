package app

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"time"

	clts "polyburg/clients"
	"polyburg/clients/polymarketapi"
	"polyburg/clients/polymarketevents"
	"polyburg/config"
	"polyburg/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner owns the service components and their lifecycle.
type Runner struct {
	logger  *zap.Logger
	cfg     *config.Config
	clients *clts.Clients

	store        *store.Store
	metrics      *Metrics
	leaderboards *LeaderboardCache
	ingestor     *Ingestor
	worker       *polymarketevents.MarketWorker
	api          *APIServer

	startTime time.Time
}

// ServiceStats is the snapshot served on /stats.
type ServiceStats struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Ingest struct {
		Running      bool   `json:"running"`
		Cursor       string `json:"cursor,omitempty"`
		PollInterval string `json:"poll_interval"`
	} `json:"ingest"`

	WebSocket struct {
		Enabled        bool   `json:"enabled"`
		Connected      bool   `json:"connected"`
		WatchedTokens  int    `json:"watched_tokens"`
		MessageCount   uint64 `json:"message_count"`
		Reconnects     uint64 `json:"reconnects"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"websocket"`

	Store store.Counts `json:"store"`

	Leaderboard struct {
		Windows  []float64 `json:"windows"`
		CacheTTL string    `json:"cache_ttl"`
	} `json:"leaderboard"`

	Notifications struct {
		DiscordEnabled   bool   `json:"discord_enabled"`
		DiscordChannelID string `json:"discord_channel_id,omitempty"`
		TelegramEnabled  bool   `json:"telegram_enabled"`
		TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	} `json:"notifications"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		HeapInuse  uint64 `json:"heap_inuse"`
		NumGC      uint32 `json:"num_gc"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, cfg *config.Config) *Runner {
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		logger:  logger,
		cfg:     cfg,
		clients: clients,
		store:   store.New(),
		metrics: NewMetrics(),
	}
	r.metrics.RegisterStore(r.store)
	clients.Polymarket.OnRetry(r.metrics.UpstreamRetries.Inc)

	r.leaderboards = NewLeaderboardCache(r.store, cfg.Leaderboard.CacheTTL, cfg.Leaderboard.Windows)

	var watcher TokenWatcher
	if cfg.Websocket.Enabled {
		r.worker = polymarketevents.NewMarketWorker(logger, cfg, r.applyPrice)
		watcher = r.worker
	}

	r.ingestor = NewIngestor(logger, clients.Polymarket, r.store, clients.Notifier, watcher, r.metrics, cfg.Ingest)
	r.api = NewAPIServer(logger, cfg.Server, r.store, r.leaderboards, r.metrics,
		WithConnectivityChecker(clients.Polymarket),
		WithStats(r.GetStats),
	)
	return r
}

func (r *Runner) applyPrice(tokenID string, price float64) {
	if r.store.UpdateTokenPrice(tokenID, price) {
		r.metrics.WSPriceUpdates.Inc()
	}
}

// Run serves the API and runs ingestion until ctx is cancelled or the
// HTTP server fails. A failed ingestion start is logged and the API keeps
// serving whatever the store holds.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	r.logger.Info("starting polyburg",
		zap.String("commit", BuildCommit),
		zap.String("addr", r.api.Addr()),
		zap.Bool("websocket", r.worker != nil),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(r.api.ListenAndServe)

	g.Go(func() error {
		r.selfTest(gctx)

		if err := r.ingestor.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("ingestion failed to start, serving without live data",
				zap.Error(err),
				zap.String("hint", polymarketapi.Diagnose(err)),
			)
		}
		if r.worker != nil {
			r.worker.Connect(gctx)
		}

		<-gctx.Done()
		r.shutdown()
		return nil
	})

	return g.Wait()
}

// selfTest logs whether the venue endpoints are reachable. Failures are
// informational only.
func (r *Runner) selfTest(ctx context.Context) {
	for _, res := range r.clients.Polymarket.TestConnectivity(ctx) {
		if res.OK {
			r.logger.Info("connectivity ok", zap.String("url", res.URL), zap.Int64("ms", res.Ms))
			continue
		}
		r.logger.Warn("connectivity check failed",
			zap.String("url", res.URL),
			zap.Int("status", res.Status),
			zap.String("error", res.Error),
		)
	}
}

func (r *Runner) shutdown() {
	r.logger.Info("shutting down")

	r.ingestor.Stop()
	if r.worker != nil {
		r.worker.Disconnect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := r.api.Shutdown(ctx); err != nil {
		r.logger.Warn("api server shutdown", zap.Error(err))
	}
	if err := r.clients.Close(); err != nil {
		r.logger.Warn("closing notifiers", zap.Error(err))
	}
}

// GetStats returns a snapshot of the service state.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	stats.Build.Commit = BuildCommit
	if BuildTime != "unknown" {
		stats.Build.Time = BuildTime
	}
	stats.Build.GoVersion = runtime.Version()

	if !r.startTime.IsZero() {
		uptime := time.Since(r.startTime)
		stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
		stats.Uptime = uptime.Round(time.Second).String()
		stats.UptimeSec = int64(uptime.Seconds())
	}

	stats.Ingest.Running = r.ingestor.Running()
	if cursor := r.ingestor.Cursor(); !cursor.IsZero() {
		stats.Ingest.Cursor = cursor.Format(time.RFC3339Nano)
	}
	stats.Ingest.PollInterval = r.ingestor.cfg.PollInterval.String()

	if r.worker != nil {
		ws := r.worker.Stats()
		stats.WebSocket.Enabled = true
		stats.WebSocket.Connected = ws.Connected
		stats.WebSocket.WatchedTokens = ws.Watched
		stats.WebSocket.MessageCount = ws.MessageCount
		stats.WebSocket.Reconnects = ws.Reconnects
		if !ws.LastMessageAt.IsZero() {
			stats.WebSocket.LastMessageAt = ws.LastMessageAt.UTC().Format(time.RFC3339)
			stats.WebSocket.LastMessageAgo = time.Since(ws.LastMessageAt).Round(time.Second).String()
		}
	}

	stats.Store = r.store.Counts()
	stats.Leaderboard.Windows = r.leaderboards.Windows()
	stats.Leaderboard.CacheTTL = r.leaderboards.TTL().String()

	stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.Enabled()
	if stats.Notifications.DiscordEnabled {
		stats.Notifications.DiscordChannelID = r.cfg.Discord.ChannelID
	}
	stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && r.clients.Telegram.Enabled()
	if stats.Notifications.TelegramEnabled {
		stats.Notifications.TelegramChatID = r.cfg.Telegram.ChatID
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = mem.HeapAlloc
	stats.Runtime.HeapInuse = mem.HeapInuse
	stats.Runtime.NumGC = mem.NumGC
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
