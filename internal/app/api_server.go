package app

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"polyburg/clients/polymarketapi"
	"polyburg/config"
	"polyburg/internal/model"
	"polyburg/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultFeedLimit   = 200
	maxFeedLimit       = 500
	walletTradesLimit  = 100
	streamFeedLimit    = 50
	streamWriteTimeout = 10 * time.Second
)

var errInvalidWindow = gin.H{"error": "Invalid `window` query parameter"}

// ConnectivityChecker checks that the venue endpoints are reachable.
type ConnectivityChecker interface {
	TestConnectivity(ctx context.Context) []polymarketapi.ConnectivityResult
}

type APIServerOption func(*APIServer)

func WithConnectivityChecker(p ConnectivityChecker) APIServerOption {
	return func(s *APIServer) { s.checker = p }
}

// WithStats exposes the service stats snapshot on /stats.
func WithStats(fn func() ServiceStats) APIServerOption {
	return func(s *APIServer) { s.stats = fn }
}

// WithFeedInterval sets how often /feed/stream pushes a page.
func WithFeedInterval(d time.Duration) APIServerOption {
	return func(s *APIServer) {
		if d > 0 {
			s.feedInterval = d
		}
	}
}

// APIServer serves the read-only dashboard API over the store.
type APIServer struct {
	logger       *zap.Logger
	store        *store.Store
	leaderboards *LeaderboardCache
	metrics      *Metrics
	checker       ConnectivityChecker
	stats        func() ServiceStats
	feedInterval time.Duration
	upgrader     websocket.Upgrader

	engine *gin.Engine
	server *http.Server

	closeOnce sync.Once
	closed    chan struct{}
}

func NewAPIServer(
	logger *zap.Logger,
	cfg config.ServerConfig,
	st *store.Store,
	leaderboards *LeaderboardCache,
	metrics *Metrics,
	opts ...APIServerOption,
) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &APIServer{
		logger:       logger,
		store:        st,
		leaderboards: leaderboards,
		metrics:      metrics,
		feedInterval: 2 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(cors(), requestLogger(logger, metrics), recovery(logger))
	s.routes()

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *APIServer) routes() {
	r := s.engine

	r.GET("/health", s.handleHealth)
	r.GET("/health/network", s.handleNetworkHealth)
	r.GET("/markets", s.handleMarkets)
	r.GET("/feed", s.handleFeed)
	r.GET("/feed/stream", s.handleFeedStream)
	r.GET("/wallets/:address", s.handleWallet)
	r.GET("/wallets/:address/positions", s.handleWalletPositions)
	r.GET("/leaderboard", s.handleLeaderboard)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	if s.stats != nil {
		r.GET("/stats", func(c *gin.Context) { c.JSON(http.StatusOK, s.stats()) })
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.engine
}

func (s *APIServer) Addr() string {
	return s.server.Addr
}

// ListenAndServe blocks until the server fails or is shut down. A clean
// shutdown returns nil.
func (s *APIServer) ListenAndServe() error {
	s.logger.Info("api server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, ends open feed streams and waits for
// in-flight requests until ctx expires.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.server.Shutdown(ctx)
}

func (s *APIServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func (s *APIServer) handleNetworkHealth(c *gin.Context) {
	results := []polymarketapi.ConnectivityResult{}
	if s.checker != nil {
		results = s.checker.TestConnectivity(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"env":       polymarketapi.Env(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *APIServer) handleMarkets(c *gin.Context) {
	markets := filterMarkets(s.store.Markets(), c.Query("category"), c.Query("search"))
	c.JSON(http.StatusOK, gin.H{"count": len(markets), "items": markets})
}

// filterMarkets keeps markets whose category equals category and whose
// title, slug or category contains search, both case-insensitively. Empty
// filters match everything.
func filterMarkets(markets []model.Market, category, search string) []model.Market {
	category = strings.ToLower(category)
	search = strings.ToLower(search)

	out := make([]model.Market, 0, len(markets))
	for _, m := range markets {
		cat := strings.ToLower(m.Category)
		if category != "" && cat != category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(m.Title), search) &&
			!strings.Contains(strings.ToLower(m.Slug), search) &&
			!strings.Contains(cat, search) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *APIServer) handleFeed(c *gin.Context) {
	raw, present := c.GetQuery("limit")
	c.JSON(http.StatusOK, s.store.RecentTrades(parseFeedLimit(raw, present)))
}

// parseFeedLimit clamps the requested page size to [1, 500]. A missing or
// non-numeric value yields the default; fractions round down.
func parseFeedLimit(raw string, present bool) int {
	if !present {
		return defaultFeedLimit
	}
	v := 0.0
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return defaultFeedLimit
		}
		v = parsed
	}
	v = math.Min(math.Max(v, 1), maxFeedLimit)
	return int(math.Floor(v))
}

// handleFeedStream pushes a feed page right away and then on every
// interval until the client goes away or the server shuts down.
func (s *APIServer) handleFeedStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("feed stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.feedInterval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(s.store.RecentTrades(streamFeedLimit)); err != nil {
			s.logger.Debug("feed stream closed", zap.Error(err))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.closed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *APIServer) handleWallet(c *gin.Context) {
	wallet := strings.ToLower(c.Param("address"))

	var stats *model.WalletStats
	if ws, ok := s.store.WalletStats(wallet); ok {
		stats = &ws
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":    wallet,
		"stats":     stats,
		"positions": s.store.WalletPositions(wallet),
		"trades":    s.store.WalletTrades(wallet, walletTradesLimit),
	})
}

func (s *APIServer) handleWalletPositions(c *gin.Context) {
	wallet := strings.ToLower(c.Param("address"))
	c.JSON(http.StatusOK, gin.H{
		"wallet":    wallet,
		"positions": s.store.WalletPositions(wallet),
	})
}

func (s *APIServer) handleLeaderboard(c *gin.Context) {
	// Only an absent or empty window selects the defaults; a blank one is
	// rejected like any other non-number.
	raw := c.Query("window")
	if raw == "" {
		c.JSON(http.StatusOK, gin.H{"leaderboards": s.leaderboards.Defaults()})
		return
	}

	window, ok := parseWindow(strings.TrimSpace(raw))
	if !ok {
		c.JSON(http.StatusBadRequest, errInvalidWindow)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windowHours": window, "entries": s.leaderboards.Get(window)})
}

// parseWindow accepts a finite, positive number of hours.
func parseWindow(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
