package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"polyburg/clients/notifier"
	"polyburg/clients/polymarketapi"
	"polyburg/config"
	"polyburg/internal/model"
	"polyburg/internal/store"

	"go.uber.org/zap"
)

const (
	taskTrades  = "trades"
	taskMarkets = "markets"

	// maxMarketPages stops a runaway pagination if the venue keeps handing
	// out cursors.
	maxMarketPages = 1000
	// endCursor is the venue's explicit end-of-list marker.
	endCursor = "LTE="
)

var (
	ErrAlreadyRunning = errors.New("ingestion already running")
	// ErrInFlight is returned when a task is invoked while its previous run
	// has not finished.
	ErrInFlight = errors.New("task already in flight")
)

// VenueClient is the subset of the venue API used by ingestion.
type VenueClient interface {
	FetchMarkets(ctx context.Context, limit int, cursor string) (polymarketapi.MarketPage, error)
	FetchTrades(ctx context.Context, q polymarketapi.TradeQuery) (polymarketapi.TradePage, error)
}

// TokenWatcher receives tokens worth following on the live order book feed.
type TokenWatcher interface {
	WatchToken(tokenID string)
}

// Ingestor pulls markets and trades from the venue into the store. Trades
// are polled on a short interval and the market catalogue is refreshed on a
// long one; each task skips a tick while its previous run is in flight.
type Ingestor struct {
	logger   *zap.Logger
	venue    VenueClient
	store    *store.Store
	notifier notifier.Notifier
	watcher  TokenWatcher
	metrics  *Metrics
	cfg      config.IngestConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pollBusy    atomic.Bool
	refreshBusy atomic.Bool

	// Owned by the trade poll, which never runs concurrently with itself.
	cursor time.Time
	seen   *seenSet

	cursorUnixNano atomic.Int64
}

func NewIngestor(
	logger *zap.Logger,
	venue VenueClient,
	st *store.Store,
	n notifier.Notifier,
	watcher TokenWatcher,
	metrics *Metrics,
	cfg config.IngestConfig,
) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = notifier.NewMultiNotifier()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	d := config.Defaults().Ingest
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.MarketRefreshInterval <= 0 {
		cfg.MarketRefreshInterval = d.MarketRefreshInterval
	}
	if cfg.MarketPageSize <= 0 {
		cfg.MarketPageSize = d.MarketPageSize
	}
	if cfg.TradeBatchSize <= 0 {
		cfg.TradeBatchSize = d.TradeBatchSize
	}
	if cfg.AlertMinNotional <= 0 {
		cfg.AlertMinNotional = d.AlertMinNotional
	}

	return &Ingestor{
		logger:   logger,
		venue:    venue,
		store:    st,
		notifier: n,
		watcher:  watcher,
		metrics:  metrics,
		cfg:      cfg,
		seen:     newSeenSet(store.DefaultMaxTrades),
	}
}

// Start loads the full market catalogue and one trade batch, then schedules
// the periodic tasks. If either initial load fails nothing is scheduled and
// the ingestor returns to the stopped state.
func (i *Ingestor) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	i.running = true
	i.cancel = cancel
	i.mu.Unlock()

	if err := i.RefreshMarkets(loopCtx); err != nil {
		i.abortStart()
		return fmt.Errorf("initial market refresh: %w", err)
	}
	if err := i.PollTrades(loopCtx); err != nil {
		i.abortStart()
		return fmt.Errorf("initial trade poll: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := loopCtx.Err(); err != nil {
		i.running = false
		i.cancel = nil
		return err
	}
	i.wg.Add(2)
	go i.runTicker(loopCtx, taskTrades, i.cfg.PollInterval, i.PollTrades)
	go i.runTicker(loopCtx, taskMarkets, i.cfg.MarketRefreshInterval, i.RefreshMarkets)

	i.logger.Info("ingestion started",
		zap.Duration("pollInterval", i.cfg.PollInterval),
		zap.Duration("marketRefreshInterval", i.cfg.MarketRefreshInterval),
		zap.Int("markets", i.store.Counts().Markets),
		zap.Int("trades", i.store.Counts().Trades),
	)
	return nil
}

func (i *Ingestor) abortStart() {
	i.mu.Lock()
	cancel := i.cancel
	i.running = false
	i.cancel = nil
	i.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Stop cancels the periodic tasks and any in-flight request, then waits for
// the loops to exit. Stopping a stopped ingestor is a no-op.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	cancel := i.cancel
	i.running = false
	i.cancel = nil
	i.mu.Unlock()

	cancel()
	i.wg.Wait()
	i.logger.Info("ingestion stopped")
}

func (i *Ingestor) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Cursor returns the newest trade timestamp ingested so far.
func (i *Ingestor) Cursor() time.Time {
	ns := i.cursorUnixNano.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func (i *Ingestor) runTicker(ctx context.Context, task string, interval time.Duration, fn func(context.Context) error) {
	defer i.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := fn(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrInFlight):
				i.logger.Debug("skipping tick, previous run in flight", zap.String("task", task))
			case ctx.Err() != nil:
				return
			default:
				i.logger.Warn("ingestion task failed", zap.String("task", task), zap.Error(err))
			}
		}
	}
}

func (i *Ingestor) observe(task string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	i.metrics.PollRuns.WithLabelValues(task, result).Inc()
	i.metrics.PollDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// RefreshMarkets pages through the active market listing, upserting each
// page as it arrives.
func (i *Ingestor) RefreshMarkets(ctx context.Context) error {
	if !i.refreshBusy.CompareAndSwap(false, true) {
		i.metrics.PollSkipped.WithLabelValues(taskMarkets).Inc()
		return ErrInFlight
	}
	defer i.refreshBusy.Store(false)

	start := time.Now()
	err := i.refreshMarkets(ctx)
	i.observe(taskMarkets, start, err)
	return err
}

func (i *Ingestor) refreshMarkets(ctx context.Context) error {
	var (
		cursor string
		total  int
		pages  int
	)
	for {
		if pages >= maxMarketPages {
			i.logger.Warn("market pagination stopped at page limit", zap.Int("pages", pages))
			break
		}

		page, err := i.venue.FetchMarkets(ctx, i.cfg.MarketPageSize, cursor)
		if err != nil {
			return fmt.Errorf("markets page %d: %w", pages+1, err)
		}
		pages++
		total += len(page.Markets)
		i.store.UpsertMarkets(page.Markets)
		i.metrics.MarketsUpserted.Add(float64(len(page.Markets)))

		next := page.NextCursor
		if next == "" || next == endCursor || next == cursor {
			break
		}
		cursor = next
	}

	i.logger.Debug("markets refreshed", zap.Int("markets", total), zap.Int("pages", pages))
	return nil
}

// PollTrades fetches one batch of trades newer than the cursor, appends
// the ones not seen before and alerts on large ones.
func (i *Ingestor) PollTrades(ctx context.Context) error {
	if !i.pollBusy.CompareAndSwap(false, true) {
		i.metrics.PollSkipped.WithLabelValues(taskTrades).Inc()
		return ErrInFlight
	}
	defer i.pollBusy.Store(false)

	start := time.Now()
	err := i.pollTrades(ctx)
	i.observe(taskTrades, start, err)
	return err
}

func (i *Ingestor) pollTrades(ctx context.Context) error {
	page, err := i.venue.FetchTrades(ctx, polymarketapi.TradeQuery{
		Limit: i.cfg.TradeBatchSize,
		From:  i.cursor,
	})
	if err != nil {
		return err
	}

	fresh, dup := i.seen.filter(page.Trades)
	if dup > 0 {
		i.metrics.TradesDuplicate.Add(float64(dup))
	}
	if len(fresh) == 0 {
		return nil
	}

	i.store.AppendTrades(fresh)
	i.metrics.TradesIngested.Add(float64(len(fresh)))

	for _, t := range fresh {
		if t.Timestamp.After(i.cursor) {
			i.cursor = t.Timestamp
		}
	}
	i.cursorUnixNano.Store(i.cursor.UnixNano())

	i.logger.Debug("trades ingested",
		zap.Int("fresh", len(fresh)),
		zap.Int("duplicates", dup),
		zap.Time("cursor", i.cursor),
	)

	i.alertLargeTrades(ctx, fresh)
	return nil
}

// alertLargeTrades sends one alert per qualifying trade, in batch order.
// Delivery failures are logged and never retried.
func (i *Ingestor) alertLargeTrades(ctx context.Context, trades []model.Trade) {
	for _, t := range trades {
		if t.Notional() < i.cfg.AlertMinNotional {
			continue
		}

		alert := notifier.TradeAlert{
			TradeID:   t.ID,
			Wallet:    t.Wallet,
			Side:      string(t.Side),
			Size:      t.Size,
			Price:     t.Price,
			Notional:  t.Notional(),
			MarketID:  t.MarketID,
			TokenID:   t.TokenID,
			Outcome:   t.Outcome,
			Timestamp: t.Timestamp,
		}
		if m, ok := i.store.Market(t.MarketID); ok {
			alert.MarketTitle = m.Title
		}

		if err := i.notifier.SendTradeAlert(ctx, alert); err != nil {
			i.metrics.Alerts.WithLabelValues("failed").Inc()
			i.logger.Warn("failed to send trade alert",
				zap.String("trade", t.ID),
				zap.String("wallet", shortID(t.Wallet)),
				zap.Error(err),
			)
		} else {
			i.metrics.Alerts.WithLabelValues("sent").Inc()
			i.logger.Info("large trade alert",
				zap.String("trade", t.ID),
				zap.String("wallet", shortID(t.Wallet)),
				zap.Float64("notional", t.Notional()),
			)
		}

		if i.watcher != nil {
			i.watcher.WatchToken(t.TokenID)
		}
	}
}

// seenSet remembers the most recent trade ids, evicting the oldest first.
type seenSet struct {
	limit int
	ids   map[string]struct{}
	order []string
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, ids: make(map[string]struct{}, limit)}
}

// filter returns the trades whose ids have not been seen, recording them.
func (s *seenSet) filter(trades []model.Trade) ([]model.Trade, int) {
	fresh := make([]model.Trade, 0, len(trades))
	dup := 0
	for _, t := range trades {
		if _, ok := s.ids[t.ID]; ok {
			dup++
			continue
		}
		s.ids[t.ID] = struct{}{}
		s.order = append(s.order, t.ID)
		fresh = append(fresh, t)
	}

	for len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return fresh, dup
}

func (s *seenSet) size() int {
	return len(s.ids)
}
