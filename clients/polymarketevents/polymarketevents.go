package polymarketevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"polyburg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PriceHandler receives token price updates decoded from the feed.
type PriceHandler func(tokenID string, price float64)

// MarketWorker keeps a websocket to the order book feed open, re-subscribing
// every watched token on each (re)connect. A dropped connection is redialed
// after a fixed delay until Disconnect is called.
type MarketWorker struct {
	logger *zap.Logger

	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	onPrice        PriceHandler

	mu      sync.Mutex
	tokens  map[string]struct{}
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	writeMu sync.Mutex

	msgCount        uint64
	lastMsgUnixNano int64
	reconnects      uint64
}

func NewMarketWorker(logger *zap.Logger, cfg *config.Config, onPrice PriceHandler) *MarketWorker {
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := cfg.Websocket.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	return &MarketWorker{
		logger:         logger,
		url:            cfg.Polymarket.ClobWSURL,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: delay,
		pingInterval:   10 * time.Second,
		onPrice:        onPrice,
		tokens:         make(map[string]struct{}),
	}
}

// Connect starts the connection loop. Calling it while already running is
// a no-op.
func (w *MarketWorker) Connect(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
}

// WatchToken adds a token to the subscription set. When connected the
// subscription is sent immediately; otherwise it is sent on the next
// connect.
func (w *MarketWorker) WatchToken(tokenID string) {
	if tokenID == "" {
		return
	}

	w.mu.Lock()
	if _, ok := w.tokens[tokenID]; ok {
		w.mu.Unlock()
		return
	}
	w.tokens[tokenID] = struct{}{}
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return
	}
	if err := w.subscribe(conn, tokenID); err != nil {
		w.logger.Warn("market ws subscribe failed", zap.String("token", tokenID), zap.Error(err))
	}
}

// Watched returns the subscribed tokens in sorted order.
func (w *MarketWorker) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.tokens))
	for t := range w.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Disconnect stops the loop, closes the socket and waits for the loop to
// exit. It is safe to call more than once.
func (w *MarketWorker) Disconnect() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	conn := w.conn
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
	w.logger.Info("market ws disconnected")
}

type WSStats struct {
	Connected     bool      `json:"connected"`
	Watched       int       `json:"watched"`
	MessageCount  uint64    `json:"messageCount"`
	Reconnects    uint64    `json:"reconnects"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

func (w *MarketWorker) Stats() WSStats {
	w.mu.Lock()
	connected := w.conn != nil
	watched := len(w.tokens)
	w.mu.Unlock()

	var last time.Time
	if ns := atomic.LoadInt64(&w.lastMsgUnixNano); ns > 0 {
		last = time.Unix(0, ns)
	}

	return WSStats{
		Connected:     connected,
		Watched:       watched,
		MessageCount:  atomic.LoadUint64(&w.msgCount),
		Reconnects:    atomic.LoadUint64(&w.reconnects),
		LastMessageAt: last,
	}
}

func (w *MarketWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("market ws connection lost, reconnecting",
			zap.Duration("delay", w.reconnectDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnectDelay):
			atomic.AddUint64(&w.reconnects, 1)
		}
	}
}

// session dials once, subscribes and reads until the connection fails.
func (w *MarketWorker) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial market ws: %w", err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	tokens := make([]string, 0, len(w.tokens))
	for t := range w.tokens {
		tokens = append(tokens, t)
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
	}()

	w.logger.Info("market ws connected", zap.String("url", w.url), zap.Int("tokens", len(tokens)))

	sort.Strings(tokens)
	for _, t := range tokens {
		if err := w.subscribe(conn, t); err != nil {
			return fmt.Errorf("resubscribe %s: %w", t, err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go w.pingLoop(sessCtx, conn)

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if string(b) == "PONG" || string(b) == "PING" {
			continue
		}

		atomic.AddUint64(&w.msgCount, 1)
		atomic.StoreInt64(&w.lastMsgUnixNano, time.Now().UnixNano())
		w.handleFrame(b)
	}
}

func (w *MarketWorker) subscribe(conn *websocket.Conn, tokenID string) error {
	return w.writeJSON(conn, SubscribeMessage{Action: "subscribe", Channel: "market:" + tokenID})
}

func (w *MarketWorker) writeJSON(conn *websocket.Conn, v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (w *MarketWorker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			w.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			w.writeMu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame accepts a single event object or a batch array.
func (w *MarketWorker) handleFrame(b []byte) {
	events, err := ParseEvents(b)
	if err != nil {
		w.logger.Debug("market ws unparsed frame", zap.Error(err), zap.ByteString("frame", b))
		return
	}

	for _, ev := range events {
		updates := ev.PriceUpdates()
		if len(updates) == 0 {
			w.logger.Debug("market ws event", zap.String("type", ev.EventType), zap.String("asset", ev.AssetID))
			continue
		}
		if w.onPrice == nil {
			continue
		}
		for _, u := range updates {
			w.onPrice(u.TokenID, u.Price)
		}
	}
}

// ---- Messages ----

type SubscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type PriceChange struct {
	AssetID string      `json:"asset_id"`
	Price   json.Number `json:"price"`
}

// Event is the subset of feed events that carry prices. Prices arrive as
// either JSON numbers or numeric strings.
type Event struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Price        json.Number   `json:"price"`
	PriceChanges []PriceChange `json:"price_changes"`
}

type PriceUpdate struct {
	TokenID string
	Price   float64
}

// PriceUpdates extracts every valid token price the event carries.
func (e Event) PriceUpdates() []PriceUpdate {
	var out []PriceUpdate
	if u, ok := toUpdate(e.AssetID, e.Price); ok {
		out = append(out, u)
	}
	for _, pc := range e.PriceChanges {
		asset := pc.AssetID
		if asset == "" {
			asset = e.AssetID
		}
		if u, ok := toUpdate(asset, pc.Price); ok {
			out = append(out, u)
		}
	}
	return out
}

func toUpdate(asset string, price json.Number) (PriceUpdate, bool) {
	if asset == "" || price == "" {
		return PriceUpdate{}, false
	}
	p, err := strconv.ParseFloat(price.String(), 64)
	if err != nil || p < 0 {
		return PriceUpdate{}, false
	}
	return PriceUpdate{TokenID: asset, Price: p}, true
}

// ParseEvents decodes a frame holding one event or an array of events.
func ParseEvents(b []byte) ([]Event, error) {
	trimmed := b
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return events, nil
	}

	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []Event{ev}, nil
}
