package app

import (
	"context"
	"sync"

	"polyburg/clients/notifier"
	"polyburg/clients/polymarketapi"
	"polyburg/internal/model"
)

// fakeVenue serves scripted market pages and trade batches.
type fakeVenue struct {
	mu sync.Mutex

	marketPages []polymarketapi.MarketPage
	marketErr   error
	marketCalls []string // cursors requested

	tradeBatches [][]model.Trade
	tradeErr     error
	tradeQueries []polymarketapi.TradeQuery

	// block, when set, holds FetchTrades until closed.
	block chan struct{}
}

func (f *fakeVenue) FetchMarkets(ctx context.Context, limit int, cursor string) (polymarketapi.MarketPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.marketCalls = append(f.marketCalls, cursor)
	if f.marketErr != nil {
		return polymarketapi.MarketPage{}, f.marketErr
	}
	idx := len(f.marketCalls) - 1
	if idx >= len(f.marketPages) {
		return polymarketapi.MarketPage{}, nil
	}
	return f.marketPages[idx], nil
}

func (f *fakeVenue) FetchTrades(ctx context.Context, q polymarketapi.TradeQuery) (polymarketapi.TradePage, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return polymarketapi.TradePage{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.tradeQueries = append(f.tradeQueries, q)
	if f.tradeErr != nil {
		return polymarketapi.TradePage{}, f.tradeErr
	}
	if len(f.tradeBatches) == 0 {
		return polymarketapi.TradePage{}, nil
	}
	batch := f.tradeBatches[0]
	f.tradeBatches = f.tradeBatches[1:]
	return polymarketapi.TradePage{Trades: batch}, nil
}

func (f *fakeVenue) setTradeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeErr = err
}

func (f *fakeVenue) queueTrades(batch []model.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeBatches = append(f.tradeBatches, batch)
}

func (f *fakeVenue) queries() []polymarketapi.TradeQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]polymarketapi.TradeQuery(nil), f.tradeQueries...)
}

// fakeNotifier records alerts and optionally fails them.
type fakeNotifier struct {
	mu     sync.Mutex
	alerts []notifier.TradeAlert
	err    error
	closed bool
}

func (n *fakeNotifier) SendTradeAlert(_ context.Context, alert notifier.TradeAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *fakeNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNotifier) sent() []notifier.TradeAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.TradeAlert(nil), n.alerts...)
}

type fakeWatcher struct {
	mu     sync.Mutex
	tokens []string
}

func (w *fakeWatcher) WatchToken(tokenID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tokens = append(w.tokens, tokenID)
}

func (w *fakeWatcher) watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tokens...)
}
