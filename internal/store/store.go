// Package store keeps the in-memory view of markets, the recent trade log,
// open positions and per-wallet statistics.
package store

import (
	"sort"
	"sync"
	"time"

	"polyburg/internal/model"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxTrades bounds the trade log.
	DefaultMaxTrades = 10_000
	// MaxLeaderboardEntries caps every leaderboard.
	MaxLeaderboardEntries = 100

	initialWinRate = 0.5

	// sizePlaces is the precision position sizes are netted at.
	sizePlaces = 9

	alphaTurnoverWeight   = 0.1
	alphaRealizedWeight   = 0.6
	alphaUnrealizedWeight = 0.3
)

type positionKey struct {
	wallet  string
	tokenID string
}

// Counts reports collection sizes.
type Counts struct {
	Markets   int `json:"markets"`
	Trades    int `json:"trades"`
	Positions int `json:"positions"`
	Wallets   int `json:"wallets"`
}

type Option func(*Store)

// WithClock overrides the time source used for leaderboard windows and
// feed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxTrades overrides the trade log bound.
func WithMaxTrades(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTrades = n
		}
	}
}

// Store is safe for concurrent use. Each mutation holds the write lock for
// the whole batch, so readers never observe a partially applied batch.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	maxTrades int

	markets    map[string]model.Market
	tokenIndex map[string]string
	trades     []model.Trade // newest first
	positions  map[positionKey]*model.Position
	wallets    map[string]*model.WalletStats
}

func New(opts ...Option) *Store {
	s := &Store{
		now:        time.Now,
		maxTrades:  DefaultMaxTrades,
		markets:    make(map[string]model.Market),
		tokenIndex: make(map[string]string),
		positions:  make(map[positionKey]*model.Position),
		wallets:    make(map[string]*model.WalletStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertMarkets replaces each market by id. Last write wins.
func (s *Store) UpsertMarkets(markets []model.Market) {
	if len(markets) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range markets {
		m = m.Clone()
		if m.OutcomeTokens == nil {
			m.OutcomeTokens = []model.OutcomeToken{}
		}
		s.markets[m.MarketID] = m
		for _, tok := range m.OutcomeTokens {
			s.tokenIndex[tok.TokenID] = m.MarketID
		}
	}
}

// AppendTrades applies a batch of trades in input order. It is not
// idempotent: replaying a trade counts it twice.
func (s *Store) AppendTrades(trades []model.Trade) {
	if len(trades) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Volume only accrues to markets known when the batch started.
	known := make(map[string]struct{}, len(s.markets))
	for id := range s.markets {
		known[id] = struct{}{}
	}

	for _, t := range trades {
		s.applyPosition(t)
		s.applyWalletStats(t)
		if _, ok := known[t.MarketID]; ok {
			m := s.markets[t.MarketID]
			m.Volume24h += t.Notional()
			s.markets[t.MarketID] = m
		}
	}

	// Prepend in one step: the last trade of the batch becomes the newest.
	log := make([]model.Trade, 0, min(len(trades)+len(s.trades), s.maxTrades))
	for i := len(trades) - 1; i >= 0 && len(log) < s.maxTrades; i-- {
		log = append(log, trades[i])
	}
	for i := 0; i < len(s.trades) && len(log) < s.maxTrades; i++ {
		log = append(log, s.trades[i])
	}
	s.trades = log
}

func (s *Store) applyPosition(t model.Trade) {
	key := positionKey{wallet: t.Wallet, tokenID: t.TokenID}
	delta := t.SignedSize()

	pos, ok := s.positions[key]
	if !ok {
		if delta == 0 {
			return
		}
		s.positions[key] = &model.Position{
			Wallet:       t.Wallet,
			TokenID:      t.TokenID,
			MarketID:     t.MarketID,
			Outcome:      t.Outcome,
			Size:         delta,
			AveragePrice: t.Price,
			MarkPrice:    t.Price,
			LastUpdated:  t.Timestamp,
		}
		return
	}

	// Net in decimal so fills like 0.1 + 0.2 - 0.3 close the position
	// instead of leaving float residue behind.
	net := decimal.NewFromFloat(pos.Size).Add(decimal.NewFromFloat(delta)).Round(sizePlaces)
	if net.IsZero() {
		delete(s.positions, key)
		return
	}
	newSize := net.InexactFloat64()

	// Weighted average over signed sizes. Realized PnL on partial closes is
	// not separated out.
	pos.AveragePrice = (pos.AveragePrice*pos.Size + t.Price*delta) / newSize
	pos.Size = newSize
	pos.MarkPrice = t.Price
	pos.LastUpdated = t.Timestamp
}

func (s *Store) applyWalletStats(t model.Trade) {
	notional := t.Notional()

	stats, ok := s.wallets[t.Wallet]
	if !ok {
		s.wallets[t.Wallet] = &model.WalletStats{
			Wallet:      t.Wallet,
			Trades:      1,
			WinRate:     initialWinRate,
			Turnover30d: notional,
			AlphaScore:  notional,
			LastActive:  t.Timestamp,
		}
		return
	}

	stats.Turnover30d += notional
	stats.Trades++
	stats.AlphaScore = stats.Turnover30d*alphaTurnoverWeight +
		stats.RealizedPnl*alphaRealizedWeight +
		stats.UnrealizedPnl*alphaUnrealizedWeight
	stats.LastActive = t.Timestamp
}

// UpdateTokenPrice sets the quoted price of an outcome token on the market
// that lists it. It reports whether the token was found.
func (s *Store) UpdateTokenPrice(tokenID string, price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	marketID, ok := s.tokenIndex[tokenID]
	if !ok {
		return false
	}
	m, ok := s.markets[marketID]
	if !ok {
		return false
	}
	for i := range m.OutcomeTokens {
		if m.OutcomeTokens[i].TokenID == tokenID {
			m.OutcomeTokens[i].Price = price
			return true
		}
	}
	return false
}

// Markets returns a snapshot of all markets, highest volume first.
func (s *Store) Markets() []model.Market {
	s.mu.RLock()
	out := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Volume24h != out[j].Volume24h {
			return out[i].Volume24h > out[j].Volume24h
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out
}

func (s *Store) Market(marketID string) (model.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketID]
	if !ok {
		return model.Market{}, false
	}
	return m.Clone(), true
}

// RecentTrades returns the newest trades paired with their market. Markets
// not yet known are replaced by a placeholder. The cursor is the id of the
// first trade not returned and is only meaningful until the next mutation.
func (s *Store) RecentTrades(limit int) model.FeedPage {
	if limit < 0 {
		limit = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.trades))
	items := make([]model.ActivityFeedItem, 0, n)
	for _, t := range s.trades[:n] {
		m, ok := s.markets[t.MarketID]
		if ok {
			m = m.Clone()
		} else {
			m = model.PlaceholderMarket(t.MarketID, t.Timestamp)
		}
		items = append(items, model.ActivityFeedItem{Trade: t, Market: m})
	}

	page := model.FeedPage{
		Items:       items,
		LastUpdated: s.now(),
	}
	if limit < len(s.trades) {
		next := s.trades[limit].ID
		page.NextCursor = &next
	}
	return page
}

func (s *Store) WalletStats(wallet string) (model.WalletStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.wallets[wallet]
	if !ok {
		return model.WalletStats{}, false
	}
	return *stats, true
}

// WalletPositions returns the wallet's open positions ordered by token id.
func (s *Store) WalletPositions(wallet string) []model.Position {
	s.mu.RLock()
	out := make([]model.Position, 0)
	for key, pos := range s.positions {
		if key.wallet == wallet {
			out = append(out, *pos)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// WalletTrades returns up to limit of the wallet's trades, newest first.
func (s *Store) WalletTrades(wallet string, limit int) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Trade, 0)
	for _, t := range s.trades {
		if len(out) >= limit {
			break
		}
		if t.Wallet == wallet {
			out = append(out, t)
		}
	}
	return out
}

// Leaderboard ranks wallets active within the last windowHours by alpha
// score, highest first, capped at MaxLeaderboardEntries.
func (s *Store) Leaderboard(windowHours float64) []model.LeaderboardEntry {
	s.mu.RLock()
	cutoff := s.now().Add(-time.Duration(windowHours * float64(time.Hour)))
	entries := make([]model.LeaderboardEntry, 0)
	for _, stats := range s.wallets {
		if stats.LastActive.Before(cutoff) {
			continue
		}
		entries = append(entries, model.LeaderboardEntry{
			Wallet:        stats.Wallet,
			Pnl24h:        stats.RealizedPnl,
			Pnl7d:         stats.UnrealizedPnl,
			WinRate:       stats.WinRate,
			Score:         stats.AlphaScore,
			ActivityScore: stats.Turnover30d,
			MarketsTraded: stats.Trades,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Wallet < entries[j].Wallet
	})
	if len(entries) > MaxLeaderboardEntries {
		entries = entries[:MaxLeaderboardEntries]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Counts{
		Markets:   len(s.markets),
		Trades:    len(s.trades),
		Positions: len(s.positions),
		Wallets:   len(s.wallets),
	}
}
