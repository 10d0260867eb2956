package store

import (
	"fmt"
	"math"
	"testing"
	"time"

	"polyburg/internal/model"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func trade(id, wallet, token string, side model.TradeSide, price, size float64, ts time.Time) model.Trade {
	return model.Trade{
		ID:        id,
		Timestamp: ts,
		Wallet:    wallet,
		MarketID:  "m1",
		TokenID:   token,
		Outcome:   "Yes",
		Side:      side,
		Price:     price,
		Size:      size,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAppendTrades_BuyThenPartialSell(t *testing.T) {
	s := New(WithClock(fixedClock(baseTime)))

	s.AppendTrades([]model.Trade{trade("t1", "w", "tok", model.SideBuy, 0.60, 100, baseTime)})
	s.AppendTrades([]model.Trade{trade("t2", "w", "tok", model.SideSell, 0.70, 40, baseTime.Add(time.Minute))})

	positions := s.WalletPositions("w")
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	pos := positions[0]
	if !almostEqual(pos.Size, 60) {
		t.Errorf("unexpected size: %f", pos.Size)
	}
	// (0.60*100 + 0.70*-40) / 60
	if want := 32.0 / 60.0; !almostEqual(pos.AveragePrice, want) {
		t.Errorf("expected average price %f, got %f", want, pos.AveragePrice)
	}
	if !almostEqual(pos.MarkPrice, 0.70) {
		t.Errorf("unexpected mark price: %f", pos.MarkPrice)
	}
	if !pos.LastUpdated.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("unexpected last updated: %v", pos.LastUpdated)
	}
}

func TestAppendTrades_ExactCloseRemovesPosition(t *testing.T) {
	s := New()

	s.AppendTrades([]model.Trade{
		trade("t1", "w", "tok", model.SideBuy, 0.40, 25, baseTime),
		trade("t2", "w", "tok", model.SideSell, 0.55, 25, baseTime.Add(time.Second)),
	})

	if got := s.WalletPositions("w"); len(got) != 0 {
		t.Errorf("expected flat position to be removed, got %+v", got)
	}
	if c := s.Counts(); c.Positions != 0 {
		t.Errorf("expected 0 positions, got %d", c.Positions)
	}
}

func TestAppendTrades_FractionalFillsNetToFlat(t *testing.T) {
	s := New()

	s.AppendTrades([]model.Trade{
		trade("t1", "w", "tok", model.SideBuy, 0.50, 0.1, baseTime),
		trade("t2", "w", "tok", model.SideBuy, 0.50, 0.2, baseTime.Add(time.Second)),
	})
	positions := s.WalletPositions("w")
	if len(positions) != 1 || positions[0].Size != 0.3 {
		t.Fatalf("expected a 0.3 position, got %+v", positions)
	}

	s.AppendTrades([]model.Trade{trade("t3", "w", "tok", model.SideSell, 0.60, 0.3, baseTime.Add(2*time.Second))})

	if got := s.WalletPositions("w"); len(got) != 0 {
		t.Errorf("expected flat position to be removed, got %+v", got)
	}
	if c := s.Counts(); c.Positions != 0 {
		t.Errorf("expected 0 positions, got %d", c.Positions)
	}
}

func TestAppendTrades_ShortPositionFromSell(t *testing.T) {
	s := New()

	s.AppendTrades([]model.Trade{trade("t1", "w", "tok", model.SideSell, 0.30, 10, baseTime)})

	pos := s.WalletPositions("w")
	if len(pos) != 1 || !almostEqual(pos[0].Size, -10) {
		t.Fatalf("expected short position of -10, got %+v", pos)
	}
	if pos[0].UnrealizedPnl != 0 {
		t.Errorf("expected zero unrealized pnl, got %f", pos[0].UnrealizedPnl)
	}
}

func TestAppendTrades_WalletStats(t *testing.T) {
	s := New()

	s.AppendTrades([]model.Trade{trade("t1", "w", "tok", model.SideBuy, 0.5, 100, baseTime)})

	stats, ok := s.WalletStats("w")
	if !ok {
		t.Fatal("expected wallet stats")
	}
	if stats.Trades != 1 || stats.WinRate != 0.5 {
		t.Errorf("unexpected initial stats: %+v", stats)
	}
	if !almostEqual(stats.Turnover30d, 50) || !almostEqual(stats.AlphaScore, 50) {
		t.Errorf("expected turnover and alpha of 50, got %+v", stats)
	}

	later := baseTime.Add(time.Hour)
	s.AppendTrades([]model.Trade{trade("t2", "w", "tok2", model.SideBuy, 0.25, 200, later)})

	stats, _ = s.WalletStats("w")
	if stats.Trades != 2 {
		t.Errorf("expected 2 trades, got %d", stats.Trades)
	}
	if !almostEqual(stats.Turnover30d, 100) {
		t.Errorf("unexpected turnover: %f", stats.Turnover30d)
	}
	if !almostEqual(stats.AlphaScore, 10) {
		t.Errorf("unexpected alpha score: %f", stats.AlphaScore)
	}
	if !stats.LastActive.Equal(later) {
		t.Errorf("unexpected last active: %v", stats.LastActive)
	}
}

func TestAppendTrades_TradeCountMatchesAppended(t *testing.T) {
	s := New()

	var batch []model.Trade
	for i := 0; i < 37; i++ {
		side := model.SideBuy
		if i%3 == 0 {
			side = model.SideSell
		}
		batch = append(batch, trade(fmt.Sprintf("t%d", i), "w", fmt.Sprintf("tok%d", i%4), side, 0.5, 10, baseTime))
	}
	s.AppendTrades(batch[:20])
	s.AppendTrades(batch[20:])

	stats, _ := s.WalletStats("w")
	if stats.Trades != 37 {
		t.Errorf("expected 37 trades, got %d", stats.Trades)
	}
	for _, p := range s.WalletPositions("w") {
		if p.Size == 0 {
			t.Errorf("flat position lingered: %+v", p)
		}
	}
}

func TestAppendTrades_EmptyBatchIsNoop(t *testing.T) {
	s := New()
	s.AppendTrades(nil)

	if c := s.Counts(); c != (Counts{}) {
		t.Errorf("expected empty store, got %+v", c)
	}
}

func TestAppendTrades_LogBoundKeepsNewest(t *testing.T) {
	s := New(WithMaxTrades(50))

	for b := 0; b < 3; b++ {
		var batch []model.Trade
		for i := 0; i < 30; i++ {
			n := b*30 + i
			batch = append(batch, trade(fmt.Sprintf("t%d", n), "w", "tok", model.SideBuy, 0.1, 1, baseTime.Add(time.Duration(n)*time.Second)))
		}
		s.AppendTrades(batch)
	}

	page := s.RecentTrades(1000)
	if len(page.Items) != 50 {
		t.Fatalf("expected 50 retained trades, got %d", len(page.Items))
	}
	if page.Items[0].Trade.ID != "t89" {
		t.Errorf("expected newest trade first, got %s", page.Items[0].Trade.ID)
	}
	if page.Items[49].Trade.ID != "t40" {
		t.Errorf("expected oldest retained trade t40, got %s", page.Items[49].Trade.ID)
	}
}

func TestAppendTrades_DefaultLogBound(t *testing.T) {
	s := New()

	batch := make([]model.Trade, DefaultMaxTrades+500)
	for i := range batch {
		batch[i] = trade(fmt.Sprintf("t%d", i), "w", "tok", model.SideBuy, 0.1, 1, baseTime)
	}
	s.AppendTrades(batch)

	if c := s.Counts(); c.Trades != DefaultMaxTrades {
		t.Errorf("expected %d trades, got %d", DefaultMaxTrades, c.Trades)
	}
	stats, _ := s.WalletStats("w")
	if stats.Trades != DefaultMaxTrades+500 {
		t.Errorf("stats should count every appended trade, got %d", stats.Trades)
	}
}

func TestAppendTrades_VolumeOnlyForKnownMarkets(t *testing.T) {
	s := New()
	s.UpsertMarkets([]model.Market{{MarketID: "m1", Title: "Known", Volume24h: 10}})

	tr := trade("t1", "w", "tok", model.SideBuy, 0.5, 100, baseTime)
	unknown := tr
	unknown.ID = "t2"
	unknown.MarketID = "m2"
	s.AppendTrades([]model.Trade{tr, unknown})

	m, ok := s.Market("m1")
	if !ok {
		t.Fatal("expected market m1")
	}
	if !almostEqual(m.Volume24h, 60) {
		t.Errorf("unexpected volume: %f", m.Volume24h)
	}
	if _, ok := s.Market("m2"); ok {
		t.Error("unknown market should not be created by trades")
	}
}

func TestUpsertMarkets_LastWriteWins(t *testing.T) {
	s := New()
	s.UpsertMarkets([]model.Market{
		{MarketID: "m1", Title: "First", Category: "Sports"},
		{MarketID: "m1", Title: "Second"},
	})

	m, _ := s.Market("m1")
	if m.Title != "Second" || m.Category != "" {
		t.Errorf("expected wholesale replacement, got %+v", m)
	}
	if m.OutcomeTokens == nil {
		t.Error("expected non-nil outcome tokens")
	}
}

func TestRecentTrades_CursorAndPlaceholder(t *testing.T) {
	s := New(WithClock(fixedClock(baseTime)))
	s.UpsertMarkets([]model.Market{{MarketID: "m1", Title: "Known"}})

	a := trade("a", "w", "tok", model.SideBuy, 0.5, 1, baseTime)
	b := trade("b", "w", "tok", model.SideBuy, 0.5, 1, baseTime)
	b.MarketID = "ghost"
	c := trade("c", "w", "tok", model.SideBuy, 0.5, 1, baseTime)
	s.AppendTrades([]model.Trade{a, b, c})

	page := s.RecentTrades(2)
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == nil || *page.NextCursor != "a" {
		t.Errorf("expected cursor a, got %v", page.NextCursor)
	}
	if !page.LastUpdated.Equal(baseTime) {
		t.Errorf("unexpected last updated: %v", page.LastUpdated)
	}

	ghost := page.Items[1].Market
	if ghost.Title != "Market ghost" || ghost.Category != "unknown" || ghost.Status != model.MarketStatusOpen {
		t.Errorf("unexpected placeholder: %+v", ghost)
	}
	if ghost.Slug != "ghost" || ghost.EventID != "ghost" || len(ghost.OutcomeTokens) != 0 {
		t.Errorf("unexpected placeholder identity: %+v", ghost)
	}
	if page.Items[0].Market.Title != "Known" {
		t.Errorf("expected known market, got %+v", page.Items[0].Market)
	}

	full := s.RecentTrades(3)
	if full.NextCursor != nil {
		t.Errorf("expected nil cursor when limit covers the log, got %v", *full.NextCursor)
	}
}

func TestWalletTrades_FiltersAndLimits(t *testing.T) {
	s := New()
	s.AppendTrades([]model.Trade{
		trade("1", "a", "tok", model.SideBuy, 0.5, 1, baseTime),
		trade("2", "b", "tok", model.SideBuy, 0.5, 1, baseTime),
		trade("3", "a", "tok", model.SideBuy, 0.5, 1, baseTime),
		trade("4", "a", "tok", model.SideBuy, 0.5, 1, baseTime),
	})

	got := s.WalletTrades("a", 2)
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "3" {
		t.Errorf("unexpected wallet trades: %+v", got)
	}
	if got := s.WalletTrades("nobody", 10); len(got) != 0 {
		t.Errorf("expected no trades, got %d", len(got))
	}
}

func TestUpdateTokenPrice(t *testing.T) {
	s := New()
	s.UpsertMarkets([]model.Market{{
		MarketID:      "m1",
		OutcomeTokens: []model.OutcomeToken{{TokenID: "yes", Price: 0.4}, {TokenID: "no", Price: 0.6}},
	}})

	if !s.UpdateTokenPrice("yes", 0.45) {
		t.Fatal("expected token to be found")
	}
	if s.UpdateTokenPrice("missing", 0.1) {
		t.Error("expected unknown token to be reported")
	}

	m, _ := s.Market("m1")
	if m.OutcomeTokens[0].Price != 0.45 || m.OutcomeTokens[1].Price != 0.6 {
		t.Errorf("unexpected token prices: %+v", m.OutcomeTokens)
	}
}

func TestLeaderboard_WindowSortAndCap(t *testing.T) {
	s := New(WithClock(fixedClock(baseTime)))

	var batch []model.Trade
	for i := 0; i < 150; i++ {
		wallet := fmt.Sprintf("w%03d", i)
		batch = append(batch, trade(fmt.Sprintf("t%d", i), wallet, "tok", model.SideBuy, 0.5, float64(i+1), baseTime.Add(-time.Hour)))
	}
	batch = append(batch, trade("stale", "old", "tok", model.SideBuy, 0.5, 1e6, baseTime.Add(-48*time.Hour)))
	s.AppendTrades(batch)

	entries := s.Leaderboard(24)
	if len(entries) != MaxLeaderboardEntries {
		t.Fatalf("expected %d entries, got %d", MaxLeaderboardEntries, len(entries))
	}
	for i, e := range entries {
		if e.Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, e.Rank)
		}
		if i > 0 && entries[i-1].Score < e.Score {
			t.Errorf("scores not non-increasing at %d", i)
		}
		if e.Wallet == "old" {
			t.Error("stale wallet should be outside the window")
		}
	}
	if entries[0].Wallet != "w149" {
		t.Errorf("expected top wallet w149, got %s", entries[0].Wallet)
	}

	wide := s.Leaderboard(72)
	if wide[0].Wallet != "old" {
		t.Errorf("expected old wallet on top of the wide window, got %s", wide[0].Wallet)
	}
}

func TestLeaderboard_EntryMapping(t *testing.T) {
	s := New(WithClock(fixedClock(baseTime)))
	s.AppendTrades([]model.Trade{
		trade("1", "w", "tok", model.SideBuy, 0.5, 10, baseTime),
		trade("2", "w", "tok", model.SideBuy, 0.5, 10, baseTime),
	})

	entries := s.Leaderboard(1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.MarketsTraded != 2 || !almostEqual(e.ActivityScore, 10) || !almostEqual(e.Score, 1) {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.WinRate != 0.5 || e.Pnl24h != 0 || e.Pnl7d != 0 {
		t.Errorf("unexpected pnl fields: %+v", e)
	}
}

func TestLeaderboard_Empty(t *testing.T) {
	s := New()
	entries := s.Leaderboard(24)
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", entries)
	}
}
