// Package model holds the domain types shared between ingestion, the store
// and the HTTP API. JSON tags are the dashboard's wire contract.
package model

import "time"

type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// ParseMarketStatus maps a venue status onto the known set. Anything
// unrecognized is treated as open.
func ParseMarketStatus(s string) MarketStatus {
	switch MarketStatus(s) {
	case MarketStatusClosed, MarketStatusResolved:
		return MarketStatus(s)
	default:
		return MarketStatusOpen
	}
}

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type OutcomeToken struct {
	TokenID   string  `json:"tokenId"`
	MarketID  string  `json:"marketId"`
	Outcome   string  `json:"outcome"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
}

// Market is a venue market. Volume24h accumulates ingested notional since the
// last upsert; it is not a rolling 24h window.
type Market struct {
	MarketID      string         `json:"marketId"`
	EventID       string         `json:"eventId"`
	Title         string         `json:"title"`
	Slug          string         `json:"slug"`
	Category      string         `json:"category"`
	EndDate       string         `json:"endDate"`
	Status        MarketStatus   `json:"status"`
	Liquidity     float64        `json:"liquidity"`
	Volume24h     float64        `json:"volume24h"`
	OutcomeTokens []OutcomeToken `json:"outcomeTokens"`
}

// Clone returns a copy that does not share the token slice.
func (m Market) Clone() Market {
	if m.OutcomeTokens != nil {
		tokens := make([]OutcomeToken, len(m.OutcomeTokens))
		copy(tokens, m.OutcomeTokens)
		m.OutcomeTokens = tokens
	}
	return m
}

// PlaceholderMarket stands in for a market the store has not seen yet.
func PlaceholderMarket(marketID string, ts time.Time) Market {
	return Market{
		MarketID:      marketID,
		EventID:       marketID,
		Title:         "Market " + marketID,
		Slug:          marketID,
		Category:      "unknown",
		EndDate:       ts.UTC().Format(time.RFC3339Nano),
		Status:        MarketStatusOpen,
		OutcomeTokens: []OutcomeToken{},
	}
}

type Trade struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Wallet          string    `json:"wallet"`
	MarketID        string    `json:"marketId"`
	TokenID         string    `json:"tokenId"`
	Outcome         string    `json:"outcome"`
	Side            TradeSide `json:"side"`
	Price           float64   `json:"price"`
	Size            float64   `json:"size"`
	Fee             float64   `json:"fee"`
	TransactionHash string    `json:"transactionHash,omitempty"`
}

func (t Trade) Notional() float64 {
	return t.Price * t.Size
}

// SignedSize is positive for buys and negative for sells.
func (t Trade) SignedSize() float64 {
	if t.Side == SideSell {
		return -t.Size
	}
	return t.Size
}

type Position struct {
	Wallet        string    `json:"wallet"`
	TokenID       string    `json:"tokenId"`
	MarketID      string    `json:"marketId"`
	Outcome       string    `json:"outcome"`
	Size          float64   `json:"size"`
	AveragePrice  float64   `json:"averagePrice"`
	MarkPrice     float64   `json:"markPrice"`
	UnrealizedPnl float64   `json:"unrealizedPnl"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

type WalletStats struct {
	Wallet        string    `json:"wallet"`
	Trades        int       `json:"trades"`
	WinRate       float64   `json:"winRate"`
	RealizedPnl   float64   `json:"realizedPnl"`
	UnrealizedPnl float64   `json:"unrealizedPnl"`
	Turnover30d   float64   `json:"turnover30d"`
	AlphaScore    float64   `json:"alphaScore"`
	LastActive    time.Time `json:"lastActive"`
}

type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	Wallet        string  `json:"wallet"`
	Alias         string  `json:"alias,omitempty"`
	Pnl24h        float64 `json:"pnl24h"`
	Pnl7d         float64 `json:"pnl7d"`
	WinRate       float64 `json:"winRate"`
	Score         float64 `json:"score"`
	ActivityScore float64 `json:"activityScore"`
	MarketsTraded int     `json:"marketsTraded"`
}

type WindowLeaderboard struct {
	WindowHours float64            `json:"windowHours"`
	Entries     []LeaderboardEntry `json:"entries"`
}

type ActivityFeedItem struct {
	Trade  Trade  `json:"trade"`
	Market Market `json:"market"`
}

type FeedPage struct {
	Items []ActivityFeedItem `json:"items"`
	// NextCursor is nil when the page reached the end of the log.
	NextCursor  *string   `json:"nextCursor"`
	LastUpdated time.Time `json:"lastUpdated"`
}
