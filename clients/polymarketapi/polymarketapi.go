package polymarketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"polyburg/config"
	"polyburg/internal/model"

	"go.uber.org/zap"
)

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
	fetchOpts    FetchOptions

	backoffInitial time.Duration
	backoffMax     time.Duration
	onRetry        func()
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gammaBaseURL: strings.TrimRight(cfg.Polymarket.GammaAPIURL, "/"),
		dataBaseURL:  strings.TrimRight(cfg.Polymarket.DataAPIURL, "/"),
		fetchOpts: FetchOptions{
			Timeout: cfg.Polymarket.RequestTimeout,
			Retries: cfg.Polymarket.RequestRetry,
		},
		backoffInitial: time.Second,
		backoffMax:     8 * time.Second,
	}
}

// OnRetry registers a hook called before every retry wait.
func (c *PolymarketApiClient) OnRetry(fn func()) {
	c.onRetry = fn
}

// ---- Wire types ----

// Number accepts both JSON numbers and numeric strings.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

type GammaOutcome struct {
	TokenID   string `json:"token_id" validate:"required"`
	Name      string `json:"name"`
	Price     Number `json:"price" validate:"gte=0,finite"`
	Liquidity Number `json:"liquidity" validate:"gte=0,finite"`
}

type GammaMarket struct {
	ID        string         `json:"id" validate:"notblank"`
	EventID   string         `json:"event_id"`
	Question  string         `json:"question"`
	Slug      string         `json:"slug"`
	Category  string         `json:"category"`
	EndDate   string         `json:"end_date"`
	Status    string         `json:"status"`
	Liquidity Number         `json:"liquidity" validate:"gte=0,finite"`
	Volume24h Number         `json:"volume_24h" validate:"gte=0,finite"`
	Outcomes  []GammaOutcome `json:"outcomes" validate:"dive"`
}

type gammaMarketsResponse struct {
	Data       *[]GammaMarket `json:"data" validate:"required,dive"`
	NextCursor *string        `json:"next_cursor"`
}

type DataTrade struct {
	ID        string `json:"id" validate:"required"`
	CreatedAt string `json:"created_at"`
	User      string `json:"user" validate:"required"`
	MarketID  string `json:"market_id"`
	TokenID   string `json:"token_id" validate:"required"`
	Outcome   string `json:"outcome"`
	Side      string `json:"side"`
	Price     Number `json:"price" validate:"gte=0,finite"`
	Amount    Number `json:"amount" validate:"gte=0,finite"`
	Fee       Number `json:"fee"`
	TxHash    string `json:"tx_hash"`
}

type dataTradesResponse struct {
	Data       *[]DataTrade `json:"data" validate:"required,dive"`
	NextCursor *string      `json:"next_cursor"`
}

// MarketPage is one page of the market listing. NextCursor is empty on the
// last page.
type MarketPage struct {
	Markets    []model.Market
	NextCursor string
}

type TradeQuery struct {
	Limit  int
	From   time.Time
	Cursor string
}

type TradePage struct {
	Trades     []model.Trade
	NextCursor string
}

// ---- Operations ----

// FetchMarkets returns one page of active markets.
func (c *PolymarketApiClient) FetchMarkets(ctx context.Context, limit int, cursor string) (MarketPage, error) {
	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return MarketPage{}, fmt.Errorf("parse gamma url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/markets"

	q := u.Query()
	q.Set("active", "true")
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	body, err := c.fetch(ctx, u.String(), c.fetchOpts)
	if err != nil {
		return MarketPage{}, fmt.Errorf("fetch markets: %w", err)
	}

	var resp gammaMarketsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return MarketPage{}, fmt.Errorf("decode markets: %w", err)
	}

	markets, err := translateMarkets(resp)
	if err != nil {
		return MarketPage{}, err
	}

	page := MarketPage{Markets: markets}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	return page, nil
}

// FetchTrades returns one batch of trades at or after q.From.
func (c *PolymarketApiClient) FetchTrades(ctx context.Context, q TradeQuery) (TradePage, error) {
	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return TradePage{}, fmt.Errorf("parse data url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/trades"

	params := u.Query()
	params.Set("limit", strconv.Itoa(q.Limit))
	if !q.From.IsZero() {
		params.Set("from", q.From.UTC().Format(time.RFC3339Nano))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	u.RawQuery = params.Encode()

	body, err := c.fetch(ctx, u.String(), c.fetchOpts)
	if err != nil {
		return TradePage{}, fmt.Errorf("fetch trades: %w", err)
	}

	var resp dataTradesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TradePage{}, fmt.Errorf("decode trades: %w", err)
	}

	trades, err := translateTrades(resp)
	if err != nil {
		return TradePage{}, err
	}

	page := TradePage{Trades: trades}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	return page, nil
}

// ---- Translation ----

func translateMarkets(resp gammaMarketsResponse) ([]model.Market, error) {
	if err := payloadValidator.Struct(resp); err != nil {
		return nil, schemaErrorFrom("markets", err)
	}

	out := make([]model.Market, 0, len(*resp.Data))
	for _, gm := range *resp.Data {
		tokens := make([]model.OutcomeToken, 0, len(gm.Outcomes))
		for _, o := range gm.Outcomes {
			tokens = append(tokens, model.OutcomeToken{
				TokenID:   o.TokenID,
				MarketID:  gm.ID,
				Outcome:   o.Name,
				Price:     float64(o.Price),
				Liquidity: float64(o.Liquidity),
			})
		}

		out = append(out, model.Market{
			MarketID:      gm.ID,
			EventID:       gm.EventID,
			Title:         gm.Question,
			Slug:          gm.Slug,
			Category:      gm.Category,
			EndDate:       gm.EndDate,
			Status:        model.ParseMarketStatus(gm.Status),
			Liquidity:     float64(gm.Liquidity),
			Volume24h:     float64(gm.Volume24h),
			OutcomeTokens: tokens,
		})
	}
	return out, nil
}

func translateTrades(resp dataTradesResponse) ([]model.Trade, error) {
	if err := payloadValidator.Struct(resp); err != nil {
		return nil, schemaErrorFrom("trades", err)
	}

	out := make([]model.Trade, 0, len(*resp.Data))
	for i, dt := range *resp.Data {
		ts, err := parseTimestamp(dt.CreatedAt)
		if err != nil {
			return nil, &SchemaError{Kind: "trades", Index: i, Field: "created_at", Reason: err.Error()}
		}

		var side model.TradeSide
		switch strings.ToLower(dt.Side) {
		case "buy":
			side = model.SideBuy
		case "sell":
			side = model.SideSell
		default:
			return nil, &SchemaError{Kind: "trades", Index: i, Field: "side", Reason: fmt.Sprintf("unknown side %q", dt.Side)}
		}

		out = append(out, model.Trade{
			ID:              dt.ID,
			Timestamp:       ts,
			Wallet:          strings.ToLower(dt.User),
			MarketID:        dt.MarketID,
			TokenID:         dt.TokenID,
			Outcome:         dt.Outcome,
			Side:            side,
			Price:           float64(dt.Price),
			Size:            float64(dt.Amount),
			Fee:             float64(dt.Fee),
			TransactionHash: dt.TxHash,
		})
	}
	return out, nil
}

// parseTimestamp accepts RFC 3339 strings and unix seconds.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
