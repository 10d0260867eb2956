package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeAlert contains the data needed for a large trade notification.
type TradeAlert struct {
	TradeID     string
	Wallet      string
	Side        string // buy or sell
	Size        float64
	Price       float64
	Notional    float64
	MarketID    string
	MarketTitle string
	TokenID     string
	Outcome     string
	Timestamp   time.Time
}

// Verb returns "bought" or "sold".
func (a TradeAlert) Verb() string {
	if a.Side == "sell" {
		return "sold"
	}
	return "bought"
}

// Summary renders the amount part of an alert, for example
// "bought 100.00 @ 0.600 ($60.00)".
func (a TradeAlert) Summary() string {
	return fmt.Sprintf("%s %s @ %s ($%s)",
		a.Verb(),
		decimal.NewFromFloat(a.Size).StringFixed(2),
		decimal.NewFromFloat(a.Price).StringFixed(3),
		decimal.NewFromFloat(a.Notional).StringFixed(2),
	)
}

// Notifier is the interface for sending trade alerts to various channels.
type Notifier interface {
	// SendTradeAlert delivers one alert. Channels without credentials
	// return nil without doing anything.
	SendTradeAlert(ctx context.Context, alert TradeAlert) error

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendTradeAlert sends the alert to every channel. A failing channel does
// not prevent delivery to the others; all failures are joined.
func (m *MultiNotifier) SendTradeAlert(ctx context.Context, alert TradeAlert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.SendTradeAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
