package notifier

import (
	"context"
	"errors"
	"testing"
)

// mockNotifier is a test helper that implements Notifier interface
type mockNotifier struct {
	alerts      []TradeAlert
	sendErr     error
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendTradeAlert(_ context.Context, alert TradeAlert) error {
	m.alerts = append(m.alerts, alert)
	return m.sendErr
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mn := NewMultiNotifier(&mockNotifier{}, nil, &mockNotifier{}, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_Empty(t *testing.T) {
	mn := NewMultiNotifier()

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}
	if err := mn.SendTradeAlert(context.Background(), TradeAlert{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMultiNotifier_SendTradeAlert(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	alert := TradeAlert{Wallet: "0xabc", Side: "buy", Size: 10000, Price: 0.6, Notional: 6000}
	if err := mn.SendTradeAlert(context.Background(), alert); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if len(mock1.alerts) != 1 || len(mock2.alerts) != 1 {
		t.Errorf("expected one alert per notifier, got %d and %d", len(mock1.alerts), len(mock2.alerts))
	}
	if mock1.alerts[0].Wallet != "0xabc" {
		t.Errorf("unexpected wallet: %s", mock1.alerts[0].Wallet)
	}
}

func TestMultiNotifier_SendTradeAlert_PartialFailure(t *testing.T) {
	sendErr := errors.New("telegram down")
	failing := &mockNotifier{sendErr: sendErr}
	healthy := &mockNotifier{}

	mn := NewMultiNotifier(failing, healthy)

	err := mn.SendTradeAlert(context.Background(), TradeAlert{Wallet: "w"})
	if !errors.Is(err, sendErr) {
		t.Errorf("expected joined send error, got %v", err)
	}
	if len(healthy.alerts) != 1 {
		t.Error("healthy notifier should still receive the alert")
	}
}

func TestMultiNotifier_Close_MultipleErrors(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")
	mock1 := &mockNotifier{closeErr: err1}
	mock2 := &mockNotifier{closeErr: err2}

	err := NewMultiNotifier(mock1, mock2).Close()

	if !errors.Is(err, err1) || !errors.Is(err, err2) {
		t.Errorf("expected both errors, got %v", err)
	}
	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("expected both notifiers to be closed")
	}
}

func TestTradeAlert_Summary(t *testing.T) {
	tests := []struct {
		name     string
		alert    TradeAlert
		expected string
	}{
		{
			name:     "buy",
			alert:    TradeAlert{Side: "buy", Size: 10000, Price: 0.6, Notional: 6000},
			expected: "bought 10000.00 @ 0.600 ($6000.00)",
		},
		{
			name:     "sell rounds",
			alert:    TradeAlert{Side: "sell", Size: 12345.678, Price: 0.4567, Notional: 5638.271},
			expected: "sold 12345.68 @ 0.457 ($5638.27)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.alert.Summary(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
