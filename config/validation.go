package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateServer(&c.Server)...)
	errors = append(errors, validatePolymarket(&c.Polymarket)...)
	errors = append(errors, validateIngest(&c.Ingest)...)
	errors = append(errors, validateLeaderboard(&c.Leaderboard)...)
	errors = append(errors, validateWebsocket(&c.Websocket)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

// Error flattens the result into a single message.
func (r ValidationResult) Error() string {
	if r.Valid || len(r.Errors) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%d invalid config value(s):", len(r.Errors))
	for _, e := range r.Errors {
		msg += fmt.Sprintf(" %s %s;", e.Field, e.Message)
	}
	return msg
}

func validateServer(s *ServerConfig) []ValidationError {
	var errors []ValidationError

	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}
	if s.ShutdownTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout",
			Message: "must not be negative",
		})
	}

	return errors
}

func validatePolymarket(p *PolymarketConfig) []ValidationError {
	var errors []ValidationError

	for field, raw := range map[string]string{
		"polymarket.gamma_api_url": p.GammaAPIURL,
		"polymarket.data_api_url":  p.DataAPIURL,
		"polymarket.clob_rest_url": p.ClobRestURL,
		"polymarket.clob_ws_url":   p.ClobWSURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must be an absolute URL",
			})
		}
	}
	if p.RequestRetry < 0 || p.RequestRetry > 10 {
		errors = append(errors, ValidationError{
			Field:   "polymarket.request_retry",
			Message: "must be between 0 and 10",
		})
	}
	if p.RequestTimeout < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "polymarket.request_timeout",
			Message: "must be at least 100ms",
		})
	}

	return errors
}

func validateIngest(i *IngestConfig) []ValidationError {
	var errors []ValidationError

	if i.PollInterval < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "ingest.poll_interval",
			Message: "must be at least 100ms",
		})
	}
	if i.MarketRefreshInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "ingest.market_refresh_interval",
			Message: "must be at least 1 second",
		})
	}
	if i.MarketPageSize < 1 || i.MarketPageSize > 1000 {
		errors = append(errors, ValidationError{
			Field:   "ingest.market_page_size",
			Message: "must be between 1 and 1000",
		})
	}
	if i.TradeBatchSize < 1 || i.TradeBatchSize > 1000 {
		errors = append(errors, ValidationError{
			Field:   "ingest.trade_batch_size",
			Message: "must be between 1 and 1000",
		})
	}
	if i.AlertMinNotional <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.alert_min_notional",
			Message: "must be positive",
		})
	}

	return errors
}

func validateLeaderboard(l *LeaderboardConfig) []ValidationError {
	var errors []ValidationError

	if len(l.Windows) == 0 {
		errors = append(errors, ValidationError{
			Field:   "leaderboard.windows",
			Message: "must contain at least one window",
		})
	}
	for _, w := range l.Windows {
		if w <= 0 {
			errors = append(errors, ValidationError{
				Field:   "leaderboard.windows",
				Message: fmt.Sprintf("window %v must be positive", w),
			})
		}
	}
	if l.CacheTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "leaderboard.cache_ttl",
			Message: "must be positive",
		})
	}

	return errors
}

func validateWebsocket(w *WebsocketConfig) []ValidationError {
	var errors []ValidationError

	if w.Enabled && w.ReconnectDelay < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "websocket.reconnect_delay",
			Message: "must be at least 100ms",
		})
	}

	return errors
}
