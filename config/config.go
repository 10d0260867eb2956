package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration. It is built once at startup and
// passed by pointer to every component.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Polymarket  PolymarketConfig  `json:"polymarket"`
	Ingest      IngestConfig      `json:"ingest"`
	Leaderboard LeaderboardConfig `json:"leaderboard"`
	Telegram    TelegramConfig    `json:"telegram"`
	Discord     DiscordConfig     `json:"discord"`
	Websocket   WebsocketConfig   `json:"websocket"`
	Log         LogConfig         `json:"log"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// ShutdownTimeout bounds how long in-flight requests may drain on exit.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type PolymarketConfig struct {
	GammaAPIURL  string `json:"gamma_api_url"`
	DataAPIURL   string `json:"data_api_url"`
	ClobRestURL  string `json:"clob_rest_url"`
	ClobWSURL    string `json:"clob_ws_url"`
	RequestRetry int    `json:"request_retry"`
	// RequestTimeout applies per attempt, not to the whole retried call.
	RequestTimeout time.Duration `json:"request_timeout"`
}

type IngestConfig struct {
	PollInterval          time.Duration `json:"poll_interval"`
	MarketRefreshInterval time.Duration `json:"market_refresh_interval"`
	MarketPageSize        int           `json:"market_page_size"`
	TradeBatchSize        int           `json:"trade_batch_size"`
	AlertMinNotional      float64       `json:"alert_min_notional"`
}

type LeaderboardConfig struct {
	Windows  []float64     `json:"windows"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

type TelegramConfig struct {
	BotToken string `json:"-"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	BotToken  string `json:"-"`
	ChannelID string `json:"channel_id"`
}

type WebsocketConfig struct {
	Enabled        bool          `json:"enabled"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4000,
			ShutdownTimeout: 5 * time.Second,
		},
		Polymarket: PolymarketConfig{
			GammaAPIURL:    "https://gamma-api.polymarket.com",
			DataAPIURL:     "https://data-api.polymarket.com",
			ClobRestURL:    "https://clob.polymarket.com",
			ClobWSURL:      "wss://clob.polymarket.com/ws",
			RequestRetry:   2,
			RequestTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			PollInterval:          5 * time.Second,
			MarketRefreshInterval: 10 * time.Minute,
			MarketPageSize:        200,
			TradeBatchSize:        200,
			AlertMinNotional:      5000,
		},
		Leaderboard: LeaderboardConfig{
			Windows:  []float64{24, 168, 720},
			CacheTTL: 60 * time.Second,
		},
		Websocket: WebsocketConfig{
			Enabled:        true,
			ReconnectDelay: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory. Unset or unparsable values fall
// back to Defaults.
func Load() *Config {
	_ = godotenv.Load()

	d := Defaults()
	return &Config{
		Server: ServerConfig{
			Host:            envString("HOST", d.Server.Host),
			Port:            envInt("PORT", d.Server.Port),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", d.Server.ShutdownTimeout),
		},
		Polymarket: PolymarketConfig{
			GammaAPIURL:    strings.TrimRight(envString("GAMMA_BASE_URL", d.Polymarket.GammaAPIURL), "/"),
			DataAPIURL:     strings.TrimRight(envString("DATA_API_BASE_URL", d.Polymarket.DataAPIURL), "/"),
			ClobRestURL:    strings.TrimRight(envString("CLOB_REST_BASE_URL", d.Polymarket.ClobRestURL), "/"),
			ClobWSURL:      envString("CLOB_WS_BASE_URL", d.Polymarket.ClobWSURL),
			RequestRetry:   envInt("REQUEST_RETRIES", d.Polymarket.RequestRetry),
			RequestTimeout: envDuration("REQUEST_TIMEOUT", d.Polymarket.RequestTimeout),
		},
		Ingest: IngestConfig{
			PollInterval:          envMillis("POLL_INTERVAL_MS", d.Ingest.PollInterval),
			MarketRefreshInterval: envDuration("MARKET_REFRESH_INTERVAL", d.Ingest.MarketRefreshInterval),
			MarketPageSize:        envInt("MARKET_PAGE_SIZE", d.Ingest.MarketPageSize),
			TradeBatchSize:        envInt("TRADE_BATCH_SIZE", d.Ingest.TradeBatchSize),
			AlertMinNotional:      envFloat("ALERT_MIN_NOTIONAL", d.Ingest.AlertMinNotional),
		},
		Leaderboard: LeaderboardConfig{
			Windows:  envWindows("LEADERBOARD_WINDOWS", d.Leaderboard.Windows),
			CacheTTL: envDuration("LEADERBOARD_CACHE_TTL", d.Leaderboard.CacheTTL),
		},
		Telegram: TelegramConfig{
			BotToken: envString("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   envString("TELEGRAM_ALERT_CHAT_ID", ""),
		},
		Discord: DiscordConfig{
			BotToken:  envString("DISCORD_BOT_TOKEN", ""),
			ChannelID: envString("DISCORD_ALERT_CHANNEL_ID", ""),
		},
		Websocket: WebsocketConfig{
			Enabled:        envBoolDefault("WEBSOCKET_ENABLED", d.Websocket.Enabled),
			ReconnectDelay: envDuration("WEBSOCKET_RECONNECT_DELAY", d.Websocket.ReconnectDelay),
		},
		Log: LogConfig{
			Level: strings.ToLower(envString("LOG_LEVEL", d.Log.Level)),
		},
	}
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// envMillis reads a plain integer number of milliseconds.
func envMillis(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// envWindows parses a comma separated list of hour windows, keeping only
// finite positive values. An empty result falls back to the default.
func envWindows(key string, defaultVal []float64) []float64 {
	parts := envStringSlice(key)
	if parts == nil {
		return defaultVal
	}
	windows := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			continue
		}
		windows = append(windows, f)
	}
	if len(windows) == 0 {
		return defaultVal
	}
	return windows
}
