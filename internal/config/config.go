package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Gateway GatewayConfig
	Chain   ChainConfig
	API     APIConfig
	Journal JournalConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Sentry  SentryConfig
	Sim     SimConfig
}

type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// GatewayConfig describes the brokerage endpoint. Mode "sim" runs the
// in-process paper gateway.
type GatewayConfig struct {
	Mode                 string        `envconfig:"GATEWAY_MODE" default:"sim"`
	Host                 string        `envconfig:"GATEWAY_HOST" default:"127.0.0.1"`
	Port                 int           `envconfig:"GATEWAY_PORT" default:"7496"`
	ClientID             int           `envconfig:"GATEWAY_CLIENT_ID" default:"1"`
	ConnectTimeout       time.Duration `envconfig:"GATEWAY_CONNECT_TIMEOUT" default:"10s"`
	AutoConnect          bool          `envconfig:"AUTO_CONNECT" default:"false"`
	AutoReconnect        bool          `envconfig:"AUTO_RECONNECT" default:"false"`
	ReconnectMaxAttempts int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
}

type ChainConfig struct {
	Symbol          string        `envconfig:"CHAIN_SYMBOL" default:"SPY"`
	Exchange        string        `envconfig:"CHAIN_EXCHANGE" default:"SMART"`
	Currency        string        `envconfig:"CHAIN_CURRENCY" default:"USD"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"1s"`
	StrikesAround   int           `envconfig:"STRIKES_AROUND" default:"10"`
	ExpiryDate      string        `envconfig:"EXPIRY_DATE"` // YYYYMMDD, empty = today's session
	Timezone        string        `envconfig:"MARKET_TIMEZONE" default:"America/New_York"`
	QuoteThrottle   time.Duration `envconfig:"QUOTE_THROTTLE" default:"50ms"`
	WaitFloor       time.Duration `envconfig:"QUOTE_WAIT_FLOOR" default:"500ms"`
	WaitPerContract time.Duration `envconfig:"QUOTE_WAIT_PER_CONTRACT" default:"50ms"`
}

// Location resolves the market timezone. Validate guarantees it loads.
func (c ChainConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type APIConfig struct {
	Host        string `envconfig:"API_HOST" default:"127.0.0.1"`
	Port        int    `envconfig:"API_PORT" default:"5000"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
}

func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type JournalConfig struct {
	Path    string `envconfig:"JOURNAL_PATH"`
	TapeDir string `envconfig:"TAPE_DIR"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Channel  string `envconfig:"REDIS_CHANNEL" default:"options_update"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"orders.events"`
}

type SentryConfig struct {
	DSN string `envconfig:"SENTRY_DSN"`
}

type SimConfig struct {
	UnderlyingPrice float64       `envconfig:"SIM_UNDERLYING_PRICE" default:"500"`
	StrikeStep      float64       `envconfig:"SIM_STRIKE_STEP" default:"1"`
	StrikeCount     int           `envconfig:"SIM_STRIKE_COUNT" default:"80"`
	QuoteLatency    time.Duration `envconfig:"SIM_QUOTE_LATENCY" default:"20ms"`
	Seed            int64         `envconfig:"SIM_SEED" default:"1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.Mode != "sim" {
		return fmt.Errorf("GATEWAY_MODE must be 'sim', got %q", c.Gateway.Mode)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("GATEWAY_PORT out of range: %d", c.Gateway.Port)
	}
	if c.Gateway.ConnectTimeout <= 0 {
		return fmt.Errorf("GATEWAY_CONNECT_TIMEOUT must be positive")
	}
	if c.Chain.Symbol == "" {
		return fmt.Errorf("CHAIN_SYMBOL is required")
	}
	if c.Chain.RefreshInterval < 100*time.Millisecond {
		return fmt.Errorf("REFRESH_INTERVAL must be at least 100ms, got %s", c.Chain.RefreshInterval)
	}
	if c.Chain.StrikesAround < 0 {
		return fmt.Errorf("STRIKES_AROUND must not be negative, got %d", c.Chain.StrikesAround)
	}
	if c.Chain.ExpiryDate != "" {
		if _, err := time.Parse("20060102", c.Chain.ExpiryDate); err != nil {
			return fmt.Errorf("EXPIRY_DATE must be YYYYMMDD, got %q", c.Chain.ExpiryDate)
		}
	}
	if _, err := time.LoadLocation(c.Chain.Timezone); err != nil {
		return fmt.Errorf("MARKET_TIMEZONE %q: %w", c.Chain.Timezone, err)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.API.Port)
	}
	if c.Sim.UnderlyingPrice <= 0 || c.Sim.StrikeStep <= 0 || c.Sim.StrikeCount <= 0 {
		return fmt.Errorf("SIM_UNDERLYING_PRICE, SIM_STRIKE_STEP and SIM_STRIKE_COUNT must be positive")
	}
	return nil
}
