// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Trading     TradingConfig     `yaml:"trading"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Clock       ClockConfig       `yaml:"clock"`
	Notify      NotifyConfig      `yaml:"notify"`
	Audit       AuditConfig       `yaml:"audit"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name  string `yaml:"name"`
	Venue string `yaml:"venue"` // binance | mock
	// DryRun forces the in-memory paper venue regardless of Venue
	DryRun bool `yaml:"dry_run"`
}

// ExchangeConfig contains venue credentials and transport settings
type ExchangeConfig struct {
	APIKey         Secret        `yaml:"api_key"`
	SecretKey      Secret        `yaml:"secret_key"`
	BaseURL        string        `yaml:"base_url"`    // REST override
	WSBaseURL      string        `yaml:"ws_base_url"` // kline stream override
	RecvWindowMs   int64         `yaml:"recv_window_ms"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second
	RateBurst      int           `yaml:"rate_burst"`
}

// TradingConfig contains the process parameterization
type TradingConfig struct {
	Symbol       string        `yaml:"symbol"`
	Timeframe    string        `yaml:"timeframe"`
	Leverage     int           `yaml:"leverage"`
	TradeAmount  float64       `yaml:"trade_amount"` // quote asset per trade
	Strategy     string        `yaml:"strategy"`
	TickInterval time.Duration `yaml:"tick_interval"`
	BarLimit     int           `yaml:"bar_limit"`
}

// ExecutionConfig tunes the order saga, healer and reconciliation
type ExecutionConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	PriceAdjustment   float64       `yaml:"price_adjustment"`
	FillCheckInterval time.Duration `yaml:"fill_check_interval"`
	FillMaxWait       time.Duration `yaml:"fill_max_wait"`
	VerifyDelay       time.Duration `yaml:"verify_delay"`
	PositionTolerance float64       `yaml:"position_tolerance"`
	HealerDelay       time.Duration `yaml:"healer_delay"`
	HealerTPPct       float64       `yaml:"healer_tp_pct"`
	HealerSLPct       float64       `yaml:"healer_sl_pct"`

	// Zero values fall back to the strategy variant's defaults
	TakeProfitPct     float64       `yaml:"take_profit_pct"`
	StopLossPct       float64       `yaml:"stop_loss_pct"`
	ConfirmationDelay time.Duration `yaml:"confirmation_delay"`
}

// ClockConfig contains server time sync settings
type ClockConfig struct {
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// NotifyConfig contains notification channel settings. Empty channels are disabled.
type NotifyConfig struct {
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	TelegramBaseURL  string `yaml:"telegram_base_url"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
}

// AuditConfig contains trade audit persistence settings
type AuditConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	HealerPoolSize   int `yaml:"healer_pool_size"`
	HealerPoolBuffer int `yaml:"healer_pool_buffer"`
	AlertPoolSize    int `yaml:"alert_pool_size"`
	AlertPoolBuffer  int `yaml:"alert_pool_buffer"`
}

// Overrides carries command-line values that take precedence over the file
type Overrides struct {
	Symbol      string
	Timeframe   string
	Leverage    int
	TradeAmount float64
	Strategy    string
	LogLevel    string
	Venue       string
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// ValidationErrors aggregates every failed check
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("configuration validation failed:\n%s", strings.Join(msgs, "\n"))
}

// Has reports whether field failed validation
func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

var (
	validVenues     = []string{"binance", "mock"}
	validStrategies = []string{"atr", "psar_atr", "eralp", "skorlama"}
	validLevels     = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	timeframeRe     = regexp.MustCompile(`^[1-9][0-9]*[mhd]$`)
)

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	return Load(filename, Overrides{})
}

// Load reads filename over DefaultConfig, applies overrides and validates.
// A .env file next to the config (or in the working directory) is loaded first;
// variables already set in the environment win. An empty filename uses defaults only.
func Load(filename string, o Overrides) (*Config, error) {
	if err := loadDotEnv(filename); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(filename string) error {
	candidates := []string{".env"}
	if filename != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(filename), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// ApplyEnv fills unset credentials from the conventional environment variables
func (c *Config) ApplyEnv() {
	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = Secret(os.Getenv("BINANCE_API_KEY"))
	}
	if c.Exchange.SecretKey == "" {
		c.Exchange.SecretKey = Secret(os.Getenv("BINANCE_SECRET_KEY"))
	}
	if c.Notify.TelegramBotToken == "" {
		c.Notify.TelegramBotToken = Secret(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	if c.Notify.TelegramChatID == "" {
		c.Notify.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
}

// ApplyOverrides copies every non-zero override into the config
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Symbol != "" {
		c.Trading.Symbol = strings.ToUpper(o.Symbol)
	}
	if o.Timeframe != "" {
		c.Trading.Timeframe = o.Timeframe
	}
	if o.Leverage != 0 {
		c.Trading.Leverage = o.Leverage
	}
	if o.TradeAmount != 0 {
		c.Trading.TradeAmount = o.TradeAmount
	}
	if o.Strategy != "" {
		c.Trading.Strategy = o.Strategy
	}
	if o.LogLevel != "" {
		c.System.LogLevel = strings.ToUpper(o.LogLevel)
	}
	if o.Venue != "" {
		c.App.Venue = o.Venue
	}
}

// UsesPaperVenue reports whether the engine runs against the in-memory venue
func (c *Config) UsesPaperVenue() bool {
	return c.App.DryRun || c.App.Venue == "mock"
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !contains(validVenues, c.App.Venue) {
		add("app.venue", c.App.Venue, fmt.Sprintf("must be one of: %s", strings.Join(validVenues, ", ")))
	}
	if !c.UsesPaperVenue() {
		if c.Exchange.APIKey == "" {
			add("exchange.api_key", "", "API key is required")
		}
		if c.Exchange.SecretKey == "" {
			add("exchange.secret_key", "", "secret key is required")
		}
	}
	if c.Exchange.RecvWindowMs <= 0 || c.Exchange.RecvWindowMs > 60000 {
		add("exchange.recv_window_ms", c.Exchange.RecvWindowMs, "must be in (0, 60000]")
	}
	if c.Exchange.RequestTimeout <= 0 {
		add("exchange.request_timeout", c.Exchange.RequestTimeout, "must be positive")
	}
	if c.Exchange.RateLimit <= 0 {
		add("exchange.rate_limit", c.Exchange.RateLimit, "must be positive")
	}

	if c.Trading.Symbol == "" {
		add("trading.symbol", c.Trading.Symbol, "trading symbol is required")
	}
	if !timeframeRe.MatchString(c.Trading.Timeframe) {
		add("trading.timeframe", c.Trading.Timeframe, "must look like 15m, 1h or 1d")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		add("trading.leverage", c.Trading.Leverage, "must be between 1 and 125")
	}
	if c.Trading.TradeAmount <= 0 {
		add("trading.trade_amount", c.Trading.TradeAmount, "trade amount must be positive")
	}
	if !contains(validStrategies, c.Trading.Strategy) {
		add("trading.strategy", c.Trading.Strategy, fmt.Sprintf("must be one of: %s", strings.Join(validStrategies, ", ")))
	}
	if c.Trading.TickInterval < time.Second {
		add("trading.tick_interval", c.Trading.TickInterval, "must be at least 1s")
	}
	if c.Trading.BarLimit < 30 || c.Trading.BarLimit > 1500 {
		add("trading.bar_limit", c.Trading.BarLimit, "must be between 30 and 1500")
	}

	e := c.Execution
	if e.MaxRetries < 1 {
		add("execution.max_retries", e.MaxRetries, "must be at least 1")
	}
	if e.RetryDelay < 0 {
		add("execution.retry_delay", e.RetryDelay, "must not be negative")
	}
	if e.PriceAdjustment < 0 || e.PriceAdjustment >= 0.01 {
		add("execution.price_adjustment", e.PriceAdjustment, "must be in [0, 0.01)")
	}
	if e.FillCheckInterval <= 0 || e.FillMaxWait < e.FillCheckInterval {
		add("execution.fill_max_wait", e.FillMaxWait, "must be at least fill_check_interval, which must be positive")
	}
	if e.PositionTolerance <= 0 {
		add("execution.position_tolerance", e.PositionTolerance, "must be positive")
	}
	if e.HealerDelay <= 0 {
		add("execution.healer_delay", e.HealerDelay, "must be positive")
	}
	for field, pct := range map[string]float64{
		"execution.healer_tp_pct":   e.HealerTPPct,
		"execution.healer_sl_pct":   e.HealerSLPct,
		"execution.take_profit_pct": e.TakeProfitPct,
		"execution.stop_loss_pct":   e.StopLossPct,
	} {
		if pct < 0 || pct >= 1 {
			add(field, pct, "must be in [0, 1)")
		}
	}

	if c.Clock.SyncInterval <= 0 {
		add("clock.sync_interval", c.Clock.SyncInterval, "must be positive")
	}
	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify.telegram_chat_id", c.Notify.TelegramChatID, "telegram needs both bot token and chat id")
	}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		add("system.log_level", c.System.LogLevel, fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")))
	}
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535) {
		add("telemetry.metrics_port", c.Telemetry.MetricsPort, "must be a valid TCP port")
	}
	if c.Concurrency.HealerPoolSize < 1 {
		add("concurrency.healer_pool_size", c.Concurrency.HealerPoolSize, "must be at least 1")
	}
	if c.Concurrency.AlertPoolSize < 1 {
		add("concurrency.alert_pool_size", c.Concurrency.AlertPoolSize, "must be at least 1")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// String returns a YAML rendering with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the production defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:  "signalbot",
			Venue: "binance",
		},
		Exchange: ExchangeConfig{
			RecvWindowMs:   10000,
			RequestTimeout: 10 * time.Second,
			RateLimit:      20,
			RateBurst:      30,
		},
		Trading: TradingConfig{
			Symbol:       "BTCUSDT",
			Timeframe:    "1h",
			Leverage:     10,
			TradeAmount:  100,
			Strategy:     "atr",
			TickInterval: 30 * time.Second,
			BarLimit:     100,
		},
		Execution: ExecutionConfig{
			MaxRetries:        3,
			RetryDelay:        2 * time.Second,
			PriceAdjustment:   0.0001,
			FillCheckInterval: 5 * time.Second,
			FillMaxWait:       30 * time.Second,
			VerifyDelay:       10 * time.Second,
			PositionTolerance: 0.00001,
			HealerDelay:       60 * time.Second,
			HealerTPPct:       0.005,
			HealerSLPct:       0.02,
		},
		Clock: ClockConfig{
			SyncInterval: 3 * time.Minute,
		},
		Audit: AuditConfig{
			Path: "signalbot_audit.db",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			HealerPoolSize:   2,
			HealerPoolBuffer: 16,
			AlertPoolSize:    2,
			AlertPoolBuffer:  64,
		},
	}
}
