package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DateLayout is the layout of the filter date window bounds.
const DateLayout = "2006-01-02"

// ErrMissingField is returned by Validate when a required setting is absent.
var ErrMissingField = errors.New("missing required config field")

// ErrInvalidValue is returned by Validate when a setting is present but unusable.
var ErrInvalidValue = errors.New("invalid config value")

type APIConfig struct {
	CoinFeedURL   string        `mapstructure:"coin_feed_url"`
	SocialFeedURL string        `mapstructure:"social_feed_url"`
	VerifierURL   string        `mapstructure:"verifier_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

type FilterConfig struct {
	MinMarketCap float64 `mapstructure:"min_market_cap"`
	MaxMarketCap float64 `mapstructure:"max_market_cap"`
	MinVolume    float64 `mapstructure:"min_volume"`
	StartDate    string  `mapstructure:"start_date"`
	EndDate      string  `mapstructure:"end_date"`
}

// Window parses the date bounds as midnight UTC.
func (f FilterConfig) Window() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, f.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("filter.start_date %q: %w", f.StartDate, ErrInvalidValue)
	}
	end, err := time.ParseInLocation(DateLayout, f.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("filter.end_date %q: %w", f.EndDate, ErrInvalidValue)
	}
	return start, end, nil
}

type TradingConfig struct {
	PositiveThreshold float64 `mapstructure:"positive_threshold"`
	NegativeThreshold float64 `mapstructure:"negative_threshold"`
	TradeAmount       float64 `mapstructure:"trade_amount"`
	RecipientChatID   int64   `mapstructure:"recipient_chat_id"`
	SkipBlacklisted   bool    `mapstructure:"skip_blacklisted"`
}

type VerificationConfig struct {
	RequireGoodContract   bool   `mapstructure:"require_good_contract"`
	CheckSupplyBundling   bool   `mapstructure:"check_supply_bundling"`
	BundledSupplyAction   string `mapstructure:"bundled_supply_action"`
	ValidateSolanaAddress bool   `mapstructure:"validate_solana_address"`
}

type BlacklistConfig struct {
	Coins         []string `mapstructure:"coins"`
	Developers    []string `mapstructure:"developers"`
	SocialHandles []string `mapstructure:"social_handles"`
}

type TelegramConfig struct {
	BotToken         string  `mapstructure:"bot_token"`
	GroupID          int64   `mapstructure:"group_id"`
	SystemLogsChatID int64   `mapstructure:"system_logs_chat_id"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
}

type PipelineConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Workers         int           `mapstructure:"workers"`
	SocialPostLimit int           `mapstructure:"social_post_limit"`
}

// Config defines the global configuration structure
type Config struct {
	App struct {
		Port        string `mapstructure:"port"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	API          APIConfig          `mapstructure:"api"`
	Filter       FilterConfig       `mapstructure:"filter"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Verification VerificationConfig `mapstructure:"verification"`
	Blacklist    BlacklistConfig    `mapstructure:"blacklist"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`

	// SocialHandles maps a coin symbol to its social handle. Keys are stored lower-cased.
	SocialHandles map[string]string `mapstructure:"social_handles"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("pipeline.interval", 10*time.Minute)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.social_post_limit", 100)
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_retries", 1)
	v.SetDefault("api.rate_per_second", 5.0)
	v.SetDefault("trading.skip_blacklisted", true)
	v.SetDefault("verification.bundled_supply_action", "notify")
	v.SetDefault("verification.validate_solana_address", true)
	v.SetDefault("telegram.rate_per_second", 1.0)
}

// LoadConfig loads configuration from the specified file path and merges it with environment variables
func LoadConfig(path string) (*Config, error) {
	log.Printf("Starting to load configuration from file: %s", path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.BindEnv("app.port", "PORT")
	v.BindEnv("app.environment", "APP_ENV")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("api.api_key", "API_KEY")
	v.BindEnv("api.coin_feed_url", "COIN_FEED_URL")
	v.BindEnv("api.social_feed_url", "SOCIAL_FEED_URL")
	v.BindEnv("api.verifier_url", "VERIFIER_URL")
	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.group_id", "TELEGRAM_GROUP_ID")
	v.BindEnv("telegram.system_logs_chat_id", "SYSTEM_LOGS_CHAT_ID")
	v.BindEnv("trading.recipient_chat_id", "TRADE_RECIPIENT_CHAT_ID")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Printf("Error unmarshalling configuration: %v", err)
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	handles := make(map[string]string, len(cfg.SocialHandles))
	for symbol, handle := range cfg.SocialHandles {
		handles[strings.ToLower(symbol)] = handle
	}
	cfg.SocialHandles = handles

	log.Printf("Loaded configuration from file: %s (%d config keys)", path, len(v.AllKeys()))
	return &cfg, nil
}

// SocialHandleFor resolves a symbol through the side mapping. The lookup ignores case.
func (c *Config) SocialHandleFor(symbol string) (string, bool) {
	handle, ok := c.SocialHandles[strings.ToLower(symbol)]
	if !ok || handle == "" {
		return "", false
	}
	return handle, true
}

// Validate checks the settings consumed at run start.
func (c *Config) Validate() error {
	var errs []error
	if c.API.CoinFeedURL == "" {
		errs = append(errs, fmt.Errorf("api.coin_feed_url: %w", ErrMissingField))
	}
	if c.API.SocialFeedURL == "" {
		errs = append(errs, fmt.Errorf("api.social_feed_url: %w", ErrMissingField))
	}
	if c.API.VerifierURL == "" {
		errs = append(errs, fmt.Errorf("api.verifier_url: %w", ErrMissingField))
	}
	if err := c.ValidateFilter(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ValidateTrading(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateFilter checks the filter policy on its own so the ingestion stage can fail alone.
func (c *Config) ValidateFilter() error {
	if c.Filter.StartDate == "" || c.Filter.EndDate == "" {
		return fmt.Errorf("filter.start_date/end_date: %w", ErrMissingField)
	}
	start, end, err := c.Filter.Window()
	if err != nil {
		return err
	}
	if start.After(end) {
		return fmt.Errorf("filter window %s > %s: %w", c.Filter.StartDate, c.Filter.EndDate, ErrInvalidValue)
	}
	if c.Filter.MinMarketCap > c.Filter.MaxMarketCap {
		return fmt.Errorf("filter market cap range [%.2f, %.2f]: %w", c.Filter.MinMarketCap, c.Filter.MaxMarketCap, ErrInvalidValue)
	}
	return nil
}

// ValidateTrading checks the decision thresholds. They must not overlap so a coin can
// never trigger both a buy and a sell.
func (c *Config) ValidateTrading() error {
	if c.Trading.TradeAmount <= 0 {
		return fmt.Errorf("trading.trade_amount: %w", ErrMissingField)
	}
	if c.Trading.PositiveThreshold <= c.Trading.NegativeThreshold {
		return fmt.Errorf("trading thresholds overlap (positive %.2f <= negative %.2f): %w",
			c.Trading.PositiveThreshold, c.Trading.NegativeThreshold, ErrInvalidValue)
	}
	return nil
}
