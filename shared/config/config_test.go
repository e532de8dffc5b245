package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  port: "9090"
pipeline:
  interval: 5m
  workers: 8
api:
  coin_feed_url: "https://feed.example/coins"
  social_feed_url: "https://feed.example/tweets"
  verifier_url: "https://verify.example/check"
  api_key: "file-key"
filter:
  min_market_cap: 10000
  max_market_cap: 500000
  min_volume: 1000
  start_date: "2024-01-01"
  end_date: "2024-12-31"
trading:
  positive_threshold: 0.5
  negative_threshold: -0.5
  trade_amount: 0.25
verification:
  require_good_contract: true
  check_supply_bundling: true
  bundled_supply_action: blacklist
social_handles:
  PEPE: "@pepecoin"
  WIF: "@dogwifcoin"
blacklist:
  coins: ["SCAM"]
  developers: ["dev-bad"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("API_KEY", "env-key")
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 100, cfg.Pipeline.SocialPostLimit)
	assert.Equal(t, "env-key", cfg.API.APIKey)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 1, cfg.API.MaxRetries)
	assert.True(t, cfg.Trading.SkipBlacklisted)
	assert.True(t, cfg.Verification.ValidateSolanaAddress)
	assert.Equal(t, "blacklist", cfg.Verification.BundledSupplyAction)
	assert.Equal(t, []string{"SCAM"}, cfg.Blacklist.Coins)
	require.NoError(t, cfg.Validate())

	handle, ok := cfg.SocialHandleFor("PEPE")
	assert.True(t, ok)
	assert.Equal(t, "@pepecoin", handle)
	_, ok = cfg.SocialHandleFor("BONK")
	assert.False(t, ok)

	start, end, err := cfg.Filter.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), end)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.API = APIConfig{CoinFeedURL: "a", SocialFeedURL: "b", VerifierURL: "c"}
		cfg.Filter = FilterConfig{MinMarketCap: 1, MaxMarketCap: 2, StartDate: "2024-01-01", EndDate: "2024-02-01"}
		cfg.Trading = TradingConfig{PositiveThreshold: 0.5, NegativeThreshold: -0.5, TradeAmount: 1}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing feed url", mutate: func(c *Config) { c.API.CoinFeedURL = "" }, wantErr: ErrMissingField},
		{name: "missing dates", mutate: func(c *Config) { c.Filter.EndDate = "" }, wantErr: ErrMissingField},
		{name: "bad date", mutate: func(c *Config) { c.Filter.StartDate = "01/01/2024" }, wantErr: ErrInvalidValue},
		{name: "inverted window", mutate: func(c *Config) { c.Filter.StartDate = "2024-03-01" }, wantErr: ErrInvalidValue},
		{name: "inverted cap range", mutate: func(c *Config) { c.Filter.MinMarketCap = 5 }, wantErr: ErrInvalidValue},
		{name: "overlapping thresholds", mutate: func(c *Config) { c.Trading.NegativeThreshold = 0.6 }, wantErr: ErrInvalidValue},
		{name: "zero trade amount", mutate: func(c *Config) { c.Trading.TradeAmount = 0 }, wantErr: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
