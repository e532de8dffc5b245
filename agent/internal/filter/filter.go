package filter

import (
	"fmt"
	"time"

	"migration-agent/agent/internal/models"
	"migration-agent/shared/config"
)

// Criteria is the immutable filter policy for one pipeline run.
type Criteria struct {
	MinMarketCap float64
	MaxMarketCap float64
	MinVolume    float64
	Start        time.Time
	End          time.Time
}

// FromConfig snapshots the filter section. Start and End are midnight UTC of the configured dates.
func FromConfig(cfg config.FilterConfig) (Criteria, error) {
	start, end, err := cfg.Window()
	if err != nil {
		return Criteria{}, err
	}
	if start.After(end) {
		return Criteria{}, fmt.Errorf("filter window %s > %s: %w", cfg.StartDate, cfg.EndDate, config.ErrInvalidValue)
	}
	if cfg.MinMarketCap > cfg.MaxMarketCap {
		return Criteria{}, fmt.Errorf("filter market cap range: %w", config.ErrInvalidValue)
	}
	return Criteria{
		MinMarketCap: cfg.MinMarketCap,
		MaxMarketCap: cfg.MaxMarketCap,
		MinVolume:    cfg.MinVolume,
		Start:        start,
		End:          end,
	}, nil
}

// Passes evaluates every rule against the candidate. It has no side effects; the reason is
// empty when the coin passes.
func (c Criteria) Passes(coin *models.Coin) (bool, string) {
	if coin == nil {
		return false, "nil coin"
	}
	// NaN fails both bounds
	if !(coin.MarketCap >= c.MinMarketCap && coin.MarketCap <= c.MaxMarketCap) {
		return false, fmt.Sprintf("market cap %.2f outside [%.2f, %.2f]", coin.MarketCap, c.MinMarketCap, c.MaxMarketCap)
	}
	if !(coin.Volume >= c.MinVolume) {
		return false, fmt.Sprintf("volume %.2f below %.2f", coin.Volume, c.MinVolume)
	}
	if coin.MigrationTimestamp.IsZero() {
		return false, "missing migration date"
	}
	ts := coin.MigrationTimestamp.UTC()
	if ts.Before(c.Start) || ts.After(c.End) {
		return false, fmt.Sprintf("migration %s outside window %s..%s",
			ts.Format(time.RFC3339), c.Start.Format(config.DateLayout), c.End.Format(config.DateLayout))
	}
	return true, ""
}
