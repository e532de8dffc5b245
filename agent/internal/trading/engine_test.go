package trading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"migration-agent/agent/internal/models"
	"migration-agent/shared/config"
	"migration-agent/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCoins []models.Coin

func (m memCoins) CoinsByIDs(_ context.Context, ids []uint) ([]models.Coin, error) {
	want := make(map[uint]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Coin
	for _, c := range m {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

type memActions struct {
	mu      sync.Mutex
	actions []models.TradeAction
}

func (m *memActions) SaveTradeAction(_ context.Context, a *models.TradeAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, *a)
	return nil
}

type fakeChannel struct {
	mu       sync.Mutex
	commands []string
	notes    []string
	failFor  map[string]bool
}

func (f *fakeChannel) SendCommand(_ context.Context, recipient int64, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[command] {
		return errors.New("bot offline")
	}
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeChannel) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
	return nil
}

type setBlacklist map[string]bool

func (s setBlacklist) Contains(kind models.BlacklistKind, value string) bool {
	return s[string(kind)+":"+value]
}

func settings() Settings {
	return Settings{PositiveThreshold: 0.5, NegativeThreshold: -0.5, TradeAmount: 0.25, Recipient: 99, SkipBlacklisted: true}
}

func TestDecide(t *testing.T) {
	s := settings()
	tests := []struct {
		mean   float64
		side   models.TradeSide
		action bool
	}{
		{0.8, models.SideBuy, true},
		{0.5, models.SideBuy, true},
		{0.49, "", false},
		{-0.49, "", false},
		{-0.5, models.SideSell, true},
		{-0.6, models.SideSell, true},
	}
	for _, tt := range tests {
		side, ok := Decide(tt.mean, s)
		assert.Equal(t, tt.action, ok, "mean %v", tt.mean)
		assert.Equal(t, tt.side, side, "mean %v", tt.mean)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	_, err := SettingsFromConfig(config.TradingConfig{PositiveThreshold: 0.1, NegativeThreshold: 0.2, TradeAmount: 1})
	assert.ErrorIs(t, err, config.ErrInvalidValue)

	_, err = SettingsFromConfig(config.TradingConfig{PositiveThreshold: 0.5, NegativeThreshold: -0.5})
	assert.ErrorIs(t, err, config.ErrMissingField)

	s, err := SettingsFromConfig(config.TradingConfig{PositiveThreshold: 0.5, NegativeThreshold: -0.5, TradeAmount: 2, RecipientChatID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.Recipient)
}

func TestRun_BuyAndSell(t *testing.T) {
	coins := memCoins{
		{ID: 1, Symbol: "PEPE"},
		{ID: 2, Symbol: "RUG"},
		{ID: 3, Symbol: "MEH"},
	}
	actions := &memActions{}
	ch := &fakeChannel{}
	e := NewEngine(coins, actions, setBlacklist{}, ch, settings(), 2, logger.NewNop())

	res, out, err := e.Run(context.Background(), map[uint]float64{1: 0.8, 2: -0.6, 3: 0.1})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 1, res.Buys)
	assert.Equal(t, 1, res.Sells)
	assert.Equal(t, 2, res.Dispatched)
	assert.ElementsMatch(t, []string{"/buy PEPE 0.25", "/sell RUG 0.25"}, ch.commands)
	assert.Len(t, ch.notes, 2)
	assert.Len(t, out, 2)
	assert.Len(t, actions.actions, 2)
}

func TestRun_OneActionPerSymbol(t *testing.T) {
	coins := memCoins{{ID: 1, Symbol: "PEPE"}, {ID: 2, Symbol: "PEPE"}}
	ch := &fakeChannel{}
	e := NewEngine(coins, &memActions{}, nil, ch, settings(), 2, logger.NewNop())

	res, _, err := e.Run(context.Background(), map[uint]float64{1: 0.8, 2: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buys)
	assert.Equal(t, []string{"/buy PEPE 0.25"}, ch.commands)
}

func TestRun_SkipsBlacklisted(t *testing.T) {
	coins := memCoins{
		{ID: 1, Symbol: "SCAM"},
		{ID: 2, Symbol: "DEV", DeveloperID: "dev-bad"},
		{ID: 3, Symbol: "OK", DeveloperID: models.UnknownValue},
	}
	bl := setBlacklist{"coin:SCAM": true, "developer:dev-bad": true}
	ch := &fakeChannel{}
	e := NewEngine(coins, &memActions{}, bl, ch, settings(), 1, logger.NewNop())

	res, _, err := e.Run(context.Background(), map[uint]float64{1: 0.9, 2: 0.9, 3: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SkippedBlacklisted)
	assert.Equal(t, []string{"/buy OK 0.25"}, ch.commands)
}

func TestRun_DispatchFailureDoesNotBlockOthers(t *testing.T) {
	coins := memCoins{{ID: 1, Symbol: "A"}, {ID: 2, Symbol: "B"}}
	actions := &memActions{}
	ch := &fakeChannel{failFor: map[string]bool{"/buy A 0.25": true}}
	e := NewEngine(coins, actions, nil, ch, settings(), 1, logger.NewNop())

	res, _, err := e.Run(context.Background(), map[uint]float64{1: 0.9, 2: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, res.DispatchFailed)
	assert.Equal(t, []string{"/buy B 0.25"}, ch.commands)

	require.Len(t, ch.notes, 2)
	var failedNotes int
	for _, note := range ch.notes {
		if strings.Contains(note, "failed: bot offline") {
			failedNotes++
			assert.Contains(t, note, "Symbol: A")
		}
	}
	assert.Equal(t, 1, failedNotes)

	require.Len(t, actions.actions, 2)
	for _, a := range actions.actions {
		if a.Symbol == "A" {
			assert.False(t, a.Dispatched)
			assert.Equal(t, "bot offline", a.Error)
		} else {
			assert.True(t, a.Dispatched)
		}
	}
}

func TestRun_NoChannel(t *testing.T) {
	actions := &memActions{}
	e := NewEngine(memCoins{{ID: 1, Symbol: "A"}}, actions, nil, nil, settings(), 1, logger.NewNop())

	res, _, err := e.Run(context.Background(), map[uint]float64{1: -0.9})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DispatchFailed)
	require.Len(t, actions.actions, 1)
	assert.Equal(t, ErrNoChannel.Error(), actions.actions[0].Error)
}
