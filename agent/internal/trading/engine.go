package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"migration-agent/agent/internal/models"
	"migration-agent/shared/config"
	"migration-agent/shared/logger"
	"migration-agent/shared/notifications"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoChannel is recorded on actions decided while no command channel is configured.
var ErrNoChannel = errors.New("command channel not configured")

type CoinSource interface {
	CoinsByIDs(ctx context.Context, ids []uint) ([]models.Coin, error)
}

type ActionStore interface {
	SaveTradeAction(ctx context.Context, action *models.TradeAction) error
}

type Blacklist interface {
	Contains(kind models.BlacklistKind, value string) bool
}

// CommandChannel delivers trade commands and notifications.
type CommandChannel interface {
	SendCommand(ctx context.Context, recipient int64, command string) error
	Notify(ctx context.Context, markdown string) error
}

type Settings struct {
	PositiveThreshold float64
	NegativeThreshold float64
	TradeAmount       float64
	Recipient         int64
	SkipBlacklisted   bool
}

func SettingsFromConfig(cfg config.TradingConfig) (Settings, error) {
	if cfg.TradeAmount <= 0 {
		return Settings{}, fmt.Errorf("trading.trade_amount: %w", config.ErrMissingField)
	}
	if cfg.PositiveThreshold <= cfg.NegativeThreshold {
		return Settings{}, fmt.Errorf("trading thresholds overlap: %w", config.ErrInvalidValue)
	}
	return Settings{
		PositiveThreshold: cfg.PositiveThreshold,
		NegativeThreshold: cfg.NegativeThreshold,
		TradeAmount:       cfg.TradeAmount,
		Recipient:         cfg.RecipientChatID,
		SkipBlacklisted:   cfg.SkipBlacklisted,
	}, nil
}

// Decide applies the threshold rule to one mean score.
func Decide(mean float64, s Settings) (models.TradeSide, bool) {
	switch {
	case mean >= s.PositiveThreshold:
		return models.SideBuy, true
	case mean <= s.NegativeThreshold:
		return models.SideSell, true
	default:
		return "", false
	}
}

type Result struct {
	Evaluated          int `json:"evaluated"`
	Buys               int `json:"buys"`
	Sells              int `json:"sells"`
	Dispatched         int `json:"dispatched"`
	DispatchFailed     int `json:"dispatchFailed"`
	SkippedBlacklisted int `json:"skippedBlacklisted"`
}

// Engine turns aggregated sentiment into trade commands.
type Engine struct {
	coins     CoinSource
	actions   ActionStore
	blacklist Blacklist
	channel   CommandChannel
	settings  Settings
	workers   int
	log       *logger.Logger
}

// NewEngine builds the engine. channel may be nil; actions are then persisted as undispatched.
func NewEngine(coins CoinSource, actions ActionStore, blacklist Blacklist, channel CommandChannel, settings Settings, workers int, appLogger *logger.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		coins:     coins,
		actions:   actions,
		blacklist: blacklist,
		channel:   channel,
		settings:  settings,
		workers:   workers,
		log:       appLogger,
	}
}

// Run evaluates every coin in means and dispatches at most one action per symbol. A failed
// dispatch is logged and recorded on its TradeAction; it never stops the other coins.
func (e *Engine) Run(ctx context.Context, means map[uint]float64) (Result, []models.TradeAction, error) {
	if len(means) == 0 {
		return Result{}, nil, nil
	}
	ids := make([]uint, 0, len(means))
	for id := range means {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	coins, err := e.coins.CoinsByIDs(ctx, ids)
	if err != nil {
		return Result{}, nil, fmt.Errorf("trade decision: %w", err)
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].ID < coins[j].ID })

	var res Result
	var pending []*models.TradeAction
	decided := make(map[string]bool)
	for i := range coins {
		coin := &coins[i]
		mean := means[coin.ID]
		res.Evaluated++

		if decided[coin.Symbol] {
			continue
		}
		if e.settings.SkipBlacklisted && e.isBlacklisted(coin) {
			res.SkippedBlacklisted++
			continue
		}
		side, ok := Decide(mean, e.settings)
		if !ok {
			continue
		}
		decided[coin.Symbol] = true
		if side == models.SideBuy {
			res.Buys++
		} else {
			res.Sells++
		}
		pending = append(pending, &models.TradeAction{
			CoinID:        coin.ID,
			Symbol:        coin.Symbol,
			Side:          side,
			Amount:        e.settings.TradeAmount,
			MeanSentiment: mean,
			Command:       notifications.FormatTradeCommand(string(side), coin.Symbol, e.settings.TradeAmount),
		})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, action := range pending {
		g.Go(func() error {
			e.dispatch(gctx, action)
			mu.Lock()
			if action.Dispatched {
				res.Dispatched++
			} else {
				res.DispatchFailed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.TradeAction, 0, len(pending))
	for _, a := range pending {
		out = append(out, *a)
	}
	e.log.Info("Trade decisions complete",
		zap.Int("evaluated", res.Evaluated), zap.Int("buys", res.Buys), zap.Int("sells", res.Sells),
		zap.Int("dispatched", res.Dispatched), zap.Int("dispatchFailed", res.DispatchFailed),
		zap.Int("skippedBlacklisted", res.SkippedBlacklisted))
	return res, out, nil
}

func (e *Engine) isBlacklisted(coin *models.Coin) bool {
	if e.blacklist == nil {
		return false
	}
	if e.blacklist.Contains(models.BlacklistCoin, coin.Symbol) {
		return true
	}
	if coin.HasDeveloper() && e.blacklist.Contains(models.BlacklistDeveloper, coin.DeveloperID) {
		return true
	}
	return coin.SocialHandle != "" && e.blacklist.Contains(models.BlacklistHandle, coin.SocialHandle)
}

func (e *Engine) dispatch(ctx context.Context, action *models.TradeAction) {
	fields := []interface{}{zap.String("symbol", action.Symbol), zap.String("command", action.Command)}

	var err error
	if e.channel == nil {
		err = ErrNoChannel
	} else {
		err = e.channel.SendCommand(ctx, e.settings.Recipient, action.Command)
	}
	if err != nil {
		action.Error = err.Error()
		e.log.Error("Failed to dispatch trade command", append(fields, zap.Error(err))...)
	} else {
		action.Dispatched = true
		e.log.Info("Trade command dispatched", fields...)
	}
	if e.channel != nil {
		e.notify(ctx, action)
	}

	if err := e.actions.SaveTradeAction(ctx, action); err != nil {
		e.log.Error("Failed to record trade action", append(fields, zap.Error(err))...)
	}
}

func (e *Engine) notify(ctx context.Context, action *models.TradeAction) {
	icon := "🟢"
	if action.Side == models.SideSell {
		icon = "🔴"
	}
	dispatch := "sent"
	if !action.Dispatched {
		icon = "⚠️"
		dispatch = "failed: " + action.Error
	}
	msg := fmt.Sprintf("%s *%s signal*\n\nSymbol: %s\nAmount: %s\nMean sentiment: %s\nCommand: %s",
		icon,
		notifications.EscapeMarkdownV2(string(action.Side)),
		notifications.EscapeMarkdownV2(action.Symbol),
		notifications.EscapeMarkdownV2(fmt.Sprintf("%g", action.Amount)),
		notifications.EscapeMarkdownV2(fmt.Sprintf("%.3f", action.MeanSentiment)),
		notifications.EscapeMarkdownV2(dispatch))
	if err := e.channel.Notify(ctx, msg); err != nil && !errors.Is(err, notifications.ErrNotConfigured) {
		e.log.Warn("Trade notification failed", zap.String("symbol", action.Symbol), zap.Error(err))
	}
}
