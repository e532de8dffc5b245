package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"migration-agent/agent/internal/models"
	"migration-agent/agent/internal/services"
	"migration-agent/shared/config"
	"migration-agent/shared/logger"
	"migration-agent/shared/notifications"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Bundled supply actions.
const (
	ActionBlacklist = "blacklist"
	ActionNotify    = "notify"
)

type CoinStore interface {
	UnverifiedCoins(ctx context.Context) ([]models.Coin, error)
	CommitVerification(ctx context.Context, coin *models.Coin, attempt *models.VerificationAttempt) error
}

type Verifier interface {
	Verify(ctx context.Context, contractAddress string) (*services.VerificationResult, error)
}

type Blacklister interface {
	Add(ctx context.Context, entries ...models.BlacklistEntry) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, markdown string) error
}

type Policy struct {
	RequireGoodContract bool
	CheckSupplyBundling bool
	BundledSupplyAction string
	ValidateAddress     bool
}

func PolicyFromConfig(cfg config.VerificationConfig) Policy {
	return Policy{
		RequireGoodContract: cfg.RequireGoodContract,
		CheckSupplyBundling: cfg.CheckSupplyBundling,
		BundledSupplyAction: strings.ToLower(strings.TrimSpace(cfg.BundledSupplyAction)),
		ValidateAddress:     cfg.ValidateSolanaAddress,
	}
}

// Result counts what one run of the workflow did.
type Result struct {
	Pending     int `json:"pending"`
	Good        int `json:"good"`
	Bad         int `json:"bad"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Blacklisted int `json:"blacklisted"`
	Notified    int `json:"notified"`
}

// Workflow drives Unverified coins to Good or Bad through the external verifier.
type Workflow struct {
	store     CoinStore
	verifier  Verifier
	blacklist Blacklister
	notifier  Notifier
	policy    Policy
	workers   int
	log       *logger.Logger
}

type tally struct {
	mu     sync.Mutex
	result Result
}

func (t *tally) add(f func(r *Result)) {
	t.mu.Lock()
	f(&t.result)
	t.mu.Unlock()
}

// NewWorkflow builds the workflow. notifier may be nil, in which case notify actions are
// only logged.
func NewWorkflow(store CoinStore, verifier Verifier, blacklist Blacklister, notifier Notifier, policy Policy, workers int, appLogger *logger.Logger) *Workflow {
	if workers < 1 {
		workers = 1
	}
	return &Workflow{
		store:     store,
		verifier:  verifier,
		blacklist: blacklist,
		notifier:  notifier,
		policy:    policy,
		workers:   workers,
		log:       appLogger,
	}
}

// Run verifies every Unverified coin. Coins are processed concurrently up to the worker
// limit; a failure on one coin is logged and counted without affecting the others. Only
// failing to list the pending coins is returned as an error.
func (w *Workflow) Run(ctx context.Context) (Result, error) {
	coins, err := w.store.UnverifiedCoins(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("verification: %w", err)
	}

	t := &tally{result: Result{Pending: len(coins)}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i := range coins {
		coin := &coins[i]
		g.Go(func() error {
			w.processCoin(gctx, coin, t)
			return nil
		})
	}
	_ = g.Wait()

	r := t.result
	w.log.Info("Verification stage complete",
		zap.Int("pending", r.Pending), zap.Int("good", r.Good), zap.Int("bad", r.Bad),
		zap.Int("skipped", r.Skipped), zap.Int("failed", r.Failed),
		zap.Int("blacklisted", r.Blacklisted), zap.Int("notified", r.Notified))
	return r, nil
}

func (w *Workflow) processCoin(ctx context.Context, coin *models.Coin, t *tally) {
	symbolField := zap.String("symbol", coin.Symbol)

	if coin.IsVerified() {
		t.add(func(r *Result) { r.Skipped++ })
		return
	}
	if !coin.HasContract() {
		w.log.Debug("Skipping verification, contract address unknown", symbolField)
		t.add(func(r *Result) { r.Skipped++ })
		return
	}
	if w.policy.ValidateAddress {
		if err := services.ValidateContractAddress(coin.ContractAddress); err != nil {
			w.log.Warn("Skipping verification, invalid contract address", symbolField, zap.Error(err))
			w.commit(ctx, coin, &models.VerificationAttempt{Status: models.StatusUnverified, Error: err.Error()})
			t.add(func(r *Result) { r.Skipped++ })
			return
		}
	}

	result, err := w.verifier.Verify(ctx, coin.ContractAddress)
	if err != nil {
		w.log.Warn("Verifier call failed", symbolField, zap.String("contract", coin.ContractAddress), zap.Error(err))
		w.commit(ctx, coin, &models.VerificationAttempt{Status: models.StatusUnverified, Error: err.Error()})
		t.add(func(r *Result) { r.Failed++ })
		return
	}

	status := StatusFor(result)
	attempt := &models.VerificationAttempt{
		Status:         status,
		ContractStatus: result.ContractStatus,
		SupplyBundled:  result.SupplyBundled,
	}
	if err := w.commit(ctx, coin, attempt); err != nil {
		t.add(func(r *Result) { r.Failed++ })
		return
	}
	if status == models.StatusGood {
		t.add(func(r *Result) { r.Good++ })
	} else {
		t.add(func(r *Result) { r.Bad++ })
	}
	w.log.Info("Coin verified", symbolField, zap.String("status", string(status)), zap.Bool("supplyBundled", result.SupplyBundled))

	w.applyPolicy(ctx, coin, t)
}

func (w *Workflow) commit(ctx context.Context, coin *models.Coin, attempt *models.VerificationAttempt) error {
	if err := w.store.CommitVerification(ctx, coin, attempt); err != nil {
		w.log.Error("Failed to commit verification", zap.String("symbol", coin.Symbol), zap.Uint("coinID", coin.ID), zap.Error(err))
		return err
	}
	return nil
}

// StatusFor maps the verifier's status string. Only "Good" is Good.
func StatusFor(result *services.VerificationResult) models.VerificationStatus {
	if result != nil && result.IsGood() {
		return models.StatusGood
	}
	return models.StatusBad
}

func (w *Workflow) applyPolicy(ctx context.Context, coin *models.Coin, t *tally) {
	if w.policy.RequireGoodContract && coin.VerificationStatus != models.StatusGood {
		reason := fmt.Sprintf("contract status %s", coin.ContractStatusRaw)
		w.blacklistCoin(ctx, coin, reason, t)
	}

	if !w.policy.CheckSupplyBundling || !coin.SupplyBundled {
		return
	}
	switch w.policy.BundledSupplyAction {
	case ActionBlacklist:
		w.blacklistCoin(ctx, coin, "supply bundled", t)
	case ActionNotify:
		w.notifyBundled(ctx, coin, t)
	default:
		w.log.Debug("Ignoring unrecognized bundled supply action", zap.String("action", w.policy.BundledSupplyAction))
	}
}

func (w *Workflow) blacklistCoin(ctx context.Context, coin *models.Coin, reason string, t *tally) {
	entries := []models.BlacklistEntry{
		{Kind: models.BlacklistCoin, Value: coin.Symbol, Reason: reason, SourceSymbol: coin.Symbol},
	}
	if coin.HasDeveloper() {
		entries = append(entries, models.BlacklistEntry{
			Kind: models.BlacklistDeveloper, Value: coin.DeveloperID, Reason: reason, SourceSymbol: coin.Symbol,
		})
	}
	added, err := w.blacklist.Add(ctx, entries...)
	if err != nil {
		w.log.Error("Failed to blacklist coin", zap.String("symbol", coin.Symbol), zap.String("reason", reason), zap.Error(err))
		return
	}
	if added > 0 {
		t.add(func(r *Result) { r.Blacklisted++ })
		w.log.Warn("Coin blacklisted", zap.String("symbol", coin.Symbol), zap.String("developer", coin.DeveloperID), zap.String("reason", reason))
	}
}

func (w *Workflow) notifyBundled(ctx context.Context, coin *models.Coin, t *tally) {
	if w.notifier == nil {
		w.log.Warn("Supply bundled", zap.String("symbol", coin.Symbol), zap.String("contract", coin.ContractAddress))
		return
	}
	msg := fmt.Sprintf("⚠️ *Supply bundled*\n\nSymbol: %s\nContract: %s",
		notifications.EscapeMarkdownV2(coin.Symbol), notifications.EscapeMarkdownV2(coin.ContractAddress))
	if err := w.notifier.Notify(ctx, msg); err != nil && !errors.Is(err, notifications.ErrNotConfigured) {
		w.log.Warn("Failed to send supply bundled notification", zap.String("symbol", coin.Symbol), zap.Error(err))
		return
	}
	t.add(func(r *Result) { r.Notified++ })
}
