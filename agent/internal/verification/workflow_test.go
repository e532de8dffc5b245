package verification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"migration-agent/agent/database"
	"migration-agent/agent/database/dbtest"
	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/models"
	"migration-agent/agent/internal/services"
	"migration-agent/agent/internal/verification"
	"migration-agent/shared/logger"
	"migration-agent/shared/notifications"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrWSOL = "So11111111111111111111111111111111111111112"
	addrUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	addrBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	addrJUP  = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

type fakeVerifier struct {
	mu        sync.Mutex
	responses map[string]*services.VerificationResult
	failures  map[string]error
	calls     map[string]int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		responses: map[string]*services.VerificationResult{},
		failures:  map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeVerifier) Verify(_ context.Context, address string) (*services.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if err, ok := f.failures[address]; ok {
		return nil, err
	}
	if res, ok := f.responses[address]; ok {
		return res, nil
	}
	return &services.VerificationResult{ContractStatus: "Good"}, nil
}

func (f *fakeVerifier) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

type env struct {
	store    *database.Store
	registry *blacklist.Registry
	verifier *fakeVerifier
	notifier *fakeNotifier
}

func newEnv(t *testing.T) *env {
	store := dbtest.New(t)
	return &env{
		store:    store,
		registry: blacklist.NewRegistry(store),
		verifier: newFakeVerifier(),
		notifier: &fakeNotifier{},
	}
}

func (e *env) workflow(policy verification.Policy) *verification.Workflow {
	return verification.NewWorkflow(e.store, e.verifier, e.registry, e.notifier, policy, 4, logger.NewNop())
}

func (e *env) saveCoin(t *testing.T, symbol, contract, dev string) *models.Coin {
	t.Helper()
	coin := &models.Coin{
		Name:               symbol,
		Symbol:             symbol,
		ContractAddress:    contract,
		DeveloperID:        dev,
		MigrationTimestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := e.store.SaveCoin(context.Background(), coin)
	require.NoError(t, err)
	return coin
}

func (e *env) reload(t *testing.T, id uint) *models.Coin {
	t.Helper()
	coin, err := e.store.CoinByID(context.Background(), id)
	require.NoError(t, err)
	return coin
}

func TestRun_TransitionsAndSkips(t *testing.T) {
	e := newEnv(t)
	good := e.saveCoin(t, "GOOD", addrWSOL, "dev-g")
	bad := e.saveCoin(t, "BAD", addrUSDC, "dev-b")
	unknown := e.saveCoin(t, "NOCA", "", "")
	invalid := e.saveCoin(t, "BADCA", "0xdeadbeef", "")
	e.verifier.responses[addrUSDC] = &services.VerificationResult{ContractStatus: "Suspicious", SupplyBundled: true}

	res, err := e.workflow(verification.Policy{ValidateAddress: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Pending)
	assert.Equal(t, 1, res.Good)
	assert.Equal(t, 1, res.Bad)
	assert.Equal(t, 2, res.Skipped)

	assert.Equal(t, models.StatusGood, e.reload(t, good.ID).VerificationStatus)
	gotBad := e.reload(t, bad.ID)
	assert.Equal(t, models.StatusBad, gotBad.VerificationStatus)
	assert.Equal(t, "Suspicious", gotBad.ContractStatusRaw)
	assert.True(t, gotBad.SupplyBundled)
	assert.Equal(t, models.StatusUnverified, e.reload(t, unknown.ID).VerificationStatus)
	assert.Equal(t, models.StatusUnverified, e.reload(t, invalid.ID).VerificationStatus)
	assert.Zero(t, e.verifier.callCount("0xdeadbeef"))

	attempts, err := e.store.VerificationAttempts(context.Background(), invalid.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.NotEmpty(t, attempts[0].Error)
}

func TestRun_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.saveCoin(t, "GOOD", addrWSOL, "dev-g")
	e.saveCoin(t, "BAD", addrUSDC, "dev-b")
	e.verifier.responses[addrUSDC] = &services.VerificationResult{ContractStatus: "Bad"}
	wf := e.workflow(verification.Policy{})

	_, err := wf.Run(context.Background())
	require.NoError(t, err)
	res, err := wf.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Pending)
	assert.Equal(t, 1, e.verifier.callCount(addrWSOL))
	assert.Equal(t, 1, e.verifier.callCount(addrUSDC))
}

func TestRun_FailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	first := e.saveCoin(t, "FIRST", addrWSOL, "")
	second := e.saveCoin(t, "SECOND", addrUSDC, "")
	third := e.saveCoin(t, "THIRD", addrBONK, "")
	e.verifier.failures[addrWSOL] = errors.New("timeout")

	res, err := e.workflow(verification.Policy{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Good)
	assert.Equal(t, models.StatusUnverified, e.reload(t, first.ID).VerificationStatus)
	assert.Equal(t, models.StatusGood, e.reload(t, second.ID).VerificationStatus)
	assert.Equal(t, models.StatusGood, e.reload(t, third.ID).VerificationStatus)

	attempts, err := e.store.VerificationAttempts(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "timeout", attempts[0].Error)

	delete(e.verifier.failures, addrWSOL)
	_, err = e.workflow(verification.Policy{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusGood, e.reload(t, first.ID).VerificationStatus)
}

func TestRun_RequireGoodContractBlacklists(t *testing.T) {
	e := newEnv(t)
	e.saveCoin(t, "RUG", addrUSDC, "dev-rug")
	e.saveCoin(t, "RUG2", addrBONK, models.UnknownValue)
	e.verifier.responses[addrUSDC] = &services.VerificationResult{ContractStatus: "Bad"}
	e.verifier.responses[addrBONK] = &services.VerificationResult{ContractStatus: "Bad"}

	res, err := e.workflow(verification.Policy{RequireGoodContract: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Blacklisted)
	assert.True(t, e.registry.Contains(models.BlacklistCoin, "RUG"))
	assert.True(t, e.registry.Contains(models.BlacklistDeveloper, "dev-rug"))
	assert.True(t, e.registry.Contains(models.BlacklistCoin, "RUG2"))
	assert.False(t, e.registry.Contains(models.BlacklistDeveloper, models.UnknownValue))
}

func TestRun_BundledSupplyActions(t *testing.T) {
	tests := []struct {
		action          string
		wantBlacklisted bool
		wantNotified    int
	}{
		{verification.ActionBlacklist, true, 0},
		{verification.ActionNotify, false, 1},
		{"shrug", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			e := newEnv(t)
			e.saveCoin(t, "BNDL", addrJUP, "dev-x")
			e.verifier.responses[addrJUP] = &services.VerificationResult{ContractStatus: "Good", SupplyBundled: true}

			_, err := e.workflow(verification.Policy{
				CheckSupplyBundling: true,
				BundledSupplyAction: tt.action,
			}).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantBlacklisted, e.registry.Contains(models.BlacklistCoin, "BNDL"))
			assert.Len(t, e.notifier.messages, tt.wantNotified)
		})
	}
}

func TestRun_BundledNotificationCountsOnlyDelivered(t *testing.T) {
	policy := verification.Policy{CheckSupplyBundling: true, BundledSupplyAction: verification.ActionNotify}

	e := newEnv(t)
	e.saveCoin(t, "BNDL", addrJUP, "dev-x")
	e.verifier.responses[addrJUP] = &services.VerificationResult{ContractStatus: "Good", SupplyBundled: true}
	e.notifier.err = errors.New("telegram unavailable")

	res, err := e.workflow(policy).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Good)
	assert.Zero(t, res.Notified)

	e = newEnv(t)
	e.saveCoin(t, "BNDL", addrJUP, "dev-x")
	e.verifier.responses[addrJUP] = &services.VerificationResult{ContractStatus: "Good", SupplyBundled: true}
	e.notifier.err = notifications.ErrNotConfigured

	res, err = e.workflow(policy).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, models.StatusGood, verification.StatusFor(&services.VerificationResult{ContractStatus: "Good"}))
	assert.Equal(t, models.StatusBad, verification.StatusFor(&services.VerificationResult{ContractStatus: "good"}))
	assert.Equal(t, models.StatusBad, verification.StatusFor(&services.VerificationResult{ContractStatus: "Warning"}))
}
