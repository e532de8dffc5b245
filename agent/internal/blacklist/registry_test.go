package blacklist_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"migration-agent/agent/database/dbtest"
	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/models"
	"migration-agent/shared/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct{}

func (failingBackend) LoadBlacklist(context.Context) ([]models.BlacklistEntry, error) {
	return nil, nil
}

func (failingBackend) AddBlacklistEntries(context.Context, []models.BlacklistEntry) error {
	return errors.New("db down")
}

func TestRegistry_AddIsSetUnionAndDurable(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	reg := blacklist.NewRegistry(store)

	n, err := reg.Add(ctx,
		models.BlacklistEntry{Kind: models.BlacklistCoin, Value: "pepe", Reason: "bad contract"},
		models.BlacklistEntry{Kind: models.BlacklistCoin, Value: "PEPE"},
		models.BlacklistEntry{Kind: models.BlacklistDeveloper, Value: models.UnknownValue},
		models.BlacklistEntry{Kind: models.BlacklistHandle, Value: "@PepeCoin"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = reg.Add(ctx, models.BlacklistEntry{Kind: models.BlacklistCoin, Value: "PEPE"})
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, reg.Contains(models.BlacklistCoin, "Pepe"))
	assert.True(t, reg.Contains(models.BlacklistHandle, "pepecoin"))
	assert.False(t, reg.Contains(models.BlacklistDeveloper, models.UnknownValue))

	reloaded := blacklist.NewRegistry(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.Contains(models.BlacklistCoin, "PEPE"))
	assert.Equal(t, []string{"pepecoin"}, reloaded.Snapshot()[models.BlacklistHandle])
}

func TestRegistry_FailedPersistLeavesCacheUnchanged(t *testing.T) {
	reg := blacklist.NewRegistry(failingBackend{})
	_, err := reg.Add(context.Background(), models.BlacklistEntry{Kind: models.BlacklistCoin, Value: "X"})
	require.Error(t, err)
	assert.False(t, reg.Contains(models.BlacklistCoin, "X"))
}

func TestRegistry_UnknownKind(t *testing.T) {
	reg := blacklist.NewRegistry(failingBackend{})
	_, err := reg.Add(context.Background(), models.BlacklistEntry{Kind: "wallet", Value: "X"})
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}

func TestRegistry_Seed(t *testing.T) {
	ctx := context.Background()
	reg := blacklist.NewRegistry(dbtest.New(t))

	n, err := reg.Seed(ctx, config.BlacklistConfig{
		Coins:         []string{"SCAM", "RUG"},
		Developers:    []string{"dev-9"},
		SocialHandles: []string{"scammer"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = reg.Seed(ctx, config.BlacklistConfig{Coins: []string{"SCAM"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, reg.Contains(models.BlacklistDeveloper, "dev-9"))
}

func TestRegistry_ConcurrentAddsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	reg := blacklist.NewRegistry(dbtest.New(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Add(ctx,
				models.BlacklistEntry{Kind: models.BlacklistCoin, Value: fmt.Sprintf("C%d", i%5)},
				models.BlacklistEntry{Kind: models.BlacklistDeveloper, Value: "shared-dev"},
			)
			assert.NoError(t, err)
			assert.True(t, reg.Contains(models.BlacklistDeveloper, "shared-dev"))
		}(i)
	}
	wg.Wait()

	snap := reg.Snapshot()
	assert.Len(t, snap[models.BlacklistCoin], 5)
	assert.Equal(t, []string{"shared-dev"}, snap[models.BlacklistDeveloper])
}

func TestParseKind(t *testing.T) {
	k, ok := blacklist.ParseKind("Handle")
	assert.True(t, ok)
	assert.Equal(t, models.BlacklistHandle, k)

	_, ok = blacklist.ParseKind("wallet")
	assert.False(t, ok)
}
