package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"migration-agent/agent/internal/models"

	"gorm.io/gorm"
)

// SaveCoin persists a coin admitted by the filter and blacklist checks. A coin with the
// same symbol and contract address is not inserted twice; in that case the stored row is
// loaded into coin and created is false.
func (s *Store) SaveCoin(ctx context.Context, coin *models.Coin) (bool, error) {
	if coin == nil || coin.Symbol == "" {
		return false, fmt.Errorf("save coin: symbol is required")
	}
	if coin.ContractAddress == "" {
		coin.ContractAddress = models.UnknownValue
	}
	if coin.DeveloperID == "" {
		coin.DeveloperID = models.UnknownValue
	}
	if coin.VerificationStatus == "" {
		coin.VerificationStatus = models.StatusUnverified
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Coin
		err := tx.Where("symbol = ? AND contract_address = ?", coin.Symbol, coin.ContractAddress).
			First(&existing).Error
		if err == nil {
			*coin = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(coin).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save coin %s: %w", coin.Symbol, err)
	}
	return created, nil
}

// CoinsBySymbol returns every stored coin carrying the symbol, oldest first.
func (s *Store) CoinsBySymbol(ctx context.Context, symbol string) ([]models.Coin, error) {
	var coins []models.Coin
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("id ASC").Find(&coins).Error; err != nil {
		return nil, fmt.Errorf("coins by symbol %s: %w", symbol, err)
	}
	return coins, nil
}

// CoinByID loads one coin. Returns ErrNotFound if it does not exist.
func (s *Store) CoinByID(ctx context.Context, id uint) (*models.Coin, error) {
	var coin models.Coin
	err := s.db.WithContext(ctx).First(&coin, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coin %d: %w", id, err)
	}
	return &coin, nil
}

// CoinsByIDs loads the coins with the given ids. Missing ids are silently absent.
func (s *Store) CoinsByIDs(ctx context.Context, ids []uint) ([]models.Coin, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var coins []models.Coin
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&coins).Error; err != nil {
		return nil, fmt.Errorf("coins by ids: %w", err)
	}
	return coins, nil
}

// ListCoins returns the newest coins first, restricted to status when it is set. A
// non-positive limit returns every matching coin.
func (s *Store) ListCoins(ctx context.Context, status models.VerificationStatus, limit int) ([]models.Coin, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("verification_status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var coins []models.Coin
	if err := q.Find(&coins).Error; err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	return coins, nil
}

// UnverifiedCoins returns the coins the verification workflow still has to process.
func (s *Store) UnverifiedCoins(ctx context.Context) ([]models.Coin, error) {
	var coins []models.Coin
	err := s.db.WithContext(ctx).
		Where("verification_status = ?", models.StatusUnverified).
		Order("id ASC").
		Find(&coins).Error
	if err != nil {
		return nil, fmt.Errorf("unverified coins: %w", err)
	}
	return coins, nil
}

// CoinsWithSocialHandle returns the coins whose posts can be fetched.
func (s *Store) CoinsWithSocialHandle(ctx context.Context) ([]models.Coin, error) {
	var coins []models.Coin
	err := s.db.WithContext(ctx).
		Where("social_handle IS NOT NULL AND social_handle <> ''").
		Order("id ASC").
		Find(&coins).Error
	if err != nil {
		return nil, fmt.Errorf("coins with social handle: %w", err)
	}
	return coins, nil
}

// CommitVerification records a verification attempt and, when the attempt produced a
// terminal status, moves the coin out of Unverified. Both writes share one transaction.
// A coin that already left Unverified is never rewritten.
func (s *Store) CommitVerification(ctx context.Context, coin *models.Coin, attempt *models.VerificationAttempt) error {
	if coin == nil || attempt == nil {
		return fmt.Errorf("commit verification: coin and attempt are required")
	}
	attempt.CoinID = coin.ID
	attempt.Symbol = coin.Symbol

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if attempt.Status == models.StatusGood || attempt.Status == models.StatusBad {
			now := time.Now().UTC()
			res := tx.Model(&models.Coin{}).
				Where("id = ? AND verification_status = ?", coin.ID, models.StatusUnverified).
				Updates(map[string]interface{}{
					"verification_status": attempt.Status,
					"contract_status_raw": attempt.ContractStatus,
					"supply_bundled":      attempt.SupplyBundled,
					"verified_at":         now,
				})
			if res.Error != nil {
				return fmt.Errorf("update coin %d status: %w", coin.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("coin %d is no longer unverified: %w", coin.ID, ErrNotFound)
			}
			coin.VerificationStatus = attempt.Status
			coin.ContractStatusRaw = attempt.ContractStatus
			coin.SupplyBundled = attempt.SupplyBundled
			coin.VerifiedAt = &now
		}
		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("insert verification attempt for coin %d: %w", coin.ID, err)
		}
		return nil
	})
}

// VerificationAttempts lists the attempts recorded for a coin, oldest first.
func (s *Store) VerificationAttempts(ctx context.Context, coinID uint) ([]models.VerificationAttempt, error) {
	var attempts []models.VerificationAttempt
	err := s.db.WithContext(ctx).Where("coin_id = ?", coinID).Order("id ASC").Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("verification attempts for coin %d: %w", coinID, err)
	}
	return attempts, nil
}
