package database

import (
	"context"
	"fmt"

	"migration-agent/agent/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadBlacklist returns every durable blacklist entry.
func (s *Store) LoadBlacklist(ctx context.Context) ([]models.BlacklistEntry, error) {
	var entries []models.BlacklistEntry
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	return entries, nil
}

// AddBlacklistEntries persists entries with set-union semantics: an existing
// (kind, value) pair is left untouched. All entries commit together or not at all.
func (s *Store) AddBlacklistEntries(ctx context.Context, entries []models.BlacklistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range entries {
			entry := entries[i]
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kind"}, {Name: "value"}},
				DoNothing: true,
			}).Create(&entry).Error
			if err != nil && !isDuplicateKeyError(err) {
				return fmt.Errorf("add blacklist entry %s=%s: %w", entry.Kind, entry.Value, err)
			}
		}
		return nil
	})
}
