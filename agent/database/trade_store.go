package database

import (
	"context"
	"fmt"

	"migration-agent/agent/internal/models"
)

// SaveTradeAction records a decision and its dispatch outcome.
func (s *Store) SaveTradeAction(ctx context.Context, action *models.TradeAction) error {
	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("save trade action for %s: %w", action.Symbol, err)
	}
	return nil
}

// ListTradeActions returns the newest actions first. A non-positive limit returns all of them.
func (s *Store) ListTradeActions(ctx context.Context, limit int) ([]models.TradeAction, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var actions []models.TradeAction
	if err := q.Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("list trade actions: %w", err)
	}
	return actions, nil
}
