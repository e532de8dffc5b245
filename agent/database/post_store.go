package database

import (
	"context"
	"fmt"

	"migration-agent/agent/internal/models"

	"gorm.io/gorm/clause"
)

// SavePost inserts a social post. Ingesting a PostID that already exists is a no-op:
// created is false and no error is returned.
func (s *Store) SavePost(ctx context.Context, post *models.SocialPost) (bool, error) {
	if post == nil || post.PostID == "" {
		return false, fmt.Errorf("save post: post id is required")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "post_id"}}, DoNothing: true}).
		Create(post)
	if res.Error != nil {
		if isDuplicateKeyError(res.Error) {
			return false, nil
		}
		return false, fmt.Errorf("save post %s: %w", post.PostID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PostsByCoin returns a coin's posts, oldest first.
func (s *Store) PostsByCoin(ctx context.Context, coinID uint) ([]models.SocialPost, error) {
	var posts []models.SocialPost
	err := s.db.WithContext(ctx).Where("coin_id = ?", coinID).Order("id ASC").Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("posts for coin %d: %w", coinID, err)
	}
	return posts, nil
}

// PostsGroupedByCoin returns every persisted post keyed by its owning coin.
// Coins without posts do not appear in the result.
func (s *Store) PostsGroupedByCoin(ctx context.Context) (map[uint][]models.SocialPost, error) {
	var posts []models.SocialPost
	if err := s.db.WithContext(ctx).Order("coin_id ASC, id ASC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	grouped := make(map[uint][]models.SocialPost)
	for _, p := range posts {
		grouped[p.CoinID] = append(grouped[p.CoinID], p)
	}
	return grouped, nil
}
