package sentiment

import (
	"context"
	"fmt"

	"migration-agent/agent/internal/models"
	"migration-agent/shared/logger"

	"go.uber.org/zap"
)

type PostSource interface {
	PostsGroupedByCoin(ctx context.Context) (map[uint][]models.SocialPost, error)
}

// Aggregator reduces each coin's posts to the mean sentiment score.
type Aggregator struct {
	posts  PostSource
	scorer Scorer
	log    *logger.Logger
}

func NewAggregator(posts PostSource, scorer Scorer, appLogger *logger.Logger) *Aggregator {
	return &Aggregator{posts: posts, scorer: scorer, log: appLogger}
}

// Aggregate returns coin id -> mean score. Coins without posts are absent. A post saved
// without a score is scored here; the derived score is not written back.
func (a *Aggregator) Aggregate(ctx context.Context) (map[uint]float64, error) {
	grouped, err := a.posts.PostsGroupedByCoin(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate sentiment: %w", err)
	}

	means := make(map[uint]float64, len(grouped))
	rescored := 0
	for coinID, posts := range grouped {
		if len(posts) == 0 {
			continue
		}
		var sum float64
		for i := range posts {
			score, derived := scorePost(&posts[i], a.scorer)
			if derived {
				rescored++
			}
			sum += score
		}
		means[coinID] = sum / float64(len(posts))
	}

	a.log.Info("Sentiment aggregated", zap.Int("coins", len(means)), zap.Int("rescoredPosts", rescored))
	return means, nil
}

func scorePost(post *models.SocialPost, scorer Scorer) (float64, bool) {
	if post.SentimentScore != nil {
		return Clamp(*post.SentimentScore), false
	}
	return Clamp(scorer.Score(post.Content)), true
}

// Mean averages posts in memory with the same fallback rules as Aggregate.
func Mean(posts []models.SocialPost, scorer Scorer) (float64, bool) {
	if len(posts) == 0 {
		return 0, false
	}
	var sum float64
	for i := range posts {
		score, _ := scorePost(&posts[i], scorer)
		sum += score
	}
	return sum / float64(len(posts)), true
}
