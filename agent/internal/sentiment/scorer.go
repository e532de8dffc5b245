package sentiment

import (
	"math"
	"sync"

	"github.com/jonreiter/govader"
)

// Scorer maps text to a polarity in [-1, 1].
type Scorer interface {
	Score(text string) float64
}

// VaderScorer scores text with the VADER lexicon and reports the compound polarity.
type VaderScorer struct {
	once     sync.Once
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderScorer() *VaderScorer {
	return &VaderScorer{}
}

func (v *VaderScorer) Score(text string) float64 {
	v.once.Do(func() {
		v.analyzer = govader.NewSentimentIntensityAnalyzer()
	})
	return Clamp(v.analyzer.PolarityScores(text).Compound)
}

// Clamp bounds a score to [-1, 1]. NaN becomes 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(-1, math.Min(1, score))
}

// ScorerFunc adapts a plain function.
type ScorerFunc func(text string) float64

func (f ScorerFunc) Score(text string) float64 { return f(text) }
