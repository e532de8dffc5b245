package pipeline

import (
	"time"

	"migration-agent/agent/internal/models"
	"migration-agent/agent/internal/trading"
	"migration-agent/agent/internal/verification"
)

type IngestionResult struct {
	Fetched     int `json:"fetched"`
	Rejected    int `json:"rejected"`
	Filtered    int `json:"filtered"`
	Blacklisted int `json:"blacklisted"`
	Saved       int `json:"saved"`
	Duplicates  int `json:"duplicates"`
	Collisions  int `json:"collisions"`
	SaveFailed  int `json:"saveFailed"`
}

type SocialResult struct {
	Coins       int `json:"coins"`
	Fetched     int `json:"fetched"`
	Rejected    int `json:"rejected"`
	Saved       int `json:"saved"`
	Duplicates  int `json:"duplicates"`
	FetchFailed int `json:"fetchFailed"`
	SaveFailed  int `json:"saveFailed"`
}

// Report summarizes one pipeline run.
type Report struct {
	StartedAt      time.Time            `json:"startedAt"`
	FinishedAt     time.Time            `json:"finishedAt"`
	Ingestion      IngestionResult      `json:"ingestion"`
	Verification   verification.Result  `json:"verification"`
	Social         SocialResult         `json:"social"`
	SentimentCoins int                  `json:"sentimentCoins"`
	Trading        trading.Result       `json:"trading"`
	Actions        []models.TradeAction `json:"actions"`
	StageErrors    map[string]string    `json:"stageErrors,omitempty"`
}

func newReport(now time.Time) *Report {
	return &Report{StartedAt: now, StageErrors: make(map[string]string)}
}

// OK reports whether every stage finished without error.
func (r *Report) OK() bool {
	return len(r.StageErrors) == 0
}
