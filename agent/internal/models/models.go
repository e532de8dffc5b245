package models

import (
	"strings"
	"time"
)

// VerificationStatus is the contract verification state of a coin.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "Unverified"
	StatusGood       VerificationStatus = "Good"
	StatusBad        VerificationStatus = "Bad"
)

// ParseVerificationStatus matches s against the known statuses, ignoring case.
func ParseVerificationStatus(s string) (VerificationStatus, bool) {
	for _, status := range []VerificationStatus{StatusUnverified, StatusGood, StatusBad} {
		if strings.EqualFold(strings.TrimSpace(s), string(status)) {
			return status, true
		}
	}
	return "", false
}

// UnknownValue marks a contract address or developer id the feed did not provide.
const UnknownValue = "unknown"

// Coin is a token observed as migrated and admitted by the filter and blacklist checks.
type Coin struct {
	ID                 uint   `gorm:"primaryKey"`
	Name               string `gorm:"not null"`
	Symbol             string `gorm:"not null;index"`
	ContractAddress    string `gorm:"not null;default:unknown;index"`
	DeveloperID        string `gorm:"not null;default:unknown"`
	SocialHandle       string
	MarketCap          float64            `gorm:"not null;default:0"`
	Volume             float64            `gorm:"not null;default:0"`
	MigrationTimestamp time.Time          `gorm:"not null"`
	VerificationStatus VerificationStatus `gorm:"type:varchar(16);not null;default:Unverified;index"`
	ContractStatusRaw  string
	SupplyBundled      bool `gorm:"not null;default:false"`
	VerifiedAt         *time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// HasContract reports whether the coin carries a contract address the verifier can be asked about.
func (c *Coin) HasContract() bool {
	return c.ContractAddress != "" && c.ContractAddress != UnknownValue
}

// HasDeveloper reports whether the developer id is known.
func (c *Coin) HasDeveloper() bool {
	return c.DeveloperID != "" && c.DeveloperID != UnknownValue
}

// IsVerified reports whether verification already reached a terminal state.
func (c *Coin) IsVerified() bool {
	return c.VerificationStatus == StatusGood || c.VerificationStatus == StatusBad
}

// SocialPost is one social message referencing a coin. PostID is unique across all posts.
type SocialPost struct {
	ID             uint     `gorm:"primaryKey"`
	PostID         string   `gorm:"uniqueIndex;not null"`
	CoinID         uint     `gorm:"not null;index"`
	Coin           *Coin    `gorm:"foreignKey:CoinID;constraint:OnDelete:CASCADE"`
	Content        string   `gorm:"type:text"`
	SentimentScore *float64 // nil when neither the feed nor the save step produced a score
	LikeCount      int      `gorm:"not null;default:0"`
	RepostCount    int      `gorm:"not null;default:0"`
	PostedAt       time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// VerificationAttempt records one verifier call for a coin, successful or not.
type VerificationAttempt struct {
	ID             uint               `gorm:"primaryKey"`
	CoinID         uint               `gorm:"not null;index"`
	Symbol         string             `gorm:"not null"`
	Status         VerificationStatus `gorm:"type:varchar(16);not null"`
	ContractStatus string
	SupplyBundled  bool
	Error          string    `gorm:"type:text"`
	AttemptedAt    time.Time `gorm:"autoCreateTime"`
}

// BlacklistKind selects which exclusion set an entry belongs to.
type BlacklistKind string

const (
	BlacklistCoin      BlacklistKind = "coin"
	BlacklistDeveloper BlacklistKind = "developer"
	BlacklistHandle    BlacklistKind = "social_handle"
)

// BlacklistEntry is one member of a durable exclusion set. (Kind, Value) is unique.
type BlacklistEntry struct {
	ID           uint          `gorm:"primaryKey"`
	Kind         BlacklistKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_blacklist_kind_value"`
	Value        string        `gorm:"not null;uniqueIndex:idx_blacklist_kind_value"`
	Reason       string
	SourceSymbol string
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TradeSide is the direction of a trade command.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeAction records a decision made by the trade engine and whether its command left the process.
type TradeAction struct {
	ID            uint      `gorm:"primaryKey"`
	CoinID        uint      `gorm:"not null;index"`
	Symbol        string    `gorm:"not null;index"`
	Side          TradeSide `gorm:"type:varchar(8);not null"`
	Amount        float64   `gorm:"not null"`
	MeanSentiment float64
	Command       string
	Dispatched    bool
	Error         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}
