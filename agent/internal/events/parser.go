package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"migration-agent/agent/internal/models"
)

// TimestampLayout is the fixed layout of migration_date and created_at in feed records.
const TimestampLayout = "2006-01-02T15:04:05"

var (
	ErrMissingField     = errors.New("missing field")
	ErrInvalidField     = errors.New("invalid field")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// NormalizeCoin maps one raw coin feed record onto a Coin candidate. Records without a
// parseable migration_date are rejected; market_cap and volume default to 0; contract
// address and developer id default to models.UnknownValue.
func NormalizeCoin(raw map[string]interface{}) (*models.Coin, error) {
	symbol := stringField(raw, "symbol")
	if symbol == "" {
		return nil, fmt.Errorf("symbol: %w", ErrMissingField)
	}

	dateValue := stringField(raw, "migration_date")
	if dateValue == "" {
		return nil, fmt.Errorf("%s migration_date: %w", symbol, ErrMissingField)
	}
	migratedAt, err := ParseTimestamp(dateValue)
	if err != nil {
		return nil, fmt.Errorf("%s migration_date: %w", symbol, err)
	}

	marketCap, err := numberField(raw, "market_cap")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	volume, err := numberField(raw, "volume")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	name := stringField(raw, "name")
	if name == "" {
		name = symbol
	}

	return &models.Coin{
		Name:               name,
		Symbol:             symbol,
		ContractAddress:    orUnknown(stringField(raw, "contract_address")),
		DeveloperID:        orUnknown(stringField(raw, "developer_id")),
		MarketCap:          marketCap,
		Volume:             volume,
		MigrationTimestamp: migratedAt,
		VerificationStatus: models.StatusUnverified,
	}, nil
}

// NormalizePost maps one raw social feed record onto a SocialPost for coinID. A missing or
// unparseable created_at is replaced by now; the returned bool reports that substitution.
func NormalizePost(raw map[string]interface{}, coinID uint, now time.Time) (*models.SocialPost, bool, error) {
	postID := stringField(raw, "id")
	if postID == "" {
		return nil, false, fmt.Errorf("post id: %w", ErrMissingField)
	}

	post := &models.SocialPost{
		PostID:  postID,
		CoinID:  coinID,
		Content: stringField(raw, "content"),
	}

	if _, ok := raw["sentiment_score"]; ok && raw["sentiment_score"] != nil {
		score, err := numberField(raw, "sentiment_score")
		if err != nil {
			return nil, false, fmt.Errorf("post %s: %w", postID, err)
		}
		if score < -1 || score > 1 {
			return nil, false, fmt.Errorf("post %s sentiment_score %v: %w", postID, score, ErrInvalidField)
		}
		post.SentimentScore = &score
	}

	likes, err := numberField(raw, "likes")
	if err != nil {
		return nil, false, fmt.Errorf("post %s: %w", postID, err)
	}
	reposts, err := numberField(raw, "retweets")
	if err != nil {
		return nil, false, fmt.Errorf("post %s: %w", postID, err)
	}
	post.LikeCount = int(likes)
	post.RepostCount = int(reposts)

	stamped := false
	postedAt, err := ParseTimestamp(stringField(raw, "created_at"))
	if err != nil {
		postedAt = now.UTC()
		stamped = true
	}
	post.PostedAt = postedAt

	return post, stamped, nil
}

// ParseTimestamp parses a feed timestamp as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", value, ErrInvalidTimestamp)
	}
	return t, nil
}

func orUnknown(value string) string {
	if value == "" {
		return models.UnknownValue
	}
	return value
}

func stringField(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// numberField reads a finite non-negative number, or a numeric string. Absent and null values are 0.
// sentiment_score is the only field allowed to go negative.
func numberField(raw map[string]interface{}, key string) (float64, error) {
	var n float64
	switch v := raw[key].(type) {
	case nil:
		return 0, nil
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", key, v, ErrInvalidField)
		}
		n = f
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", key, v, ErrInvalidField)
		}
		n = f
	default:
		return 0, fmt.Errorf("%s has type %T: %w", key, v, ErrInvalidField)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%s %v is not finite: %w", key, n, ErrInvalidField)
	}
	if n < 0 && key != "sentiment_score" {
		return 0, fmt.Errorf("%s %v is negative: %w", key, n, ErrInvalidField)
	}
	return n, nil
}
