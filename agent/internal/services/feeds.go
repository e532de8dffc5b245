package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"migration-agent/shared/logger"

	"go.uber.org/zap"
)

// CoinFeedClient reads newly migrated tokens.
type CoinFeedClient struct {
	client   *Client
	endpoint string
	log      *logger.Logger
}

func NewCoinFeedClient(client *Client, endpoint string, appLogger *logger.Logger) (*CoinFeedClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("coin feed url: %w", ErrMissingConfig)
	}
	return &CoinFeedClient{client: client, endpoint: endpoint, log: appLogger}, nil
}

type coinFeedResponse struct {
	Coins []map[string]interface{} `json:"coins"`
}

// FetchCoins returns the raw coin records. They are normalized by the caller.
func (c *CoinFeedClient) FetchCoins(ctx context.Context) ([]map[string]interface{}, error) {
	var resp coinFeedResponse
	if err := c.client.getJSON(ctx, c.endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch coins: %w", err)
	}
	c.log.Debug("Fetched coin feed", zap.Int("records", len(resp.Coins)))
	return resp.Coins, nil
}

// SocialFeedClient reads recent posts for a social handle.
type SocialFeedClient struct {
	client   *Client
	endpoint string
	log      *logger.Logger
}

func NewSocialFeedClient(client *Client, endpoint string, appLogger *logger.Logger) (*SocialFeedClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("social feed url: %w", ErrMissingConfig)
	}
	return &SocialFeedClient{client: client, endpoint: endpoint, log: appLogger}, nil
}

type socialFeedResponse struct {
	Tweets []map[string]interface{} `json:"tweets"`
}

// FetchPosts returns up to limit raw post records for handle.
func (c *SocialFeedClient) FetchPosts(ctx context.Context, handle string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{}
	query.Set("handle", handle)
	query.Set("limit", strconv.Itoa(limit))

	var resp socialFeedResponse
	if err := c.client.getJSON(ctx, c.endpoint, query, &resp); err != nil {
		return nil, fmt.Errorf("fetch posts for %s: %w", handle, err)
	}
	c.log.Debug("Fetched social feed", zap.String("handle", handle), zap.Int("records", len(resp.Tweets)))
	return resp.Tweets, nil
}
