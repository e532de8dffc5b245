package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"migration-agent/shared/logger"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// VerificationResult is the verifier's assessment of one contract.
type VerificationResult struct {
	ContractStatus string
	SupplyBundled  bool
}

// IsGood reports whether the verifier considered the contract safe.
func (r *VerificationResult) IsGood() bool {
	return r.ContractStatus == "Good"
}

type verifierResponse struct {
	ContractStatus string `json:"contract_status"`
	SupplyBundled  *bool  `json:"supply_bundled"`
}

// VerifierClient queries the third-party contract risk service.
type VerifierClient struct {
	client   *Client
	endpoint string
	log      *logger.Logger
}

func NewVerifierClient(client *Client, endpoint string, appLogger *logger.Logger) (*VerifierClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("verifier url: %w", ErrMissingConfig)
	}
	return &VerifierClient{client: client, endpoint: endpoint, log: appLogger}, nil
}

// Verify asks the verifier about contractAddress. A response without contract_status is an
// ErrInvalidResponse; a missing supply_bundled is false.
func (c *VerifierClient) Verify(ctx context.Context, contractAddress string) (*VerificationResult, error) {
	query := url.Values{}
	query.Set("contract_address", contractAddress)

	var resp verifierResponse
	if err := c.client.getJSON(ctx, c.endpoint, query, &resp); err != nil {
		return nil, fmt.Errorf("verify %s: %w", contractAddress, err)
	}
	status := strings.TrimSpace(resp.ContractStatus)
	if status == "" {
		return nil, fmt.Errorf("verify %s: empty contract_status: %w", contractAddress, ErrInvalidResponse)
	}

	result := &VerificationResult{ContractStatus: status}
	if resp.SupplyBundled != nil {
		result.SupplyBundled = *resp.SupplyBundled
	}
	c.log.Debug("Verifier response", zap.String("contract", contractAddress),
		zap.String("status", status), zap.Bool("supplyBundled", result.SupplyBundled))
	return result, nil
}

// ValidateContractAddress checks that address is a base58 Solana public key.
func ValidateContractAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid contract address %q: %w", address, err)
	}
	return nil
}
