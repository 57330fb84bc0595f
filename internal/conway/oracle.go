// Package conway implements the credit-balance oracle: a small HTTP client
// against the Conway wallet-funding API, the same endpoint family the
// inference router treats as the "conway" provider.
package conway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cat9999aaa/moneyclaw/internal/agentloop"
)

const defaultTimeout = 10 * time.Second

// Oracle reads the automaton's live credit balance from the Conway API.
type Oracle struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewOracle builds an Oracle. httpClient may be nil to use a default.
func NewOracle(baseURL, apiKey string, httpClient *http.Client) *Oracle {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Oracle{BaseURL: baseURL, APIKey: apiKey, HTTPClient: httpClient}
}

type balanceResponse struct {
	Credits           float64 `json:"credits"`
	RecentTopupFailed bool    `json:"recent_topup_failed"`
	TopupImpossible   bool    `json:"topup_impossible"`
}

// GetBalance implements agentloop.CreditOracle.
func (o *Oracle) GetBalance(ctx context.Context) (agentloop.CreditBalance, error) {
	url := strings.TrimRight(o.BaseURL, "/") + "/v1/wallet/balance"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return agentloop.CreditBalance{}, fmt.Errorf("build balance request: %w", err)
	}
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return agentloop.CreditBalance{}, fmt.Errorf("query wallet balance: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return agentloop.CreditBalance{}, fmt.Errorf("read balance response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return agentloop.CreditBalance{}, fmt.Errorf("wallet balance: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return agentloop.CreditBalance{}, fmt.Errorf("parse balance response: %w", err)
	}

	return agentloop.CreditBalance{
		Credits:           parsed.Credits,
		RecentTopupFailed: parsed.RecentTopupFailed,
		TopupImpossible:   parsed.TopupImpossible,
	}, nil
}

// Fund implements replication.Funder: it asks Conway to transfer a starter
// credit allotment to a freshly spawned child's wallet.
func (o *Oracle) Fund(ctx context.Context, childAddress string) error {
	url := strings.TrimRight(o.BaseURL, "/") + "/v1/wallet/fund"
	payload, err := json.Marshal(struct {
		Address string `json:"address"`
	}{Address: childAddress})
	if err != nil {
		return fmt.Errorf("encode fund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build fund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fund child wallet: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read fund response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fund child wallet: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
