// Package cosmos queries native balances and staking delegations from a
// Cosmos SDK LCD (REST) endpoint.
package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/sources"
	"wallet-sync/internal/transport"
)

// maxDelegationPages bounds pagination of the delegations query.
const maxDelegationPages = 50

// Client implements sources.NativeSource and sources.DelegationSource over LCD.
type Client struct {
	endpoint string
	denom    string
	http     *transport.Client
}

// Compile-time interface checks.
var (
	_ sources.NativeSource     = (*Client)(nil)
	_ sources.DelegationSource = (*Client)(nil)
)

// NewClient creates a new LCD client. denom is the native denomination
// reported by FetchNative (e.g. "aevmos").
func NewClient(endpoint, denom string, opts ...transport.Option) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		denom:    denom,
		http:     transport.New("cosmos", opts...),
	}
}

// coin is the LCD representation of sdk.Coin.
type coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type balanceResponse struct {
	Balance *coin `json:"balance"`
}

type delegationsResponse struct {
	DelegationResponses []struct {
		Delegation struct {
			DelegatorAddress string `json:"delegator_address"`
			ValidatorAddress string `json:"validator_address"`
		} `json:"delegation"`
		Balance coin `json:"balance"`
	} `json:"delegation_responses"`
	Pagination *struct {
		NextKey *string `json:"next_key"`
	} `json:"pagination"`
}

// FetchNative returns the balance of the configured denom.
// An account without that denom has a zero balance.
func (c *Client) FetchNative(ctx context.Context, address string) (*domain.NativeBalance, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", domain.ErrChain)
	}

	path := fmt.Sprintf("/cosmos/bank/v1beta1/balances/%s/by_denom", url.PathEscape(address))
	query := url.Values{"denom": []string{c.denom}}

	var resp balanceResponse
	if err := c.get(ctx, "bank_balance", path, query, &resp); err != nil {
		return nil, err
	}

	if resp.Balance == nil || resp.Balance.Amount == "" {
		return &domain.NativeBalance{Denom: c.denom, Amount: "0"}, nil
	}
	amount, err := domain.ParseAmount(resp.Balance.Amount)
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	denom := resp.Balance.Denom
	if denom == "" {
		denom = c.denom
	}
	return &domain.NativeBalance{Denom: denom, Amount: amount}, nil
}

// FetchDelegations returns all delegations of address, following pagination.
func (c *Client) FetchDelegations(ctx context.Context, address string) ([]domain.DelegationBalance, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", domain.ErrChain)
	}

	path := fmt.Sprintf("/cosmos/staking/v1beta1/delegations/%s", url.PathEscape(address))
	result := []domain.DelegationBalance{}
	query := url.Values{}

	for page := 0; page < maxDelegationPages; page++ {
		var resp delegationsResponse
		if err := c.get(ctx, "staking_delegations", path, query, &resp); err != nil {
			return nil, err
		}

		for _, d := range resp.DelegationResponses {
			if d.Delegation.ValidatorAddress == "" {
				return nil, fmt.Errorf("%w: delegation without validator address", domain.ErrChain)
			}
			amount, err := domain.ParseAmount(d.Balance.Amount)
			if err != nil {
				return nil, fmt.Errorf("delegation to %s: %w", d.Delegation.ValidatorAddress, err)
			}
			result = append(result, domain.DelegationBalance{
				ValidatorAddress: d.Delegation.ValidatorAddress,
				Amount:           amount,
				Denom:            d.Balance.Denom,
			})
		}

		if resp.Pagination == nil || resp.Pagination.NextKey == nil || *resp.Pagination.NextKey == "" {
			return result, nil
		}
		query = url.Values{"pagination.key": []string{*resp.Pagination.NextKey}}
	}

	return nil, fmt.Errorf("%w: delegations exceed %d pages", domain.ErrChain, maxDelegationPages)
}

// get performs a GET request and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, method, path string, query url.Values, result interface{}) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, err := c.http.Do(ctx, method, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("lcd %s: %w", path, err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: lcd %s: unmarshal response: %v", domain.ErrChain, path, err)
	}
	return nil
}
