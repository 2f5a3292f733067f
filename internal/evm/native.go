package evm

import (
	"context"
	"fmt"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/sources"
)

// NativeSource reads the native coin balance over eth_getBalance.
// Used when the native balance is tracked on the eth address.
type NativeSource struct {
	client *Client
	denom  string
}

// Compile-time interface check.
var _ sources.NativeSource = (*NativeSource)(nil)

// NewNativeSource creates a native source reporting amounts in denom.
func NewNativeSource(client *Client, denom string) *NativeSource {
	return &NativeSource{client: client, denom: denom}
}

// FetchNative returns the wei balance of address.
func (s *NativeSource) FetchNative(ctx context.Context, address string) (*domain.NativeBalance, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	wei, err := s.client.GetBalance(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	if wei.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative balance", domain.ErrChain)
	}
	return &domain.NativeBalance{Denom: s.denom, Amount: wei.String()}, nil
}
