// Package sources defines the balance data adapters used by the refresh
// orchestrator. Each adapter is parameterized by address only and wraps
// failures with domain.ErrNetwork or domain.ErrChain.
package sources

import (
	"context"

	"wallet-sync/internal/domain"
)

// NativeSource provides the native coin balance of an address.
type NativeSource interface {
	// FetchNative returns the native balance. A missing account is a zero balance, not an error.
	FetchNative(ctx context.Context, address string) (*domain.NativeBalance, error)
}

// DelegationSource provides staking delegations of an address.
type DelegationSource interface {
	// FetchDelegations returns all delegations. No delegations is an empty slice.
	FetchDelegations(ctx context.Context, address string) ([]domain.DelegationBalance, error)
}

// TokenSource provides ERC20 balances.
type TokenSource interface {
	// FetchTokenBalance returns owner's balance of contract together with the
	// token's symbol, name and decimals.
	FetchTokenBalance(ctx context.Context, owner, contract string) (*domain.TokenBalance, error)
}

// AddressKind selects which session address a source is queried with.
type AddressKind string

const (
	AddressCosmos AddressKind = "cosmos"
	AddressEth    AddressKind = "eth"
)

// IsValid checks if the address kind is known.
func (k AddressKind) IsValid() bool {
	return k == AddressCosmos || k == AddressEth
}

// Pick returns the address of kind k from addrs.
func (k AddressKind) Pick(addrs domain.WalletAddresses) string {
	if k == AddressEth {
		return addrs.EthAddress
	}
	return addrs.CosmosAddress
}
