package storage

import (
	"context"

	"wallet-sync/internal/domain"
)

// AddressStore persists the addresses of the last connected wallet.
// It holds at most one entry.
type AddressStore interface {
	// Load returns the stored addresses. Returns ErrNotFound if nothing is stored.
	Load(ctx context.Context) (*domain.WalletAddresses, error)

	// Save replaces the stored addresses. Returns ErrInvalidInput if both are empty.
	Save(ctx context.Context, addrs domain.WalletAddresses) error

	// Clear removes the stored addresses. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// TokenRegistry holds the ERC20 contracts whose balances are tracked.
// Contracts are keyed by domain.NormalizeContract.
type TokenRegistry interface {
	// Register adds a contract. Registering a known contract is a no-op
	// and keeps its metadata and registration time. Returns true if the contract was added.
	Register(ctx context.Context, contract string, registeredAt int64) (bool, error)

	// UpdateMetadata sets symbol, name and decimals of a registered contract.
	// Returns ErrNotFound if the contract is not registered.
	UpdateMetadata(ctx context.Context, info *domain.TokenInfo) error

	// Get retrieves a registered contract. Returns ErrNotFound if not registered.
	Get(ctx context.Context, contract string) (*domain.TokenInfo, error)

	// List returns all registered contracts ordered by registration time, then address.
	List(ctx context.Context) ([]*domain.TokenInfo, error)

	// Remove unregisters a contract. Returns ErrNotFound if not registered.
	Remove(ctx context.Context, contract string) error
}

// BalanceHistoryStore provides append-only access to observed balance values.
type BalanceHistoryStore interface {
	// InsertBulk appends records. An empty batch is a no-op.
	InsertBulk(ctx context.Context, records []*domain.BalanceRecord) error

	// GetByAddress retrieves records of an owner address observed within
	// [start, end] (inclusive), ordered by observed_at ASC.
	GetByAddress(ctx context.Context, address string, start, end int64) ([]*domain.BalanceRecord, error)

	// GetBySource retrieves all records of one source of an owner address,
	// ordered by observed_at ASC.
	GetBySource(ctx context.Context, address string, source domain.SourceID) ([]*domain.BalanceRecord, error)
}
