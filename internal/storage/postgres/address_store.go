package postgres

import (
	"context"
	"fmt"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

// AddressStore is a PostgreSQL implementation of storage.AddressStore.
// Uses a single-row table wallet_addresses.
type AddressStore struct {
	pool *Pool
}

// NewAddressStore creates a new PostgreSQL address store.
func NewAddressStore(pool *Pool) *AddressStore {
	return &AddressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AddressStore = (*AddressStore)(nil)

// Load returns the stored addresses.
func (s *AddressStore) Load(ctx context.Context) (*domain.WalletAddresses, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT eth_address, cosmos_address
		FROM wallet_addresses
		WHERE id = 1
	`)

	var addrs domain.WalletAddresses
	if err := row.Scan(&addrs.EthAddress, &addrs.CosmosAddress); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load wallet addresses: %w", err)
	}
	return &addrs, nil
}

// Save replaces the stored addresses.
// Uses upsert to handle initial insert and subsequent updates.
func (s *AddressStore) Save(ctx context.Context, addrs domain.WalletAddresses) error {
	addrs = addrs.Normalize()
	if addrs.IsEmpty() {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_addresses (id, eth_address, cosmos_address, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET eth_address = EXCLUDED.eth_address,
		    cosmos_address = EXCLUDED.cosmos_address,
		    updated_at = NOW()
	`, addrs.EthAddress, addrs.CosmosAddress)
	if err != nil {
		return fmt.Errorf("save wallet addresses: %w", err)
	}
	return nil
}

// Clear removes the stored addresses.
func (s *AddressStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM wallet_addresses`); err != nil {
		return fmt.Errorf("clear wallet addresses: %w", err)
	}
	return nil
}
