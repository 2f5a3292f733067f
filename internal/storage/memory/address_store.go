package memory

import (
	"context"
	"sync"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

// AddressStore is an in-memory implementation of storage.AddressStore.
type AddressStore struct {
	mu    sync.RWMutex
	addrs *domain.WalletAddresses
}

// NewAddressStore creates a new in-memory address store.
func NewAddressStore() *AddressStore {
	return &AddressStore{}
}

// Load returns the stored addresses. Returns ErrNotFound if nothing is stored.
func (s *AddressStore) Load(_ context.Context) (*domain.WalletAddresses, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.addrs == nil {
		return nil, storage.ErrNotFound
	}
	addrsCopy := *s.addrs
	return &addrsCopy, nil
}

// Save replaces the stored addresses.
func (s *AddressStore) Save(_ context.Context, addrs domain.WalletAddresses) error {
	addrs = addrs.Normalize()
	if addrs.IsEmpty() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs = &addrs
	return nil
}

// Clear removes the stored addresses.
func (s *AddressStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs = nil
	return nil
}

var _ storage.AddressStore = (*AddressStore)(nil)
