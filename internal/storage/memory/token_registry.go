package memory

import (
	"context"
	"sort"
	"sync"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

// TokenRegistry is an in-memory implementation of storage.TokenRegistry.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]*domain.TokenInfo // keyed by normalized contract
}

// NewTokenRegistry creates a new in-memory token registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		tokens: make(map[string]*domain.TokenInfo),
	}
}

// Register adds a contract if it is not yet registered.
func (r *TokenRegistry) Register(_ context.Context, contract string, registeredAt int64) (bool, error) {
	key := domain.NormalizeContract(contract)
	if key == "" {
		return false, storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[key]; exists {
		return false, nil
	}
	r.tokens[key] = &domain.TokenInfo{
		ContractAddress: key,
		RegisteredAt:    registeredAt,
	}
	return true, nil
}

// UpdateMetadata sets symbol, name and decimals of a registered contract.
func (r *TokenRegistry) UpdateMetadata(_ context.Context, info *domain.TokenInfo) error {
	if info == nil {
		return storage.ErrInvalidInput
	}
	key := domain.NormalizeContract(info.ContractAddress)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.tokens[key]
	if !exists {
		return storage.ErrNotFound
	}
	existing.Symbol = info.Symbol
	existing.Name = info.Name
	existing.Decimals = info.Decimals
	return nil
}

// Get retrieves a registered contract. Returns ErrNotFound if not registered.
func (r *TokenRegistry) Get(_ context.Context, contract string) (*domain.TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.tokens[domain.NormalizeContract(contract)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	infoCopy := *info
	return &infoCopy, nil
}

// List returns all registered contracts ordered by registration time, then address.
func (r *TokenRegistry) List(_ context.Context) ([]*domain.TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.TokenInfo, 0, len(r.tokens))
	for _, info := range r.tokens {
		infoCopy := *info
		result = append(result, &infoCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RegisteredAt != result[j].RegisteredAt {
			return result[i].RegisteredAt < result[j].RegisteredAt
		}
		return result[i].ContractAddress < result[j].ContractAddress
	})
	return result, nil
}

// Remove unregisters a contract. Returns ErrNotFound if not registered.
func (r *TokenRegistry) Remove(_ context.Context, contract string) error {
	key := domain.NormalizeContract(contract)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[key]; !exists {
		return storage.ErrNotFound
	}
	delete(r.tokens, key)
	return nil
}

var _ storage.TokenRegistry = (*TokenRegistry)(nil)
