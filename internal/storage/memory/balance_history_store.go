package memory

import (
	"context"
	"sort"
	"sync"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

// BalanceHistoryStore is an in-memory implementation of storage.BalanceHistoryStore.
type BalanceHistoryStore struct {
	mu      sync.RWMutex
	records map[string][]*domain.BalanceRecord // keyed by owner address
}

// NewBalanceHistoryStore creates a new in-memory balance history store.
func NewBalanceHistoryStore() *BalanceHistoryStore {
	return &BalanceHistoryStore{
		records: make(map[string][]*domain.BalanceRecord),
	}
}

// InsertBulk appends records.
func (s *BalanceHistoryStore) InsertBulk(_ context.Context, records []*domain.BalanceRecord) error {
	for _, r := range records {
		if r == nil || r.Address == "" || !r.Source.IsValid() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		recordCopy := *r
		s.records[r.Address] = append(s.records[r.Address], &recordCopy)
	}
	return nil
}

// GetByAddress retrieves records within [start, end] ordered by observed_at ASC.
func (s *BalanceHistoryStore) GetByAddress(_ context.Context, address string, start, end int64) ([]*domain.BalanceRecord, error) {
	return s.filter(address, func(r *domain.BalanceRecord) bool {
		return r.ObservedAt >= start && r.ObservedAt <= end
	}), nil
}

// GetBySource retrieves all records of one source ordered by observed_at ASC.
func (s *BalanceHistoryStore) GetBySource(_ context.Context, address string, source domain.SourceID) ([]*domain.BalanceRecord, error) {
	return s.filter(address, func(r *domain.BalanceRecord) bool {
		return r.Source == source
	}), nil
}

func (s *BalanceHistoryStore) filter(address string, keep func(*domain.BalanceRecord) bool) []*domain.BalanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BalanceRecord
	for _, r := range s.records[address] {
		if keep(r) {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})
	return result
}

var _ storage.BalanceHistoryStore = (*BalanceHistoryStore)(nil)
