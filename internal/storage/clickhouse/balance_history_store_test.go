package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

func TestBalanceHistoryStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBalanceHistoryStore(conn)
	ctx := context.Background()

	// Test empty insert
	assert.NoError(t, store.InsertBulk(ctx, nil))

	records := []*domain.BalanceRecord{
		{Address: "cosmosAA", Source: domain.SourceNative, Denom: "aevmos", Amount: "1000", Generation: 1, ObservedAt: 2000},
		{Address: "cosmosAA", Source: domain.SourceNative, Denom: "aevmos", Amount: "900", Generation: 1, ObservedAt: 1000},
		{Address: "cosmosAA", Source: domain.SourceDelegations, Denom: "val1", Amount: "50", Generation: 1, ObservedAt: 1500},
		{Address: "0xaa", Source: domain.TokenSource("0xcc"), Denom: "CC", Amount: "7", Generation: 2, ObservedAt: 1500},
	}
	require.NoError(t, store.InsertBulk(ctx, records))

	got, err := store.GetBySource(ctx, "cosmosAA", domain.SourceNative)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "900", got[0].Amount)
	assert.Equal(t, "1000", got[1].Amount)
	assert.Equal(t, uint64(1), got[1].Generation)

	tokens, err := store.GetBySource(ctx, "0xaa", domain.TokenSource("0xCC"))
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, domain.TokenSource("0xcc"), tokens[0].Source)
}

func TestBalanceHistoryStore_GetByAddress(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBalanceHistoryStore(conn)
	ctx := context.Background()

	var records []*domain.BalanceRecord
	for i := int64(1); i <= 5; i++ {
		records = append(records, &domain.BalanceRecord{
			Address:    "cosmosAA",
			Source:     domain.SourceNative,
			Denom:      "aevmos",
			Amount:     "1",
			Generation: 1,
			ObservedAt: i * 1000,
		})
	}
	require.NoError(t, store.InsertBulk(ctx, records))

	got, err := store.GetByAddress(ctx, "cosmosAA", 2000, 4000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2000), got[0].ObservedAt)
	assert.Equal(t, int64(4000), got[2].ObservedAt)

	none, err := store.GetByAddress(ctx, "other", 0, 10000)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBalanceHistoryStore_InvalidRecord(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBalanceHistoryStore(conn)

	err := store.InsertBulk(context.Background(), []*domain.BalanceRecord{
		{Address: "cosmosAA", Source: "bogus"},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
