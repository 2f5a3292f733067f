package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

// BalanceHistoryStore implements storage.BalanceHistoryStore using ClickHouse.
type BalanceHistoryStore struct {
	conn *Conn
}

// NewBalanceHistoryStore creates a new BalanceHistoryStore.
func NewBalanceHistoryStore(conn *Conn) *BalanceHistoryStore {
	return &BalanceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BalanceHistoryStore = (*BalanceHistoryStore)(nil)

// InsertBulk appends records in one batch. Rejects the whole batch on an invalid record.
func (s *BalanceHistoryStore) InsertBulk(ctx context.Context, records []*domain.BalanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.Address == "" || !r.Source.IsValid() {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO balance_history (
			address, source, denom, amount, generation, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.Address, r.Source.String(), r.Denom, r.Amount, r.Generation, r.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAddress retrieves records within [start, end] (inclusive), ordered by observed_at ASC.
func (s *BalanceHistoryStore) GetByAddress(ctx context.Context, address string, start, end int64) ([]*domain.BalanceRecord, error) {
	query := `
		SELECT address, source, denom, amount, generation, observed_at
		FROM balance_history
		WHERE address = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, address, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by address: %w", err)
	}
	defer rows.Close()

	return scanBalanceRecords(rows)
}

// GetBySource retrieves all records of one source, ordered by observed_at ASC.
func (s *BalanceHistoryStore) GetBySource(ctx context.Context, address string, source domain.SourceID) ([]*domain.BalanceRecord, error) {
	query := `
		SELECT address, source, denom, amount, generation, observed_at
		FROM balance_history
		WHERE address = ? AND source = ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, address, source.String())
	if err != nil {
		return nil, fmt.Errorf("query by source: %w", err)
	}
	defer rows.Close()

	return scanBalanceRecords(rows)
}

func scanBalanceRecords(rows driver.Rows) ([]*domain.BalanceRecord, error) {
	var result []*domain.BalanceRecord
	for rows.Next() {
		var (
			r      domain.BalanceRecord
			source string
		)
		if err := rows.Scan(&r.Address, &source, &r.Denom, &r.Amount, &r.Generation, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Source = domain.SourceID(source)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
