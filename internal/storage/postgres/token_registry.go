package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/storage"
)

// TokenRegistry implements storage.TokenRegistry using PostgreSQL.
type TokenRegistry struct {
	pool *Pool
}

// NewTokenRegistry creates a new TokenRegistry.
func NewTokenRegistry(pool *Pool) *TokenRegistry {
	return &TokenRegistry{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenRegistry = (*TokenRegistry)(nil)

// Register adds a contract if it is not yet registered.
func (r *TokenRegistry) Register(ctx context.Context, contract string, registeredAt int64) (bool, error) {
	key := domain.NormalizeContract(contract)
	if key == "" {
		return false, storage.ErrInvalidInput
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO token_registry (contract_address, registered_at)
		VALUES ($1, $2)
		ON CONFLICT (contract_address) DO NOTHING
	`, key, registeredAt)
	if err != nil {
		return false, fmt.Errorf("register token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateMetadata sets symbol, name and decimals of a registered contract.
func (r *TokenRegistry) UpdateMetadata(ctx context.Context, info *domain.TokenInfo) error {
	if info == nil {
		return storage.ErrInvalidInput
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE token_registry
		SET symbol = $2, name = $3, decimals = $4, updated_at = NOW()
		WHERE contract_address = $1
	`, domain.NormalizeContract(info.ContractAddress), info.Symbol, info.Name, info.Decimals)
	if err != nil {
		return fmt.Errorf("update token metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a registered contract. Returns ErrNotFound if not registered.
func (r *TokenRegistry) Get(ctx context.Context, contract string) (*domain.TokenInfo, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT contract_address, symbol, name, decimals, registered_at
		FROM token_registry
		WHERE contract_address = $1
	`, domain.NormalizeContract(contract))

	info, err := scanTokenInfo(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return info, nil
}

// List returns all registered contracts ordered by registration time, then address.
func (r *TokenRegistry) List(ctx context.Context) ([]*domain.TokenInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT contract_address, symbol, name, decimals, registered_at
		FROM token_registry
		ORDER BY registered_at ASC, contract_address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.TokenInfo
	for rows.Next() {
		info, err := scanTokenInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return result, nil
}

// Remove unregisters a contract. Returns ErrNotFound if not registered.
func (r *TokenRegistry) Remove(ctx context.Context, contract string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM token_registry WHERE contract_address = $1
	`, domain.NormalizeContract(contract))
	if err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanTokenInfo(row pgx.Row) (*domain.TokenInfo, error) {
	var info domain.TokenInfo
	err := row.Scan(
		&info.ContractAddress,
		&info.Symbol,
		&info.Name,
		&info.Decimals,
		&info.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
