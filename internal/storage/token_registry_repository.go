package storage

import (
	"context"
	"fmt"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/jackc/pgx/v5"
)

// TokenRegistryRepository keeps the contract metadata seen per chain, so
// labels survive between runs even when a metadata feed is incomplete.
type TokenRegistryRepository struct {
	db *PostgresDB
}

// NewTokenRegistryRepository creates a new token registry repository
func NewTokenRegistryRepository(db *PostgresDB) *TokenRegistryRepository {
	return &TokenRegistryRepository{db: db}
}

// UpsertTokens inserts or refreshes metadata rows. Blank fields never
// overwrite known values.
func (r *TokenRegistryRepository) UpsertTokens(ctx context.Context, tokens []models.ContractMetadata) error {
	if len(tokens) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range tokens {
		batch.Queue(`
			INSERT INTO tokens (chain, contract_address, ticker, token_name, decimal, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (chain, contract_address) DO UPDATE SET
				ticker = COALESCE(NULLIF(EXCLUDED.ticker, ''), tokens.ticker),
				token_name = COALESCE(NULLIF(EXCLUDED.token_name, ''), tokens.token_name),
				decimal = COALESCE(NULLIF(EXCLUDED.decimal, ''), tokens.decimal),
				updated_at = NOW()
		`, string(t.Blockchain), types.NormalizeAddress(t.ContractAddress), t.Ticker, t.TokenName, t.Decimal)
	}

	if err := r.db.Pool().SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.NewDatabaseError("upsert tokens", err)
	}
	return nil
}

// ListTokensByChain returns every registered token of a chain
func (r *TokenRegistryRepository) ListTokensByChain(ctx context.Context, chain types.ChainID) ([]models.ContractMetadata, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT chain, contract_address, ticker, token_name, decimal, updated_at
		FROM tokens
		WHERE chain = $1
		ORDER BY contract_address
	`, string(chain))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list tokens", err)
	}
	defer rows.Close()

	var out []models.ContractMetadata
	for rows.Next() {
		var (
			m         models.ContractMetadata
			chainName string
		)
		if err := rows.Scan(&chainName, &m.ContractAddress, &m.Ticker, &m.TokenName, &m.Decimal, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		m.Blockchain = types.ChainID(chainName)
		out = append(out, m)
	}
	return out, rows.Err()
}
