package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/jackc/pgx/v5"
)

// RunRepository persists valuation run records and their chain outcomes
type RunRepository struct {
	db *PostgresDB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun inserts a run in the running state
func (r *RunRepository) CreateRun(ctx context.Context, run *models.RunRecord) error {
	query := `
		INSERT INTO valuation_runs (run_id, status, started_at, periods)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.Pool().Exec(ctx, query, run.RunID, run.Status, run.StartedAt, run.Periods); err != nil {
		return apperrors.NewDatabaseError("create run", err)
	}
	return nil
}

// CompleteRun stores the final status of a run together with its chain
// outcomes in a single transaction.
func (r *RunRepository) CompleteRun(ctx context.Context, run *models.RunRecord) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	_, err = tx.Exec(ctx, `
		UPDATE valuation_runs
		SET status = $2, completed_at = $3, periods = $4, error = $5
		WHERE run_id = $1
	`, run.RunID, run.Status, run.CompletedAt, run.Periods, run.Error)
	if err != nil {
		return apperrors.NewDatabaseError("update run", err)
	}

	batch := &pgx.Batch{}
	for _, c := range run.Chains {
		batch.Queue(`
			INSERT INTO run_chain_outcomes (
				run_id, chain, included, reason, error_code,
				rows_dropped, balance_only, price_only
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id, chain) DO UPDATE SET
				included = EXCLUDED.included,
				reason = EXCLUDED.reason,
				error_code = EXCLUDED.error_code,
				rows_dropped = EXCLUDED.rows_dropped,
				balance_only = EXCLUDED.balance_only,
				price_only = EXCLUDED.price_only
		`, run.RunID, c.Chain, c.Included, c.Reason, c.ErrorCode, c.RowsDropped, c.BalanceOnly, c.PriceOnly)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return apperrors.NewDatabaseError("insert chain outcomes", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("commit run", err)
	}
	return nil
}

// GetRun retrieves a run with its chain outcomes
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	return r.getRun(ctx, `
		SELECT run_id, status, started_at, completed_at, periods, error
		FROM valuation_runs
		WHERE run_id = $1
	`, runID)
}

// GetLatestRun retrieves the most recently started run
func (r *RunRepository) GetLatestRun(ctx context.Context) (*models.RunRecord, error) {
	return r.getRun(ctx, `
		SELECT run_id, status, started_at, completed_at, periods, error
		FROM valuation_runs
		ORDER BY started_at DESC
		LIMIT 1
	`)
}

func (r *RunRepository) getRun(ctx context.Context, query string, args ...interface{}) (*models.RunRecord, error) {
	var (
		run         models.RunRecord
		completedAt *time.Time
		errorMsg    *string
	)

	err := r.db.Pool().QueryRow(ctx, query, args...).Scan(
		&run.RunID,
		&run.Status,
		&run.StartedAt,
		&completedAt,
		&run.Periods,
		&errorMsg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			id := "latest"
			if len(args) > 0 {
				id = fmt.Sprint(args[0])
			}
			return nil, apperrors.NewNotFoundError("run", id)
		}
		return nil, apperrors.NewDatabaseError("get run", err)
	}
	run.CompletedAt = completedAt
	run.Error = errorMsg

	outcomes, err := r.getOutcomes(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	run.Chains = outcomes
	return &run, nil
}

func (r *RunRepository) getOutcomes(ctx context.Context, runID string) ([]models.ChainOutcome, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT run_id, chain, included, reason, error_code, rows_dropped, balance_only, price_only
		FROM run_chain_outcomes
		WHERE run_id = $1
		ORDER BY chain
	`, runID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query chain outcomes", err)
	}
	defer rows.Close()

	var outcomes []models.ChainOutcome
	for rows.Next() {
		var c models.ChainOutcome
		if err := rows.Scan(&c.RunID, &c.Chain, &c.Included, &c.Reason, &c.ErrorCode, &c.RowsDropped, &c.BalanceOnly, &c.PriceOnly); err != nil {
			return nil, fmt.Errorf("failed to scan chain outcome: %w", err)
		}
		outcomes = append(outcomes, c)
	}
	return outcomes, rows.Err()
}
