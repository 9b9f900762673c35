package storage

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// warehouseScale is the scale of the Decimal256 columns
const warehouseScale = 36

// SeriesRepository stores computed balances and USD series in ClickHouse.
// Rows are keyed by run so readers always see one complete run.
type SeriesRepository struct {
	db *ClickHouseDB
}

// NewSeriesRepository creates a new series repository
func NewSeriesRepository(db *ClickHouseDB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// RunSeries is everything one run persists to the warehouse
type RunSeries struct {
	RunID      string
	ComputedAt time.Time
	Balances   []models.BalancePoint
	Chains     []models.ChainSeriesPoint
	Portfolio  []models.PortfolioPoint
}

// SaveRun inserts the balances, chain series and portfolio series of a run,
// then registers the run in series_runs. A run with empty series still
// becomes the latest run.
func (r *SeriesRepository) SaveRun(ctx context.Context, run RunSeries) error {
	if err := r.insertBalances(ctx, run); err != nil {
		return apperrors.NewDatabaseError("insert monthly balances", err)
	}
	if err := r.insertChainSeries(ctx, run); err != nil {
		return apperrors.NewDatabaseError("insert chain series", err)
	}
	if err := r.insertPortfolio(ctx, run); err != nil {
		return apperrors.NewDatabaseError("insert portfolio series", err)
	}
	if err := r.db.Exec(ctx, insertSeriesRunQuery, run.RunID, uint32(run.chainCount()), uint32(len(run.Portfolio)), run.ComputedAt); err != nil {
		return apperrors.NewDatabaseError("register series run", err)
	}
	return nil
}

func (run RunSeries) chainCount() int {
	seen := make(map[types.ChainID]bool)
	for _, p := range run.Chains {
		seen[p.Chain] = true
	}
	return len(seen)
}

func (r *SeriesRepository) insertBalances(ctx context.Context, run RunSeries) error {
	if len(run.Balances) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO monthly_balances (run_id, chain, contract_address, period, amount, computed_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, b := range run.Balances {
		if err := batch.Append(run.RunID, string(b.Chain), b.ContractAddress, b.Period.Start(), b.Amount.Round(warehouseScale), run.ComputedAt); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

func (r *SeriesRepository) insertChainSeries(ctx context.Context, run RunSeries) error {
	if len(run.Chains) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO chain_series (run_id, chain, period, usd_amount, computed_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, p := range run.Chains {
		if err := batch.Append(run.RunID, string(p.Chain), p.Period.Start(), p.USDAmount.Round(warehouseScale), run.ComputedAt); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

func (r *SeriesRepository) insertPortfolio(ctx context.Context, run RunSeries) error {
	if len(run.Portfolio) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO portfolio_series (run_id, period, total_usd, chains, computed_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, p := range run.Portfolio {
		chains := make([]string, len(p.Chains))
		for i, c := range p.Chains {
			chains[i] = string(c)
		}
		if err := batch.Append(run.RunID, p.Period.Start(), p.TotalUSD.Round(warehouseScale), chains, run.ComputedAt); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

const insertSeriesRunQuery = `
	INSERT INTO series_runs (run_id, chains, periods, computed_at) VALUES (?, ?, ?, ?)
`

// latestRunClause restricts a query to the most recently saved run. Every
// table resolves it from series_runs.
const latestRunClause = "run_id = (SELECT run_id FROM series_runs ORDER BY computed_at DESC, run_id DESC LIMIT 1)"

const chainSeriesQuery = `
	SELECT chain, period, usd_amount
	FROM chain_series
	WHERE ` + latestRunClause + ` AND chain = ? AND period >= ? AND period <= ?
	ORDER BY period ASC
`

const portfolioSeriesQuery = `
	SELECT period, total_usd, chains
	FROM portfolio_series
	WHERE ` + latestRunClause + ` AND period >= ? AND period <= ?
	ORDER BY period ASC
`

// GetChainSeries returns a chain's USD series from the latest run, limited to
// [from, to].
func (r *SeriesRepository) GetChainSeries(ctx context.Context, chain types.ChainID, from, to types.Period) ([]models.ChainSeriesPoint, error) {
	rows, err := r.db.Conn().Query(ctx, chainSeriesQuery, string(chain), from.Start(), to.Start())
	if err != nil {
		return nil, apperrors.NewDatabaseError("query chain series", err)
	}
	defer rows.Close()

	var out []models.ChainSeriesPoint
	for rows.Next() {
		var (
			c      string
			period time.Time
			amount decimal.Decimal
		)
		if err := rows.Scan(&c, &period, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan chain series: %w", err)
		}
		out = append(out, models.ChainSeriesPoint{Chain: types.ChainID(c), Period: types.PeriodOf(period), USDAmount: amount})
	}
	return out, rows.Err()
}

// GetPortfolioSeries returns the portfolio series of the latest run, limited
// to [from, to].
func (r *SeriesRepository) GetPortfolioSeries(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error) {
	rows, err := r.db.Conn().Query(ctx, portfolioSeriesQuery, from.Start(), to.Start())
	if err != nil {
		return nil, apperrors.NewDatabaseError("query portfolio series", err)
	}
	defer rows.Close()

	var out []models.PortfolioPoint
	for rows.Next() {
		var (
			period time.Time
			total  decimal.Decimal
			chains []string
		)
		if err := rows.Scan(&period, &total, &chains); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio series: %w", err)
		}
		pt := models.PortfolioPoint{Period: types.PeriodOf(period), TotalUSD: total}
		for _, c := range chains {
			pt.Chains = append(pt.Chains, types.ChainID(c))
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}
