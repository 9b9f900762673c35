package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holdings-tracker/internal/config"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "holdings"),
		User:           envOr("POSTGRES_USER", "holdings"),
		Password:       envOr("POSTGRES_PASSWORD", "holdings_dev_password"),
		MaxConnections: 5,
	}

	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(PostgresURL(cfg), "../../migrations/postgres"); err != nil {
		t.Skipf("Skipping test - Postgres migrations failed: %v", err)
	}
	return db
}

func testClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     envOr("CLICKHOUSE_HOST", "localhost"),
		Port:     envOr("CLICKHOUSE_PORT", "9000"),
		Database: envOr("CLICKHOUSE_DB", "default"),
		User:     envOr("CLICKHOUSE_USER", "default"),
		Password: envOr("CLICKHOUSE_PASSWORD", ""),
	}

	db, err := NewClickHouseDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunClickHouseMigrations(testContext(t), db, "../../migrations/clickhouse"))
	return db
}

func TestRunRepository_Lifecycle(t *testing.T) {
	db := testPostgres(t)
	repo := NewRunRepository(db)
	ctx := testContext(t)

	run := &models.RunRecord{
		RunID:     uuid.NewString(),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.CreateRun(ctx, run))

	done := time.Now().UTC().Truncate(time.Millisecond)
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &done
	run.Periods = 3
	run.Chains = []models.ChainOutcome{
		{Chain: "ethereum", Included: true, RowsDropped: 1},
		{Chain: "fantom", Included: false, Reason: "prices feed missing", ErrorCode: "MISSING_FEED"},
	}
	require.NoError(t, repo.CompleteRun(ctx, run))

	got, err := repo.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Periods)
	require.Len(t, got.Chains, 2)
	assert.Equal(t, "ethereum", got.Chains[0].Chain)
	assert.False(t, got.Chains[1].Included)

	latest, err := repo.GetLatestRun(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, latest.RunID)

	_, err = repo.GetRun(ctx, uuid.NewString())
	assert.Error(t, err)
}

func TestTokenRegistryRepository_Upsert(t *testing.T) {
	db := testPostgres(t)
	repo := NewTokenRegistryRepository(db)
	ctx := testContext(t)

	chain := types.ChainID("test-" + uuid.NewString()[:8])
	require.NoError(t, repo.UpsertTokens(ctx, []models.ContractMetadata{
		{ContractAddress: "0xAA", Ticker: "AAA", TokenName: "Token A", Decimal: "18", Blockchain: chain},
	}))
	// blank fields keep the known values
	require.NoError(t, repo.UpsertTokens(ctx, []models.ContractMetadata{
		{ContractAddress: "0xaa", Ticker: "", TokenName: "Token A v2", Blockchain: chain},
	}))

	tokens, err := repo.ListTokensByChain(ctx, chain)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "0xaa", tokens[0].ContractAddress)
	assert.Equal(t, "AAA", tokens[0].Ticker)
	assert.Equal(t, "Token A v2", tokens[0].TokenName)
	assert.Equal(t, "18", tokens[0].Decimal)
}

func TestSeriesRepository_SaveAndRead(t *testing.T) {
	db := testClickHouse(t)
	repo := NewSeriesRepository(db)
	ctx := testContext(t)

	jan := types.PeriodOf(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	run := RunSeries{
		RunID:      uuid.NewString(),
		ComputedAt: time.Now().UTC(),
		Balances: []models.BalancePoint{
			{Chain: types.ChainEthereum, ContractAddress: "0xaa", Period: jan, Amount: decimal.NewFromInt(100)},
		},
		Chains: []models.ChainSeriesPoint{
			{Chain: types.ChainEthereum, Period: jan, USDAmount: decimal.NewFromInt(100)},
			{Chain: types.ChainEthereum, Period: jan.Next(), USDAmount: decimal.NewFromInt(120)},
		},
		Portfolio: []models.PortfolioPoint{
			{Period: jan, TotalUSD: decimal.NewFromInt(100), Chains: []types.ChainID{types.ChainEthereum}},
			{Period: jan.Next(), TotalUSD: decimal.NewFromInt(120), Chains: []types.ChainID{types.ChainEthereum}},
		},
	}
	require.NoError(t, repo.SaveRun(ctx, run))

	series, err := repo.GetChainSeries(ctx, types.ChainEthereum, jan, jan.Next())
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.True(t, series[1].USDAmount.Equal(decimal.NewFromInt(120)))

	portfolio, err := repo.GetPortfolioSeries(ctx, jan.Next(), jan.Next())
	require.NoError(t, err)
	require.Len(t, portfolio, 1)
	assert.Equal(t, jan.Next(), portfolio[0].Period)
	assert.Equal(t, []types.ChainID{types.ChainEthereum}, portfolio[0].Chains)
}

func TestSeriesRepository_EmptyRunReplacesPrevious(t *testing.T) {
	db := testClickHouse(t)
	repo := NewSeriesRepository(db)
	ctx := testContext(t)

	jan := types.NewPeriod(2023, time.January)
	first := RunSeries{
		RunID:      uuid.NewString(),
		ComputedAt: time.Now().UTC(),
		Chains: []models.ChainSeriesPoint{
			{Chain: types.ChainEthereum, Period: jan, USDAmount: decimal.NewFromInt(100)},
		},
		Portfolio: []models.PortfolioPoint{
			{Period: jan, TotalUSD: decimal.NewFromInt(100), Chains: []types.ChainID{types.ChainEthereum}},
		},
	}
	require.NoError(t, repo.SaveRun(ctx, first))

	portfolio, err := repo.GetPortfolioSeries(ctx, jan, jan)
	require.NoError(t, err)
	require.Len(t, portfolio, 1)

	// every chain excluded: no series rows at all
	empty := RunSeries{RunID: uuid.NewString(), ComputedAt: first.ComputedAt.Add(10 * time.Millisecond)}
	require.NoError(t, repo.SaveRun(ctx, empty))

	portfolio, err = repo.GetPortfolioSeries(ctx, jan, jan)
	require.NoError(t, err)
	assert.Empty(t, portfolio)

	series, err := repo.GetChainSeries(ctx, types.ChainEthereum, jan, jan)
	require.NoError(t, err)
	assert.Empty(t, series)
}
