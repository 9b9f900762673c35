package valuation

import (
	"testing"
	"time"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(p types.Period, contract, usd string) models.PriceObservation {
	return models.PriceObservation{Period: p, ContractAddress: contract, PriceUSD: dec(usd)}
}

func TestJoinPivotInnerJoin(t *testing.T) {
	jan, feb, mar := month(2023, time.January), month(2023, time.February), month(2023, time.March)
	table, err := NewBalanceTable(types.ChainArbitrum, []types.Period{jan, feb, mar}, map[string][]Cell{
		tokenA: {{Amount: dec("2"), Defined: true}, {Amount: dec("2"), Defined: true}, {Amount: dec("3"), Defined: true}},
		tokenB: {{}, {Amount: dec("10"), Defined: true}, {Amount: dec("10"), Defined: true}},
	})
	require.NoError(t, err)

	prices := NewPriceTable(types.ChainArbitrum, []models.PriceObservation{
		price(jan, tokenA, "1.5"),
		price(feb, tokenA, "2"),
		price(jan, tokenB, "0.1"),
		price(mar, tokenB, "0.25"),
	})

	result, diag := JoinPivot(table, prices)

	require.Len(t, result.Series.Points, 3)
	want := map[types.Period]string{jan: "3", feb: "4", mar: "2.5"}
	for _, pt := range result.Series.Points {
		assert.Equal(t, types.ChainArbitrum, pt.Chain)
		assert.True(t, dec(want[pt.Period]).Equal(pt.USDAmount), "%s: %s", pt.Period, pt.USDAmount)
	}

	assert.Equal(t, 3, diag.Matched)
	assert.Equal(t, 2, diag.BalanceOnly)
	assert.Equal(t, 1, diag.PriceOnly)
	assert.True(t, diag.HasMismatch())
	assert.Equal(t, []CoverageGap{
		{Period: jan, Contract: tokenB, Side: SidePriceOnly},
		{Period: feb, Contract: tokenB, Side: SideBalanceOnly},
		{Period: mar, Contract: tokenA, Side: SideBalanceOnly},
	}, diag.Gaps)
}

func TestJoinPivotNoMatchesYieldsNoPoints(t *testing.T) {
	jan := month(2023, time.January)
	table, err := NewBalanceTable(types.ChainArbitrum, []types.Period{jan}, map[string][]Cell{
		tokenA: {{Amount: dec("5"), Defined: true}},
	})
	require.NoError(t, err)

	result, diag := JoinPivot(table, NewPriceTable(types.ChainArbitrum, nil))
	assert.Empty(t, result.Series.Points)
	assert.Empty(t, result.Valued)
	assert.Equal(t, 1, diag.BalanceOnly)
}

func TestPriceTableAliases(t *testing.T) {
	jan, feb := month(2023, time.January), month(2023, time.February)
	usdt := "0x049d68029688eabf473097a2fc38ef61633a3c7a"
	bridged := "0x43CF58380E69594FA2A5682DE484AE00EDD83E94"

	base := NewPriceTable(types.ChainFantom, []models.PriceObservation{
		price(jan, usdt, "1.001"),
		price(feb, usdt, "0.999"),
		price(jan, bridged, "5"),
	})

	aliased, diag := base.WithAliases([]types.TokenAlias{
		{Canonical: usdt, Bridged: bridged},
		{Canonical: "0xdead", Bridged: "0xbeef"},
	})

	p, ok := aliased.Price(jan, bridged)
	require.True(t, ok)
	assert.True(t, dec("1.001").Equal(p))
	p, ok = aliased.Price(feb, bridged)
	require.True(t, ok)
	assert.True(t, dec("0.999").Equal(p))

	// the source table is untouched
	p, _ = base.Price(jan, bridged)
	assert.True(t, dec("5").Equal(p))
	_, ok = base.Price(feb, bridged)
	assert.False(t, ok)

	assert.Len(t, diag.Applied, 1)
	assert.Len(t, diag.Unresolved, 1)
	_, ok = aliased.Price(jan, "0xbeef")
	assert.False(t, ok)
}

func TestNewPriceTableLastObservationWins(t *testing.T) {
	jan := month(2023, time.January)
	table := NewPriceTable(types.ChainEthereum, []models.PriceObservation{
		price(jan, tokenA, "1"),
		price(jan, tokenA, "2"),
	})
	assert.Equal(t, 1, table.Len())
	p, _ := table.Price(jan, tokenA)
	assert.True(t, dec("2").Equal(p))
}

func TestResampleMonthEnd(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	daily := []models.DailyPrice{
		{Time: day(2023, time.January, 31), ContractAddress: tokenA, PriceUSD: dec("3")},
		{Time: day(2023, time.January, 1), ContractAddress: tokenA, PriceUSD: dec("1")},
		{Time: day(2023, time.January, 15), ContractAddress: tokenA, PriceUSD: dec("2")},
		{Time: day(2023, time.February, 10), ContractAddress: tokenA, PriceUSD: dec("4")},
		{Time: day(2023, time.January, 20), ContractAddress: tokenB, PriceUSD: dec("9")},
	}

	got := ResampleMonthEnd(daily)
	require.Len(t, got, 3)
	assert.Equal(t, month(2023, time.January), got[0].Period)
	assert.Equal(t, tokenA, got[0].ContractAddress)
	assert.True(t, dec("3").Equal(got[0].PriceUSD))
	assert.Equal(t, tokenB, got[1].ContractAddress)
	assert.True(t, dec("4").Equal(got[2].PriceUSD))
}
