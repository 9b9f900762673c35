package artifact

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/holdings-tracker/internal/valuation"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalancesLayout(t *testing.T) {
	jan := types.NewPeriod(2023, time.January)
	table, err := valuation.NewBalanceTable(types.ChainEthereum, []types.Period{jan, jan.Next()}, map[string][]valuation.Cell{
		"0xbb": {{}, {Amount: decimal.RequireFromString("0.000000000000000001"), Defined: true}},
		"0xaa": {{Amount: decimal.NewFromInt(100), Defined: true}, {Amount: decimal.NewFromInt(70), Defined: true}},
	})
	require.NoError(t, err)
	annotated := valuation.AnnotatedBalances{Table: table, Labels: map[string]valuation.Label{
		"0xaa": {TokenName: "Tether, USD", Ticker: "USDT"},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteBalances(&buf, annotated))

	want := strings.Join([]string{
		"period,0xaa,0xbb",
		`token_name,"Tether, USD",`,
		"ticker,USDT,",
		"2023-01,100,",
		"2023-02,70,0.000000000000000001",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	back, err := ReadBalances(types.ChainEthereum, &buf)
	require.NoError(t, err)
	assert.True(t, table.Equal(back.Table))
	assert.Equal(t, valuation.Label{TokenName: "Tether, USD", Ticker: "USDT"}, back.Label("0xaa"))
	assert.Equal(t, valuation.Label{}, back.Label("0xbb"))
}

func TestBalancesRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	base := types.NewPeriod(2019, time.March)

	properties.Property("export then import reproduces every value", prop.ForAll(
		func(raw []int64, exp int, width int) bool {
			width = width%4 + 1
			rows := len(raw) / width
			periods := types.PeriodRange(base, base.Add(rows-1))
			columns := make(map[string][]valuation.Cell, width)
			for j := 0; j < width; j++ {
				cells := make([]valuation.Cell, rows)
				for i := 0; i < rows; i++ {
					v := raw[i*width+j]
					if v%7 == 0 {
						continue
					}
					cells[i] = valuation.Cell{Amount: decimal.New(v, int32(-exp-j)), Defined: true}
				}
				columns[fmt.Sprintf("0x%02x", j)] = cells
			}
			table, err := valuation.NewBalanceTable(types.ChainBNB, periods, columns)
			if err != nil {
				return false
			}

			var buf bytes.Buffer
			if err := WriteBalances(&buf, valuation.AnnotatedBalances{Table: table}); err != nil {
				return false
			}
			back, err := ReadBalances(types.ChainBNB, &buf)
			return err == nil && table.Equal(back.Table)
		},
		gen.SliceOf(gen.Int64()),
		gen.IntRange(0, 30),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestSeriesRoundTrip(t *testing.T) {
	jan := types.NewPeriod(2023, time.January)
	chain := valuation.ChainSeries{Chain: types.ChainAvalanche, Points: []models.ChainSeriesPoint{
		{Chain: types.ChainAvalanche, Period: jan, USDAmount: decimal.RequireFromString("1234.567890123456789012345")},
		{Chain: types.ChainAvalanche, Period: jan.Add(2), USDAmount: decimal.Zero},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteChainSeries(&buf, chain))
	assert.True(t, strings.HasPrefix(buf.String(), "period,usd_amount\n2023-01,1234.567890123456789012345\n"))

	back, err := ReadChainSeries(types.ChainAvalanche, &buf)
	require.NoError(t, err)
	require.Len(t, back.Points, len(chain.Points))
	for i, pt := range back.Points {
		assert.Equal(t, chain.Points[i].Chain, pt.Chain)
		assert.Equal(t, chain.Points[i].Period, pt.Period)
		assert.True(t, chain.Points[i].USDAmount.Equal(pt.USDAmount))
	}

	portfolio := valuation.Aggregate(chain)
	buf.Reset()
	require.NoError(t, WritePortfolio(&buf, portfolio))
	assert.True(t, strings.HasPrefix(buf.String(), "period,total_usd\n"))

	got, err := ReadPortfolio(&buf)
	require.NoError(t, err)
	require.Len(t, got.Points, 2)
	assert.True(t, portfolio.Points[0].TotalUSD.Equal(got.Points[0].TotalUSD))
}

func TestReadSeriesRejectsBadRows(t *testing.T) {
	_, err := ReadChainSeries(types.ChainEthereum, strings.NewReader("period,usd_amount\n2023-01,NaN\n"))
	assert.Error(t, err)

	_, err = ReadPortfolio(strings.NewReader("month,total\n"))
	assert.Error(t, err)
}
