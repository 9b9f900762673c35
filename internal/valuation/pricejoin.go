package valuation

import (
	"sort"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// ValuedBalance is a balance cell that had a price.
type ValuedBalance struct {
	Period   types.Period
	Contract string
	Amount   decimal.Decimal
	Price    decimal.Decimal
	ValueUSD decimal.Decimal
}

// Coverage sides
const (
	SideBalanceOnly = "balance_only"
	SidePriceOnly   = "price_only"
)

// CoverageGap is a (period, contract) present on one side of the join only.
type CoverageGap struct {
	Period   types.Period
	Contract string
	Side     string
}

// JoinDiagnostics counts matched and unmatched cells of a join.
type JoinDiagnostics struct {
	Matched     int
	BalanceOnly int
	PriceOnly   int
	// Gaps holds every unmatched cell ordered by period, side, contract.
	Gaps []CoverageGap
}

// HasMismatch reports whether any cell went unmatched.
func (d JoinDiagnostics) HasMismatch() bool {
	return d.BalanceOnly > 0 || d.PriceOnly > 0
}

// ChainSeries is a chain's USD total per period, ordered by period. Periods
// in which no balance had a price have no point.
type ChainSeries struct {
	Chain  types.ChainID
	Points []models.ChainSeriesPoint
}

// JoinResult is the output of JoinPivot.
type JoinResult struct {
	Valued []ValuedBalance
	Series ChainSeries
}

// JoinPivot inner-joins defined balances with prices on (period, contract),
// values each match as price × amount and sums the values per period.
// Unmatched cells on either side are left out of the valuation and reported.
func JoinPivot(balances *BalanceTable, prices *PriceTable) (JoinResult, JoinDiagnostics) {
	var diag JoinDiagnostics
	result := JoinResult{Series: ChainSeries{Chain: balances.Chain()}}

	balanceKeys := make(map[cellKey]bool)
	totals := make(map[types.Period]decimal.Decimal)

	for _, b := range balances.Long() {
		key := cellKey{b.Period, b.ContractAddress}
		balanceKeys[key] = true

		price, ok := prices.prices[key]
		if !ok {
			diag.BalanceOnly++
			diag.Gaps = append(diag.Gaps, CoverageGap{Period: b.Period, Contract: b.ContractAddress, Side: SideBalanceOnly})
			continue
		}

		value := price.Mul(b.Amount)
		result.Valued = append(result.Valued, ValuedBalance{
			Period:   b.Period,
			Contract: b.ContractAddress,
			Amount:   b.Amount,
			Price:    price,
			ValueUSD: value,
		})
		totals[b.Period] = totals[b.Period].Add(value)
		diag.Matched++
	}

	for _, p := range prices.Long() {
		if !balanceKeys[cellKey{p.Period, p.ContractAddress}] {
			diag.PriceOnly++
			diag.Gaps = append(diag.Gaps, CoverageGap{Period: p.Period, Contract: p.ContractAddress, Side: SidePriceOnly})
		}
	}
	sort.SliceStable(diag.Gaps, func(i, j int) bool {
		a, b := diag.Gaps[i], diag.Gaps[j]
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		return a.Contract < b.Contract
	})

	periods := make([]types.Period, 0, len(totals))
	for p := range totals {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	for _, p := range periods {
		result.Series.Points = append(result.Series.Points, models.ChainSeriesPoint{
			Chain:     balances.Chain(),
			Period:    p,
			USDAmount: totals[p],
		})
	}
	return result, diag
}
