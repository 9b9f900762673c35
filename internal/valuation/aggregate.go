package valuation

import (
	"sort"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// PortfolioSeries is the cross-chain USD total per period, ordered by period.
type PortfolioSeries struct {
	Points []models.PortfolioPoint
}

// Total returns the portfolio total for period and whether any chain had data.
func (s PortfolioSeries) Total(period types.Period) (decimal.Decimal, bool) {
	i := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Period >= period })
	if i < len(s.Points) && s.Points[i].Period == period {
		return s.Points[i].TotalUSD, true
	}
	return decimal.Zero, false
}

// Aggregate unions the chain series and sums usd_amount per period. A chain
// without a point for a period simply does not contribute to it; each
// portfolio point lists the chains that did. The inputs are not modified.
func Aggregate(series ...ChainSeries) PortfolioSeries {
	type acc struct {
		total  decimal.Decimal
		chains []types.ChainID
	}
	byPeriod := make(map[types.Period]*acc)

	for _, s := range series {
		for _, pt := range s.Points {
			a, ok := byPeriod[pt.Period]
			if !ok {
				a = &acc{}
				byPeriod[pt.Period] = a
			}
			a.total = a.total.Add(pt.USDAmount)
			a.chains = append(a.chains, s.Chain)
		}
	}

	out := PortfolioSeries{Points: make([]models.PortfolioPoint, 0, len(byPeriod))}
	for p, a := range byPeriod {
		sort.Slice(a.chains, func(i, j int) bool { return a.chains[i] < a.chains[j] })
		out.Points = append(out.Points, models.PortfolioPoint{Period: p, TotalUSD: a.total, Chains: a.chains})
	}
	sort.Slice(out.Points, func(i, j int) bool { return out.Points[i].Period < out.Points[j].Period })
	return out
}
