package valuation

import (
	"sort"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

type cellKey struct {
	period   types.Period
	contract string
}

// PriceTable holds one USD price per (period, contract). It is immutable.
type PriceTable struct {
	chain  types.ChainID
	prices map[cellKey]decimal.Decimal
}

// NewPriceTable builds a table from observations. When a (period, contract)
// pair repeats, the later observation wins.
func NewPriceTable(chain types.ChainID, observations []models.PriceObservation) *PriceTable {
	t := &PriceTable{chain: chain, prices: make(map[cellKey]decimal.Decimal, len(observations))}
	for _, o := range observations {
		t.prices[cellKey{o.Period, types.NormalizeAddress(o.ContractAddress)}] = o.PriceUSD
	}
	return t
}

// Chain returns the chain the prices belong to.
func (t *PriceTable) Chain() types.ChainID { return t.chain }

// Price returns the price of contract in period.
func (t *PriceTable) Price(period types.Period, contract string) (decimal.Decimal, bool) {
	p, ok := t.prices[cellKey{period, types.NormalizeAddress(contract)}]
	return p, ok
}

// Len returns the number of observations.
func (t *PriceTable) Len() int { return len(t.prices) }

// Contracts returns the priced contracts in sorted order.
func (t *PriceTable) Contracts() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for k := range t.prices {
		if !seen[k.contract] {
			seen[k.contract] = true
			out = append(out, k.contract)
		}
	}
	sort.Strings(out)
	return out
}

// Long melts the table into observations ordered by period then contract.
func (t *PriceTable) Long() []models.PriceObservation {
	out := make([]models.PriceObservation, 0, len(t.prices))
	for k, v := range t.prices {
		out = append(out, models.PriceObservation{Period: k.period, ContractAddress: k.contract, PriceUSD: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].ContractAddress < out[j].ContractAddress
	})
	return out
}

// AliasDiagnostics reports how an alias map applied to a price table.
type AliasDiagnostics struct {
	Applied []types.TokenAlias
	// Unresolved aliases whose canonical contract has no prices.
	Unresolved []types.TokenAlias
}

// WithAliases returns a new table in which every bridged contract carries a
// copy of its canonical contract's prices. Prices already present for a
// bridged contract are replaced.
func (t *PriceTable) WithAliases(aliases []types.TokenAlias) (*PriceTable, AliasDiagnostics) {
	var diag AliasDiagnostics
	out := &PriceTable{chain: t.chain, prices: make(map[cellKey]decimal.Decimal, len(t.prices))}
	for k, v := range t.prices {
		out.prices[k] = v
	}

	for _, a := range aliases {
		canonical := types.NormalizeAddress(a.Canonical)
		bridged := types.NormalizeAddress(a.Bridged)

		copied := false
		for k, v := range t.prices {
			if k.contract == canonical {
				out.prices[cellKey{k.period, bridged}] = v
				copied = true
			}
		}
		if copied {
			diag.Applied = append(diag.Applied, a)
		} else {
			diag.Unresolved = append(diag.Unresolved, a)
		}
	}
	return out, diag
}

// ResampleMonthEnd reduces daily observations to one price per contract and
// month, keeping the latest observation in each month.
func ResampleMonthEnd(daily []models.DailyPrice) []models.PriceObservation {
	type latest struct {
		at    int64
		price decimal.Decimal
	}
	picked := make(map[cellKey]latest)
	for _, d := range daily {
		k := cellKey{types.PeriodOf(d.Time), types.NormalizeAddress(d.ContractAddress)}
		at := d.Time.UnixNano()
		if cur, ok := picked[k]; !ok || at >= cur.at {
			picked[k] = latest{at: at, price: d.PriceUSD}
		}
	}

	out := make([]models.PriceObservation, 0, len(picked))
	for k, v := range picked {
		out = append(out, models.PriceObservation{Period: k.period, ContractAddress: k.contract, PriceUSD: v.price})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].ContractAddress < out[j].ContractAddress
	})
	return out
}
