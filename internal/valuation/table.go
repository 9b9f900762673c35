package valuation

import (
	"fmt"
	"sort"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// Cell is one balance value. Defined is false where the balance is absent,
// which is different from a defined zero.
type Cell struct {
	Amount  decimal.Decimal
	Defined bool
}

// BalanceTable is a wide monthly balance table: one row per period, one
// column per contract. It is immutable once built; accessors return copies.
type BalanceTable struct {
	chain     types.ChainID
	periods   []types.Period
	contracts []string
	columns   map[string][]Cell
}

// NewBalanceTable builds a table from per-contract columns aligned with
// periods. Periods must be strictly ascending and every column must have one
// cell per period.
func NewBalanceTable(chain types.ChainID, periods []types.Period, columns map[string][]Cell) (*BalanceTable, error) {
	for i := 1; i < len(periods); i++ {
		if periods[i] <= periods[i-1] {
			return nil, fmt.Errorf("periods not ascending at %s", periods[i])
		}
	}

	t := &BalanceTable{
		chain:     chain,
		periods:   append([]types.Period(nil), periods...),
		contracts: make([]string, 0, len(columns)),
		columns:   make(map[string][]Cell, len(columns)),
	}
	for contract, cells := range columns {
		if len(cells) != len(periods) {
			return nil, fmt.Errorf("column %s has %d cells, want %d", contract, len(cells), len(periods))
		}
		t.contracts = append(t.contracts, contract)
		t.columns[contract] = append([]Cell(nil), cells...)
	}
	sort.Strings(t.contracts)
	return t, nil
}

// Chain returns the chain the table belongs to.
func (t *BalanceTable) Chain() types.ChainID { return t.chain }

// Periods returns the row keys in ascending order.
func (t *BalanceTable) Periods() []types.Period {
	return append([]types.Period(nil), t.periods...)
}

// Contracts returns the column keys in sorted order.
func (t *BalanceTable) Contracts() []string {
	return append([]string(nil), t.contracts...)
}

// Column returns the cells for contract, or nil if there is no such column.
func (t *BalanceTable) Column(contract string) []Cell {
	cells, ok := t.columns[contract]
	if !ok {
		return nil
	}
	return append([]Cell(nil), cells...)
}

// Value returns the balance of contract in period and whether it is defined.
func (t *BalanceTable) Value(contract string, period types.Period) (decimal.Decimal, bool) {
	cells, ok := t.columns[contract]
	if !ok || len(t.periods) == 0 {
		return decimal.Zero, false
	}
	i := period.Sub(t.periods[0])
	if i < 0 || i >= len(t.periods) || t.periods[i] != period {
		i = sort.Search(len(t.periods), func(j int) bool { return t.periods[j] >= period })
		if i == len(t.periods) || t.periods[i] != period {
			return decimal.Zero, false
		}
	}
	c := cells[i]
	return c.Amount, c.Defined
}

// Len returns the number of periods.
func (t *BalanceTable) Len() int { return len(t.periods) }

// Long melts the table into one point per defined cell, ordered by period
// then contract.
func (t *BalanceTable) Long() []models.BalancePoint {
	out := make([]models.BalancePoint, 0, len(t.periods)*len(t.contracts))
	for i, p := range t.periods {
		for _, contract := range t.contracts {
			c := t.columns[contract][i]
			if !c.Defined {
				continue
			}
			out = append(out, models.BalancePoint{
				Chain:           t.chain,
				ContractAddress: contract,
				Period:          p,
				Amount:          c.Amount,
			})
		}
	}
	return out
}

// Equal reports whether two tables hold the same periods, contracts and
// values. Amounts compare numerically.
func (t *BalanceTable) Equal(o *BalanceTable) bool {
	if len(t.periods) != len(o.periods) || len(t.contracts) != len(o.contracts) {
		return false
	}
	for i := range t.periods {
		if t.periods[i] != o.periods[i] {
			return false
		}
	}
	for _, contract := range t.contracts {
		oc, ok := o.columns[contract]
		if !ok {
			return false
		}
		for i, c := range t.columns[contract] {
			if c.Defined != oc[i].Defined || (c.Defined && !c.Amount.Equal(oc[i].Amount)) {
				return false
			}
		}
	}
	return true
}
