package valuation

import (
	"time"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// ReconstructOptions controls balance reconstruction.
type ReconstructOptions struct {
	// Now fixes the current calendar month, the last row of the grid.
	Now time.Time
	// PreActivity decides the cells before a contract's first transfer.
	PreActivity types.PreActivityPolicy
	// Decimals supplies token precision for events with a blank decimal field.
	Decimals map[string]int32
}

// RowIssue is a dropped feed row.
type RowIssue struct {
	Line     int
	Contract string
	Err      error
}

// ReconstructDiagnostics describes one reconstruction.
type ReconstructDiagnostics struct {
	RowsRead    int
	RowsUsed    int
	Dropped     []RowIssue
	FirstPeriod types.Period
	LastPeriod  types.Period
	GridLength  int
	Contracts   int
}

// NetFlows sums flows per contract and period.
func NetFlows(flows []Flow) map[string]map[types.Period]decimal.Decimal {
	out := make(map[string]map[types.Period]decimal.Decimal)
	for _, f := range flows {
		byPeriod, ok := out[f.Contract]
		if !ok {
			byPeriod = make(map[types.Period]decimal.Decimal)
			out[f.Contract] = byPeriod
		}
		byPeriod[f.Period] = byPeriod[f.Period].Add(f.Amount)
	}
	return out
}

// Reconstruct turns a chain's transfer events into a gap-free monthly balance
// table. The grid runs from the earliest month with activity on the chain to
// the month of opts.Now (or the latest event month if that is later). Each
// contract's balance is the running sum of its monthly net flow; months
// without flow carry the previous balance forward. Rows that fail to convert
// are dropped and reported, the rest of the chain proceeds.
func Reconstruct(chain types.ChainID, events []models.TransferEvent, opts ReconstructOptions) (*BalanceTable, ReconstructDiagnostics) {
	diag := ReconstructDiagnostics{RowsRead: len(events)}

	flows := make([]Flow, 0, len(events))
	for _, ev := range events {
		f, err := NormalizeEvent(ev, opts.Decimals)
		if err != nil {
			diag.Dropped = append(diag.Dropped, RowIssue{Line: ev.Line, Contract: types.NormalizeAddress(ev.ContractAddress), Err: err})
			continue
		}
		flows = append(flows, f)
	}
	diag.RowsUsed = len(flows)

	if len(flows) == 0 {
		table, _ := NewBalanceTable(chain, nil, nil)
		return table, diag
	}

	first, last := flows[0].Period, flows[0].Period
	for _, f := range flows[1:] {
		if f.Period < first {
			first = f.Period
		}
		if f.Period > last {
			last = f.Period
		}
	}
	if now := types.PeriodOf(opts.Now); now > last {
		last = now
	}

	grid := types.PeriodRange(first, last)
	net := NetFlows(flows)

	columns := make(map[string][]Cell, len(net))
	for contract, byPeriod := range net {
		cells := make([]Cell, len(grid))
		running := decimal.Zero
		started := false
		for i, p := range grid {
			if flow, ok := byPeriod[p]; ok {
				running = running.Add(flow)
				started = true
			}
			switch {
			case started:
				cells[i] = Cell{Amount: running, Defined: true}
			case opts.PreActivity == types.PreActivityZero:
				cells[i] = Cell{Amount: decimal.Zero, Defined: true}
			}
		}
		columns[contract] = cells
	}

	table, _ := NewBalanceTable(chain, grid, columns)
	diag.FirstPeriod = first
	diag.LastPeriod = last
	diag.GridLength = len(grid)
	diag.Contracts = len(columns)
	return table, diag
}
