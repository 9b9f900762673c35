package artifact

import (
	"fmt"
	"io"
	"strings"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/holdings-tracker/internal/valuation"
	"github.com/shopspring/decimal"
)

// Label row keys of the balance artifact
const (
	labelTokenName = "token_name"
	labelTicker    = "ticker"
)

// WriteBalances writes the balance artifact: a header of contract addresses,
// the token_name and ticker label rows, then one row per period. Undefined
// cells are blank. Amounts are written exactly.
func WriteBalances(w io.Writer, a valuation.AnnotatedBalances) error {
	contracts := a.Table.Contracts()
	periods := a.Table.Periods()

	records := make([][]string, 0, len(periods)+3)
	records = append(records, append([]string{"period"}, contracts...))

	names := []string{labelTokenName}
	tickers := []string{labelTicker}
	for _, c := range contracts {
		label := a.Label(c)
		names = append(names, label.TokenName)
		tickers = append(tickers, label.Ticker)
	}
	records = append(records, names, tickers)

	columns := make([][]valuation.Cell, len(contracts))
	for j, c := range contracts {
		columns[j] = a.Table.Column(c)
	}
	for i, p := range periods {
		rec := make([]string, 0, len(contracts)+1)
		rec = append(rec, p.String())
		for j := range contracts {
			if cell := columns[j][i]; cell.Defined {
				rec = append(rec, cell.Amount.String())
			} else {
				rec = append(rec, "")
			}
		}
		records = append(records, rec)
	}
	return writeAll(w, records)
}

// ReadBalances reads a balance artifact back. The label rows are split off
// into the returned labels; the numeric table holds exactly the values that
// were written.
func ReadBalances(chain types.ChainID, r io.Reader) (valuation.AnnotatedBalances, error) {
	head, rows, err := readRows(r)
	if err != nil {
		return valuation.AnnotatedBalances{}, err
	}
	if len(head) == 0 || !strings.EqualFold(strings.TrimSpace(head[0]), "period") {
		return valuation.AnnotatedBalances{}, fmt.Errorf("balance artifact: first column must be period")
	}

	contracts := make([]string, len(head)-1)
	for i := range contracts {
		contracts[i] = types.NormalizeAddress(head[i+1])
	}

	labels := make(map[string]valuation.Label, len(contracts))
	for _, c := range contracts {
		labels[c] = valuation.Label{}
	}

	columns := make(map[string][]valuation.Cell, len(contracts))
	var periods []types.Period
	for _, rw := range rows {
		key := strings.TrimSpace(field(rw.fields, 0))
		switch key {
		case labelTokenName, labelTicker:
			for j, c := range contracts {
				l := labels[c]
				if key == labelTokenName {
					l.TokenName = field(rw.fields, j+1)
				} else {
					l.Ticker = field(rw.fields, j+1)
				}
				labels[c] = l
			}
			continue
		}

		p, err := types.ParsePeriod(key)
		if err != nil {
			return valuation.AnnotatedBalances{}, fmt.Errorf("balance artifact line %d: %w", rw.line, err)
		}
		periods = append(periods, p)
		for j, c := range contracts {
			raw := strings.TrimSpace(field(rw.fields, j+1))
			if raw == "" {
				columns[c] = append(columns[c], valuation.Cell{})
				continue
			}
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return valuation.AnnotatedBalances{}, fmt.Errorf("balance artifact line %d column %s: %w", rw.line, c, err)
			}
			columns[c] = append(columns[c], valuation.Cell{Amount: amount, Defined: true})
		}
	}
	for _, c := range contracts {
		if columns[c] == nil {
			columns[c] = []valuation.Cell{}
		}
	}

	table, err := valuation.NewBalanceTable(chain, periods, columns)
	if err != nil {
		return valuation.AnnotatedBalances{}, fmt.Errorf("balance artifact: %w", err)
	}
	return valuation.AnnotatedBalances{Table: table, Labels: labels}, nil
}

// WriteChainSeries writes the per-chain artifact with columns period, usd_amount.
func WriteChainSeries(w io.Writer, s valuation.ChainSeries) error {
	records := make([][]string, 0, len(s.Points)+1)
	records = append(records, []string{"period", "usd_amount"})
	for _, pt := range s.Points {
		records = append(records, []string{pt.Period.String(), pt.USDAmount.String()})
	}
	return writeAll(w, records)
}

// ReadChainSeries reads a per-chain artifact.
func ReadChainSeries(chain types.ChainID, r io.Reader) (valuation.ChainSeries, error) {
	s := valuation.ChainSeries{Chain: chain}
	err := readSeries(r, "usd_amount", func(p types.Period, v decimal.Decimal) {
		s.Points = append(s.Points, models.ChainSeriesPoint{Chain: chain, Period: p, USDAmount: v})
	})
	return s, err
}

// WritePortfolio writes the portfolio artifact with columns period, total_usd.
func WritePortfolio(w io.Writer, s valuation.PortfolioSeries) error {
	records := make([][]string, 0, len(s.Points)+1)
	records = append(records, []string{"period", "total_usd"})
	for _, pt := range s.Points {
		records = append(records, []string{pt.Period.String(), pt.TotalUSD.String()})
	}
	return writeAll(w, records)
}

// ReadPortfolio reads a portfolio artifact. Contributing chains are not part
// of the file format and come back empty.
func ReadPortfolio(r io.Reader) (valuation.PortfolioSeries, error) {
	var s valuation.PortfolioSeries
	err := readSeries(r, "total_usd", func(p types.Period, v decimal.Decimal) {
		s.Points = append(s.Points, models.PortfolioPoint{Period: p, TotalUSD: v})
	})
	return s, err
}

func readSeries(r io.Reader, valueCol string, add func(types.Period, decimal.Decimal)) error {
	head, rows, err := readRows(r)
	if err != nil {
		return err
	}
	h := newHeader(head)
	if missing := h.missing("period", valueCol); len(missing) > 0 {
		return fmt.Errorf("series artifact lacks columns %v", missing)
	}
	for _, rw := range rows {
		p, err := types.ParsePeriod(h.get(rw.fields, "period"))
		if err != nil {
			return fmt.Errorf("series artifact line %d: %w", rw.line, err)
		}
		v, err := decimal.NewFromString(h.get(rw.fields, valueCol))
		if err != nil {
			return fmt.Errorf("series artifact line %d: %w", rw.line, err)
		}
		add(p, v)
	}
	return nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
