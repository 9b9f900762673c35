// Package report renders human readable summaries of valuation runs.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/service"
	"github.com/shopspring/decimal"
)

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// USD formats an amount in dollars rounded to the cent, e.g. "$1,234.50".
// Amounts whose cents do not fit in an int64 are formatted from the decimal
// directly.
func USD(amount decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := amount.Shift(int32(cur.Fraction)).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return wideUSD(amount, int32(cur.Fraction))
	}
	return cur.Formatter().Format(cents.IntPart())
}

func wideUSD(amount decimal.Decimal, fraction int32) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	fixed := amount.Abs().StringFixed(fraction)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + "$" + b.String()
}

// Summary renders the run as markdown: one row per chain followed by the
// portfolio totals of the first and latest month.
func Summary(r *service.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Valuation Run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Chains: %d included, %d excluded\n\n", len(r.Included()), len(r.Excluded()))

	fmt.Fprint(&b, "## Chains\n\n")
	fmt.Fprintln(&b, "| Chain | Status | Rows Dropped | Matched | Balance Only | Price Only | Latest Value |")
	fmt.Fprintln(&b, "|:---|:---|---:|---:|---:|---:|---:|")
	for _, c := range r.Chains {
		join := c.Diagnostics.Join
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d | %s |\n",
			c.Chain,
			status(c),
			c.RowsDropped(),
			join.Matched,
			join.BalanceOnly,
			join.PriceOnly,
			latestChainValue(c),
		)
	}

	fmt.Fprint(&b, "\n## Portfolio\n\n")
	points := r.Portfolio.Points
	if len(points) == 0 {
		fmt.Fprintln(&b, "No valued months.")
		return b.String()
	}
	first, last := points[0], points[len(points)-1]
	fmt.Fprintln(&b, "| Month | Total | Chains |")
	fmt.Fprintln(&b, "|:---|---:|---:|")
	fmt.Fprintf(&b, "| %s | %s | %d |\n", first.Period, USD(first.TotalUSD), len(first.Chains))
	if len(points) > 1 {
		fmt.Fprintf(&b, "| %s | %s | %d |\n", last.Period, USD(last.TotalUSD), len(last.Chains))
	}
	fmt.Fprintf(&b, "\n%d months valued.\n", len(points))

	return b.String()
}

// Write renders the summary to w.
func Write(w io.Writer, r *service.RunReport) error {
	_, err := io.WriteString(w, Summary(r))
	return err
}

func status(c service.ChainReport) string {
	if c.Included {
		return "included"
	}
	if c.Err == nil {
		return "excluded"
	}
	return fmt.Sprintf("excluded (%s)", apperrors.Categorize(c.Err).Code)
}

func latestChainValue(c service.ChainReport) string {
	if c.Result == nil || len(c.Result.Series.Points) == 0 {
		return "-"
	}
	pts := c.Result.Series.Points
	return USD(pts[len(pts)-1].USDAmount)
}
