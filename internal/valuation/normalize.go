package valuation

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// maxTokenDecimals bounds the precision accepted from feeds. ERC20 stores
// decimals as uint8.
const maxTokenDecimals = 255

// Flow is a normalized, signed transfer amount.
type Flow struct {
	Contract string
	Period   types.Period
	Amount   decimal.Decimal
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000 MST",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseEventTime parses the timestamp formats produced by the event feeds.
// Timestamps without a zone are taken as UTC.
func ParseEventTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// ParseDecimals parses a token precision. Feeds written by spreadsheet
// tooling sometimes render it as a float ("18.0"), which is accepted when
// integral.
func ParseDecimals(s string) (int32, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(maxTokenDecimals)) {
		return 0, fmt.Errorf("decimals %q out of range", s)
	}
	return int32(d.IntPart()), nil
}

// NormalizeAmount returns raw × 10^-decimals, negated for outgoing transfers.
func NormalizeAmount(raw decimal.Decimal, decimals int32, category types.TransferCategory) decimal.Decimal {
	amount := raw.Shift(-decimals)
	if category == types.CategoryFrom {
		return amount.Neg()
	}
	return amount
}

// NormalizeEvent converts one feed row into a Flow. fallbackDecimals supplies
// the precision for rows whose decimal field is blank. Any failure is a
// ROW_CONVERSION error naming the offending field.
func NormalizeEvent(ev models.TransferEvent, fallbackDecimals map[string]int32) (Flow, error) {
	contract := types.NormalizeAddress(ev.ContractAddress)
	if contract == "" {
		return Flow{}, apperrors.NewRowConversionError(apperrors.FeedTransactions, ev.Line, "contract_address", fmt.Errorf("empty address"))
	}

	at, err := ParseEventTime(ev.Time)
	if err != nil {
		return Flow{}, apperrors.NewRowConversionError(apperrors.FeedTransactions, ev.Line, "time", err)
	}

	category, ok := types.ParseTransferCategory(ev.Category)
	if !ok {
		return Flow{}, apperrors.NewRowConversionError(apperrors.FeedTransactions, ev.Line, "category", fmt.Errorf("unknown category %q", ev.Category))
	}

	raw, err := decimal.NewFromString(strings.TrimSpace(ev.Value))
	if err != nil {
		return Flow{}, apperrors.NewRowConversionError(apperrors.FeedTransactions, ev.Line, "value", err)
	}

	var decimals int32
	if strings.TrimSpace(ev.Decimal) == "" {
		d, found := fallbackDecimals[contract]
		if !found {
			return Flow{}, apperrors.NewRowConversionError(apperrors.FeedTransactions, ev.Line, "decimal", fmt.Errorf("no precision for %s", contract))
		}
		decimals = d
	} else if decimals, err = ParseDecimals(ev.Decimal); err != nil {
		return Flow{}, apperrors.NewRowConversionError(apperrors.FeedTransactions, ev.Line, "decimal", err)
	}

	return Flow{
		Contract: contract,
		Period:   types.PeriodOf(at),
		Amount:   NormalizeAmount(raw, decimals, category),
	}, nil
}
