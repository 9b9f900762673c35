package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/holdings-tracker/internal/valuation"
	"github.com/shopspring/decimal"
)

// Transactions feed columns
var transactionColumns = []string{"time", "contract_address", "category", "value", "decimal", "ticker", "token"}

// Metadata feed columns
var metadataColumns = []string{"contract_address", "ticker", "token_name", "decimal", "blockchain"}

// ReadTransactions reads a transactions feed. Fields are kept as text;
// conversion happens during reconstruction.
func ReadTransactions(chain types.ChainID, r io.Reader) ([]models.TransferEvent, error) {
	head, rows, err := readRows(r)
	if err != nil {
		return nil, schemaOrRead(chain, apperrors.FeedTransactions, err, transactionColumns[:5])
	}
	h := newHeader(head)
	if missing := h.missing(transactionColumns[:5]...); len(missing) > 0 {
		return nil, apperrors.NewSchemaViolationError(chain, apperrors.FeedTransactions, missing)
	}

	events := make([]models.TransferEvent, 0, len(rows))
	for _, rw := range rows {
		events = append(events, models.TransferEvent{
			Line:            rw.line,
			Time:            h.get(rw.fields, "time"),
			ContractAddress: h.get(rw.fields, "contract_address"),
			Category:        h.get(rw.fields, "category"),
			Value:           h.get(rw.fields, "value"),
			Decimal:         h.get(rw.fields, "decimal"),
			Ticker:          h.get(rw.fields, "ticker"),
			Token:           h.get(rw.fields, "token"),
		})
	}
	return events, nil
}

// ReadMetadata reads a contract metadata feed.
func ReadMetadata(chain types.ChainID, r io.Reader) ([]models.ContractMetadata, error) {
	required := metadataColumns[:3]
	head, rows, err := readRows(r)
	if err != nil {
		return nil, schemaOrRead(chain, apperrors.FeedMetadata, err, required)
	}
	h := newHeader(head)
	if missing := h.missing(required...); len(missing) > 0 {
		return nil, apperrors.NewSchemaViolationError(chain, apperrors.FeedMetadata, missing)
	}

	out := make([]models.ContractMetadata, 0, len(rows))
	for _, rw := range rows {
		blockchain := types.NormalizeChainID(h.get(rw.fields, "blockchain"))
		if blockchain == "" {
			blockchain = chain
		}
		out = append(out, models.ContractMetadata{
			ContractAddress: h.get(rw.fields, "contract_address"),
			Ticker:          h.get(rw.fields, "ticker"),
			TokenName:       h.get(rw.fields, "token_name"),
			Decimal:         h.get(rw.fields, "decimal"),
			Blockchain:      blockchain,
		})
	}
	return out, nil
}

// ReadPrices reads a wide monthly price feed: the first column holds the
// month (YYYY-MM or a date within the month), every other column is a
// contract address. Blank cells are missing observations. Unparseable rows
// and cells are skipped and returned as row conversion errors.
func ReadPrices(chain types.ChainID, r io.Reader) ([]models.PriceObservation, []error, error) {
	head, rows, err := readRows(r)
	if err != nil {
		return nil, nil, schemaOrRead(chain, apperrors.FeedPrices, err, []string{"period"})
	}
	if len(head) < 1 || !isPeriodHeader(head[0]) {
		return nil, nil, apperrors.NewSchemaViolationError(chain, apperrors.FeedPrices, []string{"period"})
	}

	contracts := make([]string, len(head))
	for i := 1; i < len(head); i++ {
		contracts[i] = types.NormalizeAddress(head[i])
	}

	var issues []error
	var out []models.PriceObservation
	for _, rw := range rows {
		if len(rw.fields) == 0 || strings.TrimSpace(rw.fields[0]) == "" {
			continue
		}
		period, err := types.ParsePeriod(strings.TrimSpace(rw.fields[0]))
		if err != nil {
			issues = append(issues, apperrors.NewRowConversionError(apperrors.FeedPrices, rw.line, "period", err))
			continue
		}
		for i := 1; i < len(rw.fields) && i < len(head); i++ {
			cell := strings.TrimSpace(rw.fields[i])
			if cell == "" || contracts[i] == "" {
				continue
			}
			price, err := decimal.NewFromString(cell)
			if err != nil {
				issues = append(issues, apperrors.NewRowConversionError(apperrors.FeedPrices, rw.line, contracts[i], err))
				continue
			}
			out = append(out, models.PriceObservation{Period: period, ContractAddress: contracts[i], PriceUSD: price})
		}
	}
	return out, issues, nil
}

// isPeriodHeader reports whether name can head the month column of a price
// feed: "period", "date" or blank.
func isPeriodHeader(name string) bool {
	switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
	case "period", "date", "":
		return true
	}
	return false
}

// LoadChainInput reads all three feeds of chain. An absent file is a
// MISSING_FEED error; a feed without its required columns is a
// SCHEMA_VIOLATION. Row-level problems in the price feed are returned
// alongside the input.
func LoadChainInput(layout Layout, chain types.ChainID) (valuation.ChainInput, []error, error) {
	in := valuation.ChainInput{Chain: chain}

	events, err := ReadFile(layout.TransactionsPath(chain), func(r io.Reader) ([]models.TransferEvent, error) {
		return ReadTransactions(chain, r)
	})
	if err != nil {
		return in, nil, feedError(chain, apperrors.FeedTransactions, err)
	}

	metadata, err := ReadFile(layout.MetadataPath(chain), func(r io.Reader) ([]models.ContractMetadata, error) {
		return ReadMetadata(chain, r)
	})
	if err != nil {
		return in, nil, feedError(chain, apperrors.FeedMetadata, err)
	}

	var issues []error
	prices, err := ReadFile(layout.PricesPath(chain), func(r io.Reader) ([]models.PriceObservation, error) {
		obs, rowIssues, err := ReadPrices(chain, r)
		issues = rowIssues
		return obs, err
	})
	if err != nil {
		return in, nil, feedError(chain, apperrors.FeedPrices, err)
	}

	in.Events = events
	in.Metadata = metadata
	in.Prices = prices
	return in, issues, nil
}

func feedError(chain types.ChainID, feed string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewMissingFeedError(chain, feed, err)
	}
	if apperrors.Is(err, apperrors.CategorySchema) {
		return err
	}
	return fmt.Errorf("failed to read %s feed for %s: %w", feed, chain, err)
}

// schemaOrRead turns an empty file into a schema violation and wraps other
// read errors.
func schemaOrRead(chain types.ChainID, feed string, err error, required []string) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.NewSchemaViolationError(chain, feed, required)
	}
	return err
}

// WriteTransactions writes a transactions feed.
func WriteTransactions(w io.Writer, events []models.TransferEvent) error {
	records := make([][]string, 0, len(events)+1)
	records = append(records, transactionColumns)
	for _, ev := range events {
		records = append(records, []string{ev.Time, ev.ContractAddress, ev.Category, ev.Value, ev.Decimal, ev.Ticker, ev.Token})
	}
	return writeAll(w, records)
}

// WriteMetadata writes a contract metadata feed.
func WriteMetadata(w io.Writer, rows []models.ContractMetadata) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, metadataColumns)
	for _, m := range rows {
		records = append(records, []string{m.ContractAddress, m.Ticker, m.TokenName, m.Decimal, string(m.Blockchain)})
	}
	return writeAll(w, records)
}

// WritePrices writes observations as a wide table keyed by month-end date.
func WritePrices(w io.Writer, observations []models.PriceObservation) error {
	byPeriod := make(map[types.Period]map[string]decimal.Decimal)
	contractSet := make(map[string]bool)
	for _, o := range observations {
		addr := types.NormalizeAddress(o.ContractAddress)
		if byPeriod[o.Period] == nil {
			byPeriod[o.Period] = make(map[string]decimal.Decimal)
		}
		byPeriod[o.Period][addr] = o.PriceUSD
		contractSet[addr] = true
	}

	contracts := sortedKeys(contractSet)
	periods := make([]types.Period, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	records := make([][]string, 0, len(periods)+1)
	records = append(records, append([]string{"date"}, contracts...))
	for _, p := range periods {
		rec := make([]string, 0, len(contracts)+1)
		rec = append(rec, p.End().Format("2006-01-02"))
		for _, c := range contracts {
			if v, ok := byPeriod[p][c]; ok {
				rec = append(rec, v.String())
			} else {
				rec = append(rec, "")
			}
		}
		records = append(records, rec)
	}
	return writeAll(w, records)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
