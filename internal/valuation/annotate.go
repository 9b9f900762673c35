package valuation

import (
	"strings"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// Label identifies a balance column for display.
type Label struct {
	TokenName string `json:"tokenName"`
	Ticker    string `json:"ticker"`
}

// MetadataIndex maps contract addresses to metadata. The first record seen
// for an address wins.
type MetadataIndex struct {
	entries map[string]models.ContractMetadata
}

// NewMetadataIndex indexes rows by normalized address.
func NewMetadataIndex(rows ...[]models.ContractMetadata) *MetadataIndex {
	ix := &MetadataIndex{entries: make(map[string]models.ContractMetadata)}
	for _, set := range rows {
		for _, row := range set {
			addr := types.NormalizeAddress(row.ContractAddress)
			if addr == "" {
				continue
			}
			if _, seen := ix.entries[addr]; seen {
				continue
			}
			row.ContractAddress = addr
			ix.entries[addr] = row
		}
	}
	return ix
}

// MetadataFromEvents extracts the token/ticker labels carried on transfer
// rows, first seen per address.
func MetadataFromEvents(events []models.TransferEvent) []models.ContractMetadata {
	seen := make(map[string]bool)
	out := make([]models.ContractMetadata, 0)
	for _, ev := range events {
		addr := types.NormalizeAddress(ev.ContractAddress)
		if addr == "" || seen[addr] {
			continue
		}
		if strings.TrimSpace(ev.Token) == "" && strings.TrimSpace(ev.Ticker) == "" {
			continue
		}
		seen[addr] = true
		out = append(out, models.ContractMetadata{
			ContractAddress: addr,
			Ticker:          strings.TrimSpace(ev.Ticker),
			TokenName:       strings.TrimSpace(ev.Token),
			Decimal:         strings.TrimSpace(ev.Decimal),
		})
	}
	return out
}

// Lookup returns the metadata for addr.
func (ix *MetadataIndex) Lookup(addr string) (models.ContractMetadata, bool) {
	m, ok := ix.entries[types.NormalizeAddress(addr)]
	return m, ok
}

// Label returns the display label for addr, blank if unknown.
func (ix *MetadataIndex) Label(addr string) Label {
	m, ok := ix.Lookup(addr)
	if !ok {
		return Label{}
	}
	return Label{TokenName: m.TokenName, Ticker: m.Ticker}
}

// Decimals returns the parseable token precisions in the index.
func (ix *MetadataIndex) Decimals() map[string]int32 {
	out := make(map[string]int32, len(ix.entries))
	for addr, m := range ix.entries {
		if d, err := ParseDecimals(m.Decimal); err == nil {
			out[addr] = d
		}
	}
	return out
}

// Len returns the number of indexed contracts.
func (ix *MetadataIndex) Len() int { return len(ix.entries) }

// AnnotatedBalances pairs a balance table with per-column labels. The labels
// live beside the numeric table and are only merged when exporting.
type AnnotatedBalances struct {
	Table  *BalanceTable
	Labels map[string]Label
}

// Label returns the label of a column, blank if none.
func (a AnnotatedBalances) Label(contract string) Label {
	return a.Labels[contract]
}

// AnnotateDiagnostics lists columns that received blank labels.
type AnnotateDiagnostics struct {
	Unlabeled []string
}

// Annotate attaches token name and ticker to every column of table.
// Contracts without metadata get blank labels.
func Annotate(table *BalanceTable, ix *MetadataIndex) (AnnotatedBalances, AnnotateDiagnostics) {
	var diag AnnotateDiagnostics
	labels := make(map[string]Label, len(table.contracts))
	for _, contract := range table.contracts {
		label := ix.Label(contract)
		if label == (Label{}) {
			diag.Unlabeled = append(diag.Unlabeled, contract)
		}
		labels[contract] = label
	}
	return AnnotatedBalances{Table: table, Labels: labels}, diag
}
