package valuation

import (
	"time"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// ChainInput is the complete set of feeds for one chain.
type ChainInput struct {
	Chain    types.ChainID
	Events   []models.TransferEvent
	Metadata []models.ContractMetadata
	Prices   []models.PriceObservation
}

// ChainOptions configures ProcessChain.
type ChainOptions struct {
	Now         time.Time
	PreActivity types.PreActivityPolicy
	Aliases     []types.TokenAlias
	Spam        *SpamFilter
}

// ChainDiagnostics collects the diagnostics of every stage run for a chain.
type ChainDiagnostics struct {
	Chain         types.ChainID
	SpamContracts []string
	Reconstruct   ReconstructDiagnostics
	Annotate      AnnotateDiagnostics
	Aliases       AliasDiagnostics
	Join          JoinDiagnostics
}

// ChainResult is everything computed for one chain.
type ChainResult struct {
	Chain       types.ChainID
	Balances    AnnotatedBalances
	Valued      []ValuedBalance
	Series      ChainSeries
	Diagnostics ChainDiagnostics
}

// ProcessChain runs filter, reconstruct, annotate and join for one chain.
// It never fails: row-level problems end up in the diagnostics.
func ProcessChain(in ChainInput, opts ChainOptions) ChainResult {
	diag := ChainDiagnostics{Chain: in.Chain}

	index := NewMetadataIndex(in.Metadata, MetadataFromEvents(in.Events))

	events, spam := FilterEvents(in.Events, index, opts.Spam)
	diag.SpamContracts = spam

	table, rdiag := Reconstruct(in.Chain, events, ReconstructOptions{
		Now:         opts.Now,
		PreActivity: opts.PreActivity,
		Decimals:    index.Decimals(),
	})
	diag.Reconstruct = rdiag

	annotated, adiag := Annotate(table, index)
	diag.Annotate = adiag

	prices, aliasDiag := NewPriceTable(in.Chain, in.Prices).WithAliases(opts.Aliases)
	diag.Aliases = aliasDiag

	joined, jdiag := JoinPivot(table, prices)
	diag.Join = jdiag

	return ChainResult{
		Chain:       in.Chain,
		Balances:    annotated,
		Valued:      joined.Valued,
		Series:      joined.Series,
		Diagnostics: diag,
	}
}
