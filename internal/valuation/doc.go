// Package valuation reconstructs monthly token balances from transfer events
// and values them in USD.
//
// Every stage is a pure function from immutable inputs to a new table plus a
// diagnostics record:
//
//	events --Reconstruct--> BalanceTable --Annotate--> AnnotatedBalances
//	BalanceTable + PriceTable --JoinPivot--> ChainSeries
//	[]ChainSeries --Aggregate--> PortfolioSeries
//
// ProcessChain composes the per-chain stages. Chains share no state, so
// callers may run ProcessChain for different chains concurrently.
package valuation
