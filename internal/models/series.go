package models

import (
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// BalancePoint is one defined cell of a chain's monthly balance table
type BalancePoint struct {
	Chain           types.ChainID   `json:"chain" ch:"chain"`
	ContractAddress string          `json:"contractAddress" ch:"contract_address"`
	Period          types.Period    `json:"period" ch:"period"`
	Amount          decimal.Decimal `json:"amount" ch:"amount"`
}

// ChainSeriesPoint is a chain's USD valuation for one month
type ChainSeriesPoint struct {
	Chain     types.ChainID   `json:"chain" ch:"chain"`
	Period    types.Period    `json:"period" ch:"period"`
	USDAmount decimal.Decimal `json:"usdAmount" ch:"usd_amount"`
}

// PortfolioPoint is the USD valuation across chains for one month.
// Chains lists the chains that had a row for the month.
type PortfolioPoint struct {
	Period   types.Period    `json:"period" ch:"period"`
	TotalUSD decimal.Decimal `json:"totalUsd" ch:"total_usd"`
	Chains   []types.ChainID `json:"chains" ch:"chains"`
}
