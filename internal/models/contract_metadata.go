package models

import (
	"time"

	"github.com/holdings-tracker/internal/types"
)

// ContractMetadata identifies a token contract on one chain
type ContractMetadata struct {
	ContractAddress string        `json:"contractAddress" db:"contract_address"`
	Ticker          string        `json:"ticker" db:"ticker"`
	TokenName       string        `json:"tokenName" db:"token_name"`
	Decimal         string        `json:"decimal" db:"decimal"`
	Blockchain      types.ChainID `json:"blockchain" db:"blockchain"`
	UpdatedAt       time.Time     `json:"updatedAt,omitempty" db:"updated_at"`
}
