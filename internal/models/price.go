package models

import (
	"time"

	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// PriceObservation is the USD price of a contract for one month
type PriceObservation struct {
	Period          types.Period    `json:"period"`
	ContractAddress string          `json:"contractAddress"`
	PriceUSD        decimal.Decimal `json:"priceUsd"`
}

// DailyPrice is a raw market observation before month-end resampling
type DailyPrice struct {
	Time            time.Time       `json:"time"`
	ContractAddress string          `json:"contractAddress"`
	PriceUSD        decimal.Decimal `json:"priceUsd"`
}
