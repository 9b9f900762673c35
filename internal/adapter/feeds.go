package adapter

import (
	"context"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// TransferSource supplies the transfer history of the tracked address
type TransferSource interface {
	FetchTransfers(ctx context.Context, chain types.ChainID, queryID int) ([]models.TransferEvent, error)
}

// PriceSource supplies daily market prices and listing metadata
type PriceSource interface {
	DailyPrices(ctx context.Context, chain types.ChainID, platform, contract string) ([]models.DailyPrice, error)
	ContractInfo(ctx context.Context, chain types.ChainID, platform, contract string) (models.ContractMetadata, error)
}

// TokenInfoSource supplies on-chain token metadata
type TokenInfoSource interface {
	Resolve(ctx context.Context, chain types.ChainID, contract string) (models.ContractMetadata, error)
}

var (
	_ TransferSource  = (*DuneClient)(nil)
	_ PriceSource     = (*PriceClient)(nil)
	_ TokenInfoSource = (*TokenResolver)(nil)
)
