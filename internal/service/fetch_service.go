package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/holdings-tracker/internal/adapter"
	"github.com/holdings-tracker/internal/artifact"
	"github.com/holdings-tracker/internal/config"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/holdings-tracker/internal/valuation"
	"github.com/puzpuzpuz/xsync/v4"
)

// FetchReport is the outcome of fetching one chain's feeds
type FetchReport struct {
	Chain     types.ChainID
	Events    int
	Contracts int
	Priced    int
	// Unpriced lists contracts the market API had no history for
	Unpriced []string
	Err      error
}

// FetchService populates the input feeds of the valuation run from the
// external providers. Tokens is optional.
type FetchService struct {
	layout    artifact.Layout
	chains    config.ChainsConfig
	workers   int
	transfers adapter.TransferSource
	prices    adapter.PriceSource
	tokens    adapter.TokenInfoSource
	registry  TokenRegistry
}

// NewFetchService creates a new fetch service. tokens and registry may be nil.
func NewFetchService(
	layout artifact.Layout,
	chains config.ChainsConfig,
	workers int,
	transfers adapter.TransferSource,
	prices adapter.PriceSource,
	tokens adapter.TokenInfoSource,
	registry TokenRegistry,
) *FetchService {
	if workers <= 0 {
		workers = 2
	}
	return &FetchService{
		layout:    layout,
		chains:    chains,
		workers:   workers,
		transfers: transfers,
		prices:    prices,
		tokens:    tokens,
		registry:  registry,
	}
}

// FetchAll fetches every enabled chain in parallel. The feeds of a chain
// whose fetch fails are removed, so the next valuation run reports it as a
// missing feed instead of valuing an earlier fetch.
func (s *FetchService) FetchAll(ctx context.Context) []FetchReport {
	results := xsync.NewMap[types.ChainID, FetchReport]()

	pool := pond.NewPool(s.workers, pond.WithQueueSize(len(s.chains.Enabled)+1))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, chain := range s.chains.Enabled {
		chain := chain
		group.Submit(func() {
			results.Store(chain, s.FetchChain(groupCtx, chain))
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logging.FromContext(ctx).WithError(err).Warn("Fetch worker group ended with error")
	}

	reports := make([]FetchReport, 0, len(s.chains.Enabled))
	for _, chain := range s.chains.Enabled {
		r, ok := results.Load(chain)
		if !ok {
			r = FetchReport{Chain: chain, Err: apperrors.NewInternalError("chain was not fetched", ctx.Err())}
		}
		reports = append(reports, r)
	}
	return reports
}

// FetchChain fetches transfers, metadata and month-end prices of one chain
// and writes them as its input feeds. On failure the chain's feeds are
// removed.
func (s *FetchService) FetchChain(ctx context.Context, chain types.ChainID) (report FetchReport) {
	report.Chain = chain
	cfg := s.chains.Chains[chain]
	logger := logging.FromContext(ctx).WithField("chain", chain)
	ctx = logging.WithLogger(ctx, logger)

	defer func() {
		if report.Err == nil {
			return
		}
		if err := artifact.RemoveFiles(s.layout.FeedPaths(chain)...); err != nil {
			logger.WithError(err).Warn("Failed to remove stale feeds")
		}
	}()

	events, err := s.transfers.FetchTransfers(ctx, chain, cfg.DuneQueryID)
	if err != nil {
		report.Err = err
		logger.WithError(err).Error("Transfer fetch failed")
		return report
	}
	report.Events = len(events)

	contracts := trackedContracts(events, cfg.ExtraContracts)
	report.Contracts = len(contracts)

	platform := cfg.PricePlatform
	if platform == "" {
		platform = string(chain)
	}

	metadata := s.resolveMetadata(ctx, chain, platform, events, contracts)

	var observations []models.PriceObservation
	for _, contract := range contracts {
		daily, err := s.prices.DailyPrices(ctx, chain, platform, contract)
		if err != nil {
			if ctx.Err() != nil {
				report.Err = ctx.Err()
				return report
			}
			logger.WithField("contract", contract).WithError(err).Warn("No price history")
			report.Unpriced = append(report.Unpriced, contract)
			continue
		}
		observations = append(observations, valuation.ResampleMonthEnd(daily)...)
		report.Priced++
	}

	if err := s.writeFeeds(chain, events, metadata, observations); err != nil {
		report.Err = apperrors.NewInternalError(fmt.Sprintf("failed to write feeds for %s", chain), err)
		return report
	}

	if s.registry != nil {
		if err := s.registry.UpsertTokens(ctx, metadata); err != nil {
			logger.WithError(err).Warn("Failed to update token registry")
		}
	}

	logger.WithFields(map[string]interface{}{
		"events":    report.Events,
		"contracts": report.Contracts,
		"priced":    report.Priced,
	}).Info("Chain feeds fetched")
	return report
}

// trackedContracts returns the distinct contracts of events plus extras, sorted
func trackedContracts(events []models.TransferEvent, extras []string) []string {
	set := make(map[string]bool)
	for _, ev := range events {
		if addr := types.NormalizeAddress(ev.ContractAddress); addr != "" {
			set[addr] = true
		}
	}
	for _, addr := range extras {
		if addr = types.NormalizeAddress(addr); addr != "" {
			set[addr] = true
		}
	}

	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// resolveMetadata labels every contract. Labels carried on transfer rows
// come first, then the ERC20 contract itself, then the market listing.
func (s *FetchService) resolveMetadata(ctx context.Context, chain types.ChainID, platform string, events []models.TransferEvent, contracts []string) []models.ContractMetadata {
	logger := logging.FromContext(ctx)
	index := valuation.NewMetadataIndex(valuation.MetadataFromEvents(events))

	out := make([]models.ContractMetadata, 0, len(contracts))
	for _, contract := range contracts {
		meta, _ := index.Lookup(contract)
		meta.ContractAddress = contract
		meta.Blockchain = chain

		if !complete(meta) && s.tokens != nil {
			onChain, err := s.tokens.Resolve(ctx, chain, contract)
			if err != nil {
				logger.WithField("contract", contract).WithError(err).Debug("On-chain metadata lookup failed")
			} else {
				meta = merge(meta, onChain)
			}
		}
		if !complete(meta) {
			listed, err := s.prices.ContractInfo(ctx, chain, platform, contract)
			if err != nil {
				logger.WithField("contract", contract).WithError(err).Debug("Listing metadata lookup failed")
			} else {
				meta = merge(meta, listed)
			}
		}
		out = append(out, meta)
	}
	return out
}

func complete(m models.ContractMetadata) bool {
	return strings.TrimSpace(m.Ticker) != "" && strings.TrimSpace(m.TokenName) != "" && strings.TrimSpace(m.Decimal) != ""
}

// merge fills the blank fields of m from other
func merge(m, other models.ContractMetadata) models.ContractMetadata {
	if strings.TrimSpace(m.Ticker) == "" {
		m.Ticker = other.Ticker
	}
	if strings.TrimSpace(m.TokenName) == "" {
		m.TokenName = other.TokenName
	}
	if strings.TrimSpace(m.Decimal) == "" {
		m.Decimal = other.Decimal
	}
	return m
}

func (s *FetchService) writeFeeds(chain types.ChainID, events []models.TransferEvent, metadata []models.ContractMetadata, prices []models.PriceObservation) error {
	if err := artifact.WriteFile(s.layout.TransactionsPath(chain), func(w io.Writer) error {
		return artifact.WriteTransactions(w, events)
	}); err != nil {
		return err
	}
	if err := artifact.WriteFile(s.layout.MetadataPath(chain), func(w io.Writer) error {
		return artifact.WriteMetadata(w, metadata)
	}); err != nil {
		return err
	}
	return artifact.WriteFile(s.layout.PricesPath(chain), func(w io.Writer) error {
		return artifact.WritePrices(w, prices)
	})
}
