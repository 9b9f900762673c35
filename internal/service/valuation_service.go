package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/holdings-tracker/internal/artifact"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/storage"
	"github.com/holdings-tracker/internal/types"
	"github.com/holdings-tracker/internal/valuation"
	"github.com/puzpuzpuz/xsync/v4"
)

// SeriesStore persists the series computed by a run
type SeriesStore interface {
	SaveRun(ctx context.Context, run storage.RunSeries) error
}

// RunStore persists run records
type RunStore interface {
	CreateRun(ctx context.Context, run *models.RunRecord) error
	CompleteRun(ctx context.Context, run *models.RunRecord) error
}

// TokenRegistry keeps contract metadata between runs
type TokenRegistry interface {
	UpsertTokens(ctx context.Context, tokens []models.ContractMetadata) error
	ListTokensByChain(ctx context.Context, chain types.ChainID) ([]models.ContractMetadata, error)
}

// ValuationOptions configures a ValuationService
type ValuationOptions struct {
	Chains      []types.ChainID
	Aliases     map[types.ChainID][]types.TokenAlias
	PreActivity types.PreActivityPolicy
	Spam        *valuation.SpamFilter
	Workers     int
	// Now fixes the current month; defaults to time.Now.
	Now func() time.Time
}

// ValuationStores are the optional persistence sinks of a run. Nil fields are
// skipped; the CSV artifacts are always written.
type ValuationStores struct {
	Series SeriesStore
	Runs   RunStore
	Tokens TokenRegistry
}

// ChainReport is the outcome of one chain in a run
type ChainReport struct {
	Chain       types.ChainID
	Included    bool
	Err         error
	Diagnostics valuation.ChainDiagnostics
	// PriceIssues are price feed cells that could not be parsed
	PriceIssues []error
	Result      *valuation.ChainResult
}

// RowsDropped counts every feed row or cell dropped for the chain
func (r ChainReport) RowsDropped() int {
	return len(r.Diagnostics.Reconstruct.Dropped) + len(r.PriceIssues)
}

// RunReport summarizes one valuation run
type RunReport struct {
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time
	Chains      []ChainReport
	Portfolio   valuation.PortfolioSeries
}

// Included returns the chains that contributed to the portfolio
func (r *RunReport) Included() []types.ChainID {
	var out []types.ChainID
	for _, c := range r.Chains {
		if c.Included {
			out = append(out, c.Chain)
		}
	}
	return out
}

// Excluded returns the chains left out of the portfolio with their reason
func (r *RunReport) Excluded() map[types.ChainID]error {
	out := make(map[types.ChainID]error)
	for _, c := range r.Chains {
		if !c.Included {
			out[c.Chain] = c.Err
		}
	}
	return out
}

// ValuationService runs the monthly holdings valuation across chains
type ValuationService struct {
	layout artifact.Layout
	opts   ValuationOptions
	stores ValuationStores
}

// NewValuationService creates a new valuation service. Repeated chains are
// valued once.
func NewValuationService(layout artifact.Layout, opts ValuationOptions, stores ValuationStores) *ValuationService {
	opts.Chains = types.UniqueChains(opts.Chains)
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ValuationService{layout: layout, opts: opts, stores: stores}
}

// Run values every configured chain in parallel, writes the per-chain
// artifacts of the chains that succeeded and the portfolio artifact, then
// persists the run to the configured stores. A chain failure never fails
// the run; it is recorded in the report instead.
func (s *ValuationService) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: s.opts.Now().UTC(),
	}
	logger := logging.FromContext(ctx).WithField("runId", report.RunID)
	ctx = logging.WithLogger(ctx, logger)

	logger.WithField("chains", len(s.opts.Chains)).Info("Valuation run started")

	record := &models.RunRecord{
		RunID:     report.RunID,
		Status:    models.RunStatusRunning,
		StartedAt: report.StartedAt,
	}
	if s.stores.Runs != nil {
		if err := s.stores.Runs.CreateRun(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	results := s.processChains(ctx, report.StartedAt)

	var included []valuation.ChainSeries
	for _, chain := range s.opts.Chains {
		cr, ok := results.Load(chain)
		if !ok {
			cr = ChainReport{Chain: chain, Err: apperrors.NewInternalError("chain was not processed", ctx.Err())}
		}
		if cr.Included {
			included = append(included, cr.Result.Series)
		} else {
			logger.WithFields(map[string]interface{}{
				"chain":  chain,
				"reason": errString(cr.Err),
			}).Warn("Chain excluded from portfolio")
		}
		report.Chains = append(report.Chains, cr)
	}

	report.Portfolio = valuation.Aggregate(included...)

	var runErr error
	if err := ctx.Err(); err != nil {
		runErr = fmt.Errorf("valuation run cancelled: %w", err)
	} else if err := artifact.WriteFile(s.layout.PortfolioPath(), func(w io.Writer) error {
		return artifact.WritePortfolio(w, report.Portfolio)
	}); err != nil {
		runErr = fmt.Errorf("failed to write portfolio: %w", err)
	}

	if runErr == nil && s.stores.Series != nil {
		if err := s.stores.Series.SaveRun(ctx, s.runSeries(report)); err != nil {
			runErr = fmt.Errorf("failed to persist series: %w", err)
		}
	}

	report.CompletedAt = s.opts.Now().UTC()
	s.completeRecord(ctx, record, report, runErr)

	logger.WithFields(map[string]interface{}{
		"included": len(report.Included()),
		"excluded": len(report.Excluded()),
		"periods":  len(report.Portfolio.Points),
		"duration": report.CompletedAt.Sub(report.StartedAt).String(),
	}).Info("Valuation run finished")

	return report, runErr
}

func (s *ValuationService) processChains(ctx context.Context, now time.Time) *xsync.Map[types.ChainID, ChainReport] {
	results := xsync.NewMap[types.ChainID, ChainReport]()

	pool := pond.NewPool(s.opts.Workers, pond.WithQueueSize(len(s.opts.Chains)+1))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, chain := range s.opts.Chains {
		chain := chain
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				results.Store(chain, ChainReport{Chain: chain, Err: err})
				return
			}
			results.Store(chain, s.processChain(groupCtx, chain, now))
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logging.FromContext(ctx).WithError(err).Warn("Chain worker group ended with error")
	}
	return results
}

// processChain loads, values and writes one chain. Any error it returns in
// the report excludes the chain, and the chain's artifacts from earlier runs
// are removed.
func (s *ValuationService) processChain(ctx context.Context, chain types.ChainID, now time.Time) (cr ChainReport) {
	logger := logging.FromContext(ctx).WithField("chain", chain)
	cr.Chain = chain

	defer func() {
		if cr.Included {
			return
		}
		if err := artifact.RemoveFiles(s.layout.ChainArtifactPaths(chain)...); err != nil {
			logger.WithError(err).Warn("Failed to remove stale chain artifacts")
		}
	}()

	in, priceIssues, loadErr := artifact.LoadChainInput(s.layout, chain)
	fatal, absorbed := splitChainErrors(append([]error{loadErr}, priceIssues...))
	if fatal != nil {
		cr.Err = fatal
		return cr
	}
	cr.PriceIssues = absorbed
	for _, issue := range absorbed {
		logger.WithError(issue).Warn("Dropped price cell")
	}

	if s.stores.Tokens != nil {
		known, err := s.stores.Tokens.ListTokensByChain(ctx, chain)
		if err != nil {
			logger.WithError(err).Warn("Token registry unavailable, using feed metadata only")
		} else {
			in.Metadata = append(in.Metadata, known...)
		}
	}

	result := valuation.ProcessChain(in, valuation.ChainOptions{
		Now:         now,
		PreActivity: s.opts.PreActivity,
		Aliases:     s.opts.Aliases[chain],
		Spam:        s.opts.Spam,
	})
	cr.Diagnostics = result.Diagnostics
	logDiagnostics(logger, result.Diagnostics)

	if err := s.writeChainArtifacts(result); err != nil {
		cr.Err = apperrors.NewInternalError(fmt.Sprintf("failed to write artifacts for %s", chain), err)
		return cr
	}

	if s.stores.Tokens != nil {
		tokens := append(in.Metadata[:0:0], in.Metadata...)
		tokens = append(tokens, valuation.MetadataFromEvents(in.Events)...)
		for i := range tokens {
			tokens[i].Blockchain = chain
		}
		if err := s.stores.Tokens.UpsertTokens(ctx, tokens); err != nil {
			logger.WithError(err).Warn("Failed to update token registry")
		}
	}

	cr.Included = true
	cr.Result = &result
	return cr
}

// splitChainErrors returns the first error of errs that excludes a chain and
// the errors that only degrade its diagnostics. Nil entries are skipped.
func splitChainErrors(errs []error) (fatal error, absorbed []error) {
	for _, err := range errs {
		switch {
		case err == nil:
		case apperrors.IsChainFatal(err):
			if fatal == nil {
				fatal = err
			}
		default:
			absorbed = append(absorbed, err)
		}
	}
	return fatal, absorbed
}

func (s *ValuationService) writeChainArtifacts(result valuation.ChainResult) error {
	if err := artifact.WriteFile(s.layout.BalancesPath(result.Chain), func(w io.Writer) error {
		return artifact.WriteBalances(w, result.Balances)
	}); err != nil {
		return err
	}
	return artifact.WriteFile(s.layout.SummedPath(result.Chain), func(w io.Writer) error {
		return artifact.WriteChainSeries(w, result.Series)
	})
}

func logDiagnostics(logger *logging.Logger, d valuation.ChainDiagnostics) {
	for _, issue := range d.Reconstruct.Dropped {
		logger.WithFields(map[string]interface{}{
			"line":     issue.Line,
			"contract": issue.Contract,
		}).WithError(issue.Err).Warn("Dropped transfer row")
	}

	if len(d.SpamContracts) > 0 {
		logger.WithField("contracts", d.SpamContracts).Info("Filtered spam contracts")
	}
	if len(d.Aliases.Unresolved) > 0 {
		logger.WithField("aliases", d.Aliases.Unresolved).Info("Aliases without a canonical price")
	}
	if len(d.Annotate.Unlabeled) > 0 {
		logger.WithField("contracts", d.Annotate.Unlabeled).Debug("Columns without metadata")
	}

	if d.Join.HasMismatch() {
		mismatch := apperrors.NewCoverageMismatchError(d.Chain, d.Join.BalanceOnly, d.Join.PriceOnly)
		logger.WithFields(mismatch.Details).Info(mismatch.Message)
	}

	logger.WithFields(map[string]interface{}{
		"rowsRead":   d.Reconstruct.RowsRead,
		"rowsUsed":   d.Reconstruct.RowsUsed,
		"contracts":  d.Reconstruct.Contracts,
		"gridLength": d.Reconstruct.GridLength,
		"matched":    d.Join.Matched,
	}).Info("Chain valued")
}

func (s *ValuationService) runSeries(report *RunReport) storage.RunSeries {
	run := storage.RunSeries{
		RunID:      report.RunID,
		ComputedAt: report.StartedAt,
		Portfolio:  report.Portfolio.Points,
	}
	for _, cr := range report.Chains {
		if !cr.Included {
			continue
		}
		run.Balances = append(run.Balances, cr.Result.Balances.Table.Long()...)
		run.Chains = append(run.Chains, cr.Result.Series.Points...)
	}
	return run
}

func (s *ValuationService) completeRecord(ctx context.Context, record *models.RunRecord, report *RunReport, runErr error) {
	if s.stores.Runs == nil {
		return
	}

	completed := report.CompletedAt
	record.CompletedAt = &completed
	record.Periods = len(report.Portfolio.Points)
	record.Status = models.RunStatusCompleted
	if runErr != nil {
		msg := runErr.Error()
		record.Status = models.RunStatusFailed
		record.Error = &msg
	}

	record.Chains = make([]models.ChainOutcome, 0, len(report.Chains))
	for _, cr := range report.Chains {
		outcome := models.ChainOutcome{
			RunID:       report.RunID,
			Chain:       string(cr.Chain),
			Included:    cr.Included,
			RowsDropped: cr.RowsDropped(),
			BalanceOnly: cr.Diagnostics.Join.BalanceOnly,
			PriceOnly:   cr.Diagnostics.Join.PriceOnly,
		}
		if cr.Err != nil {
			outcome.Reason = cr.Err.Error()
			outcome.ErrorCode = apperrors.Categorize(cr.Err).Code
		}
		record.Chains = append(record.Chains, outcome)
	}
	sort.Slice(record.Chains, func(i, j int) bool { return record.Chains[i].Chain < record.Chains[j].Chain })

	// the run context may already be cancelled; the record must still land
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.stores.Runs.CompleteRun(storeCtx, record); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to record run completion")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
