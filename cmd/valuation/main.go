// Package main provides the valuation batch CLI: fetch the input feeds,
// value every chain, and optionally run both on a schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holdings-tracker/internal/config"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/report"
	"github.com/holdings-tracker/internal/service"
	"github.com/holdings-tracker/internal/types"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var (
		cfg        *config.Config
		chains     []string
		summaryOut string
	)

	rootCmd := &cobra.Command{
		Use:   "valuation",
		Short: "Monthly token holdings valuation",
		Long:  `valuation reconstructs monthly token balances per chain from transfer feeds and values them in USD.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if len(chains) > 0 {
				loaded.Chains.Enabled = selectChains(loaded.Chains.Enabled, chains)
			}
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			cfg = loaded

			logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&chains, "chains", nil, "Restrict the run to these chains (default: ENABLED_CHAINS)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Value every chain from the feeds on disk and write the artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runValuation(ctx, cfg, summaryOut)
		},
	}
	runCmd.Flags().StringVar(&summaryOut, "summary", "", "Write the run summary to this file instead of stdout")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch transfers, metadata and prices into the input feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runFetch(ctx, cfg)
		},
	}

	var withFetch bool
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the valuation on the VALUATION_SCHEDULE cron spec until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runSchedule(ctx, cfg, withFetch)
		},
	}
	scheduleCmd.Flags().BoolVar(&withFetch, "fetch", false, "Refresh the input feeds before each run")

	rootCmd.AddCommand(runCmd, fetchCmd, scheduleCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// selectChains keeps the requested chains, in request order
func selectChains(enabled []types.ChainID, requested []string) []types.ChainID {
	known := make(map[types.ChainID]bool, len(enabled))
	for _, c := range enabled {
		known[c] = true
	}
	var out []types.ChainID
	for _, name := range requested {
		c := types.NormalizeChainID(name)
		if !known[c] {
			logging.WithField("chain", name).Warn("Ignoring chain without configuration")
			continue
		}
		out = append(out, c)
	}
	return types.UniqueChains(out)
}

func runValuation(ctx context.Context, cfg *config.Config, summaryOut string) error {
	logger := logging.GetGlobalLogger()
	ctx = logging.WithLogger(ctx, logger)

	ctx, cancel := context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
	defer cancel()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, err := newValuationService(cfg, b)
	if err != nil {
		return err
	}

	rep, runErr := svc.Run(ctx)
	if rep != nil {
		if err := writeSummary(rep, summaryOut); err != nil {
			logger.WithError(err).Error("Failed to write run summary")
		}
	}
	return runErr
}

func writeSummary(rep *service.RunReport, path string) error {
	if path == "" {
		return report.Write(os.Stdout, rep)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, rep); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func runFetch(ctx context.Context, cfg *config.Config) error {
	logger := logging.GetGlobalLogger()
	ctx = logging.WithLogger(ctx, logger)

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, err := newFetchService(ctx, cfg, b)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range svc.FetchAll(ctx) {
		fields := map[string]interface{}{
			"chain":     r.Chain,
			"events":    r.Events,
			"contracts": r.Contracts,
			"priced":    r.Priced,
			"unpriced":  len(r.Unpriced),
		}
		if r.Err != nil {
			failed++
			logger.WithFields(fields).WithError(r.Err).Error("Chain fetch failed")
			continue
		}
		logger.WithFields(fields).Info("Chain feeds written")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d chains failed to fetch", failed, len(cfg.Chains.Enabled))
	}
	return nil
}

func runSchedule(ctx context.Context, cfg *config.Config, withFetch bool) error {
	logger := logging.GetGlobalLogger()
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Zap()))

	c := cron.New(
		cron.WithParser(config.ScheduleParser()),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := c.AddFunc(cfg.Pipeline.Schedule, func() {
		started := time.Now()
		if withFetch {
			if err := runFetch(ctx, cfg); err != nil {
				logger.WithError(err).Warn("Scheduled fetch finished with failures")
			}
		}
		if err := runValuation(ctx, cfg, ""); err != nil {
			logger.WithError(err).Error("Scheduled valuation failed")
			return
		}
		logger.WithField("duration", time.Since(started).String()).Info("Scheduled valuation finished")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Pipeline.Schedule, err)
	}

	c.Start()
	logger.WithField("schedule", cfg.Pipeline.Schedule).Info("Valuation scheduler started")

	<-ctx.Done()
	logger.Info("Stopping scheduler, waiting for the running job")
	<-c.Stop().Done()
	return nil
}
