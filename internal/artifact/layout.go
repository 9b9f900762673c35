// Package artifact reads the per-chain input feeds and reads and writes the
// CSV artifacts produced by a valuation run.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/holdings-tracker/internal/types"
)

// File names inside a chain directory
const (
	TransactionsFile = "transactions.csv"
	MetadataFile     = "metadata.csv"
	PricesFile       = "prices.csv"
	BalancesFile     = "balances.csv"
	SummedFile       = "summed.csv"
	PortfolioFile    = "portfolio.csv"
)

// Layout locates feeds and artifacts on disk:
//
//	<InputDir>/<chain>/{transactions,metadata,prices}.csv
//	<OutputDir>/<chain>/{balances,summed}.csv
//	<OutputDir>/portfolio.csv
type Layout struct {
	InputDir  string
	OutputDir string
}

// TransactionsPath returns the transactions feed of chain.
func (l Layout) TransactionsPath(chain types.ChainID) string {
	return filepath.Join(l.InputDir, string(chain), TransactionsFile)
}

// MetadataPath returns the contract metadata feed of chain.
func (l Layout) MetadataPath(chain types.ChainID) string {
	return filepath.Join(l.InputDir, string(chain), MetadataFile)
}

// PricesPath returns the monthly price feed of chain.
func (l Layout) PricesPath(chain types.ChainID) string {
	return filepath.Join(l.InputDir, string(chain), PricesFile)
}

// BalancesPath returns the balance artifact of chain.
func (l Layout) BalancesPath(chain types.ChainID) string {
	return filepath.Join(l.OutputDir, string(chain), BalancesFile)
}

// SummedPath returns the per-chain USD series artifact.
func (l Layout) SummedPath(chain types.ChainID) string {
	return filepath.Join(l.OutputDir, string(chain), SummedFile)
}

// PortfolioPath returns the portfolio artifact.
func (l Layout) PortfolioPath() string {
	return filepath.Join(l.OutputDir, PortfolioFile)
}

// FeedPaths returns the three input feeds of chain.
func (l Layout) FeedPaths(chain types.ChainID) []string {
	return []string{l.TransactionsPath(chain), l.MetadataPath(chain), l.PricesPath(chain)}
}

// ChainArtifactPaths returns the per-chain artifacts of chain.
func (l Layout) ChainArtifactPaths(chain types.ChainID) []string {
	return []string{l.BalancesPath(chain), l.SummedPath(chain)}
}

// RemoveFiles deletes every path. Paths that do not exist are skipped.
func RemoveFiles(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// WriteFile writes path through a temporary file in the same directory and
// renames it into place, so readers never observe a half-written artifact.
func WriteFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// ReadFile opens path and passes it to read.
func ReadFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return read(f)
}
