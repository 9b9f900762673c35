// Package types provides common type definitions for the holdings tracker.
package types

import "strings"

// ChainID represents a supported blockchain network. Values match the
// platform identifiers used by the price provider so feeds can be keyed
// by chain without translation.
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon PoS network
	ChainPolygon ChainID = "polygon-pos"
	// ChainArbitrum represents the Arbitrum One network
	ChainArbitrum ChainID = "arbitrum-one"
	// ChainOptimism represents the Optimism network
	ChainOptimism ChainID = "optimistic-ethereum"
	// ChainBNB represents the BNB Smart Chain
	ChainBNB ChainID = "binance-smart-chain"
	// ChainAvalanche represents the Avalanche C-Chain
	ChainAvalanche ChainID = "avalanche"
	// ChainFantom represents the Fantom Opera network
	ChainFantom ChainID = "fantom"
)

var chainAliases = map[string]ChainID{
	"eth":      ChainEthereum,
	"polygon":  ChainPolygon,
	"matic":    ChainPolygon,
	"arbitrum": ChainArbitrum,
	"optimism": ChainOptimism,
	"bsc":      ChainBNB,
	"bnb":      ChainBNB,
	"avax":     ChainAvalanche,
	"ftm":      ChainFantom,
}

// NormalizeChainID lower-cases the identifier and resolves common short names.
func NormalizeChainID(s string) ChainID {
	s = strings.ToLower(strings.TrimSpace(s))
	if id, ok := chainAliases[s]; ok {
		return id
	}
	return ChainID(s)
}

// UniqueChains returns chains in order with repeats removed.
func UniqueChains(chains []ChainID) []ChainID {
	seen := make(map[ChainID]bool, len(chains))
	out := make([]ChainID, 0, len(chains))
	for _, c := range chains {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// EnvPrefix returns the environment variable prefix for per-chain settings,
// e.g. "optimistic-ethereum" -> "OPTIMISTIC_ETHEREUM".
func (c ChainID) EnvPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(string(c), "-", "_"))
}

// TransferCategory is the direction of a transfer relative to the tracked address.
type TransferCategory string

const (
	// CategoryFrom is an outgoing transfer (balance decreases)
	CategoryFrom TransferCategory = "from"
	// CategoryTo is an incoming transfer (balance increases)
	CategoryTo TransferCategory = "to"
)

// ParseTransferCategory accepts "from"/"to" in any case.
func ParseTransferCategory(s string) (TransferCategory, bool) {
	switch TransferCategory(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryFrom:
		return CategoryFrom, true
	case CategoryTo:
		return CategoryTo, true
	}
	return "", false
}

// PreActivityPolicy decides what a contract's balance is in periods before
// its first observed transfer.
type PreActivityPolicy string

const (
	// PreActivityAbsent leaves the cell undefined ("no data").
	PreActivityAbsent PreActivityPolicy = "absent"
	// PreActivityZero defines the cell as 0 ("held none").
	PreActivityZero PreActivityPolicy = "zero"
)

// ParsePreActivityPolicy returns the policy for s, defaulting to absent.
func ParsePreActivityPolicy(s string) (PreActivityPolicy, bool) {
	switch PreActivityPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreActivityAbsent:
		return PreActivityAbsent, true
	case PreActivityZero:
		return PreActivityZero, true
	}
	return PreActivityAbsent, false
}

// NormalizeAddress lower-cases and trims a contract address.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TokenAlias maps a bridged or wrapped token to the canonical contract whose
// price it shares.
type TokenAlias struct {
	Canonical string `json:"canonical" yaml:"canonical"`
	Bridged   string `json:"bridged" yaml:"bridged"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
