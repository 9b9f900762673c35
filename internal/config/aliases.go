package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/holdings-tracker/internal/types"
	"gopkg.in/yaml.v3"
)

// ChainAliases is the alias section of one chain in the alias file
type ChainAliases struct {
	Aliases        []types.TokenAlias `yaml:"aliases"`
	ExtraContracts []string           `yaml:"extra_contracts"`
}

type aliasFile struct {
	Chains map[string]ChainAliases `yaml:"chains"`
}

// LoadAliases reads the per-chain alias map. A missing file yields an empty
// map so deployments without bridged tokens need no file.
func LoadAliases(path string) (map[types.ChainID]ChainAliases, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[types.ChainID]ChainAliases{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file %s: %w", path, err)
	}
	return ParseAliases(data)
}

// ParseAliases decodes alias YAML
func ParseAliases(data []byte) (map[types.ChainID]ChainAliases, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}

	out := make(map[types.ChainID]ChainAliases, len(f.Chains))
	for name, section := range f.Chains {
		for i, a := range section.Aliases {
			if types.NormalizeAddress(a.Canonical) == "" || types.NormalizeAddress(a.Bridged) == "" {
				return nil, fmt.Errorf("chain %s alias %d: canonical and bridged are required", name, i)
			}
			section.Aliases[i] = types.TokenAlias{
				Canonical: types.NormalizeAddress(a.Canonical),
				Bridged:   types.NormalizeAddress(a.Bridged),
			}
		}
		for i, c := range section.ExtraContracts {
			section.ExtraContracts[i] = types.NormalizeAddress(c)
		}
		out[types.NormalizeChainID(name)] = section
	}
	return out, nil
}

// ApplyAliases attaches alias sections to the enabled chains
func (c *ChainsConfig) ApplyAliases(aliases map[types.ChainID]ChainAliases) {
	for chain, section := range aliases {
		cc, ok := c.Chains[chain]
		if !ok {
			continue
		}
		cc.Aliases = section.Aliases
		cc.ExtraContracts = section.ExtraContracts
		c.Chains[chain] = cc
	}
}
