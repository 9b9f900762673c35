package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holdings-tracker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("PRICE_CACHE_TTL", "30s")
	t.Setenv("ENABLED_CHAINS", "ethereum, ftm,fantom,,bsc")
	t.Setenv("FANTOM_RPC_URL", "https://rpc.ftm.tools")
	t.Setenv("FANTOM_DUNE_QUERY_ID", "1234")
	t.Setenv("PRE_ACTIVITY_FILL", "zero")
	t.Setenv("ALIAS_FILE", filepath.Join("..", "..", "configs", "aliases.yaml"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Cache.PriceTTL != 30*time.Second {
		t.Errorf("Cache.PriceTTL = %v, want %v", cfg.Cache.PriceTTL, 30*time.Second)
	}

	assert.Equal(t, []types.ChainID{types.ChainEthereum, types.ChainFantom, types.ChainBNB}, cfg.Chains.Enabled)
	fantom := cfg.Chains.Chains[types.ChainFantom]
	assert.Equal(t, "https://rpc.ftm.tools", fantom.RPCURL)
	assert.Equal(t, 1234, fantom.DuneQueryID)
	assert.Equal(t, "fantom", fantom.PricePlatform)
	assert.Len(t, fantom.Aliases, 3)
	assert.Equal(t, []string{"0x9879abdea01a879644185341f7af7d8343556b7a"}, fantom.ExtraContracts)
	assert.Len(t, cfg.Chains.Chains[types.ChainBNB].Aliases, 6)

	assert.Equal(t, types.PreActivityZero, cfg.Pipeline.PreActivity)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("PRE_ACTIVITY_FILL", "interpolate")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("ALIAS_FILE", filepath.Join(t.TempDir(), "none.yaml"))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no chains", func(c *Config) { c.Chains.Enabled = nil }},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"bad schedule", func(c *Config) { c.Pipeline.Schedule = "every month" }},
		{"no output", func(c *Config) { c.Pipeline.OutputDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *cfg
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseAliases(t *testing.T) {
	data := []byte(`
chains:
  Polygon:
    aliases:
      - canonical: "0x2791BCA1F2DE4661ED88A30C99A7A9449AA84174"
        bridged: "0xB6C473756050DE474286BED418B77AEAC39B02AF"
`)
	got, err := ParseAliases(data)
	require.NoError(t, err)
	assert.Equal(t, []types.TokenAlias{{
		Canonical: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		Bridged:   "0xb6c473756050de474286bed418b77aeac39b02af",
	}}, got[types.ChainPolygon].Aliases)

	_, err = ParseAliases([]byte("chains:\n  fantom:\n    aliases:\n      - canonical: 0xabc\n"))
	assert.Error(t, err)

	_, err = ParseAliases([]byte("chains: ["))
	assert.Error(t, err)
}

func TestLoadAliasesMissingFile(t *testing.T) {
	got, err := LoadAliases(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, got)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains: ["), 0o644))
	_, err = LoadAliases(path)
	assert.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("TEST_INT", "notanumber")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_FLOAT", "2.5")
	t.Setenv("TEST_DURATION", "1m")

	assert.Equal(t, 7, getEnvAsInt("TEST_INT", 7))
	assert.True(t, getEnvAsBool("TEST_BOOL", false))
	assert.Equal(t, 2.5, getEnvAsFloat("TEST_FLOAT", 1))
	assert.Equal(t, time.Minute, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, 3.0, getEnvAsFloat("TEST_UNSET_FLOAT", 3))
}
