package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Verify())
	require.NotPanics(t, func() { MustDefaultConfig() })
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errMatch string
	}{
		{
			name:     "unknown datastore engine",
			mutate:   func(cfg *Config) { cfg.Datastore.Engine = "mongodb" },
			errMatch: "datastore engine 'mongodb' is unsupported",
		},
		{
			name:     "sql engine without uri",
			mutate:   func(cfg *Config) { cfg.Datastore.Engine = "postgres" },
			errMatch: "requires a URI",
		},
		{
			name: "sqlite with uri is fine",
			mutate: func(cfg *Config) {
				cfg.Datastore.Engine = "sqlite"
				cfg.Datastore.URI = "file:tradeloop.db"
			},
		},
		{
			name:     "cycle length below minimum",
			mutate:   func(cfg *Config) { cfg.Discovery.MaxCycleLength = 1 },
			errMatch: "discovery.maxCycleLength",
		},
		{
			name:     "non positive search timeout",
			mutate:   func(cfg *Config) { cfg.Discovery.SearchTimeout = 0 },
			errMatch: "discovery.searchTimeout",
		},
		{
			name:     "non positive visit budget",
			mutate:   func(cfg *Config) { cfg.Discovery.NodeVisitBudget = -1 },
			errMatch: "discovery.nodeVisitBudget",
		},
		{
			name:     "collection cap below sample size",
			mutate:   func(cfg *Config) { cfg.Sampling.MaxCollectionSize = cfg.Sampling.MaxSampleSize - 1 },
			errMatch: "sampling.maxCollectionSize",
		},
		{
			name:     "negative scoring weight",
			mutate:   func(cfg *Config) { cfg.Scoring.DemandWeight = -0.2 },
			errMatch: "non-negative",
		},
		{
			name: "weights not summing to one",
			mutate: func(cfg *Config) {
				cfg.Scoring.EfficiencyWeight = 0.9
				cfg.Scoring.FairnessWeight = 0.9
			},
			errMatch: "must sum to 1",
		},
		{
			name:     "non positive tenant capacity",
			mutate:   func(cfg *Config) { cfg.Tenant.MaxAssets = 0 },
			errMatch: "tenant.maxAssets",
		},
		{
			name:     "unknown log format",
			mutate:   func(cfg *Config) { cfg.Log.Format = "xml" },
			errMatch: "log.format",
		},
		{
			name:     "unknown log level",
			mutate:   func(cfg *Config) { cfg.Log.Level = "verbose" },
			errMatch: "log.level",
		},
		{
			name: "tracing enabled without endpoint",
			mutate: func(cfg *Config) {
				cfg.Trace.Enabled = true
				cfg.Trace.OTLPEndpoint = ""
			},
			errMatch: "trace.otlpEndpoint",
		},
		{
			name: "tracing sample ratio out of range",
			mutate: func(cfg *Config) {
				cfg.Trace.Enabled = true
				cfg.Trace.SampleRatio = 1.5
			},
			errMatch: "trace.sampleRatio",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)

			err := cfg.Verify()
			if test.errMatch == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), test.errMatch)
		})
	}
}
