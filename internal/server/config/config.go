// Package config contains all knobs and defaults used to configure the trade
// loop engine when running as a standalone service.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxCycleLength          = 11
	DefaultSearchTimeout           = 5 * time.Second
	DefaultNodeVisitBudget         = 1_000_000
	DefaultMaxConcurrentComponents = 4

	DefaultMaxSampleSize          = 100
	DefaultMinPricedForStratified = 500
	DefaultMaxCollectionSize      = 100_000
	DefaultExpansionCacheTTL      = 10 * time.Minute

	DefaultMaxAssetsPerTenant = 250_000
	DefaultLoopTTL            = 24 * time.Hour
	DefaultSweepInterval      = time.Minute
)

// DatastoreConfig defines the checkpoint datastore settings.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'sqlite', 'postgres').
	Engine string
	URI    string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections in the idle pool.
	MaxIdleConns int

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	ConnMaxIdleTime time.Duration

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration

	// MetricsEnabled enables export of database/sql pool metrics.
	MetricsEnabled bool
}

// DiscoveryConfig bounds the cycle search.
type DiscoveryConfig struct {
	// MaxCycleLength is the maximum number of participants per loop.
	MaxCycleLength int

	// SearchTimeout bounds one discovery run; on expiry partial results
	// are returned and flagged.
	SearchTimeout time.Duration

	// NodeVisitBudget caps DFS expansions per component search.
	NodeVisitBudget int

	// MaxConcurrentComponents bounds the component fan-out.
	MaxConcurrentComponents int
}

// SamplingConfig bounds collection want expansion.
type SamplingConfig struct {
	// MaxSampleSize bounds the concrete wants one collection want can
	// generate.
	MaxSampleSize int

	// MinPricedForStratified is the valuation coverage required before
	// value-tier stratification is trusted.
	MinPricedForStratified int

	// MaxCollectionSize is the membership size past which expansion
	// degrades to random sampling.
	MaxCollectionSize int

	// CacheTTL is how long expansions stay cached.
	CacheTTL time.Duration
}

// ScoringConfig weights the composite loop score. The weights must be
// non-negative and sum to 1.
type ScoringConfig struct {
	EfficiencyWeight    float64
	FairnessWeight      float64
	DemandWeight        float64
	LengthPenaltyWeight float64
}

// TenantConfig bounds per-tenant state.
type TenantConfig struct {
	// MaxAssets bounds the assets one tenant may track.
	MaxAssets int

	// LoopTTL is how long pending loops stay active before the
	// consistency sweep expires them.
	LoopTTL time.Duration

	// SweepInterval is how often the consistency sweep runs.
	SweepInterval time.Duration
}

// ValuationConfig points at the external pricing service. An empty endpoint
// leaves assets priced only by their ingested values.
type ValuationConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// LogConfig defines logging settings.
type LogConfig struct {
	// Format is either 'text' or 'json'.
	Format string

	// Level is one of 'none', 'debug', 'info', 'warn', 'error', 'fatal'.
	Level string
}

// TraceConfig defines tracing settings.
type TraceConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
	ServiceName  string

	// SlowSearchThreshold, when positive, exports only traces whose root
	// span took at least this long.
	SlowSearchThreshold time.Duration
}

// MetricsConfig defines the Prometheus scrape endpoint settings.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Config is the composed configuration of the service.
type Config struct {
	Datastore DatastoreConfig
	Discovery DiscoveryConfig
	Sampling  SamplingConfig
	Scoring   ScoringConfig
	Tenant    TenantConfig
	Valuation ValuationConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricsConfig
}

// Verify checks that the configuration is self-consistent.
func (cfg *Config) Verify() error {
	switch cfg.Datastore.Engine {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("datastore engine '%s' is unsupported", cfg.Datastore.Engine)
	}
	if cfg.Datastore.Engine != "memory" && cfg.Datastore.URI == "" {
		return fmt.Errorf("datastore engine '%s' requires a URI", cfg.Datastore.Engine)
	}

	if cfg.Discovery.MaxCycleLength < 2 {
		return errors.New("config 'discovery.maxCycleLength' must be at least 2")
	}
	if cfg.Discovery.SearchTimeout <= 0 {
		return errors.New("config 'discovery.searchTimeout' must be positive")
	}
	if cfg.Discovery.NodeVisitBudget <= 0 {
		return errors.New("config 'discovery.nodeVisitBudget' must be positive")
	}
	if cfg.Discovery.MaxConcurrentComponents <= 0 {
		return errors.New("config 'discovery.maxConcurrentComponents' must be positive")
	}

	if cfg.Sampling.MaxSampleSize <= 0 {
		return errors.New("config 'sampling.maxSampleSize' must be positive")
	}
	if cfg.Sampling.MaxCollectionSize < cfg.Sampling.MaxSampleSize {
		return errors.New("config 'sampling.maxCollectionSize' cannot be below 'sampling.maxSampleSize'")
	}

	weights := []float64{
		cfg.Scoring.EfficiencyWeight,
		cfg.Scoring.FairnessWeight,
		cfg.Scoring.DemandWeight,
		cfg.Scoring.LengthPenaltyWeight,
	}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return errors.New("config scoring weights must be non-negative")
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config scoring weights must sum to 1, got %v", sum)
	}

	if cfg.Tenant.MaxAssets <= 0 {
		return errors.New("config 'tenant.maxAssets' must be positive")
	}
	if cfg.Tenant.SweepInterval <= 0 {
		return errors.New("config 'tenant.sweepInterval' must be positive")
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}
	switch cfg.Log.Level {
	case "none", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'fatal']")
	}

	if cfg.Trace.Enabled {
		if cfg.Trace.OTLPEndpoint == "" {
			return errors.New("config 'trace.otlpEndpoint' must be set when tracing is enabled")
		}
		if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
			return errors.New("config 'trace.sampleRatio' must be in [0, 1]")
		}
	}
	return nil
}

// DefaultConfig returns the config with all defaults applied: in-memory
// checkpoints, metrics on, tracing off.
func DefaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxOpenConns: 30,
			MaxIdleConns: 10,
		},
		Discovery: DiscoveryConfig{
			MaxCycleLength:          DefaultMaxCycleLength,
			SearchTimeout:           DefaultSearchTimeout,
			NodeVisitBudget:         DefaultNodeVisitBudget,
			MaxConcurrentComponents: DefaultMaxConcurrentComponents,
		},
		Sampling: SamplingConfig{
			MaxSampleSize:          DefaultMaxSampleSize,
			MinPricedForStratified: DefaultMinPricedForStratified,
			MaxCollectionSize:      DefaultMaxCollectionSize,
			CacheTTL:               DefaultExpansionCacheTTL,
		},
		Scoring: ScoringConfig{
			EfficiencyWeight:    0.3,
			FairnessWeight:      0.3,
			DemandWeight:        0.2,
			LengthPenaltyWeight: 0.2,
		},
		Tenant: TenantConfig{
			MaxAssets:     DefaultMaxAssetsPerTenant,
			LoopTTL:       DefaultLoopTTL,
			SweepInterval: DefaultSweepInterval,
		},
		Valuation: ValuationConfig{
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Trace: TraceConfig{
			Enabled:      false,
			OTLPEndpoint: "0.0.0.0:4317",
			SampleRatio:  0.2,
			ServiceName:  "tradeloop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
	}
}

// MustDefaultConfig returns the default config and panics if it fails its
// own verification.
func MustDefaultConfig() *Config {
	cfg := DefaultConfig()
	if err := cfg.Verify(); err != nil {
		panic(err)
	}
	return cfg
}
