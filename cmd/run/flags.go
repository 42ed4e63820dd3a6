package run

import (
	"github.com/spf13/cobra"

	"github.com/tradeloop/tradeloop/cmd/util"
	serverconfig "github.com/tradeloop/tradeloop/internal/server/config"
)

// bindRunFlags binds the cobra cmd flags to the equivalent config value being
// managed by viper. This bridges the config between cobra flags and viper
// flags.
func bindRunFlags(command *cobra.Command) {
	defaultConfig := serverconfig.DefaultConfig()
	flags := command.Flags()

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence ('memory', 'sqlite', 'postgres')")
	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "TRADELOOP_DATASTORE_ENGINE")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")
	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "TRADELOOP_DATASTORE_URI")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
	util.MustBindEnv("datastore.maxOpenConns", "TRADELOOP_DATASTORE_MAX_OPEN_CONNS")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
	util.MustBindEnv("datastore.maxIdleConns", "TRADELOOP_DATASTORE_MAX_IDLE_CONNS")

	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")
	util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
	util.MustBindEnv("datastore.connMaxIdleTime", "TRADELOOP_DATASTORE_CONN_MAX_IDLE_TIME")

	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")
	util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
	util.MustBindEnv("datastore.connMaxLifetime", "TRADELOOP_DATASTORE_CONN_MAX_LIFETIME")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.MetricsEnabled, "enable/disable sql metrics for the datastore")
	util.MustBindPFlag("datastore.metricsEnabled", flags.Lookup("datastore-metrics-enabled"))
	util.MustBindEnv("datastore.metricsEnabled", "TRADELOOP_DATASTORE_METRICS_ENABLED")

	flags.Int("discovery-max-cycle-length", defaultConfig.Discovery.MaxCycleLength, "the maximum number of participants per trade loop")
	util.MustBindPFlag("discovery.maxCycleLength", flags.Lookup("discovery-max-cycle-length"))
	util.MustBindEnv("discovery.maxCycleLength", "TRADELOOP_DISCOVERY_MAX_CYCLE_LENGTH")

	flags.Duration("discovery-search-timeout", defaultConfig.Discovery.SearchTimeout, "the timeout after which a discovery run returns partial results")
	util.MustBindPFlag("discovery.searchTimeout", flags.Lookup("discovery-search-timeout"))
	util.MustBindEnv("discovery.searchTimeout", "TRADELOOP_DISCOVERY_SEARCH_TIMEOUT")

	flags.Int("discovery-node-visit-budget", defaultConfig.Discovery.NodeVisitBudget, "the maximum number of node visits per component search")
	util.MustBindPFlag("discovery.nodeVisitBudget", flags.Lookup("discovery-node-visit-budget"))
	util.MustBindEnv("discovery.nodeVisitBudget", "TRADELOOP_DISCOVERY_NODE_VISIT_BUDGET")

	flags.Int("discovery-max-concurrent-components", defaultConfig.Discovery.MaxConcurrentComponents, "the maximum number of graph components searched concurrently")
	util.MustBindPFlag("discovery.maxConcurrentComponents", flags.Lookup("discovery-max-concurrent-components"))
	util.MustBindEnv("discovery.maxConcurrentComponents", "TRADELOOP_DISCOVERY_MAX_CONCURRENT_COMPONENTS")

	flags.Int("sampling-max-sample-size", defaultConfig.Sampling.MaxSampleSize, "the maximum number of assets a collection want expands to")
	util.MustBindPFlag("sampling.maxSampleSize", flags.Lookup("sampling-max-sample-size"))
	util.MustBindEnv("sampling.maxSampleSize", "TRADELOOP_SAMPLING_MAX_SAMPLE_SIZE")

	flags.Int("sampling-min-priced-for-stratified", defaultConfig.Sampling.MinPricedForStratified, "the number of priced assets required before stratified sampling is used")
	util.MustBindPFlag("sampling.minPricedForStratified", flags.Lookup("sampling-min-priced-for-stratified"))
	util.MustBindEnv("sampling.minPricedForStratified", "TRADELOOP_SAMPLING_MIN_PRICED_FOR_STRATIFIED")

	flags.Int("sampling-max-collection-size", defaultConfig.Sampling.MaxCollectionSize, "the collection size past which expansion degrades to random sampling")
	util.MustBindPFlag("sampling.maxCollectionSize", flags.Lookup("sampling-max-collection-size"))
	util.MustBindEnv("sampling.maxCollectionSize", "TRADELOOP_SAMPLING_MAX_COLLECTION_SIZE")

	flags.Duration("sampling-cache-ttl", defaultConfig.Sampling.CacheTTL, "how long collection expansions stay cached")
	util.MustBindPFlag("sampling.cacheTTL", flags.Lookup("sampling-cache-ttl"))
	util.MustBindEnv("sampling.cacheTTL", "TRADELOOP_SAMPLING_CACHE_TTL")

	flags.Float64("scoring-efficiency-weight", defaultConfig.Scoring.EfficiencyWeight, "the weight of the efficiency component of the loop score")
	util.MustBindPFlag("scoring.efficiencyWeight", flags.Lookup("scoring-efficiency-weight"))
	util.MustBindEnv("scoring.efficiencyWeight", "TRADELOOP_SCORING_EFFICIENCY_WEIGHT")

	flags.Float64("scoring-fairness-weight", defaultConfig.Scoring.FairnessWeight, "the weight of the fairness component of the loop score")
	util.MustBindPFlag("scoring.fairnessWeight", flags.Lookup("scoring-fairness-weight"))
	util.MustBindEnv("scoring.fairnessWeight", "TRADELOOP_SCORING_FAIRNESS_WEIGHT")

	flags.Float64("scoring-demand-weight", defaultConfig.Scoring.DemandWeight, "the weight of the demand component of the loop score")
	util.MustBindPFlag("scoring.demandWeight", flags.Lookup("scoring-demand-weight"))
	util.MustBindEnv("scoring.demandWeight", "TRADELOOP_SCORING_DEMAND_WEIGHT")

	flags.Float64("scoring-length-penalty-weight", defaultConfig.Scoring.LengthPenaltyWeight, "the weight of the length penalty component of the loop score")
	util.MustBindPFlag("scoring.lengthPenaltyWeight", flags.Lookup("scoring-length-penalty-weight"))
	util.MustBindEnv("scoring.lengthPenaltyWeight", "TRADELOOP_SCORING_LENGTH_PENALTY_WEIGHT")

	flags.Int("tenant-max-assets", defaultConfig.Tenant.MaxAssets, "the maximum number of assets one tenant may track")
	util.MustBindPFlag("tenant.maxAssets", flags.Lookup("tenant-max-assets"))
	util.MustBindEnv("tenant.maxAssets", "TRADELOOP_TENANT_MAX_ASSETS")

	flags.Duration("tenant-loop-ttl", defaultConfig.Tenant.LoopTTL, "how long pending loops stay active before the consistency sweep expires them")
	util.MustBindPFlag("tenant.loopTTL", flags.Lookup("tenant-loop-ttl"))
	util.MustBindEnv("tenant.loopTTL", "TRADELOOP_TENANT_LOOP_TTL")

	flags.Duration("tenant-sweep-interval", defaultConfig.Tenant.SweepInterval, "how often the consistency sweep runs")
	util.MustBindPFlag("tenant.sweepInterval", flags.Lookup("tenant-sweep-interval"))
	util.MustBindEnv("tenant.sweepInterval", "TRADELOOP_TENANT_SWEEP_INTERVAL")

	flags.String("valuation-endpoint", defaultConfig.Valuation.Endpoint, "the base url of the external pricing service (empty disables external valuation)")
	util.MustBindPFlag("valuation.endpoint", flags.Lookup("valuation-endpoint"))
	util.MustBindEnv("valuation.endpoint", "TRADELOOP_VALUATION_ENDPOINT")

	flags.Duration("valuation-timeout", defaultConfig.Valuation.Timeout, "the timeout of one pricing request including retries")
	util.MustBindPFlag("valuation.timeout", flags.Lookup("valuation-timeout"))
	util.MustBindEnv("valuation.timeout", "TRADELOOP_VALUATION_TIMEOUT")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "TRADELOOP_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn', 'error', 'fatal')")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "TRADELOOP_LOG_LEVEL")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable/disable tracing")
	util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
	util.MustBindEnv("trace.enabled", "TRADELOOP_TRACE_ENABLED")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLPEndpoint, "the grpc endpoint of the trace collector")
	util.MustBindPFlag("trace.otlpEndpoint", flags.Lookup("trace-otlp-endpoint"))
	util.MustBindEnv("trace.otlpEndpoint", "TRADELOOP_TRACE_OTLP_ENDPOINT")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample")
	util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
	util.MustBindEnv("trace.sampleRatio", "TRADELOOP_TRACE_SAMPLE_RATIO")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name reported on traces")
	util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
	util.MustBindEnv("trace.serviceName", "TRADELOOP_TRACE_SERVICE_NAME")

	flags.Duration("trace-slow-search-threshold", defaultConfig.Trace.SlowSearchThreshold, "export only traces whose root span took at least this long (0 exports everything)")
	util.MustBindPFlag("trace.slowSearchThreshold", flags.Lookup("trace-slow-search-threshold"))
	util.MustBindEnv("trace.slowSearchThreshold", "TRADELOOP_TRACE_SLOW_SEARCH_THRESHOLD")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable the prometheus scrape endpoint")
	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "TRADELOOP_METRICS_ENABLED")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus scrape endpoint on")
	util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	util.MustBindEnv("metrics.addr", "TRADELOOP_METRICS_ADDR")
}
