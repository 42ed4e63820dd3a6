// Package run contains the command to run a tradeloop server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tradeloop/tradeloop/internal/build"
	"github.com/tradeloop/tradeloop/internal/scoring"
	serverconfig "github.com/tradeloop/tradeloop/internal/server/config"
	"github.com/tradeloop/tradeloop/pkg/logger"
	"github.com/tradeloop/tradeloop/pkg/server"
	"github.com/tradeloop/tradeloop/pkg/storage"
	"github.com/tradeloop/tradeloop/pkg/storage/memory"
	"github.com/tradeloop/tradeloop/pkg/storage/postgres"
	"github.com/tradeloop/tradeloop/pkg/storage/sqlcommon"
	"github.com/tradeloop/tradeloop/pkg/storage/sqlite"
	"github.com/tradeloop/tradeloop/pkg/telemetry"
	"github.com/tradeloop/tradeloop/pkg/valuation"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tradeloop server",
		Long:  "Run the tradeloop server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	bindRunFlags(cmd)

	return cmd
}

// ReadConfig returns the tradeloop server configuration based on the values
// by viper. This depends on environment variables and config and files being
// loaded into viper.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.Unmarshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	log := logger.MustNewLogger(config.Log.Format, config.Log.Level)

	serverCtx := &ServerContext{Logger: log}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serverCtx.Run(ctx, config); err != nil {
		panic(err)
	}
}

// ServerContext holds the dependencies assembled while bringing the service
// up, so shutdown can unwind them in order.
type ServerContext struct {
	Logger logger.Logger
}

func (s *ServerContext) datastoreConfig(config *serverconfig.Config) (storage.Datastore, error) {
	sqlCfg := &sqlcommon.Config{
		MaxOpenConns:    config.Datastore.MaxOpenConns,
		MaxIdleConns:    config.Datastore.MaxIdleConns,
		ConnMaxIdleTime: config.Datastore.ConnMaxIdleTime,
		ConnMaxLifetime: config.Datastore.ConnMaxLifetime,
		ExportMetrics:   config.Datastore.MetricsEnabled,
	}

	switch config.Datastore.Engine {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		ds, err := sqlite.New(config.Datastore.URI, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
		return ds, nil
	case "postgres":
		ds, err := postgres.New(config.Datastore.URI, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
		return ds, nil
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}
}

// Run starts the engine and blocks until the context is cancelled. The
// metrics endpoint and the consistency sweep run alongside it.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	var tracerProviderCloser func()

	if config.Trace.Enabled {
		s.Logger.Info("🕵 tracing enabled",
			zap.String("endpoint", config.Trace.OTLPEndpoint),
			zap.Float64("sample_ratio", config.Trace.SampleRatio),
		)

		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(config.Trace.OTLPEndpoint),
			telemetry.WithServiceName(config.Trace.ServiceName),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
			telemetry.WithSlowSearchThreshold(config.Trace.SlowSearchThreshold),
		)
		tracerProviderCloser = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				s.Logger.Error("failed to shut down tracer provider", zap.Error(err))
			}
		}
	}

	datastore, err := s.datastoreConfig(config)
	if err != nil {
		return err
	}
	defer datastore.Close()

	weights := scoring.Weights{
		Efficiency:    config.Scoring.EfficiencyWeight,
		Fairness:      config.Scoring.FairnessWeight,
		Demand:        config.Scoring.DemandWeight,
		LengthPenalty: config.Scoring.LengthPenaltyWeight,
	}

	serverOpts := []server.ServerOption{
		server.WithLogger(s.Logger),
		server.WithDatastore(datastore),
		server.WithScoringWeights(weights),
		server.WithMaxCycleLength(config.Discovery.MaxCycleLength),
		server.WithSearchTimeout(config.Discovery.SearchTimeout),
		server.WithVisitBudget(config.Discovery.NodeVisitBudget),
		server.WithMaxConcurrentComponents(config.Discovery.MaxConcurrentComponents),
		server.WithMaxSampleSize(config.Sampling.MaxSampleSize),
		server.WithMinPricedForStratified(config.Sampling.MinPricedForStratified),
		server.WithMaxCollectionSize(config.Sampling.MaxCollectionSize),
		server.WithExpansionCacheTTL(config.Sampling.CacheTTL),
		server.WithMaxAssetsPerTenant(config.Tenant.MaxAssets),
		server.WithLoopTTL(config.Tenant.LoopTTL),
	}

	if config.Valuation.Endpoint != "" {
		serverOpts = append(serverOpts, server.WithValuator(
			valuation.NewHTTPValuator(config.Valuation.Endpoint,
				valuation.WithRequestTimeout(config.Valuation.Timeout),
				valuation.WithValuatorLogger(s.Logger),
			),
		))
	}

	svc, err := server.NewServer(serverOpts...)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer svc.Close()

	s.Logger.Info(fmt.Sprintf("🚀 starting tradeloop service (version: %s, commit: %s)...", build.Version, build.Commit),
		zap.String("datastore_engine", config.Datastore.Engine),
	)

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		metricsServer = &http.Server{Addr: config.Metrics.Addr, Handler: promhttp.Handler()}

		go func() {
			s.Logger.Info(fmt.Sprintf("📈 starting metrics server on '%s'", config.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Fatal("failed to start metrics server", zap.Error(err))
			}
		}()
	}

	sweeper := time.NewTicker(config.Tenant.SweepInterval)
	defer sweeper.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweeper.C:
				svc.Sweep(ctx)
			}
		}
	}()

	<-ctx.Done()
	s.Logger.Info("attempting to shutdown gracefully...")

	if tracerProviderCloser != nil {
		tracerProviderCloser()
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error("failed to shut down metrics server", zap.Error(err))
		}
	}

	s.Logger.Info("server exited. goodbye 👋")

	return nil
}
