// Package settlement defines the boundary to whatever system executes the
// discovered trade loops on-chain or off. Discovery proposes loops;
// settlement disposes of them. The engine only learns the outcome back
// through step completion events.
package settlement

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tradeloop/tradeloop/pkg/logger"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

// Executor receives newly discovered loops for execution. Submit must be
// safe for concurrent use and idempotent per loop id.
type Executor interface {
	Submit(ctx context.Context, tenantID string, loop *trade.Loop) error
}

// LoggingExecutor records submissions without executing anything. The
// default when no settlement system is wired up.
type LoggingExecutor struct {
	logger logger.Logger
}

var _ Executor = (*LoggingExecutor)(nil)

func NewLoggingExecutor(l logger.Logger) *LoggingExecutor {
	return &LoggingExecutor{logger: l}
}

func (e *LoggingExecutor) Submit(_ context.Context, tenantID string, loop *trade.Loop) error {
	e.logger.Info("trade loop proposed for settlement",
		zap.String("tenant_id", tenantID),
		zap.String("loop_id", loop.ID),
		zap.Int("participants", loop.TotalParticipants),
		zap.Float64("score", loop.Score),
	)
	return nil
}

// RetryingExecutor wraps another executor with exponential backoff, for
// settlement systems that fail transiently.
type RetryingExecutor struct {
	inner      Executor
	maxElapsed time.Duration
}

var _ Executor = (*RetryingExecutor)(nil)

func NewRetryingExecutor(inner Executor, maxElapsed time.Duration) *RetryingExecutor {
	return &RetryingExecutor{inner: inner, maxElapsed: maxElapsed}
}

func (e *RetryingExecutor) Submit(ctx context.Context, tenantID string, loop *trade.Loop) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = e.maxElapsed

	return backoff.Retry(func() error {
		return e.inner.Submit(ctx, tenantID, loop)
	}, backoff.WithContext(policy, ctx))
}
