package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/tradeloop/pkg/logger"
	"github.com/tradeloop/tradeloop/pkg/settlement"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

type flakyExecutor struct {
	calls     int
	failUntil int
}

func (e *flakyExecutor) Submit(context.Context, string, *trade.Loop) error {
	e.calls++
	if e.calls < e.failUntil {
		return errors.New("settlement backend unavailable")
	}
	return nil
}

func TestLoggingExecutor(t *testing.T) {
	e := settlement.NewLoggingExecutor(logger.NewNoopLogger())
	err := e.Submit(context.Background(), "acme", &trade.Loop{ID: "loop-1"})
	require.NoError(t, err)
}

func TestRetryingExecutor(t *testing.T) {
	loop := &trade.Loop{ID: "loop-1"}

	t.Run("retries_until_success", func(t *testing.T) {
		inner := &flakyExecutor{failUntil: 3}
		e := settlement.NewRetryingExecutor(inner, 5*time.Second)

		require.NoError(t, e.Submit(context.Background(), "acme", loop))
		require.Equal(t, 3, inner.calls)
	})

	t.Run("gives_up_after_max_elapsed", func(t *testing.T) {
		inner := &flakyExecutor{failUntil: 1 << 30}
		e := settlement.NewRetryingExecutor(inner, 50*time.Millisecond)

		require.Error(t, e.Submit(context.Background(), "acme", loop))
	})

	t.Run("cancelled_context_stops_retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		inner := &flakyExecutor{failUntil: 1 << 30}
		e := settlement.NewRetryingExecutor(inner, time.Minute)

		err := e.Submit(ctx, "acme", loop)
		require.ErrorIs(t, err, context.Canceled)
	})
}
