package valuation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/tradeloop/pkg/valuation"
)

func TestStaticValuator(t *testing.T) {
	ctx := context.Background()
	v := valuation.NewStaticValuator(map[string]float64{"a1": 12.5})

	value, err := v.AssetValue(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 12.5, value)

	value, err = v.AssetValue(ctx, "unknown")
	require.NoError(t, err)
	require.Zero(t, value)

	value, err = valuation.NewStaticValuator(nil).AssetValue(ctx, "a1")
	require.NoError(t, err)
	require.Zero(t, value)
}

func TestHTTPValuator(t *testing.T) {
	ctx := context.Background()

	t.Run("reads_the_value_path", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/assets/a1/value", r.URL.Path)
			_, _ = w.Write([]byte(`{"value": 42.5, "currency": "USD"}`))
		}))
		defer srv.Close()

		v := valuation.NewHTTPValuator(srv.URL)
		value, err := v.AssetValue(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, 42.5, value)
	})

	t.Run("custom_value_path", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"estimate": {"mid": 7}}`))
		}))
		defer srv.Close()

		v := valuation.NewHTTPValuator(srv.URL, valuation.WithValuePath("estimate.mid"))
		value, err := v.AssetValue(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, 7.0, value)
	})

	t.Run("not_found_means_unpriced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		v := valuation.NewHTTPValuator(srv.URL)
		value, err := v.AssetValue(ctx, "ghost")
		require.NoError(t, err)
		require.Zero(t, value)
	})

	t.Run("missing_value_field_means_unpriced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"currency": "USD"}`))
		}))
		defer srv.Close()

		v := valuation.NewHTTPValuator(srv.URL)
		value, err := v.AssetValue(ctx, "a1")
		require.NoError(t, err)
		require.Zero(t, value)
	})

	t.Run("transient_failures_are_retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"value": 9}`))
		}))
		defer srv.Close()

		v := valuation.NewHTTPValuator(srv.URL)
		value, err := v.AssetValue(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, 9.0, value)
		require.EqualValues(t, 3, calls.Load())
	})

	t.Run("server_errors_surface_after_retries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		v := valuation.NewHTTPValuator(srv.URL, valuation.WithMaxRetries(1))
		_, err := v.AssetValue(ctx, "a1")
		require.Error(t, err)
	})
}
