package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/tradeloop/pkg/storage"
	"github.com/tradeloop/tradeloop/pkg/storage/memory"
)

func TestDatastore(t *testing.T) {
	ctx := context.Background()

	t.Run("save_and_load", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		require.NoError(t, ds.SaveData(ctx, "k", []byte("v1")))
		got, err := ds.LoadData(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), got)

		require.NoError(t, ds.SaveData(ctx, "k", []byte("v2")))
		got, err = ds.LoadData(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), got)
	})

	t.Run("load_missing_key", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		_, err := ds.LoadData(ctx, "absent")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("stored_value_is_a_copy", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		value := []byte("original")
		require.NoError(t, ds.SaveData(ctx, "k", value))
		value[0] = 'X'

		got, err := ds.LoadData(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("original"), got)

		got[0] = 'Y'
		again, err := ds.LoadData(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("original"), again)
	})

	t.Run("delete", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		require.NoError(t, ds.SaveData(ctx, "k", []byte("v")))
		require.NoError(t, ds.DeleteData(ctx, "k"))
		_, err := ds.LoadData(ctx, "k")
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, ds.DeleteData(ctx, "never-existed"))
	})

	t.Run("list_keys_by_prefix_sorted", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		for _, key := range []string{"tenant/b/state", "tenant/a/state", "other/x"} {
			require.NoError(t, ds.SaveData(ctx, key, []byte("v")))
		}

		keys, err := ds.ListKeys(ctx, "tenant/")
		require.NoError(t, err)
		require.Equal(t, []string{"tenant/a/state", "tenant/b/state"}, keys)

		keys, err = ds.ListKeys(ctx, "none/")
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		require.ErrorIs(t, ds.SaveData(cancelled, "k", []byte("v")), storage.ErrCancelled)
		_, err := ds.LoadData(cancelled, "k")
		require.ErrorIs(t, err, storage.ErrCancelled)
	})

	t.Run("is_ready", func(t *testing.T) {
		ds := memory.New()
		defer ds.Close()

		status, err := ds.IsReady(ctx)
		require.NoError(t, err)
		require.True(t, status.IsReady)
	})
}
