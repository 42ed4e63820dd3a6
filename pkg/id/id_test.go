package id_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/tradeloop/pkg/id"
)

func TestNewString(t *testing.T) {
	first, err := id.NewString()
	require.NoError(t, err)
	require.True(t, id.IsValid(first))

	second, err := id.NewString()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	now := time.Now()

	prev, err := id.NewStringFromTime(now)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		next, err := id.NewStringFromTime(now)
		require.NoError(t, err)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestParse(t *testing.T) {
	valid, err := id.NewString()
	require.NoError(t, err)

	parsed, err := id.Parse(valid)
	require.NoError(t, err)
	require.NotNil(t, parsed)

	_, err = id.Parse("not-a-ulid")
	require.Error(t, err)
	require.False(t, id.IsValid("not-a-ulid"))
	require.False(t, id.IsValid(""))
}
