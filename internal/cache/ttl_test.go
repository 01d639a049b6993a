package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub008/internal/clock"
)

func TestTTL_ExpiresWithInjectedClock(t *testing.T) {
	clk := clock.NewManual(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	c, err := NewTTL[int64, string](8, time.Minute, clk)
	require.NoError(t, err)

	c.Set(1, "one")
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	clk.Advance(59 * time.Second)
	_, ok = c.Get(1)
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTL_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewTTL[int, int](2, time.Hour, clock.NewManual(time.Now()))
	require.NoError(t, err)

	c.Set(1, 1)
	c.Set(2, 2)
	_, _ = c.Get(1)
	c.Set(3, 3)

	_, ok := c.Get(2)
	assert.False(t, ok)
	_, ok = c.Get(1)
	assert.True(t, ok)
}

func TestTTL_GetOrLoad(t *testing.T) {
	clk := clock.NewManual(time.Now())
	c, err := NewTTL[string, int](4, time.Minute, clk)
	require.NoError(t, err)

	calls := 0
	load := func(ctx context.Context, key string) (int, error) {
		calls++
		return len(key), nil
	}

	v, err := c.GetOrLoad(context.Background(), "abc", load)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = c.GetOrLoad(context.Background(), "abc", load)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 1, calls)

	_, err = c.GetOrLoad(context.Background(), "bad", func(context.Context, string) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	_, ok := c.Get("bad")
	assert.False(t, ok)
}
