package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string](10, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "alpha", "station:1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[int](10, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", 1)
	now = now.Add(59 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // b is now least recently used
	c.Set("c", 3)

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_InvalidateTagOnlyDropsTaggedEntries(t *testing.T) {
	c := New[string](10, time.Minute)
	c.Set("q1", "x", "station:1", "station:2")
	c.Set("q2", "y", "station:2", "station:3")
	c.Set("q3", "z", "station:3")

	n := c.InvalidateTag("station:2")
	assert.Equal(t, 2, n)

	_, ok := c.Get("q1")
	assert.False(t, ok)
	_, ok = c.Get("q2")
	assert.False(t, ok)
	_, ok = c.Get("q3")
	assert.True(t, ok)

	assert.Equal(t, 0, c.InvalidateTag("station:99"))
	assert.Equal(t, 1, c.Stats().Tags)
	assert.Equal(t, int64(2), c.Stats().Invalidated)
}

func TestCache_SetReplacesTags(t *testing.T) {
	c := New[string](10, time.Minute)
	c.Set("q", "old", "station:1")
	c.Set("q", "new", "station:2")

	assert.Equal(t, 0, c.InvalidateTag("station:1"))
	v, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestCache_Purge(t *testing.T) {
	c := New[int](10, time.Minute)
	c.Set("a", 1, "t")
	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, 0, c.Stats().Tags)
}

func TestCache_GetOrLoadCollapsesConcurrentLoads(t *testing.T) {
	c := New[int](10, time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (int, []string, error) {
		calls.Add(1)
		<-release
		return 42, []string{"station:1"}, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[int](10, time.Minute)
	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, []string, error) {
		return 0, nil, fmt.Errorf("db down")
	})
	require.Error(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_GetOrLoadSkipsStoreAfterInvalidation(t *testing.T) {
	c := New[int](10, time.Minute)
	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, []string, error) {
		c.InvalidateTag("station:1") // a write lands while the load runs
		return 7, []string{"station:1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_GetOrLoadNilTagsNotStored(t *testing.T) {
	c := New[int](10, time.Minute)
	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, []string, error) {
		return 3, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_GetOrLoadCallerCancel(t *testing.T) {
	c := New[int](10, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := c.GetOrLoad(ctx, "k", func(context.Context) (int, []string, error) {
		<-release
		return 1, nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
