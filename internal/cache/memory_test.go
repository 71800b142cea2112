package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-dashboard/internal/cache"
)

// fakeClock is a manually advanced clock shared by the cache tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingObserver struct {
	hits, misses atomic.Int32
}

func (o *countingObserver) ObserveCache(_ string, hit bool) {
	if hit {
		o.hits.Add(1)
	} else {
		o.misses.Add(1)
	}
}

func TestSetGetAndExpiry(t *testing.T) {
	clock := newFakeClock()
	s := cache.New(cache.WithClock(clock.Now))
	key := cache.WeatherKey(cache.OpCurrent, "London")

	require.True(t, s.Set(key, "payload", 10*time.Second))

	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	clock.Advance(9 * time.Second)
	_, ok = s.Get(key)
	assert.True(t, ok, "entry should still be live before its TTL elapses")

	clock.Advance(1 * time.Second)
	_, ok = s.Get(key)
	assert.False(t, ok, "entry must be absent once now >= expiresAt")
}

func TestSetDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	s := cache.New(cache.WithClock(clock.Now), cache.WithDefaultTTL(time.Minute))
	key := cache.WeatherKey(cache.OpSearch, "par")

	s.Set(key, []string{"Paris"}, 0)

	clock.Advance(59 * time.Second)
	assert.True(t, s.Has(key))
	clock.Advance(time.Second)
	assert.False(t, s.Has(key))
}

func TestSetOverwrites(t *testing.T) {
	s := cache.New()
	key := cache.WeatherKey(cache.OpCurrent, "paris")

	s.Set(key, 1, time.Minute)
	s.Set(key, 2, time.Minute)

	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, s.Stats().Keys)
}

func TestDeleteAndFlush(t *testing.T) {
	s := cache.New()
	a := cache.WeatherKey(cache.OpCurrent, "a")
	b := cache.WeatherKey(cache.OpCurrent, "b")
	s.Set(a, "x", time.Minute)
	s.Set(b, "y", time.Minute)

	assert.Equal(t, 1, s.Delete(a))
	assert.Equal(t, 0, s.Delete(a))
	assert.False(t, s.Has(a))

	s.Flush()
	assert.False(t, s.Has(b))
	assert.Equal(t, 0, s.Stats().Keys)
}

func TestGetOrSetComputesOnce(t *testing.T) {
	obs := &countingObserver{}
	s := cache.New(cache.WithObserver(obs))
	key := cache.WeatherKey(cache.OpCurrent, "tokyo")
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "sunny", nil
	}

	v, err := cache.GetOrSet(ctx, s, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "sunny", v)

	cached, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "sunny", cached)

	v, err = cache.GetOrSet(ctx, s, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "sunny", v)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, int32(2), obs.hits.Load())
	assert.Equal(t, int32(1), obs.misses.Load())
}

func TestGetOrSetDoesNotCacheFailures(t *testing.T) {
	s := cache.New()
	key := cache.WeatherKey(cache.OpForecast, "nowhere")
	ctx := context.Background()
	upstreamErr := errors.New("upstream down")

	var calls atomic.Int32
	failing := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, upstreamErr
	}

	_, err := cache.GetOrSet(ctx, s, key, time.Minute, failing)
	require.ErrorIs(t, err, upstreamErr)

	_, ok := s.Get(key)
	assert.False(t, ok, "a failed compute must not leave an entry behind")

	_, err = cache.GetOrSet(ctx, s, key, time.Minute, failing)
	require.ErrorIs(t, err, upstreamErr)
	assert.Equal(t, int32(2), calls.Load(), "the next call must retry compute")
}

func TestGetOrSetCurrentWeatherScenario(t *testing.T) {
	clock := newFakeClock()
	s := cache.New(cache.WithClock(clock.Now))
	key := cache.WeatherKey(cache.OpCurrent, "tokyo")
	ctx := context.Background()

	var gatewayCalls atomic.Int32
	gateway := func(ctx context.Context) (string, error) {
		gatewayCalls.Add(1)
		return "P", nil
	}

	v, err := cache.GetOrSet(ctx, s, key, 300*time.Second, gateway)
	require.NoError(t, err)
	assert.Equal(t, "P", v)
	assert.Equal(t, int32(1), gatewayCalls.Load())

	clock.Advance(time.Second)
	v, err = cache.GetOrSet(ctx, s, key, 300*time.Second, gateway)
	require.NoError(t, err)
	assert.Equal(t, "P", v)
	assert.Equal(t, int32(1), gatewayCalls.Load())

	clock.Advance(300 * time.Second)
	_, err = cache.GetOrSet(ctx, s, key, 300*time.Second, gateway)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gatewayCalls.Load())
}

func TestGetOrSetTypeMismatchRecomputes(t *testing.T) {
	s := cache.New()
	key := cache.WeatherKey(cache.OpCurrent, "oslo")
	s.Set(key, "not-an-int", time.Minute)

	v, err := cache.GetOrSet(context.Background(), s, key, time.Minute, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	cached, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, 42, cached)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	s := cache.New(cache.WithClock(clock.Now))
	s.Set(cache.WeatherKey(cache.OpCurrent, "short"), 1, time.Second)
	s.Set(cache.WeatherKey(cache.OpCurrent, "long"), 2, time.Hour)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Stats().Keys)
	assert.True(t, s.Has(cache.WeatherKey(cache.OpCurrent, "long")))
}

func TestKeysDoNotCollideAcrossNamespaces(t *testing.T) {
	s := cache.New()
	weather := cache.WeatherKey(cache.OpCurrent, "firebase")
	auth := cache.NewKey(cache.DomainAuth, cache.OpCerts, "firebase")

	s.Set(weather, "weather", time.Minute)
	s.Set(auth, "certs", time.Minute)

	v, _ := s.Get(weather)
	assert.Equal(t, "weather", v)
	v, _ = s.Get(auth)
	assert.Equal(t, "certs", v)
}

func TestKeyNormalization(t *testing.T) {
	k := cache.WeatherKey(cache.OpCurrent, "  New York ")
	assert.Equal(t, "weather:current:new york", k.String())
	assert.Equal(t, k, cache.WeatherKey(cache.OpCurrent, "NEW YORK"))
}

func TestConcurrentAccess(t *testing.T) {
	s := cache.New()
	ctx := context.Background()
	key := cache.WeatherKey(cache.OpCurrent, "berlin")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.GetOrSet(ctx, s, key, time.Minute, func(ctx context.Context) (string, error) {
				return "berlin-weather", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "berlin-weather", v)
		}()
	}
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, int64(50), stats.Hits+stats.Misses)
}
