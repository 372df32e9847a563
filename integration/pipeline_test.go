//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imgopt/cache"
	"github.com/meigma/imgopt/cache/disk"
	"github.com/meigma/imgopt/loader"
	"github.com/meigma/imgopt/probe"
)

func TestFetchFromOrigin(t *testing.T) {
	t.Parallel()

	base := getOrigin(t)
	f := loader.NewHTTPFetcher(nil)

	data, err := f.Fetch(context.Background(), base+"/hero.jpg")
	require.NoError(t, err)
	assert.Equal(t, originImages["hero.jpg"], data)

	format, ok := probe.Sniff(data)
	require.True(t, ok)
	assert.Equal(t, "jpg", format.String())

	_, err = f.Fetch(context.Background(), base+"/absent.jpg")
	assert.Error(t, err)
}

func TestFetchAndCacheRoundTrip(t *testing.T) {
	t.Parallel()

	base := getOrigin(t)
	f := loader.NewHTTPFetcher(nil)
	ctx := context.Background()

	store, err := disk.New(t.TempDir(), map[string]cache.Budget{
		"optimized": {MaxBytes: 1 << 20},
	})
	require.NoError(t, err)

	url := base + "/hero.webp"
	data, err := f.Fetch(ctx, url)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "optimized", url, data))

	cached, ok := store.Get(ctx, "optimized", url)
	require.True(t, ok)
	assert.Equal(t, data, cached)

	format, ok := probe.Sniff(cached)
	require.True(t, ok)
	assert.Equal(t, "webp", format.String())
}

func TestSchedulerAgainstRealOrigin(t *testing.T) {
	t.Parallel()

	base := getOrigin(t)

	results := make(chan loader.Result, 4)
	s := loader.New(loader.NewHTTPFetcher(nil),
		loader.WithTimeout(10*time.Second),
		loader.WithDeliver(func(r loader.Result) { results <- r }),
	)

	s.UpdateViewport(loader.Rect{Width: 1280, Height: 800})
	require.NoError(t, s.Track(loader.Element{
		ID:     "hero",
		URL:    base + "/hero.jpg",
		Bounds: loader.Rect{Left: 0, Top: 0, Width: 1280, Height: 400},
	}))
	require.NoError(t, s.Track(loader.Element{
		ID:          "broken",
		URL:         base + "/absent.avif",
		FallbackURL: base + "/thumb.jpg",
		Bounds:      loader.Rect{Left: 0, Top: 450, Width: 200, Height: 200},
	}))
	s.Wait()
	close(results)

	byID := make(map[string]loader.Result)
	for r := range results {
		byID[r.ID] = r
	}

	hero := byID["hero"]
	assert.Equal(t, loader.StateLoaded, hero.State)
	assert.Equal(t, originImages["hero.jpg"], hero.Data)

	broken := byID["broken"]
	assert.Equal(t, loader.StateLoaded, broken.State, "fallback URL rescues the load")
	assert.Equal(t, originImages["thumb.jpg"], broken.Data)
}

func TestCacheEvictionUnderRealPayloads(t *testing.T) {
	t.Parallel()

	base := getOrigin(t)
	f := loader.NewHTTPFetcher(nil)
	ctx := context.Background()

	// Budget fits the two small images but not the banner as well.
	store, err := disk.New(t.TempDir(), map[string]cache.Budget{
		"optimized": {MaxBytes: 24 * 1024},
	})
	require.NoError(t, err)

	for _, name := range []string{"thumb.jpg", "hero.webp", "banner.jpg"} {
		url := base + "/" + name
		data, err := f.Fetch(ctx, url)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "optimized", url, data))
		time.Sleep(10 * time.Millisecond)
	}

	assert.LessOrEqual(t, store.SizeBytes("optimized"), int64(24*1024))
}
