// ABOUTME: Tests for the Deferred Module Loader
// ABOUTME: Covers single-flight sharing, permanent caching, failures and suspension

package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[Ref]Factory

func (m mapResolver) Factory(ref Ref) (Factory, bool) {
	f, ok := m[ref]
	return f, ok
}

// hookResolver calls onFactory between a caller's cache miss and its load.
type hookResolver struct {
	mapResolver
	onFactory func(ref Ref)
}

func (h hookResolver) Factory(ref Ref) (Factory, bool) {
	if h.onFactory != nil {
		h.onFactory(ref)
	}
	return h.mapResolver.Factory(ref)
}

func staticModule(title string) Module {
	return ModuleFunc(func(ctx context.Context, req Request) (Content, error) {
		return Content{Title: title}, nil
	})
}

func TestLoad_CachesForever(t *testing.T) {
	var calls atomic.Int32
	l := New(mapResolver{
		"home": func(ctx context.Context) (Module, error) {
			calls.Add(1)
			return staticModule("Home"), nil
		},
	})
	ctx := context.Background()

	m1, err := l.Load(ctx, "home")
	require.NoError(t, err)
	m2, err := l.Load(ctx, "home")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	c1, _ := m1.Render(ctx, Request{})
	c2, _ := m2.Render(ctx, Request{})
	assert.Equal(t, c1, c2)

	_, ok := l.Peek("home")
	assert.True(t, ok)
	assert.Equal(t, 1, l.Loaded())
}

func TestLoad_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	l := New(mapResolver{
		"slow": func(ctx context.Context) (Module, error) {
			calls.Add(1)
			<-release
			return staticModule("Slow"), nil
		},
	})

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Load(context.Background(), "slow")
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load(), "concurrent loads share one factory run")
}

func TestLoad_LateCallerReusesFinishedLoad(t *testing.T) {
	var calls, resolves atomic.Int32
	ctx := context.Background()
	var l *Loader
	var inner Module
	var innerErr error
	l = New(hookResolver{
		mapResolver: mapResolver{
			"report": func(ctx context.Context) (Module, error) {
				calls.Add(1)
				return staticModule("Report"), nil
			},
		},
		onFactory: func(ref Ref) {
			// The outer caller has already missed the cache. Another load of
			// the same ref runs to completion before it reaches the group.
			if resolves.Add(1) == 1 {
				inner, innerErr = l.Load(ctx, ref)
			}
		},
	})

	outer, err := l.Load(ctx, "report")
	require.NoError(t, err)
	require.NoError(t, innerErr)

	assert.Equal(t, int32(2), resolves.Load())
	assert.Equal(t, int32(1), calls.Load(), "module created once")
	assert.Equal(t, 1, l.Loaded())

	c1, _ := inner.Render(ctx, Request{})
	c2, _ := outer.Render(ctx, Request{})
	assert.Equal(t, c1, c2)
}

func TestLoad_FailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	l := New(mapResolver{
		"flaky": func(ctx context.Context) (Module, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("fetch failed")
			}
			return staticModule("Flaky"), nil
		},
	})
	ctx := context.Background()

	_, err := l.Load(ctx, "flaky")
	var lerr *ModuleLoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, Ref("flaky"), lerr.Ref)
	_, ok := l.Peek("flaky")
	assert.False(t, ok)

	_, err = l.Load(ctx, "flaky")
	require.NoError(t, err, "manual retry loads again")
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoad_UnknownRef(t *testing.T) {
	l := New(mapResolver{})

	_, err := l.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestLoad_PanicBecomesLoadError(t *testing.T) {
	l := New(mapResolver{
		"boom": func(ctx context.Context) (Module, error) { panic("bad module") },
	})

	_, err := l.Load(context.Background(), "boom")
	var lerr *ModuleLoadError
	require.ErrorAs(t, err, &lerr)
	assert.Contains(t, err.Error(), "bad module")
}

func TestLoad_CallerTimeoutLeavesLoadRunning(t *testing.T) {
	release := make(chan struct{})
	l := New(mapResolver{
		"slow": func(ctx context.Context) (Module, error) {
			<-release
			return staticModule("Slow"), nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Load(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := l.Peek("slow")
		return ok
	}, time.Second, time.Millisecond, "the load completes in the background")
}

func TestLoad_Timeout(t *testing.T) {
	l := New(mapResolver{
		"stuck": func(ctx context.Context) (Module, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}, WithTimeout(10*time.Millisecond))

	_, err := l.Load(context.Background(), "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var lerr *ModuleLoadError
	assert.ErrorAs(t, err, &lerr)
}

type countingRecorder struct {
	mu      sync.Mutex
	results []string
}

func (c *countingRecorder) ModuleLoad(result string, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func TestPreload(t *testing.T) {
	rec := &countingRecorder{}
	l := New(mapResolver{
		"a": func(ctx context.Context) (Module, error) { return staticModule("A"), nil },
		"b": func(ctx context.Context) (Module, error) { return staticModule("B"), nil },
	}, WithRecorder(rec))

	require.NoError(t, l.Preload(context.Background(), "a", "b"))
	assert.Equal(t, 2, l.Loaded())
	assert.ElementsMatch(t, []string{"ok", "ok"}, rec.results)

	err := l.Preload(context.Background(), "a", "missing")
	assert.ErrorIs(t, err, ErrUnknownModule)
}
