// ABOUTME: Deferred Module Loader with single-flight loads and a permanent cache
// ABOUTME: Failures surface as ModuleLoadError and are never cached

package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds one factory run.
const DefaultLoadTimeout = 30 * time.Second

// ErrUnknownModule is wrapped when no factory exists for a ref.
var ErrUnknownModule = errors.New("unknown module")

// ModuleLoadError reports a module that could not be loaded. The render
// point shows it with a manual retry.
type ModuleLoadError struct {
	Ref Ref
	Err error
}

func (e *ModuleLoadError) Error() string {
	return fmt.Sprintf("loading module %s: %v", e.Ref, e.Err)
}

func (e *ModuleLoadError) Unwrap() error {
	return e.Err
}

// Recorder observes module loads. result is "ok" or "error".
type Recorder interface {
	ModuleLoad(result string, took time.Duration)
}

// Loader loads view modules on first use and keeps them for the life of
// the process.
type Loader struct {
	resolver Resolver
	timeout  time.Duration
	recorder Recorder
	logger   *slog.Logger

	mu     sync.RWMutex
	loaded map[Ref]Module
	group  singleflight.Group
}

// Option configures a Loader.
type Option func(*Loader)

// WithTimeout overrides DefaultLoadTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Loader) {
		l.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger.With("component", "loader")
	}
}

// New creates a Loader resolving refs through resolver.
func New(resolver Resolver, opts ...Option) *Loader {
	l := &Loader{
		resolver: resolver,
		timeout:  DefaultLoadTimeout,
		logger:   slog.Default().With("component", "loader"),
		loaded:   make(map[Ref]Module),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Peek returns the module if it is already loaded.
func (l *Loader) Peek(ref Ref) (Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.loaded[ref]
	return m, ok
}

// Loaded returns how many modules are cached.
func (l *Loader) Loaded() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.loaded)
}

// Load returns the module for ref, loading it on first use. Concurrent calls
// for the same ref share one load. If ctx ends first Load returns ctx.Err()
// while the load keeps running, so a later call finds the module cached.
func (l *Loader) Load(ctx context.Context, ref Ref) (Module, error) {
	if m, ok := l.Peek(ref); ok {
		return m, nil
	}

	factory, ok := l.resolver.Factory(ref)
	if !ok {
		return nil, &ModuleLoadError{Ref: ref, Err: ErrUnknownModule}
	}

	ch := l.group.DoChan(string(ref), func() (any, error) {
		// A load that finished after our Peek already left the group.
		if m, ok := l.Peek(ref); ok {
			return m, nil
		}
		// Detached from the first caller: a suspended caller must not
		// cancel the load the others are waiting on.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.run(lctx, ref, factory)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Module), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) run(ctx context.Context, ref Ref, factory Factory) (m Module, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			m = nil
		}
		took := time.Since(start)
		if err != nil {
			err = &ModuleLoadError{Ref: ref, Err: err}
			l.logger.Warn("module load failed", "ref", ref, "duration", took, "error", err)
			l.observe("error", took)
			return
		}
		l.logger.Debug("module loaded", "ref", ref, "duration", took)
		l.observe("ok", took)
	}()

	m, err = factory(ctx)
	if err == nil && m == nil {
		err = errors.New("factory returned no module")
	}
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.loaded[ref] = m
	l.mu.Unlock()
	return m, nil
}

func (l *Loader) observe(result string, took time.Duration) {
	if l.recorder != nil {
		l.recorder.ModuleLoad(result, took)
	}
}

// Preload loads refs in parallel and returns the first failure.
func (l *Loader) Preload(ctx context.Context, refs ...Ref) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		g.Go(func() error {
			_, err := l.Load(gctx, ref)
			return err
		})
	}
	return g.Wait()
}
