// ABOUTME: Permission Oracle resolving feature-code access for one session
// ABOUTME: Cache-first, fail-closed lookups with a bulk prefetch after login

package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/bizhub/internal/session"
)

// DefaultTTL is how long a decision stays valid.
const DefaultTTL = 5 * time.Minute

// DefaultLookupTimeout bounds a single lookup round trip.
const DefaultLookupTimeout = 3 * time.Second

// ErrNoSession is wrapped by a LookupError when there is no token to ask with.
var ErrNoSession = errors.New("no authenticated session")

// LookupError is a network or server failure during a permission lookup.
// CheckAccess never returns it; it maps to a denial.
type LookupError struct {
	Feature string
	Err     error
}

func (e *LookupError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("permission lookup (bulk): %v", e.Err)
	}
	return fmt.Sprintf("permission lookup %q: %v", e.Feature, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Lookup is the remote permission service. Implementations report a
// rejected token with an error wrapping session.ErrTokenInvalid.
type Lookup interface {
	UserFeatures(ctx context.Context, token string) ([]string, error)
	CheckFeature(ctx context.Context, token, code string) (bool, error)
}

// TokenSource yields the current credential token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// Recorder observes where each decision came from: "cache", "lookup" or "error".
type Recorder interface {
	PermissionCheck(source string)
}

// Oracle answers feature access questions for one application instance.
type Oracle struct {
	cache         *cache
	lookup        Lookup
	tokens        TokenSource
	lookupTimeout time.Duration
	group         singleflight.Group
	onAuthFailure func(ctx context.Context)
	recorder      Recorder
	logger        *slog.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Oracle) {
		o.cache.ttl = ttl
	}
}

// WithClock injects the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) {
		o.cache.now = now
	}
}

// WithLookupTimeout overrides DefaultLookupTimeout.
func WithLookupTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		o.lookupTimeout = d
	}
}

// WithAuthFailure registers the callback for a rejected token, typically
// the session store's Expire.
func WithAuthFailure(fn func(ctx context.Context)) Option {
	return func(o *Oracle) {
		o.onAuthFailure = fn
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Oracle) {
		o.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger.With("component", "permission")
	}
}

// NewOracle creates an Oracle asking lookup with tokens from src.
func NewOracle(lookup Lookup, src TokenSource, opts ...Option) *Oracle {
	o := &Oracle{
		cache:         newCache(DefaultTTL, time.Now),
		lookup:        lookup,
		tokens:        src,
		lookupTimeout: DefaultLookupTimeout,
		logger:        slog.Default().With("component", "permission"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Oracle) record(source string) {
	if o.recorder != nil {
		o.recorder.PermissionCheck(source)
	}
}

// HasAccessSync answers from the cache only. Without a prior CheckAccess or
// Prefetch it returns false.
func (o *Oracle) HasAccessSync(code string) bool {
	result, ok := o.cache.get(code)
	return ok && result
}

// CheckAccess returns a fresh cached decision or performs a lookup and caches
// its result. Failures deny and are not cached. Concurrent checks for the same
// code share one lookup.
func (o *Oracle) CheckAccess(ctx context.Context, code string) bool {
	if result, ok := o.cache.get(code); ok {
		o.record("cache")
		return result
	}

	// The epoch is taken before the token so a logout in between
	// discards the answer.
	epoch := o.cache.currentEpoch()
	token := o.tokens.Token()
	if token == "" {
		return false
	}

	key := fmt.Sprintf("%d|%s", epoch, code)
	v, err, _ := o.group.Do(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(ctx, o.lookupTimeout)
		defer cancel()

		result, err := o.lookup.CheckFeature(lctx, token, code)
		if err != nil {
			return false, &LookupError{Feature: code, Err: err}
		}
		if !o.cache.put(epoch, map[string]bool{code: result}) {
			// Invalidated while in flight; the answer belongs to a dead session.
			return false, nil
		}
		return result, nil
	})
	if err != nil {
		o.handleLookupError(ctx, err)
		return false
	}

	o.record("lookup")
	return v.(bool)
}

// Prefetch bulk-loads every granted feature into the cache. It is triggered
// after the session becomes Authenticated.
func (o *Oracle) Prefetch(ctx context.Context) error {
	epoch := o.cache.currentEpoch()
	token := o.tokens.Token()
	if token == "" {
		return &LookupError{Err: ErrNoSession}
	}

	lctx, cancel := context.WithTimeout(ctx, o.lookupTimeout)
	defer cancel()

	features, err := o.lookup.UserFeatures(lctx, token)
	if err != nil {
		lerr := &LookupError{Err: err}
		o.handleLookupError(ctx, lerr)
		return lerr
	}

	results := make(map[string]bool, len(features))
	for _, code := range features {
		results[code] = true
	}
	if o.cache.put(epoch, results) {
		o.logger.Debug("permissions prefetched", "features", len(features))
	}
	return nil
}

// Invalidate drops every cached decision. In-flight lookups that started
// before the call are discarded when they complete.
func (o *Oracle) Invalidate() {
	o.cache.invalidate()
}

// Refresh invalidates and immediately prefetches again.
func (o *Oracle) Refresh(ctx context.Context) error {
	o.Invalidate()
	return o.Prefetch(ctx)
}

// Cached returns the number of fresh cached decisions.
func (o *Oracle) Cached() int {
	return o.cache.len()
}

func (o *Oracle) handleLookupError(ctx context.Context, err error) {
	o.record("error")
	if errors.Is(err, session.ErrTokenInvalid) {
		o.logger.Info("permission lookup rejected token", "error", err)
		if o.onAuthFailure != nil {
			o.onAuthFailure(ctx)
		}
		return
	}
	o.logger.Warn("permission lookup failed, denying", "error", err)
}
