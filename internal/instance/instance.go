// ABOUTME: Table of live application instances, one per browser, keyed by cookie id
// ABOUTME: Each instance owns a Session Store and a Permission Oracle wired together

package instance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/2389/bizhub/internal/permission"
	"github.com/2389/bizhub/internal/session"
)

// Defaults applied when the table is built with zero values.
const (
	DefaultMax            = 10000
	DefaultIdleTimeout    = 24 * time.Hour
	DefaultRestoreTimeout = 5 * time.Second
)

// Instance is one application instance: a session and its access oracle.
type Instance struct {
	ID      string
	Session *session.Store
	Access  *permission.Oracle
	Created time.Time
}

// RepositoryFactory returns the persistence slot for an instance id.
type RepositoryFactory func(id string) session.Repository

// Recorder observes instance and session lifecycle.
type Recorder interface {
	InstanceAdded()
	InstanceRemoved()
	SessionTransition(to string)
	PermissionCheck(source string)
}

// Table holds live instances. Idle instances expire, and the table is bounded
// by evicting the least recently used one.
type Table struct {
	live  *expirable.LRU[string, *Instance]
	group singleflight.Group

	repos          RepositoryFactory
	ids            session.IdentityService
	lookup         permission.Lookup
	permTTL        time.Duration
	lookupTimeout  time.Duration
	restoreTimeout time.Duration
	recorder       Recorder
	logger         *slog.Logger
}

// Config sizes the table and tunes the components of each instance.
type Config struct {
	Max            int
	IdleTimeout    time.Duration
	RestoreTimeout time.Duration
	PermissionTTL  time.Duration
	LookupTimeout  time.Duration
}

// New builds an empty table. ids and lookup are usually the same API client.
func New(cfg Config, repos RepositoryFactory, ids session.IdentityService, lookup permission.Lookup, rec Recorder, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = DefaultRestoreTimeout
	}
	if cfg.PermissionTTL <= 0 {
		cfg.PermissionTTL = permission.DefaultTTL
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = permission.DefaultLookupTimeout
	}

	t := &Table{
		repos:          repos,
		ids:            ids,
		lookup:         lookup,
		permTTL:        cfg.PermissionTTL,
		lookupTimeout:  cfg.LookupTimeout,
		restoreTimeout: cfg.RestoreTimeout,
		recorder:       rec,
		logger:         logger.With("component", "instance"),
	}
	t.live = expirable.NewLRU(cfg.Max, t.onEvict, cfg.IdleTimeout)
	return t
}

func (t *Table) onEvict(id string, _ *Instance) {
	if t.recorder != nil {
		t.recorder.InstanceRemoved()
	}
	t.logger.Debug("instance evicted", "instance_id", id)
}

// Get returns the live instance for id without creating one.
func (t *Table) Get(id string) (*Instance, bool) {
	if id == "" {
		return nil, false
	}
	return t.live.Get(id)
}

// Acquire returns the live instance for id, or starts a new one. A well-formed
// id that is not live is reused so its persisted session can be restored;
// anything else gets a fresh id. Restore runs before Acquire returns.
func (t *Table) Acquire(ctx context.Context, id string) (*Instance, error) {
	if inst, ok := t.Get(id); ok {
		return inst, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	v, err, _ := t.group.Do(id, func() (any, error) {
		if inst, ok := t.live.Get(id); ok {
			return inst, nil
		}
		inst := t.start(ctx, id)
		t.live.Add(id, inst)
		if t.recorder != nil {
			t.recorder.InstanceAdded()
		}
		return inst, nil
	})
	if err != nil {
		return nil, fmt.Errorf("starting instance: %w", err)
	}
	return v.(*Instance), nil
}

// Fresh starts an instance under a newly generated id. Sign-in moves the
// browser onto one so an id chosen before login never becomes authenticated.
func (t *Table) Fresh(ctx context.Context) (*Instance, error) {
	return t.Acquire(ctx, uuid.NewString())
}

// start builds and restores one instance. The oracle reads tokens from the
// store, the store invalidates the oracle on teardown, and the oracle expires
// the store when the API rejects the token.
func (t *Table) start(ctx context.Context, id string) *Instance {
	logger := t.logger.With("instance_id", id)

	storeOpts := []session.Option{session.WithLogger(logger)}
	if t.recorder != nil {
		storeOpts = append(storeOpts, session.OnTransition(func(to session.Status) {
			t.recorder.SessionTransition(to.String())
		}))
	}

	var oracle *permission.Oracle
	storeOpts = append(storeOpts, session.OnAuthenticated(func(ctx context.Context) {
		if err := oracle.Prefetch(ctx); err != nil {
			logger.Warn("permission prefetch failed", "error", err)
		}
	}))
	store := session.NewStore(t.repos(id), t.ids, storeOpts...)

	oracleOpts := []permission.Option{
		permission.WithTTL(t.permTTL),
		permission.WithLookupTimeout(t.lookupTimeout),
		permission.WithAuthFailure(store.Expire),
		permission.WithLogger(logger),
	}
	if t.recorder != nil {
		oracleOpts = append(oracleOpts, permission.WithRecorder(t.recorder))
	}
	oracle = permission.NewOracle(t.lookup, store, oracleOpts...)
	store.SetInvalidator(oracle)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.restoreTimeout)
	defer cancel()
	store.Restore(rctx)

	logger.Debug("instance started", "status", store.Session().Status.String())
	return &Instance{ID: id, Session: store, Access: oracle, Created: time.Now()}
}

// Remove drops the instance for id. Its persisted slot is left alone.
func (t *Table) Remove(id string) bool {
	return t.live.Remove(id)
}

// Len returns the number of live instances.
func (t *Table) Len() int {
	return t.live.Len()
}

// Close drops every instance.
func (t *Table) Close() {
	t.live.Purge()
}
