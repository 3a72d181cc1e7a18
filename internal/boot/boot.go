// ABOUTME: Initialization Coordinator holding the portal in a loading state until subsystems are ready
// ABOUTME: Subsystems run in parallel; any hard error moves the coordinator to Failed for good

package boot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the coordinator lifecycle.
type State int

const (
	Booting State = iota
	WaitingOnSubsystems
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case WaitingOnSubsystems:
		return "waiting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAlreadyStarted is returned by Register and Start after Start.
var ErrAlreadyStarted = errors.New("coordinator already started")

// InitializationError is a fatal subsystem failure.
type InitializationError struct {
	Subsystem string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializing %s: %v", e.Subsystem, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Subsystem prepares one part of the portal. Returning an error is a hard
// failure; still-loading work simply has not returned yet.
type Subsystem func(ctx context.Context) error

type subsystem struct {
	name string
	fn   Subsystem
}

// Coordinator gates the render pipeline on its subsystems.
type Coordinator struct {
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	err        error
	subsystems []subsystem
	onState    func(State)
	done       chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// OnStateChange is called after every transition.
func OnStateChange(fn func(State)) Option {
	return func(c *Coordinator) { c.onState = fn }
}

// New returns a coordinator in the Booting state.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "boot")
	return c
}

// Register adds a subsystem. It must be called before Start.
func (c *Coordinator) Register(name string, fn Subsystem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Booting {
		return ErrAlreadyStarted
	}
	c.subsystems = append(c.subsystems, subsystem{name: name, fn: fn})
	return nil
}

func (c *Coordinator) setLocked(s State) {
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

// Start runs every registered subsystem in the background and returns
// immediately. Use Wait or State to follow progress.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Booting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	subs := c.subsystems
	c.setLocked(WaitingOnSubsystems)
	c.mu.Unlock()

	c.logger.Info("waiting on subsystems", "count", len(subs))
	go c.run(ctx, subs)
	return nil
}

func (c *Coordinator) run(ctx context.Context, subs []subsystem) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = &InitializationError{Subsystem: s.name, Err: fmt.Errorf("panic: %v", p)}
				}
			}()
			t := time.Now()
			if err := s.fn(gctx); err != nil {
				return &InitializationError{Subsystem: s.name, Err: err}
			}
			c.logger.Debug("subsystem ready", "subsystem", s.name, "duration", time.Since(t))
			return nil
		})
	}
	err := g.Wait()

	c.mu.Lock()
	if err != nil {
		c.err = err
		c.setLocked(Failed)
	} else {
		c.setLocked(Ready)
	}
	c.mu.Unlock()
	close(c.done)

	if err != nil {
		c.logger.Error("initialization failed", "error", err)
		return
	}
	c.logger.Info("ready", "duration", time.Since(start))
}

// Wait blocks until the coordinator is Ready or Failed, or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the failure that moved the coordinator to Failed.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}
