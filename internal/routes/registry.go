// ABOUTME: Route Registry: an ordered, immutable table of path patterns to view modules
// ABOUTME: First registration-order match wins; ambiguous orderings are rejected at construction

package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/bizhub/internal/layout"
	"github.com/2389/bizhub/internal/loader"
)

var (
	ErrInvalidPattern           = errors.New("invalid route pattern")
	ErrOptionalNotTrailing      = errors.New("optional segment must be trailing")
	ErrFeatureWithoutProtection = errors.New("unprotected route declares a required feature")
	ErrDuplicatePattern         = errors.New("duplicate route pattern")
	ErrAmbiguousOrder           = errors.New("route is shadowed by an earlier route")
	ErrMissingModule            = errors.New("route has no module")
)

// Entry binds a path pattern to a view module and its access rules.
type Entry struct {
	Pattern   string
	Module    loader.Ref
	Protected bool
	Feature   string
	Layout    layout.Kind
	Title     string
	// Preload marks modules warmed by the boot sequence.
	Preload bool

	pat *pattern
}

// Params holds the values bound by :name segments.
type Params map[string]string

// Get returns the named parameter or "".
func (p Params) Get(name string) string {
	return p[name]
}

// Registry is safe for concurrent use; it is never mutated after New.
type Registry struct {
	entries []*Entry
	logger  *slog.Logger
}

type options struct {
	logger  *slog.Logger
	lenient bool
}

// Option configures New.
type Option func(*options)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Lenient logs shadowed orderings instead of rejecting them. Matching still
// uses registration order.
func Lenient() Option {
	return func(o *options) { o.lenient = true }
}

// New validates entries and builds a registry in the given order.
func New(entries []Entry, opts ...Option) (*Registry, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{logger: o.logger.With("component", "routes")}

	shapes := make(map[string]string)
	for i := range entries {
		e := entries[i]
		if e.Module == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingModule, e.Pattern)
		}
		if !e.Protected && e.Feature != "" {
			return nil, fmt.Errorf("%w: %s requires %q", ErrFeatureWithoutProtection, e.Pattern, e.Feature)
		}
		pat, err := compile(e.Pattern)
		if err != nil {
			return nil, err
		}
		if prev, ok := shapes[pat.shape()]; ok {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicatePattern, prev, e.Pattern)
		}
		shapes[pat.shape()] = e.Pattern

		for _, earlier := range r.entries {
			if !earlier.pat.overlaps(pat) {
				continue
			}
			if earlier.pat.covers(pat) || pat.moreSpecificThan(earlier.pat) {
				if !o.lenient {
					return nil, fmt.Errorf("%w: %s must be registered before %s", ErrAmbiguousOrder, e.Pattern, earlier.Pattern)
				}
				r.logger.Warn("route shadowed by earlier route", "route", e.Pattern, "earlier", earlier.Pattern)
			}
		}

		e.pat = pat
		r.entries = append(r.entries, &e)
	}
	return r, nil
}

// Match returns the first entry, in registration order, whose pattern
// matches path. A miss is not an error.
func (r *Registry) Match(path string) (*Entry, Params, bool) {
	parts := splitPath(path)
	for _, e := range r.entries {
		if params, ok := e.pat.match(parts); ok {
			if params == nil {
				params = Params{}
			}
			return e, params, true
		}
	}
	return nil, nil, false
}

// Entries returns a copy of the table in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// Features lists the distinct required features, sorted.
func (r *Registry) Features() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.entries {
		if e.Feature != "" && !seen[e.Feature] {
			seen[e.Feature] = true
			out = append(out, e.Feature)
		}
	}
	sort.Strings(out)
	return out
}

// PreloadRefs lists the distinct modules marked for preloading.
func (r *Registry) PreloadRefs() []loader.Ref {
	seen := make(map[loader.Ref]bool)
	var out []loader.Ref
	for _, e := range r.entries {
		if e.Preload && !seen[e.Module] {
			seen[e.Module] = true
			out = append(out, e.Module)
		}
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}
