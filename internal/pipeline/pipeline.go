// ABOUTME: Render Pipeline resolving one navigation: match, protect, permit, load, wrap
// ABOUTME: Cheap synchronous checks short-circuit before any lookup or module load

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/2389/bizhub/internal/layout"
	"github.com/2389/bizhub/internal/loader"
	"github.com/2389/bizhub/internal/routes"
	"github.com/2389/bizhub/internal/session"
	"github.com/2389/bizhub/internal/views"
)

// DefaultLoginPath is the unauthenticated entry point.
const DefaultLoginPath = "/login"

// Kind classifies how a navigation resolved.
type Kind int

const (
	Rendered Kind = iota
	NotFound
	Redirect
	Denied
	Suspended
	LoadFailed
)

func (k Kind) String() string {
	switch k {
	case Rendered:
		return "rendered"
	case NotFound:
		return "not_found"
	case Redirect:
		return "redirect"
	case Denied:
		return "denied"
	case Suspended:
		return "suspended"
	case LoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NavigationRequest is created per navigation and dropped after resolution.
type NavigationRequest struct {
	Path      string
	Query     url.Values
	CSRFToken string
}

// SessionReader exposes the instance's session. *session.Store satisfies it.
type SessionReader interface {
	Session() session.Session
}

// AccessChecker answers feature checks. *permission.Oracle satisfies it.
type AccessChecker interface {
	HasAccessSync(feature string) bool
	CheckAccess(ctx context.Context, feature string) bool
}

// ModuleLoader loads view modules. *loader.Loader satisfies it.
type ModuleLoader interface {
	Load(ctx context.Context, ref loader.Ref) (loader.Module, error)
}

// Recorder observes resolved navigations.
type Recorder interface {
	Navigation(outcome string)
}

// Outcome is the result of Resolve, ready for Render.
type Outcome struct {
	Kind     Kind
	Status   int
	Path     string
	Entry    *routes.Entry
	Params   routes.Params
	Layout   layout.Kind
	Content  loader.Content
	Location string
	// RefreshAfter is set for Suspended outcomes.
	RefreshAfter time.Duration
	Err          error

	Viewer    *loader.Viewer
	CSRFToken string
}

// Pipeline is stateless apart from its collaborators and safe for
// concurrent use.
type Pipeline struct {
	routes    *routes.Registry
	loader    ModuleLoader
	layouts   *layout.Selector
	suspense  time.Duration
	loginPath string
	recorder  Recorder
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSuspenseTimeout bounds how long Resolve waits for a module before
// answering with the suspense placeholder. Zero waits for the load.
func WithSuspenseTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.suspense = d }
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(path string) Option {
	return func(p *Pipeline) { p.loginPath = path }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New assembles a pipeline.
func New(reg *routes.Registry, ld ModuleLoader, layouts *layout.Selector, opts ...Option) *Pipeline {
	p := &Pipeline{
		routes:    reg,
		loader:    ld,
		layouts:   layouts,
		loginPath: DefaultLoginPath,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

func viewerOf(s session.Session) *loader.Viewer {
	if !s.IsAuthenticated || s.Identity == nil {
		return nil
	}
	return &loader.Viewer{
		ID:          s.Identity.ID,
		Username:    s.Identity.Username,
		DisplayName: s.Identity.DisplayName,
		Roles:       s.Identity.Roles,
	}
}

// Resolve runs the navigation steps in order. It reads the session and the
// permission cache and may load a module; it never mutates either.
func (p *Pipeline) Resolve(ctx context.Context, req NavigationRequest, sess SessionReader, access AccessChecker) Outcome {
	out := p.resolve(ctx, req, sess, access)
	if p.recorder != nil {
		p.recorder.Navigation(out.Kind.String())
	}
	return out
}

func (p *Pipeline) resolve(ctx context.Context, req NavigationRequest, sess SessionReader, access AccessChecker) Outcome {
	s := sess.Session()
	base := Outcome{Path: req.Path, Viewer: viewerOf(s), CSRFToken: req.CSRFToken}

	entry, params, ok := p.routes.Match(req.Path)
	if !ok {
		base.Kind, base.Status, base.Layout = NotFound, http.StatusNotFound, layout.Default
		base.Content = views.NotFound(req.Path)
		return base
	}
	base.Entry, base.Params, base.Layout = entry, params, entry.Layout

	if entry.Protected && !s.IsAuthenticated {
		base.Kind, base.Status = Redirect, http.StatusSeeOther
		base.Location = p.loginLocation(req)
		return base
	}

	if entry.Feature != "" && !access.HasAccessSync(entry.Feature) && !access.CheckAccess(ctx, entry.Feature) {
		base.Kind, base.Status = Denied, http.StatusForbidden
		base.Content = views.Denied(req.Path, entry.Feature)
		return base
	}

	module, err := p.load(ctx, entry.Module)
	if err != nil {
		var loadErr *loader.ModuleLoadError
		if !errors.As(err, &loadErr) && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			secs := max(1, int(p.suspense.Round(time.Second)/time.Second))
			base.Kind, base.Status = Suspended, http.StatusAccepted
			base.RefreshAfter = time.Duration(secs) * time.Second
			base.Content = views.Suspense(req.Path, secs)
			return base
		}
		return p.failed(base, req, err)
	}

	content, err := module.Render(ctx, loader.Request{
		Path:      req.Path,
		Params:    params,
		Query:     req.Query,
		Viewer:    base.Viewer,
		CSRFToken: req.CSRFToken,
		Can:       access.HasAccessSync,
	})
	if err != nil {
		return p.failed(base, req, &loader.ModuleLoadError{Ref: entry.Module, Err: err})
	}
	if content.Title == "" {
		content.Title = entry.Title
	}
	base.Kind, base.Status, base.Content = Rendered, http.StatusOK, content
	return base
}

// load waits for the module up to the suspense timeout. The load itself
// keeps running when the wait gives up.
func (p *Pipeline) load(ctx context.Context, ref loader.Ref) (loader.Module, error) {
	if p.suspense <= 0 {
		return p.loader.Load(ctx, ref)
	}
	lctx, cancel := context.WithTimeout(ctx, p.suspense)
	defer cancel()
	return p.loader.Load(lctx, ref)
}

func (p *Pipeline) failed(base Outcome, req NavigationRequest, err error) Outcome {
	p.logger.Warn("module failed", "path", req.Path, "error", err)
	base.Kind, base.Status, base.Err = LoadFailed, http.StatusInternalServerError, err
	base.Content = views.LoadError(req.Path, req.Query, err)
	return base
}

func (p *Pipeline) loginLocation(req NavigationRequest) string {
	next := url.URL{Path: req.Path, RawQuery: req.Query.Encode()}
	return p.loginPath + "?" + url.Values{"next": {next.String()}}.Encode()
}

// Render writes an outcome. Redirects only set headers; every other kind is
// wrapped in its layout.
func (p *Pipeline) Render(w http.ResponseWriter, out Outcome) error {
	if out.Kind == Redirect {
		w.Header().Set("Location", out.Location)
		w.WriteHeader(out.Status)
		return nil
	}

	var buf bytes.Buffer
	err := p.layouts.Wrap(&buf, out.Layout, layout.Page{
		Title:     out.Content.Title,
		Content:   out.Content.Body,
		Path:      out.Path,
		Viewer:    out.Viewer,
		CSRFToken: out.CSRFToken,
	})
	if err != nil {
		return fmt.Errorf("wrapping %s: %w", out.Path, err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	if out.Kind == Suspended {
		h.Set("Refresh", strconv.Itoa(int(out.RefreshAfter/time.Second)))
	}
	w.WriteHeader(out.Status)
	_, err = w.Write(buf.Bytes())
	return err
}
