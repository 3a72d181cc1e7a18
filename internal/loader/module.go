// ABOUTME: View module contract shared by the loader, the pipeline and view packages
// ABOUTME: The core mounts modules through this interface and never looks inside

package loader

import (
	"context"
	"html/template"
	"net/url"
)

// Ref names a view module. Refs are opaque to the core; the catalog decides
// what a ref resolves to ("builtin:home", "md:hub/parceiros", ...).
type Ref string

// Viewer is the signed-in user as seen by a view module.
type Viewer struct {
	ID          string
	Username    string
	DisplayName string
	Roles       []string
}

// Request carries what a module needs to render one navigation.
type Request struct {
	Path      string
	Params    map[string]string
	Query     url.Values
	Viewer    *Viewer
	CSRFToken string
	// Can reports cached feature access for the viewer. It never blocks.
	Can func(feature string) bool
}

// Allows reports whether the viewer may use feature. Nil Can denies.
func (r Request) Allows(feature string) bool {
	return r.Can != nil && r.Can(feature)
}

// Content is a rendered module body ready to be wrapped in a layout.
type Content struct {
	Title string
	Body  template.HTML
}

// Module is a render-ready view module.
type Module interface {
	Render(ctx context.Context, req Request) (Content, error)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, req Request) (Content, error)

// Render calls f.
func (f ModuleFunc) Render(ctx context.Context, req Request) (Content, error) {
	return f(ctx, req)
}

// Factory produces a module. It is the expensive step the loader defers and
// runs at most once per ref at a time.
type Factory func(ctx context.Context) (Module, error)

// Resolver finds the factory for a ref.
type Resolver interface {
	Factory(ref Ref) (Factory, bool)
}
