// ABOUTME: Catalog resolving module refs to factories for built-in and markdown view modules
// ABOUTME: "builtin:<name>" refs are compiled in; "md:<path>" refs read the content tree

package views

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/2389/bizhub/internal/loader"
	"github.com/2389/bizhub/internal/store"
)

//go:embed all:content
var contentFS embed.FS

//go:embed templates/*.html templates/fallback/*.html
var templateFS embed.FS

const (
	prefixBuiltin  = "builtin:"
	prefixMarkdown = "md:"
)

// Directory is the read side of the store the admin modules list.
type Directory interface {
	ListUsers(ctx context.Context) ([]*store.User, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListRoles(ctx context.Context, userID string) ([]store.RoleName, error)
	ListGrants(ctx context.Context) ([]store.FeatureGrant, error)
}

// Catalog implements loader.Resolver.
type Catalog struct {
	content  fs.FS
	dir      Directory
	builtins map[string]loader.Factory
	logger   *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithContentDir serves markdown modules from dir instead of the embedded tree.
func WithContentDir(dir string) Option {
	return func(c *Catalog) {
		if dir != "" {
			c.content = os.DirFS(dir)
		}
	}
}

// WithContentFS serves markdown modules from fsys.
func WithContentFS(fsys fs.FS) Option {
	return func(c *Catalog) { c.content = fsys }
}

// WithDirectory enables the admin modules.
func WithDirectory(d Directory) Option {
	return func(c *Catalog) { c.dir = d }
}

// WithLogger sets the catalog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// NewCatalog builds a catalog over the embedded content unless overridden.
func NewCatalog(opts ...Option) *Catalog {
	sub, err := fs.Sub(contentFS, "content")
	if err != nil {
		panic(fmt.Sprintf("views: embedded content: %v", err))
	}
	c := &Catalog{content: sub, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "views")

	c.builtins = map[string]loader.Factory{
		"home":      templateModule("home.html", nil),
		"login":     templateModule("login.html", nil),
		"dashboard": templateModule("dashboard.html", dashboardData),
	}
	if c.dir != nil {
		c.builtins["admin-users"] = templateModule("admin_users.html", c.adminUsersData)
		c.builtins["admin-user"] = templateModule("admin_user.html", c.adminUserData)
		c.builtins["admin-grants"] = templateModule("admin_grants.html", c.adminGrantsData)
	}
	return c
}

// Factory implements loader.Resolver.
func (c *Catalog) Factory(ref loader.Ref) (loader.Factory, bool) {
	s := string(ref)
	switch {
	case strings.HasPrefix(s, prefixBuiltin):
		f, ok := c.builtins[strings.TrimPrefix(s, prefixBuiltin)]
		return f, ok
	case strings.HasPrefix(s, prefixMarkdown):
		name := strings.TrimPrefix(s, prefixMarkdown)
		if !fs.ValidPath(name) || name == "." {
			return nil, false
		}
		return c.markdownFactory(name), true
	default:
		return nil, false
	}
}

// Refs lists every ref the catalog can resolve right now.
func (c *Catalog) Refs() ([]loader.Ref, error) {
	var refs []loader.Ref
	for name := range c.builtins {
		refs = append(refs, loader.Ref(prefixBuiltin+name))
	}
	err := fs.WalkDir(c.content, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".md") {
			refs = append(refs, loader.Ref(prefixMarkdown+strings.TrimSuffix(path, ".md")))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking content: %w", err)
	}
	return refs, nil
}
