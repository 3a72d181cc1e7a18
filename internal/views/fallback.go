// ABOUTME: Core fallback views: not found, access denied, suspense, load error and boot pages
// ABOUTME: Each failure class has exactly one of these screens

package views

import (
	"bytes"
	"html/template"
	"io"
	"net/url"

	"github.com/2389/bizhub/internal/loader"
)

var fallbacks = template.Must(template.ParseFS(templateFS, "templates/fallback/*.html"))

func renderFallback(name string, data any) loader.Content {
	var buf bytes.Buffer
	if err := fallbacks.ExecuteTemplate(&buf, name, data); err != nil {
		// The fallback templates are compiled in; a failure here is a bug.
		panic(err)
	}
	return loader.Content{Body: template.HTML(buf.String())}
}

// NotFound is the body for an unmatched path.
func NotFound(path string) loader.Content {
	c := renderFallback("not_found", struct{ Path string }{path})
	c.Title = "Página não encontrada"
	return c
}

// Denied is the body for a failed feature check.
func Denied(path, feature string) loader.Content {
	c := renderFallback("denied", struct{ Path, Feature string }{path, feature})
	c.Title = "Acesso negado"
	return c
}

// Suspense is the placeholder shown while a module is still loading. The
// page refreshes itself; refreshSeconds is shown to the user.
func Suspense(path string, refreshSeconds int) loader.Content {
	c := renderFallback("suspense", struct {
		Path    string
		Seconds int
	}{path, refreshSeconds})
	c.Title = "Carregando"
	return c
}

// LoadError is the error boundary around a module that failed to load or
// render. The retry link reissues the navigation.
func LoadError(path string, query url.Values, err error) loader.Content {
	retry := url.URL{Path: path, RawQuery: query.Encode()}
	c := renderFallback("load_error", struct {
		Retry   string
		Message string
	}{retry.String(), err.Error()})
	c.Title = "Erro ao carregar"
	return c
}

// BootPages renders the full-page screens served before the pipeline runs.
type BootPages struct{}

// Loading writes the page shown while subsystems are still starting.
func (BootPages) Loading(w io.Writer, refreshSeconds int) error {
	return fallbacks.ExecuteTemplate(w, "boot_loading", struct{ Seconds int }{refreshSeconds})
}

// Failed writes the blocking error page with a manual reload action.
func (BootPages) Failed(w io.Writer, err error) error {
	return fallbacks.ExecuteTemplate(w, "boot_failed", struct{ Message string }{err.Error()})
}
