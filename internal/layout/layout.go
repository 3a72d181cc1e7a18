// ABOUTME: Layout Selector mapping a closed set of layout kinds to page chrome
// ABOUTME: Default and Admin wrap content with header, breadcrumbs and footer; None writes it bare

package layout

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/bizhub/internal/loader"
)

//go:embed templates/*.html templates/partials/*.html
var templateFS embed.FS

// Kind selects the chrome around a page.
type Kind int

const (
	Default Kind = iota
	Admin
	None
)

func (k Kind) String() string {
	switch k {
	case Default:
		return "default"
	case Admin:
		return "admin"
	case None:
		return "none"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a manifest string to a Kind. Unknown strings yield Default
// with ok=false so callers can log the fallback.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, true
	case "admin":
		return Admin, true
	case "none":
		return None, true
	default:
		return Default, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown kinds fail.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown layout kind %q", text)
	}
	*k = kind
	return nil
}

// Crumb is one breadcrumb link.
type Crumb struct {
	Label   string
	Href    string
	Current bool
}

// Page is everything the chrome needs to wrap one rendered module.
type Page struct {
	Title       string
	Content     template.HTML
	Path        string
	Breadcrumbs []Crumb
	Viewer      *loader.Viewer
	CSRFToken   string
}

// chrome lists the template backing each kind. None has no chrome.
var chrome = map[Kind]string{
	Default: "default.html",
	Admin:   "admin.html",
	None:    "",
}

// Selector wraps content in the chrome of a layout kind.
type Selector struct {
	templates map[Kind]*template.Template
	logger    *slog.Logger
}

// NewSelector parses the embedded layout templates.
func NewSelector(logger *slog.Logger) (*Selector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		templates: make(map[Kind]*template.Template),
		logger:    logger.With("component", "layout"),
	}

	for kind, file := range chrome {
		if file == "" {
			continue
		}
		tmpl, err := template.New(file).ParseFS(templateFS, "templates/"+file, "templates/partials/*.html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s layout: %w", kind, err)
		}
		s.templates[kind] = tmpl
	}
	return s, nil
}

// Wrap writes page wrapped in the chrome for kind. None writes the content
// unwrapped. Kinds outside the enumeration fall back to Default.
func (s *Selector) Wrap(w io.Writer, kind Kind, page Page) error {
	if kind == None {
		_, err := io.WriteString(w, string(page.Content))
		return err
	}

	tmpl, ok := s.templates[kind]
	if !ok {
		s.logger.Warn("unknown layout kind, using default", "kind", kind.String())
		tmpl = s.templates[Default]
	}

	if page.Breadcrumbs == nil {
		page.Breadcrumbs = Breadcrumbs(page.Path)
	}
	if err := tmpl.Execute(w, page); err != nil {
		return fmt.Errorf("rendering %s layout: %w", kind, err)
	}
	return nil
}

// Breadcrumbs derives a trail from a request path: "/hub/parceiros/42"
// gives Início > Hub > Parceiros > 42.
func Breadcrumbs(path string) []Crumb {
	crumbs := []Crumb{{Label: "Início", Href: "/"}}
	href := ""
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		href += "/" + seg
		crumbs = append(crumbs, Crumb{Label: Humanize(seg), Href: href})
	}
	crumbs[len(crumbs)-1].Current = true
	return crumbs
}

// Humanize turns a path segment into a label: "minha-area" gives "Minha Area".
func Humanize(seg string) string {
	words := strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
