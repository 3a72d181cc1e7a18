// ABOUTME: Markdown view modules: text/template over markdown, rendered to HTML with goldmark
// ABOUTME: Hub sections, directory shells, agent tools and simulators live in the content tree

package views

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"math"
	"strconv"
	"strings"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/bizhub/internal/layout"
	"github.com/2389/bizhub/internal/loader"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var markdownFuncs = texttemplate.FuncMap{
	"title": func(s string) string { return mdEscape(layout.Humanize(mdUnescape(s))) },
	"pmt":   pmt,
	"money": money,
	"default": func(def, v string) string {
		if v == "" {
			return def
		}
		return v
	},
}

// mdSpecials can open or close inline markdown; the colon stops autolinks.
// Dots and hyphens stay bare so numeric query values still parse.
const mdSpecials = "\\`*_{}[]()<>#+!|~&:"

var (
	mdEscaper   *strings.Replacer
	mdUnescaper *strings.Replacer
)

func init() {
	var esc, unesc []string
	for _, r := range mdSpecials {
		esc = append(esc, string(r), `\`+string(r))
		unesc = append(unesc, `\`+string(r), string(r))
	}
	esc = append(esc, "\r", " ", "\n", " ")
	mdEscaper = strings.NewReplacer(esc...)
	mdUnescaper = strings.NewReplacer(unesc...)
}

// mdEscape makes a request value render as literal text.
func mdEscape(s string) string {
	return mdEscaper.Replace(s)
}

func mdUnescape(s string) string {
	return mdUnescaper.Replace(s)
}

// markdownData is what a content template sees. Params and Query hold
// escaped values.
type markdownData struct {
	Path   string
	Params map[string]string
	Query  map[string]string
	Viewer *loader.Viewer
	req    loader.Request
}

// Allows mirrors loader.Request.Allows for content templates.
func (d markdownData) Allows(feature string) bool {
	return d.req.Allows(feature)
}

func (c *Catalog) markdownFactory(name string) loader.Factory {
	return func(ctx context.Context) (loader.Module, error) {
		src, err := fs.ReadFile(c.content, name+".md")
		if err != nil {
			return nil, fmt.Errorf("reading %s.md: %w", name, err)
		}
		tmpl, err := texttemplate.New(name).Funcs(markdownFuncs).Option("missingkey=zero").Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parsing %s.md: %w", name, err)
		}
		c.logger.Debug("markdown module compiled", "module", name)
		return &markdownModule{name: name, tmpl: tmpl}, nil
	}
}

type markdownModule struct {
	name string
	tmpl *texttemplate.Template
}

func (m *markdownModule) Render(_ context.Context, req loader.Request) (loader.Content, error) {
	query := make(map[string]string, len(req.Query))
	for k := range req.Query {
		query[k] = mdEscape(req.Query.Get(k))
	}
	params := make(map[string]string, len(req.Params))
	for k, v := range req.Params {
		params[k] = mdEscape(v)
	}
	data := markdownData{Path: mdEscape(req.Path), Params: params, Query: query, Viewer: req.Viewer, req: req}

	var src bytes.Buffer
	if err := m.tmpl.Execute(&src, data); err != nil {
		return loader.Content{}, fmt.Errorf("executing %s.md: %w", m.name, err)
	}

	var out bytes.Buffer
	if err := markdown.Convert(src.Bytes(), &out); err != nil {
		return loader.Content{}, fmt.Errorf("converting %s.md: %w", m.name, err)
	}
	return loader.Content{
		Title: headingTitle(src.Bytes()),
		Body:  template.HTML(`<article class="markdown">` + out.String() + `</article>`),
	}, nil
}

// headingTitle returns the text of the first level-one heading.
func headingTitle(src []byte) string {
	for _, line := range strings.Split(string(src), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return mdUnescape(strings.TrimSpace(rest))
		}
	}
	return ""
}

// pmt is the fixed monthly payment of a loan. Inputs arrive as query
// strings; unparsable or non-positive values give 0.
func pmt(principal, monthlyRatePct, months string) float64 {
	p, err1 := strconv.ParseFloat(principal, 64)
	r, err2 := strconv.ParseFloat(monthlyRatePct, 64)
	n, err3 := strconv.Atoi(months)
	if err1 != nil || err2 != nil || err3 != nil || p <= 0 || n <= 0 || r < 0 {
		return 0
	}
	if r == 0 {
		return p / float64(n)
	}
	i := r / 100
	return p * i / (1 - math.Pow(1+i, -float64(n)))
}

// money formats v as Brazilian reais.
func money(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	whole, cents, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	sign := ""
	if v < 0 {
		sign = "-"
	}
	return sign + "R$ " + b.String() + "," + cents
}
