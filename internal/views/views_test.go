// ABOUTME: Tests for the view catalog, markdown rendering and fallback screens
// ABOUTME: Uses the embedded content tree, fstest maps and the in-memory store

package views

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/url"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bizhub/internal/loader"
	"github.com/2389/bizhub/internal/routes"
	"github.com/2389/bizhub/internal/store"
)

func render(t *testing.T, c *Catalog, ref loader.Ref, req loader.Request) loader.Content {
	t.Helper()
	factory, ok := c.Factory(ref)
	require.True(t, ok, "ref %s", ref)
	m, err := factory(context.Background())
	require.NoError(t, err)
	content, err := m.Render(context.Background(), req)
	require.NoError(t, err)
	return content
}

func TestCatalog_ResolvesEveryDefaultRoute(t *testing.T) {
	c := NewCatalog(WithDirectory(store.NewMockStore()))
	for _, e := range routes.DefaultEntries() {
		factory, ok := c.Factory(e.Module)
		require.True(t, ok, "no factory for %s", e.Module)
		_, err := factory(context.Background())
		assert.NoError(t, err, "module %s", e.Module)
	}
}

func TestCatalog_Unknown(t *testing.T) {
	c := NewCatalog()
	for _, ref := range []loader.Ref{"builtin:nope", "other:x", "md:../etc/passwd", "md:", "builtin:admin-users"} {
		_, ok := c.Factory(ref)
		assert.False(t, ok, ref)
	}

	factory, ok := c.Factory("md:missing/page")
	require.True(t, ok, "markdown refs resolve lazily")
	_, err := factory(context.Background())
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMarkdown_Params(t *testing.T) {
	c := NewCatalog()
	content := render(t, c, "md:hub/parceiro", loader.Request{
		Path:   "/hub/parceiros/42",
		Params: map[string]string{"id": "42"},
	})
	assert.Equal(t, "Parceiro 42", content.Title)
	assert.Contains(t, string(content.Body), "<strong>42</strong>")
	assert.Contains(t, string(content.Body), `href="/login?next=/hub/parceiros/42"`)
}

func TestMarkdown_EscapesInjectedHTML(t *testing.T) {
	c := NewCatalog()
	content := render(t, c, "md:hub/secao", loader.Request{
		Params: map[string]string{"section": "<script>alert(1)</script>"},
	})
	assert.NotContains(t, string(content.Body), "<script>")
}

func TestMarkdown_RequestValuesStayLiteral(t *testing.T) {
	c := NewCatalog()
	content := render(t, c, "md:hub/parceiro", loader.Request{
		Path:   "/hub/parceiros/x",
		Params: map[string]string{"id": "x](https://evil.example) *y*"},
	})
	body := string(content.Body)
	assert.NotContains(t, body, `href="https://evil.example"`)
	assert.NotContains(t, body, "<em>y</em>")
	assert.Equal(t, "Parceiro x](https://evil.example) *y*", content.Title)

	content = render(t, c, "md:hub/secao", loader.Request{
		Params: map[string]string{"section": "rede_[a](b)"},
	})
	assert.NotContains(t, string(content.Body), `href="b"`)
	assert.Contains(t, content.Title, "Rede")
}

func TestMdEscape(t *testing.T) {
	assert.Equal(t, `\[a\]\(b\) 1.5 -2`, mdEscape("[a](b)\n1.5 -2"))
	assert.Equal(t, "[a](b) *c*", mdUnescape(mdEscape("[a](b) *c*")))
}

func TestMarkdown_Allows(t *testing.T) {
	c := NewCatalog()
	req := loader.Request{Can: func(f string) bool { return f == routes.FeatureAgents }}
	body := string(render(t, c, "md:minha-area/ferramentas", req).Body)
	assert.Contains(t, body, "/agentes/anuncios")
	assert.NotContains(t, body, "/simuladores/financiamento")
}

func TestMarkdown_Simulator(t *testing.T) {
	c := NewCatalog()
	content := render(t, c, "md:simuladores/simulador", loader.Request{
		Params: map[string]string{"simulator": "financiamento"},
		Query:  url.Values{"valor": {"12000"}, "taxa": {"0"}, "meses": {"12"}},
	})
	assert.Equal(t, "Simulador: Financiamento", content.Title)
	assert.Contains(t, string(content.Body), "R$ 1.000,00")
}

func TestMarkdown_ContentFS(t *testing.T) {
	fsys := fstest.MapFS{
		"x.md": {Data: []byte("# Olá {{.Viewer.Username}}\n\n*texto*\n")},
	}
	c := NewCatalog(WithContentFS(fsys))
	content := render(t, c, "md:x", loader.Request{Viewer: &loader.Viewer{Username: "ana"}})
	assert.Equal(t, "Olá ana", content.Title)
	assert.Contains(t, string(content.Body), "<em>texto</em>")

	refs, err := c.Refs()
	require.NoError(t, err)
	assert.Contains(t, refs, loader.Ref("md:x"))
	assert.Contains(t, refs, loader.Ref("builtin:login"))
}

func TestMarkdown_BadTemplate(t *testing.T) {
	c := NewCatalog(WithContentFS(fstest.MapFS{"bad.md": {Data: []byte("{{.Broken")}}))
	factory, ok := c.Factory("md:bad")
	require.True(t, ok)
	_, err := factory(context.Background())
	assert.Error(t, err)
}

func TestBuiltin_Login(t *testing.T) {
	c := NewCatalog()
	body := string(render(t, c, "builtin:login", loader.Request{
		CSRFToken: "tok123",
		Query:     url.Values{"next": {"/admin/usuarios"}, "error": {"1"}},
	}).Body)
	assert.Contains(t, body, `name="csrf_token" value="tok123"`)
	assert.Contains(t, body, `value="/admin/usuarios"`)
	assert.Contains(t, body, "inválidos")
	assert.Contains(t, body, "<!DOCTYPE html>")
}

func TestBuiltin_Dashboard(t *testing.T) {
	c := NewCatalog()
	req := loader.Request{
		Viewer: &loader.Viewer{Username: "ana", DisplayName: "Ana"},
		Can:    func(f string) bool { return f == routes.FeatureSuppliers },
	}
	body := string(render(t, c, "builtin:dashboard", req).Body)
	assert.Contains(t, body, "Olá, Ana")
	assert.Contains(t, body, "/minha-area/fornecedores")
	assert.NotContains(t, body, "/admin")

	body = string(render(t, c, "builtin:dashboard", loader.Request{Viewer: req.Viewer}).Body)
	assert.Contains(t, body, "Nenhuma ferramenta")
}

func TestBuiltin_Admin(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	u := &store.User{ID: "u1", Username: "ana", DisplayName: "Ana"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.AddRole(ctx, "u1", store.RoleAdmin))
	require.NoError(t, s.GrantFeature(ctx, store.RoleAdmin, "admin.*"))

	c := NewCatalog(WithDirectory(s))

	body := string(render(t, c, "builtin:admin-users", loader.Request{}).Body)
	assert.Contains(t, body, `href="/admin/usuarios/u1"`)
	assert.Contains(t, body, "admin")

	body = string(render(t, c, "builtin:admin-user", loader.Request{Params: map[string]string{"id": "u1"}}).Body)
	assert.Contains(t, body, "<h1>ana</h1>")

	body = string(render(t, c, "builtin:admin-user", loader.Request{Params: map[string]string{"id": "nope"}}).Body)
	assert.Contains(t, body, "Usuário não encontrado")

	body = string(render(t, c, "builtin:admin-grants", loader.Request{}).Body)
	assert.Contains(t, body, "admin.*")
}

func TestFallbacks(t *testing.T) {
	nf := NotFound("/foo/bar")
	assert.Contains(t, string(nf.Body), "/foo/bar")
	assert.NotEmpty(t, nf.Title)

	d := Denied("/admin", "admin.panel")
	assert.Contains(t, string(d.Body), "admin.panel")

	s := Suspense("/hub", 2)
	assert.Contains(t, string(s.Body), "2s")

	le := LoadError("/hub", url.Values{"a": {"1"}}, errors.New("boom"))
	assert.Contains(t, string(le.Body), `href="/hub?a=1"`)
	assert.Contains(t, string(le.Body), "boom")
	assert.Contains(t, string(le.Body), "Tentar novamente")

	var buf bytes.Buffer
	require.NoError(t, BootPages{}.Loading(&buf, 1))
	assert.Contains(t, buf.String(), `content="1"`)

	buf.Reset()
	require.NoError(t, BootPages{}.Failed(&buf, errors.New("db down")))
	assert.Contains(t, buf.String(), "db down")
	assert.Contains(t, buf.String(), "Recarregar")
}

func TestMoneyAndPMT(t *testing.T) {
	assert.Equal(t, "R$ 1.234.567,89", money(1234567.891))
	assert.Equal(t, "R$ 0,50", money(0.5))
	assert.Equal(t, "-R$ 10,00", money(-10))
	assert.InDelta(t, 1000.0, pmt("12000", "0", "12"), 1e-9)
	assert.InDelta(t, 1100.16, pmt("12000", "1.5", "12"), 0.01)
	assert.Equal(t, 0.0, pmt("x", "1", "12"))
}
