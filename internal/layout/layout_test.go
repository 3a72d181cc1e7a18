// ABOUTME: Tests for the Layout Selector chrome and breadcrumb derivation
// ABOUTME: Renders into buffers and inspects the produced HTML

package layout

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bizhub/internal/loader"
)

func newSelector(t *testing.T) *Selector {
	t.Helper()
	s, err := NewSelector(nil)
	require.NoError(t, err)
	return s
}

func TestWrap_Default(t *testing.T) {
	s := newSelector(t)
	var buf bytes.Buffer

	err := s.Wrap(&buf, Default, Page{
		Title:   "Fornecedores",
		Content: "<section id=\"body\">lista</section>",
		Path:    "/fornecedores",
		Viewer:  &loader.Viewer{Username: "ana", DisplayName: "Ana Souza"},
	})
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "<title>Fornecedores · BizHub</title>")
	assert.Contains(t, html, `<section id="body">lista</section>`)
	assert.Contains(t, html, "Ana Souza")
	assert.Contains(t, html, `class="layout-default"`)
	assert.Contains(t, html, `aria-current="page">Fornecedores</span>`)
	assert.NotContains(t, html, "Administração")
}

func TestWrap_Admin(t *testing.T) {
	s := newSelector(t)
	var buf bytes.Buffer

	require.NoError(t, s.Wrap(&buf, Admin, Page{Title: "Usuários", Content: "tabela", Path: "/admin/usuarios"}))

	html := buf.String()
	assert.Contains(t, html, `class="layout-admin"`)
	assert.Contains(t, html, "Administração")
	assert.Contains(t, html, "tabela")
	assert.Contains(t, html, "Entrar", "anonymous viewer sees the login link")
}

func TestWrap_NoneIsUnwrapped(t *testing.T) {
	s := newSelector(t)
	var buf bytes.Buffer

	require.NoError(t, s.Wrap(&buf, None, Page{Title: "Login", Content: "<form>x</form>"}))
	assert.Equal(t, "<form>x</form>", buf.String())
}

func TestWrap_UnknownKindFallsBackToDefault(t *testing.T) {
	s := newSelector(t)
	var buf bytes.Buffer

	require.NoError(t, s.Wrap(&buf, Kind(42), Page{Content: "corpo"}))
	assert.Contains(t, buf.String(), `class="layout-default"`)
	assert.Contains(t, buf.String(), "corpo")
}

func TestWrap_EscapesViewerName(t *testing.T) {
	s := newSelector(t)
	var buf bytes.Buffer

	require.NoError(t, s.Wrap(&buf, Default, Page{
		Content: "ok",
		Viewer:  &loader.Viewer{Username: "<script>"},
	}))
	assert.NotContains(t, buf.String(), "<script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"", Default, true},
		{"default", Default, true},
		{"Admin", Admin, true},
		{" none ", None, true},
		{"sidebar", Default, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseKind(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestKind_UnmarshalText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("admin")))
	assert.Equal(t, Admin, k)
	assert.Error(t, k.UnmarshalText([]byte("wide")))
	assert.Equal(t, "kind(7)", Kind(7).String())
}

func TestBreadcrumbs(t *testing.T) {
	crumbs := Breadcrumbs("/hub/parceiros/42")
	require.Len(t, crumbs, 4)
	assert.Equal(t, Crumb{Label: "Início", Href: "/"}, crumbs[0])
	assert.Equal(t, Crumb{Label: "Hub", Href: "/hub"}, crumbs[1])
	assert.Equal(t, Crumb{Label: "Parceiros", Href: "/hub/parceiros"}, crumbs[2])
	assert.Equal(t, Crumb{Label: "42", Href: "/hub/parceiros/42", Current: true}, crumbs[3])

	assert.Equal(t, "Minha Area", Breadcrumbs("/minha-area")[1].Label)
	assert.Equal(t, "Área Restrita", Breadcrumbs("/área-restrita")[1].Label)

	root := Breadcrumbs("/")
	require.Len(t, root, 1)
	assert.True(t, root[0].Current)
}
