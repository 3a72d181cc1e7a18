// ABOUTME: Tests for route matching, registration-time validation and manifests
// ABOUTME: Covers first-match ordering and the shadowing checks

package routes

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bizhub/internal/layout"
)

func TestDefaultTable_Valid(t *testing.T) {
	r, err := DefaultTable()
	require.NoError(t, err)
	assert.Equal(t, len(DefaultEntries()), r.Len())
	assert.Contains(t, r.Features(), FeatureSuppliers)
	assert.Contains(t, r.PreloadRefs(), DefaultEntries()[0].Module)
}

func TestMatch_SpecificBeforeCatchAll(t *testing.T) {
	r, err := DefaultTable()
	require.NoError(t, err)

	e, params, ok := r.Match("/hub/parceiros/42")
	require.True(t, ok)
	assert.Equal(t, "/hub/parceiros/:id", e.Pattern)
	assert.Equal(t, "42", params.Get("id"))

	e, params, ok = r.Match("/hub/eventos")
	require.True(t, ok)
	assert.Equal(t, "/hub/:section", e.Pattern)
	assert.Equal(t, "eventos", params.Get("section"))

	e, _, ok = r.Match("/hub/parceiros")
	require.True(t, ok)
	assert.Equal(t, "/hub/parceiros", e.Pattern)
}

func TestMatch_Misc(t *testing.T) {
	r, err := DefaultTable()
	require.NoError(t, err)

	tests := []struct {
		path    string
		pattern string
		params  Params
	}{
		{"/", "/", Params{}},
		{"", "/", Params{}},
		{"/login/", "/login", Params{}},
		{"/admin/usuarios", "/admin/usuarios", Params{}},
		{"/minha-area/produtos", "/minha-area/produtos/:id?", Params{}},
		{"/minha-area/produtos/7", "/minha-area/produtos/:id?", Params{"id": "7"}},
		{"//minha-area//fornecedores/9", "/minha-area/fornecedores/:id", Params{"id": "9"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, params, ok := r.Match(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.pattern, e.Pattern)
			assert.Equal(t, tt.params, params)
		})
	}

	for _, miss := range []string{"/foo/bar", "/minha-area/produtos/7/extra", "/hub/a/b"} {
		_, _, ok := r.Match(miss)
		assert.False(t, ok, miss)
	}
}

func TestMatch_ReorderChangesResult(t *testing.T) {
	specific := Entry{Pattern: "/produtos/novo", Module: "a"}
	general := Entry{Pattern: "/produtos/:id", Module: "b"}

	ordered, err := New([]Entry{specific, general})
	require.NoError(t, err)
	e, _, _ := ordered.Match("/produtos/novo")
	assert.Equal(t, "a", string(e.Module))

	reversed, err := New([]Entry{general, specific}, Lenient())
	require.NoError(t, err)
	e, _, _ = reversed.Match("/produtos/novo")
	assert.Equal(t, "b", string(e.Module), "first registration wins")

	for i := 0; i < 10; i++ {
		e, _, _ = reversed.Match("/produtos/novo")
		assert.Equal(t, "b", string(e.Module))
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		want    error
	}{
		{
			name:    "feature without protection",
			entries: []Entry{{Pattern: "/x", Module: "m", Feature: "f"}},
			want:    ErrFeatureWithoutProtection,
		},
		{
			name:    "optional in the middle",
			entries: []Entry{{Pattern: "/a/:b?/c", Module: "m"}},
			want:    ErrOptionalNotTrailing,
		},
		{
			name:    "required after optional",
			entries: []Entry{{Pattern: "/a/:b?/:c", Module: "m"}},
			want:    ErrOptionalNotTrailing,
		},
		{
			name:    "relative",
			entries: []Entry{{Pattern: "a/b", Module: "m"}},
			want:    ErrInvalidPattern,
		},
		{
			name:    "repeated parameter",
			entries: []Entry{{Pattern: "/a/:id/:id", Module: "m"}},
			want:    ErrInvalidPattern,
		},
		{
			name:    "empty parameter name",
			entries: []Entry{{Pattern: "/a/:", Module: "m"}},
			want:    ErrInvalidPattern,
		},
		{
			name:    "missing module",
			entries: []Entry{{Pattern: "/a"}},
			want:    ErrMissingModule,
		},
		{
			name: "duplicate shape",
			entries: []Entry{
				{Pattern: "/a/:id", Module: "m"},
				{Pattern: "/a/:name", Module: "n"},
			},
			want: ErrDuplicatePattern,
		},
		{
			name: "catch-all before static",
			entries: []Entry{
				{Pattern: "/hub/:section", Module: "m"},
				{Pattern: "/hub/parceiros", Module: "n"},
			},
			want: ErrAmbiguousOrder,
		},
		{
			name: "optional shadows shorter route",
			entries: []Entry{
				{Pattern: "/produtos/:id?", Module: "m"},
				{Pattern: "/produtos", Module: "n"},
			},
			want: ErrAmbiguousOrder,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entries)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_AllowsOrderedOverlap(t *testing.T) {
	_, err := New([]Entry{
		{Pattern: "/hub/parceiros", Module: "a"},
		{Pattern: "/hub/parceiros/:id", Module: "b"},
		{Pattern: "/hub/:section", Module: "c"},
		{Pattern: "/a/:x", Module: "d"},
		{Pattern: "/:y/b", Module: "e"},
	})
	require.NoError(t, err)
}

func TestEntries_IsCopy(t *testing.T) {
	r, err := New([]Entry{{Pattern: "/a", Module: "m"}})
	require.NoError(t, err)

	entries := r.Entries()
	entries[0].Module = "changed"

	e, _, ok := r.Match("/a")
	require.True(t, ok)
	assert.Equal(t, "m", string(e.Module))
}

const sampleManifest = `
[[route]]
pattern = "/"
module = "builtin:home"
preload = true

[[route]]
pattern = "/painel"
module = "md:painel"
protected = true
feature = "panel.view"
layout = "admin"
title = "Painel"

[[route]]
pattern = "/largo"
module = "md:largo"
layout = "wide"
`

func TestParseManifest(t *testing.T) {
	r, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	e, _, ok := r.Match("/painel")
	require.True(t, ok)
	assert.True(t, e.Protected)
	assert.Equal(t, "panel.view", e.Feature)
	assert.Equal(t, layout.Admin, e.Layout)
	assert.Equal(t, "Painel", e.Title)

	e, _, ok = r.Match("/largo")
	require.True(t, ok)
	assert.Equal(t, layout.Default, e.Layout, "unknown layout falls back to default")
}

func TestParseManifest_Errors(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("[[route]]\npattern = \"/x\"\nmodule = \"m\"\nfeature = \"f\"\n"))
	assert.ErrorIs(t, err, ErrFeatureWithoutProtection)

	_, err = ParseManifest(strings.NewReader("[[route]]\npattern = \"/x\"\nmodule = \"m\"\ncolour = \"red\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route.colour")

	_, err = ParseManifest(strings.NewReader("[[route]\n"))
	assert.Error(t, err)
}

func TestManifest_RoundTripDefaultTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteManifest(&buf, DefaultEntries()))

	path := filepath.Join(t.TempDir(), "routes.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r, err := LoadManifest(path)
	require.NoError(t, err)

	e, params, ok := r.Match("/hub/parceiros/42")
	require.True(t, ok)
	assert.Equal(t, "/hub/parceiros/:id", e.Pattern)
	assert.Equal(t, "42", params.Get("id"))

	e, _, ok = r.Match("/admin/usuarios")
	require.True(t, ok)
	assert.Equal(t, layout.Admin, e.Layout)
	assert.Equal(t, FeatureAdminUsers, e.Feature)
}

func TestLoadManifest_Missing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
