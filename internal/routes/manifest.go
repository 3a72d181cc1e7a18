// ABOUTME: TOML route manifest loading for deployments that replace the built-in table
// ABOUTME: Each [[route]] table becomes one Entry, in file order

package routes

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/bizhub/internal/layout"
	"github.com/2389/bizhub/internal/loader"
)

type manifest struct {
	Routes []manifestRoute `toml:"route"`
}

type manifestRoute struct {
	Pattern   string `toml:"pattern"`
	Module    string `toml:"module"`
	Protected bool   `toml:"protected,omitempty"`
	Feature   string `toml:"feature,omitempty"`
	Layout    string `toml:"layout"`
	Title     string `toml:"title,omitempty"`
	Preload   bool   `toml:"preload,omitempty"`
}

// LoadManifest reads a TOML manifest from path and builds a registry.
func LoadManifest(path string, opts ...Option) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening route manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f, opts...)
}

// ParseManifest decodes a TOML manifest. Unknown keys are rejected; unknown
// layout kinds fall back to default with a warning.
func ParseManifest(r io.Reader, opts ...Option) (*Registry, error) {
	var m manifest
	md, err := toml.NewDecoder(r).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("parsing route manifest: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing route manifest: unknown keys %s", strings.Join(keys, ", "))
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "routes")

	entries := make([]Entry, 0, len(m.Routes))
	for _, mr := range m.Routes {
		kind, ok := layout.ParseKind(mr.Layout)
		if !ok {
			logger.Warn("unknown layout kind, using default", "route", mr.Pattern, "layout", mr.Layout)
		}
		entries = append(entries, Entry{
			Pattern:   mr.Pattern,
			Module:    loader.Ref(mr.Module),
			Protected: mr.Protected,
			Feature:   mr.Feature,
			Layout:    kind,
			Title:     mr.Title,
			Preload:   mr.Preload,
		})
	}
	return New(entries, opts...)
}

// WriteManifest encodes entries as a TOML manifest.
func WriteManifest(w io.Writer, entries []Entry) error {
	m := manifest{Routes: make([]manifestRoute, len(entries))}
	for i, e := range entries {
		m.Routes[i] = manifestRoute{
			Pattern:   e.Pattern,
			Module:    string(e.Module),
			Protected: e.Protected,
			Feature:   e.Feature,
			Layout:    e.Layout.String(),
			Title:     e.Title,
			Preload:   e.Preload,
		}
	}
	return toml.NewEncoder(w).Encode(m)
}
