// ABOUTME: Route pattern compilation and matching for static, :param and :param? segments
// ABOUTME: Also answers overlap and shadowing questions used to validate registration order

package routes

import (
	"fmt"
	"strings"
)

type segKind int

const (
	segStatic segKind = iota
	segParam
	segOptional
)

type segment struct {
	kind  segKind
	value string // literal for static, name for params
}

func (s segment) dynamic() bool { return s.kind != segStatic }

// pattern is a compiled route pattern.
type pattern struct {
	raw      string
	segs     []segment
	required int
}

func compile(raw string) (*pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidPattern, raw)
	}

	p := &pattern{raw: raw}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return p, nil
	}

	names := make(map[string]bool)
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPattern, raw)
		}
		if !strings.HasPrefix(part, ":") {
			if len(p.segs) > 0 && p.segs[len(p.segs)-1].kind == segOptional {
				return nil, fmt.Errorf("%w: %q", ErrOptionalNotTrailing, raw)
			}
			p.segs = append(p.segs, segment{kind: segStatic, value: part})
			continue
		}

		kind := segParam
		name := strings.TrimPrefix(part, ":")
		if strings.HasSuffix(name, "?") {
			kind = segOptional
			name = strings.TrimSuffix(name, "?")
		} else if len(p.segs) > 0 && p.segs[len(p.segs)-1].kind == segOptional {
			return nil, fmt.Errorf("%w: %q", ErrOptionalNotTrailing, raw)
		}
		if name == "" || strings.ContainsAny(name, ":?") {
			return nil, fmt.Errorf("%w: %q has a malformed parameter %q", ErrInvalidPattern, raw, part)
		}
		if names[name] {
			return nil, fmt.Errorf("%w: %q repeats parameter %q", ErrInvalidPattern, raw, name)
		}
		names[name] = true
		p.segs = append(p.segs, segment{kind: kind, value: name})
	}

	for _, s := range p.segs {
		if s.kind != segOptional {
			p.required++
		}
	}
	return p, nil
}

// splitPath breaks a request path into segments, ignoring empty ones.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// match binds parts against the pattern. Absent optional segments are not
// bound.
func (p *pattern) match(parts []string) (Params, bool) {
	if len(parts) < p.required || len(parts) > len(p.segs) {
		return nil, false
	}
	var params Params
	for i, part := range parts {
		seg := p.segs[i]
		if seg.kind == segStatic {
			if seg.value != part {
				return nil, false
			}
			continue
		}
		if params == nil {
			params = make(Params)
		}
		params[seg.value] = part
	}
	return params, true
}

// shape identifies patterns that accept exactly the same paths.
func (p *pattern) shape() string {
	var b strings.Builder
	for _, s := range p.segs {
		b.WriteByte('/')
		switch s.kind {
		case segStatic:
			b.WriteString(s.value)
		case segParam:
			b.WriteString(":")
		case segOptional:
			b.WriteString(":?")
		}
	}
	return b.String()
}

// overlaps reports whether some path matches both patterns.
func (p *pattern) overlaps(q *pattern) bool {
	lo := max(p.required, q.required)
	hi := min(len(p.segs), len(q.segs))
	if lo > hi {
		return false
	}
	// Positions below lo are present in every candidate length, so a
	// conflict there rules out every length.
	for i := 0; i < hi; i++ {
		a, b := p.segs[i], q.segs[i]
		if a.kind == segStatic && b.kind == segStatic && a.value != b.value {
			return i >= lo
		}
	}
	return true
}

// covers reports whether every path q matches is also matched by p.
func (p *pattern) covers(q *pattern) bool {
	if q.required < p.required || len(q.segs) > len(p.segs) {
		return false
	}
	for i, s := range q.segs {
		a := p.segs[i]
		if a.kind == segStatic && (s.kind != segStatic || s.value != a.value) {
			return false
		}
	}
	return true
}

// moreSpecificThan reports whether p has a static segment where q has a
// dynamic one at the first position their kinds differ.
func (p *pattern) moreSpecificThan(q *pattern) bool {
	n := min(len(p.segs), len(q.segs))
	for i := 0; i < n; i++ {
		a, b := p.segs[i], q.segs[i]
		if a.dynamic() == b.dynamic() {
			continue
		}
		return !a.dynamic()
	}
	return false
}
