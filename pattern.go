package hoist

import (
	"fmt"
	"regexp"
	"strings"
)

// splatGroup is the regex group name reserved for the wildcard capture.
const splatGroup = "splat"

var paramRe = regexp.MustCompile(`:(\w+)`)

// Pattern is a compiled route template. Templates are built from literal
// segments, named captures (":name", one path segment) and at most one "*"
// wildcard that greedily-minimally spans zero or more segments:
//
//	/:token/:backend/:processor/*/:id/:filename
//
// A named capture never crosses a "/" and a literal "." in the template is
// matched literally, so ":basename.:extension" splits on the last dot of the
// segment without the basename swallowing it.
type Pattern struct {
	template string
	re       *regexp.Regexp
	names    []string
	hasSplat bool
}

// Match holds the captures extracted from a path that matched a Pattern.
type Match struct {
	// Params maps each named capture to its matched value.
	Params map[string]string
	// Splat is the wildcard capture split into path segments. It is an
	// empty slice, never nil, when the pattern has a wildcard and the
	// wildcard matched nothing; it is nil for patterns without one.
	Splat []string
	// SplatRaw is the raw substring the wildcard matched.
	SplatRaw string
}

// Param returns the value of a named capture, or "" if absent.
func (m *Match) Param(name string) string {
	return m.Params[name]
}

// Compile turns a route template into a Pattern. It returns an error when
// the template contains more than one wildcard or repeats a capture name.
func Compile(template string) (*Pattern, error) {
	if strings.Count(template, "*") > 1 {
		return nil, fmt.Errorf("compile %q: at most one wildcard per pattern", template)
	}

	var names []string
	seen := make(map[string]bool)
	for _, sub := range paramRe.FindAllStringSubmatch(template, -1) {
		name := sub[1]
		if name == splatGroup {
			return nil, fmt.Errorf("compile %q: capture name %q is reserved", template, splatGroup)
		}
		if seen[name] {
			return nil, fmt.Errorf("compile %q: duplicate capture %q", template, name)
		}
		seen[name] = true
		names = append(names, name)
	}

	expr := strings.ReplaceAll(template, ".", `\.`)
	hasSplat := strings.Contains(expr, "*")
	expr = strings.Replace(expr, "*", `(?P<`+splatGroup+`>.*?)`, 1)
	expr = paramRe.ReplaceAllString(expr, `(?P<$1>[^/]+)`)

	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", template, err)
	}

	return &Pattern{
		template: template,
		re:       re,
		names:    names,
		hasSplat: hasSplat,
	}, nil
}

// MustCompile is Compile but panics on error. Route templates are literals
// registered at process start, so a bad one is a programming error.
func MustCompile(template string) *Pattern {
	p, err := Compile(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Template returns the source template the pattern was compiled from.
func (p *Pattern) Template() string {
	return p.template
}

// HasSplat reports whether the pattern contains a wildcard capture.
func (p *Pattern) HasSplat() bool {
	return p.hasSplat
}

// Match tests path against the pattern. The whole path must match; partial
// matches are rejected. The second return is false when the path does not
// match.
func (p *Pattern) Match(path string) (*Match, bool) {
	groups := p.re.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}

	m := &Match{Params: make(map[string]string, len(p.names))}
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if name == splatGroup {
			m.SplatRaw = groups[i]
			continue
		}
		m.Params[name] = groups[i]
	}

	if p.hasSplat {
		m.Splat = splitSplat(m.SplatRaw)
	}

	return m, true
}

// splitSplat splits a wildcard capture into segments, yielding an empty
// slice rather than [""] for an empty capture.
func splitSplat(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, "/")
}
