// Package matcher compiles request predicates used both for static
// module gating and for route selection. Matchers are compiled once at
// load time and are safe for concurrent use.
package matcher

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// Spec is the uncompiled predicate set. Empty fields match anything.
type Spec struct {
	// Protocol is an exact, case-sensitive scheme ("http", "https").
	Protocol string
	// Hostname and Path are regular expressions. The first capture
	// group of Path, when present, is exposed as the match capture.
	Hostname string
	Path     string
	// Headers and Query map a header/parameter name to a value regex.
	Headers map[string]string
	Query   map[string]string
	// Status is a regex over the decimal response status code.
	Status string
}

// Matcher is a compiled Spec.
type Matcher struct {
	protocol string
	hostname *regexp.Regexp
	path     *regexp.Regexp
	headers  map[string]*regexp.Regexp
	query    map[string]*regexp.Regexp
	status   *regexp.Regexp
}

// Compile builds a matcher from s. A bad regex anywhere fails the
// whole matcher.
func Compile(s Spec) (*Matcher, error) {
	m := &Matcher{protocol: s.Protocol}

	var err error
	if s.Hostname != "" {
		if m.hostname, err = regexp.Compile(s.Hostname); err != nil {
			return nil, fmt.Errorf("hostname matcher %q: %w", s.Hostname, err)
		}
	}
	if s.Path != "" {
		if m.path, err = regexp.Compile(s.Path); err != nil {
			return nil, fmt.Errorf("path matcher %q: %w", s.Path, err)
		}
	}
	if len(s.Headers) > 0 {
		m.headers = make(map[string]*regexp.Regexp, len(s.Headers))
		for name, expr := range s.Headers {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("header matcher %s=%q: %w", name, expr, err)
			}
			m.headers[name] = re
		}
	}
	if len(s.Query) > 0 {
		m.query = make(map[string]*regexp.Regexp, len(s.Query))
		for name, expr := range s.Query {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("query matcher %s=%q: %w", name, expr, err)
			}
			m.query[name] = re
		}
	}
	if s.Status != "" {
		if m.status, err = regexp.Compile(s.Status); err != nil {
			return nil, fmt.Errorf("status matcher %q: %w", s.Status, err)
		}
	}
	return m, nil
}

// CompileAll compiles every spec, failing on the first bad one.
func CompileAll(specs []Spec) ([]*Matcher, error) {
	out := make([]*Matcher, 0, len(specs))
	for _, s := range specs {
		m, err := Compile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// MatchRequest evaluates the protocol, hostname, and path predicates
// against st. The returned capture is the path regex's first capture
// group, "" when the regex has none.
func (m *Matcher) MatchRequest(st *pipeline.State) (bool, string) {
	if m.protocol != "" && m.protocol != st.Protocol {
		return false, ""
	}
	if m.hostname != nil && !m.hostname.MatchString(st.Hostname()) {
		return false, ""
	}
	if m.path != nil {
		groups := m.path.FindStringSubmatch(st.Path)
		if groups == nil {
			return false, ""
		}
		if len(groups) > 1 {
			return true, groups[1]
		}
	}
	return true, ""
}

// MatchFull evaluates every predicate, including headers, query
// parameters, and the response status. Used by routing decisions that
// see the whole state.
func (m *Matcher) MatchFull(st *pipeline.State) (bool, string) {
	ok, capture := m.MatchRequest(st)
	if !ok {
		return false, ""
	}
	for name, re := range m.headers {
		if !re.MatchString(st.RequestHeaders.Get(name)) {
			return false, ""
		}
	}
	if len(m.query) > 0 {
		values, err := url.ParseQuery(st.Query)
		if err != nil {
			return false, ""
		}
		for name, re := range m.query {
			if !re.MatchString(values.Get(name)) {
				return false, ""
			}
		}
	}
	if m.status != nil && !m.status.MatchString(strconv.Itoa(st.StatusCode)) {
		return false, ""
	}
	return true, capture
}

// MatchAny reports whether any matcher accepts the request, returning
// the first successful matcher's capture. An empty set matches
// everything.
func MatchAny(ms []*Matcher, st *pipeline.State) (bool, string) {
	if len(ms) == 0 {
		return true, ""
	}
	for _, m := range ms {
		if ok, capture := m.MatchRequest(st); ok {
			return true, capture
		}
	}
	return false, ""
}
