// Package stream serves static files from a content root. A hit hands
// the file path back to the host for streaming; a miss answers 404 so
// the request still counts as handled content.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

const notFoundBody = "404 Not Found"

type params struct {
	ContentRoot string `mapstructure:"content_root"`
	// MimeTypes maps a filename regex to a content type, checked in no
	// particular order before the extension fallback.
	MimeTypes        map[string]string `mapstructure:"mime_types"`
	DefaultDocuments []string          `mapstructure:"default_documents"`
}

type mimeRule struct {
	re          *regexp.Regexp
	contentType string
}

type Stream struct {
	root     string
	mime     []mimeRule
	defaults []string
}

func New(deps module.Deps) (module.Handler, error) {
	var p params
	if err := mapstructure.Decode(deps.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding stream params: %w", err)
	}
	if p.ContentRoot == "" {
		return nil, fmt.Errorf("stream module needs content_root")
	}
	root, err := filepath.Abs(p.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving content_root: %w", err)
	}

	s := &Stream{root: root, defaults: p.DefaultDocuments}
	if len(s.defaults) == 0 {
		s.defaults = []string{"index.html"}
	}
	for expr, ct := range p.MimeTypes {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("mime rule %q: %w", expr, err)
		}
		s.mime = append(s.mime, mimeRule{re: re, contentType: ct})
	}
	return s, nil
}

func (s *Stream) HandleRequest(_ context.Context, st *pipeline.State) pipeline.HandlerResult {
	// Prefer the matcher capture so a mount like ^/static/(.*)$ maps
	// into the root; fall back to the raw path.
	rel := st.Capture
	if rel == "" {
		rel = strings.TrimPrefix(st.Path, "/")
	}

	full, ok := s.resolve(rel)
	if !ok {
		return s.notFound(st)
	}

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full, info, err = s.defaultDocument(full)
	}
	if err != nil || info.IsDir() {
		return s.notFound(st)
	}

	if ct := s.contentType(full); ct != "" {
		st.ResponseHeaders.Set("Content-Type", ct)
	}
	st.StatusCode = http.StatusOK
	return pipeline.StreamFile(full)
}

// resolve joins rel under the root and rejects anything that escapes
// it.
func (s *Stream) resolve(rel string) (string, bool) {
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func (s *Stream) defaultDocument(dir string) (string, os.FileInfo, error) {
	for _, doc := range s.defaults {
		candidate := filepath.Join(dir, doc)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, info, nil
		}
	}
	return dir, nil, os.ErrNotExist
}

func (s *Stream) contentType(path string) string {
	name := filepath.Base(path)
	for _, rule := range s.mime {
		if rule.re.MatchString(name) {
			return rule.contentType
		}
	}
	return ""
}

func (s *Stream) notFound(st *pipeline.State) pipeline.HandlerResult {
	st.StatusCode = http.StatusNotFound
	st.ResponseHeaders.Set("Content-Type", "text/plain; charset=utf-8")
	st.ResponseBody = st.Arena().Copy([]byte(notFoundBody))
	return pipeline.ModifiedContinue()
}
