// Package errorpage renders the response body for requests that reach
// error handling without content. It prefers a configured template
// file, falls back to a built-in page, and degrades to the inline
// message when rendering fails.
package errorpage

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

const builtinTemplate = `<!DOCTYPE html>
<html>
<head><title>{{.StatusCode}} {{.Message}}</title></head>
<body>
<h1>{{.StatusCode}} {{.Message}}</h1>
{{if .Module}}<p>Reported while handling {{.Method}} {{.Path}} (module {{.Module}}).</p>
{{else}}<p>Reported while handling {{.Method}} {{.Path}}.</p>{{end}}
</body>
</html>
`

type params struct {
	Template string `mapstructure:"template"`
}

type Renderer struct {
	tmpl   *template.Template
	logger *slog.Logger
}

var _ pipeline.ErrorRenderer = (*Renderer)(nil)

// New builds the renderer. A configured template file that fails to
// parse is an error; no template at all selects the built-in page.
func New(rawParams map[string]any, logger *slog.Logger) (*Renderer, error) {
	var p params
	if err := mapstructure.Decode(rawParams, &p); err != nil {
		return nil, fmt.Errorf("decoding errorpage params: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Renderer{logger: logger}
	if p.Template != "" {
		tmpl, err := template.ParseFiles(p.Template)
		if err != nil {
			return nil, fmt.Errorf("parsing error template %s: %w", p.Template, err)
		}
		r.tmpl = tmpl
		return r, nil
	}

	tmpl, err := template.New("error").Parse(builtinTemplate)
	if err != nil {
		return nil, err
	}
	r.tmpl = tmpl
	return r, nil
}

func (r *Renderer) RenderError(info pipeline.ErrorInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, info); err != nil {
		r.logger.Warn("error template failed, serving inline message", "error", err)
		return []byte(fmt.Sprintf("%d %s", info.StatusCode, info.Message)), nil
	}
	return buf.Bytes(), nil
}

func (r *Renderer) ContentType() string { return "text/html; charset=utf-8" }
