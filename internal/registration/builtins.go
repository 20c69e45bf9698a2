// Package registration wires the built-in modules into a registry.
// Registration is explicit and called from cmd and tests before module
// loading; nothing here runs from init.
package registration

import (
	"fmt"
	"log/slog"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/modules/accounting"
	"github.com/oxlabs/ox-webservice/internal/modules/errorpage"
	"github.com/oxlabs/ox-webservice/internal/modules/forwarded"
	"github.com/oxlabs/ox-webservice/internal/modules/ping"
	"github.com/oxlabs/ox-webservice/internal/modules/redirect"
	"github.com/oxlabs/ox-webservice/internal/modules/rewrite"
	"github.com/oxlabs/ox-webservice/internal/modules/router"
	"github.com/oxlabs/ox-webservice/internal/modules/status"
	"github.com/oxlabs/ox-webservice/internal/modules/stream"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// RegisterBuiltins binds every built-in module factory.
func RegisterBuiltins(reg *module.Registry) error {
	factories := []struct {
		name    string
		factory module.Factory
	}{
		{"accounting", accounting.New},
		{"forwarded", forwarded.New},
		{"ping", ping.New},
		{"redirect", redirect.New},
		{"rewrite", rewrite.New},
		{"router", router.New},
		{"status", status.New},
		{"stream", stream.New},
	}
	for _, f := range factories {
		if err := reg.RegisterFactory(f.name, f.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRenderer resolves the configured error handler. An empty name
// selects no renderer, which makes the executor serve bare status
// lines.
func NewRenderer(name string, params map[string]any, logger *slog.Logger) (pipeline.ErrorRenderer, error) {
	switch name {
	case "":
		return nil, nil
	case "errorpage":
		return errorpage.New(params, logger)
	default:
		return nil, fmt.Errorf("unknown error handler %q", name)
	}
}
