// Package ping is the smallest content module: it answers every
// matched request with a fixed body. Useful for liveness checks and as
// the reference module implementation.
package ping

import (
	"context"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

const defaultReply = "pong"

type Ping struct {
	reply string
}

// New builds the module. The optional "reply" param overrides the
// response body.
func New(deps module.Deps) (module.Handler, error) {
	p := &Ping{reply: defaultReply}
	if r, ok := deps.Params["reply"].(string); ok && r != "" {
		p.reply = r
	}
	return p, nil
}

func (p *Ping) HandleRequest(_ context.Context, st *pipeline.State) pipeline.HandlerResult {
	st.StatusCode = 200
	st.ResponseHeaders.Set("Content-Type", "text/plain; charset=utf-8")
	st.ResponseBody = st.Arena().Copy([]byte(p.reply))
	return pipeline.ModifiedContinue()
}
