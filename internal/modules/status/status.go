// Package status serves the server's metrics snapshot and aggregated
// module configuration as JSON, through the same host surface modules
// use.
package status

import (
	"context"
	"net/http"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type Status struct {
	host module.Host
}

func New(deps module.Deps) (module.Handler, error) {
	return &Status{host: deps.Host}, nil
}

func (s *Status) HandleRequest(_ context.Context, st *pipeline.State) pipeline.HandlerResult {
	metricsJSON, ok := s.host.MetricsJSON()
	if !ok {
		metricsJSON = []byte("null")
	}
	configsJSON, err := s.host.ConfigsJSON()
	if err != nil {
		return pipeline.ModifiedJumpToError()
	}

	body := st.Arena().AllocBytes(len(`{"metrics":`) + len(metricsJSON) + len(`,"modules":`) + len(configsJSON) + 1)
	n := copy(body, `{"metrics":`)
	n += copy(body[n:], metricsJSON)
	n += copy(body[n:], `,"modules":`)
	n += copy(body[n:], configsJSON)
	copy(body[n:], "}")

	st.StatusCode = http.StatusOK
	st.ResponseHeaders.Set("Content-Type", "application/json")
	st.ResponseBody = body
	return pipeline.ModifiedContinue()
}
