package server

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// maxRequestBody bounds how much request body is buffered into the
// arena before the pipeline runs.
const maxRequestBody = 16 << 20

// pipelineHandler is the catch-all: it builds the request state, runs
// the executor, and writes whatever the pipeline decided.
func (s *Server) pipelineHandler(protocol string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := arena.New()
		defer func() {
			s.metrics.ArenaAllocated(a.Allocated())
			a.Release()
		}()

		st, err := s.newRequestState(r, protocol, a)
		if err != nil {
			s.logger.Warn("rejecting unreadable request", "error", err)
			http.Error(w, "400 Bad Request", http.StatusBadRequest)
			return
		}

		s.exec.Run(r.Context(), st)

		if files := st.StreamFiles(); len(files) > 0 {
			s.streamFiles(w, st, files)
			return
		}
		writeResponse(w, st)
	}
}

func (s *Server) newRequestState(r *http.Request, protocol string, a *arena.Arena) (*pipeline.State, error) {
	st := pipeline.NewState(a)
	st.Protocol = protocol
	st.Method = r.Method
	st.Path = a.AllocString(r.URL.Path)
	st.Query = a.AllocString(r.URL.RawQuery)
	st.ContextSet(pipeline.StartTimeKey, time.Now())

	for name, values := range r.Header {
		for _, v := range values {
			st.RequestHeaders.Add(name, v)
		}
	}
	// net/http moves Host out of the header map.
	if r.Host != "" {
		st.RequestHeaders.Set("Host", r.Host)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		st.SourceIP = a.AllocString(host)
	} else {
		st.SourceIP = a.AllocString(r.RemoteAddr)
	}

	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			st.RequestBody = a.Copy(body)
		}
	}
	return st, nil
}

func writeResponse(w http.ResponseWriter, st *pipeline.State) {
	header := w.Header()
	for name, values := range st.ResponseHeaders {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(st.StatusCode)
	if len(st.ResponseBody) > 0 {
		w.Write(st.ResponseBody)
	}
}
