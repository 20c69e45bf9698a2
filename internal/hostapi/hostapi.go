// Package hostapi maps the flat key space modules use onto the request
// state. Reserved "http.", "pipeline.", and "server." prefixes resolve
// to request and server fields; everything else passes through to the
// per-request context map.
package hostapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

const (
	keyRequestMethod  = "http.request.method"
	keyRequestPath    = "http.request.path"
	keyRequestQuery   = "http.request.query"
	keyRequestBody    = "http.request.body"
	keyRequestHeaders = "http.request.headers"
	keySourceIP       = "http.source_ip"
	keyResponseStatus = "http.response.status"
	keyResponseBody   = "http.response.body"
	keyModified       = "pipeline.modified"
	keyServerMetrics  = "server.metrics"
	keyServerConfigs  = "server.configs"

	prefixRequestHeader  = "http.request.header."
	prefixResponseHeader = "http.response.header."
)

// ServerInfo resolves the server-scoped keys. Implemented by the
// module registry.
type ServerInfo interface {
	// MetricsJSON returns the metrics snapshot, or false when metrics
	// are disabled.
	MetricsJSON() ([]byte, bool)
	// ConfigsJSON returns the aggregated module configuration report.
	ConfigsJSON() ([]byte, error)
}

// Get resolves key against st. srv may be nil, in which case the
// server-scoped keys resolve to nothing.
func Get(st *pipeline.State, srv ServerInfo, key string) (any, bool) {
	switch key {
	case keyRequestMethod:
		return st.Method, true
	case keyRequestPath:
		return st.Path, true
	case keyRequestQuery:
		return st.Query, true
	case keyRequestBody:
		return string(st.RequestBody), true
	case keyRequestHeaders:
		return headerMap(st.RequestHeaders), true
	case keySourceIP:
		return st.SourceIP, true
	case keyResponseStatus:
		return st.StatusCode, true
	case keyResponseBody:
		return string(st.ResponseBody), true
	case keyModified:
		return st.LastModifier() != "", true
	case keyServerMetrics:
		if srv == nil {
			return nil, false
		}
		b, ok := srv.MetricsJSON()
		if !ok {
			return nil, false
		}
		return string(b), true
	case keyServerConfigs:
		if srv == nil {
			return nil, false
		}
		b, err := srv.ConfigsJSON()
		if err != nil {
			return nil, false
		}
		return string(b), true
	}

	if name, ok := strings.CutPrefix(key, prefixRequestHeader); ok {
		v := st.RequestHeaders.Get(name)
		return v, v != ""
	}
	if name, ok := strings.CutPrefix(key, prefixResponseHeader); ok {
		v := st.ResponseHeaders.Get(name)
		return v, v != ""
	}

	return st.ContextGet(key)
}

// Set writes key on st. Server-scoped keys and pipeline.modified are
// read-only.
func Set(st *pipeline.State, key string, value any) error {
	switch key {
	case keyRequestMethod:
		st.Method = asString(value)
		return nil
	case keyRequestPath:
		st.Path = asString(value)
		return nil
	case keyRequestQuery:
		st.Query = asString(value)
		return nil
	case keyRequestBody:
		st.RequestBody = asBytes(st, value)
		return nil
	case keySourceIP:
		st.SourceIP = asString(value)
		return nil
	case keyResponseStatus:
		code, err := asStatus(value)
		if err != nil {
			return err
		}
		st.StatusCode = code
		return nil
	case keyResponseBody:
		st.ResponseBody = asBytes(st, value)
		return nil
	case keyModified, keyServerMetrics, keyServerConfigs, keyRequestHeaders:
		return fmt.Errorf("key %q is read-only", key)
	}

	if name, ok := strings.CutPrefix(key, prefixRequestHeader); ok {
		st.RequestHeaders.Set(name, asString(value))
		return nil
	}
	if name, ok := strings.CutPrefix(key, prefixResponseHeader); ok {
		st.ResponseHeaders.Set(name, asString(value))
		return nil
	}

	st.ContextSet(key, value)
	return nil
}

func headerMap(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

// asBytes copies the value into the request arena so module-provided
// buffers never outlive their owner.
func asBytes(st *pipeline.State, v any) []byte {
	switch b := v.(type) {
	case []byte:
		return st.Arena().Copy(b)
	case string:
		return st.Arena().Copy([]byte(b))
	default:
		return st.Arena().Copy([]byte(fmt.Sprint(v)))
	}
}

func asStatus(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		code, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("response status %q: %w", n, err)
		}
		return code, nil
	default:
		return 0, fmt.Errorf("response status has unsupported type %T", v)
	}
}
