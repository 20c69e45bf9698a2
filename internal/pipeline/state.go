package pipeline

import (
	"net/http"
	"sync"

	"github.com/oxlabs/ox-webservice/internal/arena"
)

// StartTimeKey is the context-map key holding the time.Time at which
// the request entered the pipeline. Set by the server front end and
// read by accounting modules.
const StartTimeKey = "request.start_time"

// State is the per-request record threaded through every handler. One
// goroutine drives the pipeline, but modules may stash goroutines of
// their own, so the context map is guarded.
type State struct {
	Protocol       string
	Method         string
	Path           string
	Query          string
	RequestHeaders http.Header
	RequestBody    []byte
	SourceIP       string

	StatusCode      int
	ResponseHeaders http.Header
	ResponseBody    []byte

	// Capture holds the path capture recorded by the most recent
	// matcher hit. Routing modules append successive route captures
	// instead of overwriting.
	Capture string

	arena *arena.Arena

	mu      sync.RWMutex
	context map[string]any

	lastModifier   string
	contentHandled bool
	halted         bool
	streamFiles    []string
	history        []Execution
}

// Execution records one handler invocation, in order.
type Execution struct {
	Module string
	Status ModuleStatus
	Flow   FlowControl
}

// NewState builds a request state backed by a. The response starts as
// an empty 200.
func NewState(a *arena.Arena) *State {
	return &State{
		StatusCode:      http.StatusOK,
		RequestHeaders:  make(http.Header),
		ResponseHeaders: make(http.Header),
		arena:           a,
		context:         make(map[string]any),
	}
}

// Arena returns the request's allocator. Buffers from it must not be
// retained past the request.
func (s *State) Arena() *arena.Arena { return s.arena }

// Hostname returns the request's Host header without any port suffix.
func (s *State) Hostname() string {
	h := s.RequestHeaders.Get("Host")
	for i := 0; i < len(h); i++ {
		if h[i] == ':' {
			return h[:i]
		}
	}
	return h
}

// ContextGet reads a module-context value.
func (s *State) ContextGet(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.context[key]
	return v, ok
}

// ContextSet writes a module-context value.
func (s *State) ContextSet(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[key] = value
}

// ContextSnapshot copies the module-context map.
func (s *State) ContextSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.context))
	for k, v := range s.context {
		out[k] = v
	}
	return out
}

// LastModifier names the most recent handler that returned Modified,
// or "" when none has.
func (s *State) LastModifier() string { return s.lastModifier }

// ContentHandled reports whether a Content-phase handler claimed the
// response.
func (s *State) ContentHandled() bool { return s.contentHandled }

// Halted reports whether a handler aborted the pipeline.
func (s *State) Halted() bool { return s.halted }

// StreamFiles returns the file paths queued for streaming, in order.
// Empty unless a Content handler returned StreamFileResponse.
func (s *State) StreamFiles() []string { return s.streamFiles }

// AddStreamFile queues a file for the streaming response.
func (s *State) AddStreamFile(path string) {
	s.streamFiles = append(s.streamFiles, path)
}

// History returns every handler invocation so far, in execution order.
func (s *State) History() []Execution { return s.history }

func (s *State) record(module string, res HandlerResult) {
	s.history = append(s.history, Execution{Module: module, Status: res.Status, Flow: res.Flow})
}
