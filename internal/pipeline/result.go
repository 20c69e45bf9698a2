package pipeline

import "fmt"

// ModuleStatus reports whether a handler changed the request or
// response state.
type ModuleStatus int

const (
	Unmodified ModuleStatus = iota
	Modified
)

var statusNames = map[ModuleStatus]string{
	Unmodified: "unmodified",
	Modified:   "modified",
}

func (s ModuleStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the wire name used in the module ABI.
func (s ModuleStatus) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid module status %d", int(s))
	}
	return []byte(n), nil
}

func (s *ModuleStatus) UnmarshalText(b []byte) error {
	for v, n := range statusNames {
		if n == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown module status %q", b)
}

// FlowControl is a handler's directive to the executor.
type FlowControl int

const (
	// ContinueProcessing runs the next handler in the current phase.
	ContinueProcessing FlowControl = iota
	// AdvancePhase skips the rest of the current phase.
	AdvancePhase
	// JumpToErrorHandling diverts to the error-handling phases.
	JumpToErrorHandling
	// HaltProcessing aborts the pipeline; the host answers 500.
	HaltProcessing
	// StreamFileResponse ends the pipeline and streams the named file.
	// Only meaningful from the Content phase.
	StreamFileResponse
)

var flowNames = map[FlowControl]string{
	ContinueProcessing:  "continue",
	AdvancePhase:        "next_phase",
	JumpToErrorHandling: "jump_to_error",
	HaltProcessing:      "halt",
	StreamFileResponse:  "stream_file",
}

func (f FlowControl) String() string {
	if n, ok := flowNames[f]; ok {
		return n
	}
	return fmt.Sprintf("flow(%d)", int(f))
}

// MarshalText renders the wire name used in the module ABI.
func (f FlowControl) MarshalText() ([]byte, error) {
	n, ok := flowNames[f]
	if !ok {
		return nil, fmt.Errorf("invalid flow control %d", int(f))
	}
	return []byte(n), nil
}

func (f *FlowControl) UnmarshalText(b []byte) error {
	for v, n := range flowNames {
		if n == string(b) {
			*f = v
			return nil
		}
	}
	return fmt.Errorf("unknown flow control %q", b)
}

// HandlerResult is what every handler invocation returns. Data carries
// the file path for StreamFileResponse and is otherwise advisory.
type HandlerResult struct {
	Status ModuleStatus `json:"status"`
	Flow   FlowControl  `json:"flow_control"`
	Data   string       `json:"data,omitempty"`
}

// Convenience constructors for the common results.

func UnmodifiedContinue() HandlerResult {
	return HandlerResult{Status: Unmodified, Flow: ContinueProcessing}
}

func ModifiedContinue() HandlerResult {
	return HandlerResult{Status: Modified, Flow: ContinueProcessing}
}

func ModifiedNextPhase() HandlerResult {
	return HandlerResult{Status: Modified, Flow: AdvancePhase}
}

func ModifiedJumpToError() HandlerResult {
	return HandlerResult{Status: Modified, Flow: JumpToErrorHandling}
}

func Halt() HandlerResult {
	return HandlerResult{Status: Modified, Flow: HaltProcessing}
}

func StreamFile(path string) HandlerResult {
	return HandlerResult{Status: Modified, Flow: StreamFileResponse, Data: path}
}
