package pipeline

import (
	"fmt"
	"net/http"
)

// ErrorInfo is the view of a failed request handed to the error
// renderer.
type ErrorInfo struct {
	StatusCode int
	Message    string
	// Module names the handler that last modified the state before the
	// error phases ran, "" when none did.
	Module  string
	Method  string
	Path    string
	Query   string
	Context map[string]any
}

// ErrorRenderer produces the response body for a request that reached
// error handling without content. Implementations must tolerate
// partial ErrorInfo.
type ErrorRenderer interface {
	RenderError(info ErrorInfo) ([]byte, error)
}

// RenderPanicError wraps a panic recovered from an error renderer.
type RenderPanicError struct {
	Value any
}

func (e *RenderPanicError) Error() string {
	return fmt.Sprintf("error renderer panicked: %v", e.Value)
}

// bareStatusLine is the renderer of last resort, used when no error
// handler is configured or the configured one fails.
func bareStatusLine(status int) []byte {
	text := http.StatusText(status)
	if text == "" {
		text = "Error"
	}
	return []byte(fmt.Sprintf("%d %s", status, text))
}
