// Package pipeline implements the phased request state machine: the
// ordered phase set, the per-request state shared with modules, the
// handler result protocol, and the executor that walks a request
// through every phase.
package pipeline

import "fmt"

// Phase identifies one stage of request processing. Values are ordered;
// the executor walks them ascending unless a handler result diverts it.
type Phase int

const (
	PreEarlyRequest Phase = iota
	EarlyRequest
	PostEarlyRequest
	PreAuthentication
	Authentication
	PostAuthentication
	PreAuthorization
	Authorization
	PostAuthorization
	PreContent
	Content
	PostContent
	PreAccounting
	Accounting
	PostAccounting
	PreErrorHandling
	ErrorHandling
	PostErrorHandling
	PreLateRequest
	LateRequest
	PostLateRequest

	numPhases
)

// NumPhases is the number of phases in the execution order.
const NumPhases = int(numPhases)

var phaseNames = [numPhases]string{
	PreEarlyRequest:    "pre_early_request",
	EarlyRequest:       "early_request",
	PostEarlyRequest:   "post_early_request",
	PreAuthentication:  "pre_authentication",
	Authentication:     "authentication",
	PostAuthentication: "post_authentication",
	PreAuthorization:   "pre_authorization",
	Authorization:      "authorization",
	PostAuthorization:  "post_authorization",
	PreContent:         "pre_content",
	Content:            "content",
	PostContent:        "post_content",
	PreAccounting:      "pre_accounting",
	Accounting:         "accounting",
	PostAccounting:     "post_accounting",
	PreErrorHandling:   "pre_error_handling",
	ErrorHandling:      "error_handling",
	PostErrorHandling:  "post_error_handling",
	PreLateRequest:     "pre_late_request",
	LateRequest:        "late_request",
	PostLateRequest:    "post_late_request",
}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Valid reports whether p is within the execution order.
func (p Phase) Valid() bool { return p >= 0 && p < numPhases }

// ParsePhase maps a configuration name to its phase.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// PhaseNames returns the phase names in execution order. Used to size
// per-phase counters without importing this package's types.
func PhaseNames() []string {
	names := make([]string, numPhases)
	copy(names, phaseNames[:])
	return names
}
