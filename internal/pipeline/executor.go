package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/oxlabs/ox-webservice/internal/metrics"
)

// Module is the executor's view of a loaded module: placement in the
// execution order, static eligibility, and the handler itself.
type Module interface {
	Name() string
	Phase() Phase
	Priority() int

	// Eligible applies the module's static matchers to the request. A
	// matcher capture, if any, is written to st.Capture as a side
	// effect of a successful match.
	Eligible(st *State) bool

	Handle(ctx context.Context, st *State) HandlerResult

	// ErrorPhase returns the phase JumpToErrorHandling diverts to and
	// whether the module overrides the default.
	ErrorPhase() (Phase, bool)
}

// Executor drives requests through the phase table. It is immutable
// after construction and shared by every request goroutine.
type Executor struct {
	table    [NumPhases][]Module
	renderer ErrorRenderer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// ExecutorConfig collects the executor's dependencies. Renderer may be
// nil; the bare status line is used instead.
type ExecutorConfig struct {
	Modules  []Module
	Renderer ErrorRenderer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewExecutor groups cfg.Modules per phase and stable-sorts each group
// ascending by priority, so equal priorities keep configuration order.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = metrics.New(false, PhaseNames())
	}
	for _, m := range cfg.Modules {
		if !m.Phase().Valid() {
			e.logger.Warn("module registered for unknown phase, skipping",
				"module", m.Name(), "phase", int(m.Phase()))
			continue
		}
		e.table[m.Phase()] = append(e.table[m.Phase()], m)
	}
	for i := range e.table {
		group := e.table[i]
		sort.SliceStable(group, func(a, b int) bool {
			return group[a].Priority() < group[b].Priority()
		})
	}
	return e
}

// Run walks st through every phase. It returns when the order is
// exhausted, a handler halts, or a Content handler hands off to file
// streaming.
func (e *Executor) Run(ctx context.Context, st *State) {
	e.metrics.RequestStarted()

	i := 0
	for i < NumPhases {
		phase := Phase(i)
		e.metrics.PhaseEnter(i)
		next, done := e.runPhase(ctx, phase, st)
		e.metrics.PhaseLeave(i)
		if done {
			return
		}

		if next == i+1 {
			// Phase ran to completion.
			if phase == Content && !st.contentHandled {
				// No module claimed the response; treat the request as
				// failed and divert to error handling.
				st.StatusCode = http.StatusInternalServerError
				e.metrics.ErrorEntered()
				next = int(PreErrorHandling)
			}
			if phase == ErrorHandling && !st.contentHandled && len(st.ResponseBody) == 0 {
				e.renderError(st)
			}
		}
		i = next
	}
}

// runPhase executes one phase's modules in priority order. It returns
// the next phase index and whether the pipeline is finished.
func (e *Executor) runPhase(ctx context.Context, phase Phase, st *State) (next int, done bool) {
	for _, m := range e.table[phase] {
		if !m.Eligible(st) {
			continue
		}

		res := m.Handle(ctx, st)
		st.record(m.Name(), res)
		e.logger.LogAttrs(ctx, slog.LevelDebug, "module executed",
			slog.String("module", m.Name()),
			slog.String("phase", phase.String()),
			slog.String("status", res.Status.String()),
			slog.String("flow", res.Flow.String()))

		if res.Status == Modified {
			st.lastModifier = m.Name()
			if phase == Content {
				st.contentHandled = true
			}
		}

		switch res.Flow {
		case ContinueProcessing:
			continue

		case AdvancePhase:
			return int(phase) + 1, false

		case JumpToErrorHandling:
			target := PreErrorHandling
			if p, ok := m.ErrorPhase(); ok {
				target = p
			}
			// Jumps never move backwards; a jump from within the error
			// phases falls through to the next phase.
			if int(target) <= int(phase) {
				return int(phase) + 1, false
			}
			e.metrics.ErrorEntered()
			return int(target), false

		case HaltProcessing:
			st.halted = true
			st.StatusCode = http.StatusInternalServerError
			st.ResponseBody = bareStatusLine(st.StatusCode)
			e.metrics.Halted()
			e.logger.Warn("pipeline halted by module", "module", m.Name(), "phase", phase.String())
			return 0, true

		case StreamFileResponse:
			if phase != Content {
				e.logger.Warn("stream result outside content phase ignored",
					"module", m.Name(), "phase", phase.String())
				continue
			}
			if res.Data != "" {
				st.AddStreamFile(res.Data)
			}
			return 0, true

		default:
			e.logger.Warn("unknown flow control treated as continue",
				"module", m.Name(), "flow", int(res.Flow))
		}
	}
	return int(phase) + 1, false
}

// contentTyper is optionally implemented by renderers that know the
// media type of their output.
type contentTyper interface {
	ContentType() string
}

func (e *Executor) renderError(st *State) {
	if e.renderer == nil {
		st.ResponseBody = bareStatusLine(st.StatusCode)
		return
	}

	info := ErrorInfo{
		StatusCode: st.StatusCode,
		Message:    http.StatusText(st.StatusCode),
		Module:     st.lastModifier,
		Method:     st.Method,
		Path:       st.Path,
		Query:      st.Query,
		Context:    st.ContextSnapshot(),
	}

	body, err := e.safeRender(info)
	if err != nil {
		e.logger.Error("error renderer failed, serving status line", "error", err)
		st.ResponseBody = bareStatusLine(st.StatusCode)
		return
	}
	st.ResponseBody = body
	if ct, ok := e.renderer.(contentTyper); ok && st.ResponseHeaders.Get("Content-Type") == "" {
		st.ResponseHeaders.Set("Content-Type", ct.ContentType())
	}
}

// safeRender contains renderer panics so a broken error page cannot
// take down the request goroutine.
func (e *Executor) safeRender(info ErrorInfo) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RenderPanicError{Value: r}
		}
	}()
	return e.renderer.RenderError(info)
}
