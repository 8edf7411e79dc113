package gemini

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
	"github.com/roelfdiedericks/gemini-mcp/internal/metrics"
)

// attemptFunc performs one CLI execution. Invoker.Invoke in production.
type attemptFunc func(ctx context.Context, model string, req Request, timeout time.Duration) Outcome

// Engine answers requests by walking the model chain. It keeps no
// per-request state; concurrent Run calls are independent.
type Engine struct {
	settings atomic.Pointer[Settings]
	attempt  attemptFunc
	metrics  *metrics.Manager
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records into m instead of the process-wide manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Engine) { e.metrics = m }
}

// withAttempt replaces the subprocess call.
func withAttempt(f attemptFunc) Option {
	return func(e *Engine) { e.attempt = f }
}

// NewEngine creates an engine with the given settings.
func NewEngine(s Settings, opts ...Option) *Engine {
	e := &Engine{metrics: metrics.GetInstance()}
	e.SetSettings(s)
	e.attempt = e.invoke
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// SetSettings swaps in new settings. Runs already in progress keep the old ones.
func (e *Engine) SetSettings(s Settings) {
	def := DefaultSettings()
	if s.Binary == "" {
		s.Binary = def.Binary
	}
	if s.Timeout <= 0 {
		s.Timeout = def.Timeout
	}
	s.Models = append([]string(nil), s.Models...)
	e.settings.Store(&s)
}

// invoke runs the CLI named by the current settings.
func (e *Engine) invoke(ctx context.Context, model string, req Request, timeout time.Duration) Outcome {
	return NewInvoker(e.Settings().Binary).Invoke(ctx, model, req, timeout)
}

// candidates lists the models to try, in order. An explicit model disables
// fallback; "" lets the CLI pick its default.
func candidates(req Request, chain []string) []string {
	switch {
	case req.Model != "":
		return []string{req.Model}
	case len(req.Models) > 0:
		return req.Models
	case len(chain) > 0:
		return chain
	default:
		return []string{""}
	}
}

// Run tries each candidate model in turn and returns the first answer,
// annotated with a fallback warning and usage footer. When every model
// fails the last failure message is returned as the text. Run never
// reports model failure any other way.
func (e *Engine) Run(ctx context.Context, req Request) string {
	s := e.Settings()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.Timeout
	}

	models := candidates(req, s.Models)
	L_debug("gemini: run", "candidates", len(models), "timeout", timeout)
	defer L_elapsed(time.Now(), "gemini: run finished")

	var failures []Failure
	var last Outcome
	for _, model := range models {
		attemptReq := req
		if len(failures) > 0 {
			// A session belongs to the model that created it.
			attemptReq.SessionID = ""
		}

		out := e.withRetries(ctx, model, attemptReq, s, timeout)
		if out.OK {
			if len(failures) > 0 {
				e.recordRun("fallback")
			} else {
				e.recordRun("ok")
			}
			return assemble(out, model, failures, req.SkippedFiles)
		}

		failures = append(failures, Failure{Model: displayModel(model), Message: out.Message})
		last = out
		L_warn("gemini: model failed", "model", displayModel(model),
			"disposition", out.Disposition, "error", shortError(out.Message))

		if ctx.Err() != nil {
			break
		}
	}

	e.recordRun("failed")
	return last.Message
}

// assemble joins the fallback warning, the answer and the footer.
func assemble(out Outcome, used string, failures []Failure, skipped int) string {
	var parts []string
	fallbackFrom := ""
	if len(failures) > 0 {
		parts = append(parts, formatFallbackWarning(failures, used))
		fallbackFrom = failures[0].Model
	}
	parts = append(parts, out.Text)
	if footer := FormatFooter(out.Stats, fallbackFrom, skipped); footer != "" {
		parts = append(parts, footer)
	}
	return strings.Join(parts, "\n\n")
}

func (e *Engine) recordAttempt(model string, out Outcome, elapsed time.Duration) {
	name := displayModel(model)
	e.metrics.RecordDuration("gemini/attempt", name, elapsed)
	if out.OK {
		e.metrics.RecordSuccess("gemini/model", name)
		if out.Stats != nil {
			e.metrics.AddCounter("gemini/tokens/input", out.Stats.Model, int64(out.Stats.InputTokens))
			e.metrics.AddCounter("gemini/tokens/output", out.Stats.Model, int64(out.Stats.OutputTokens))
		}
		return
	}
	e.metrics.RecordFailure("gemini/model", name, out.Disposition.String())
}

func (e *Engine) recordRun(outcome string) {
	e.metrics.IncrementCounter("gemini", "runs")
	e.metrics.RecordOutcome("gemini", "run", outcome)
}
