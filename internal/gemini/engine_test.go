package gemini

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/gemini-mcp/internal/metrics"
)

type call struct {
	model     string
	sessionID string
}

// script replays canned outcomes per model. A model with no outcomes left
// fails fatally so runaway loops show up in assertions.
type script struct {
	mu       sync.Mutex
	outcomes map[string][]Outcome
	calls    []call
}

func newScript(outcomes map[string][]Outcome) *script {
	return &script{outcomes: outcomes}
}

func (s *script) attempt(ctx context.Context, model string, req Request, timeout time.Duration) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{model: model, sessionID: req.SessionID})

	if ctx.Err() != nil {
		return failure("Error: gemini CLI call cancelled", Fatal)
	}
	queue := s.outcomes[model]
	if len(queue) == 0 {
		return failure("Error: script exhausted for "+model, Fatal)
	}
	s.outcomes[model] = queue[1:]
	return queue[0]
}

func (s *script) models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		out = append(out, c.model)
	}
	return out
}

func testEngine(s *script, settings Settings) (*Engine, *metrics.Manager) {
	m := metrics.New()
	if settings.Binary == "" {
		settings.Binary = "gemini"
	}
	return NewEngine(settings, withAttempt(s.attempt), WithMetrics(m)), m
}

func exitFailure(detail string) Outcome {
	msg := (&ExitError{Tool: "gemini", Code: 1, Stderr: detail}).Error()
	return failure(msg, Classify(msg, 1))
}

func TestRunFooterWithoutFallback(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"": {success("answer", &Stats{Model: "m", InputTokens: 100, OutputTokens: 50})},
	})
	e, _ := testEngine(s, Settings{})

	got := e.Run(context.Background(), Request{Prompt: "q"})
	want := "answer\n\n---\nModel: m\nTokens: 100 input / 50 output"
	if got != want {
		t.Errorf("Run =\n%q\nwant\n%q", got, want)
	}
}

func TestRunPlainTextPassesThrough(t *testing.T) {
	s := newScript(map[string][]Outcome{"": {success("just text", nil)}})
	e, _ := testEngine(s, Settings{})

	if got := e.Run(context.Background(), Request{Prompt: "q"}); got != "just text" {
		t.Errorf("Run = %q, want plain text with no footer", got)
	}
}

func TestRunFallsBackOnModelUnavailable(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"A": {exitFailure("Model A not found")},
		"B": {success("from B", &Stats{Model: "B", InputTokens: 3, OutputTokens: 4})},
	})
	e, m := testEngine(s, Settings{MaxRetries: 2})

	got := e.Run(context.Background(), Request{Prompt: "q", Models: []string{"A", "B"}})
	want := "[WARNING: Fell back to B]\n" +
		"  - A: Model A not found\n\n" +
		"from B\n\n" +
		"---\nModel: B (fallback from A)\nTokens: 3 input / 4 output"
	if got != want {
		t.Errorf("Run =\n%q\nwant\n%q", got, want)
	}

	// FallbackNow skips the retry budget
	if calls := s.models(); strings.Join(calls, ",") != "A,B" {
		t.Errorf("calls = %v, want [A B]", calls)
	}

	outcome := m.GetSnapshot()["gemini/run"].Data.(metrics.OutcomeSnapshot)
	if outcome.Outcomes["fallback"] != 1 {
		t.Errorf("run outcomes = %v", outcome.Outcomes)
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"m": {
			exitFailure("429 Too Many Requests"),
			exitFailure("The model is overloaded"),
			success("third time", nil),
		},
		"other": {success("should not be reached", nil)},
	})
	e, m := testEngine(s, Settings{MaxRetries: 3})

	got := e.Run(context.Background(), Request{Prompt: "q", Models: []string{"m", "other"}})
	if got != "third time" {
		t.Errorf("Run = %q", got)
	}
	if calls := s.models(); strings.Join(calls, ",") != "m,m,m" {
		t.Errorf("calls = %v", calls)
	}

	retries := m.GetSnapshot()["gemini/retries"].Data.(metrics.CounterSnapshot)
	if retries.Value != 2 {
		t.Errorf("retries = %d, want 2", retries.Value)
	}
	sf := m.GetSnapshot()["gemini/model/m"].Data.(metrics.SuccessFailSnapshot)
	if sf.Success != 1 || sf.Failures != 2 || sf.FailureReasons["retriable"] != 2 {
		t.Errorf("model metrics = %+v", sf)
	}
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"A": {exitFailure("429"), exitFailure("429"), exitFailure("429")},
		"B": {success("b", nil)},
	})
	e, _ := testEngine(s, Settings{MaxRetries: 1})

	got := e.Run(context.Background(), Request{Prompt: "q", Models: []string{"A", "B"}})
	if !strings.HasPrefix(got, "[WARNING: Fell back to B]\n  - A: 429\n\nb") {
		t.Errorf("Run = %q", got)
	}
	if calls := s.models(); strings.Join(calls, ",") != "A,A,B" {
		t.Errorf("calls = %v, want two attempts on A", calls)
	}
}

func TestRunZeroRetries(t *testing.T) {
	s := newScript(map[string][]Outcome{"A": {exitFailure("503 Service Unavailable")}})
	e, _ := testEngine(s, Settings{MaxRetries: 0})

	e.Run(context.Background(), Request{Prompt: "q", Model: "A"})
	if n := len(s.models()); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestRunFatalAdvancesChain(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"A": {exitFailure("something unexpected")},
		"B": {success("b ok", &Stats{Model: "B"})},
	})
	e, _ := testEngine(s, Settings{MaxRetries: 5})

	got := e.Run(context.Background(), Request{Prompt: "q", Models: []string{"A", "B"}})
	if !strings.Contains(got, "b ok") || !strings.Contains(got, "Model: B (fallback from A)") {
		t.Errorf("Run = %q", got)
	}
	if calls := s.models(); strings.Join(calls, ",") != "A,B" {
		t.Errorf("calls = %v, fatal must not retry", calls)
	}
}

func TestRunAllFailReturnsLastMessage(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"A": {exitFailure("Model A not found")},
		"B": {exitFailure("permission denied for B")},
	})
	e, m := testEngine(s, Settings{})

	got := e.Run(context.Background(), Request{Prompt: "q", Models: []string{"A", "B"}})
	if want := "Error: gemini CLI exited with code 1: permission denied for B"; got != want {
		t.Errorf("Run = %q, want %q", got, want)
	}
	if strings.Contains(got, "---") {
		t.Error("total failure must not carry a footer")
	}

	outcome := m.GetSnapshot()["gemini/run"].Data.(metrics.OutcomeSnapshot)
	if outcome.Outcomes["failed"] != 1 {
		t.Errorf("run outcomes = %v", outcome.Outcomes)
	}
}

func TestRunFallbackOriginIsFirstFailure(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"A": {exitFailure("Model A not found")},
		"B": {exitFailure("Model B not found")},
		"C": {success("c", &Stats{Model: "C", InputTokens: 1, OutputTokens: 1})},
	})
	e, _ := testEngine(s, Settings{})

	got := e.Run(context.Background(), Request{Prompt: "q", Models: []string{"A", "B", "C"}})
	if !strings.Contains(got, "Model: C (fallback from A)") {
		t.Errorf("Run = %q", got)
	}
	if !strings.Contains(got, "  - A: Model A not found\n  - B: Model B not found") {
		t.Errorf("warning does not list both failures in order: %q", got)
	}
}

func TestRunCandidateSelection(t *testing.T) {
	tests := []struct {
		name  string
		chain []string
		req   Request
		want  string
	}{
		{"explicit model disables chain", []string{"X", "Y"}, Request{Model: "Z", Models: []string{"A"}}, "Z"},
		{"request chain beats config", []string{"X", "Y"}, Request{Models: []string{"A", "B"}}, "A,B"},
		{"config chain", []string{"X", "Y"}, Request{}, "X,Y"},
		{"cli default", nil, Request{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScript(map[string][]Outcome{})
			e, _ := testEngine(s, Settings{Models: tt.chain})
			tt.req.Prompt = "q"
			e.Run(context.Background(), tt.req)
			if got := strings.Join(s.models(), ","); got != tt.want {
				t.Errorf("attempted %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunDropsSessionAfterFailure(t *testing.T) {
	s := newScript(map[string][]Outcome{
		"A": {exitFailure("Model A not found")},
		"B": {success("b", nil)},
	})
	e, _ := testEngine(s, Settings{})

	e.Run(context.Background(), Request{Prompt: "q", Models: []string{"A", "B"}, SessionID: "sess"})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls[0].sessionID != "sess" || s.calls[1].sessionID != "" {
		t.Errorf("calls = %+v, want session only on the first model", s.calls)
	}
}

func TestRunSkippedFilesInFooter(t *testing.T) {
	s := newScript(map[string][]Outcome{"": {success("ok", &Stats{Model: "m", SessionID: "abc"})}})
	e, _ := testEngine(s, Settings{})

	got := e.Run(context.Background(), Request{Prompt: "q", SkippedFiles: 2})
	if !strings.HasSuffix(got, "\nSession ID: abc\nSkipped: 2 binary/junk files") {
		t.Errorf("Run = %q", got)
	}
}

func TestRunCancelledStopsChain(t *testing.T) {
	s := newScript(map[string][]Outcome{})
	e, _ := testEngine(s, Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := e.Run(ctx, Request{Prompt: "q", Models: []string{"A", "B", "C"}})
	if !strings.Contains(got, "cancelled") {
		t.Errorf("Run = %q", got)
	}
	if calls := s.models(); len(calls) != 1 {
		t.Errorf("calls = %v, want the chain abandoned after cancellation", calls)
	}
}

func TestRunRetryDelayHonoursContext(t *testing.T) {
	s := newScript(map[string][]Outcome{"A": {exitFailure("429"), success("late", nil)}})
	e, _ := testEngine(s, Settings{MaxRetries: 1, RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := e.Run(ctx, Request{Prompt: "q", Model: "A"})
	if time.Since(start) > 10*time.Second {
		t.Fatal("retry delay ignored cancellation")
	}
	if got != "Error: gemini CLI exited with code 1: 429" {
		t.Errorf("Run = %q", got)
	}
}

func TestRunUsesRequestTimeout(t *testing.T) {
	var seen []time.Duration
	e := NewEngine(Settings{Timeout: time.Minute}, WithMetrics(metrics.New()),
		withAttempt(func(_ context.Context, _ string, _ Request, timeout time.Duration) Outcome {
			seen = append(seen, timeout)
			return success("ok", nil)
		}))

	e.Run(context.Background(), Request{Prompt: "q"})
	e.Run(context.Background(), Request{Prompt: "q", Timeout: 5 * time.Second})

	if len(seen) != 2 || seen[0] != time.Minute || seen[1] != 5*time.Second {
		t.Errorf("timeouts = %v", seen)
	}
}

func TestSetSettingsCopiesAndDefaults(t *testing.T) {
	chain := []string{"a"}
	e := NewEngine(Settings{Models: chain}, WithMetrics(metrics.New()))
	chain[0] = "mutated"

	got := e.Settings()
	if got.Models[0] != "a" {
		t.Errorf("engine shares caller slice: %v", got.Models)
	}
	if got.Binary != "gemini" || got.Timeout != 120*time.Second {
		t.Errorf("defaults not applied: %+v", got)
	}

	e.SetSettings(Settings{Binary: "/opt/gemini", Timeout: time.Second, Models: []string{"x"}})
	if e.Settings().Binary != "/opt/gemini" {
		t.Errorf("SetSettings not applied: %+v", e.Settings())
	}
}
