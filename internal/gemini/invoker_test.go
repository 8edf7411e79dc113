package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

// fakeCLIEnv makes the test binary act as the gemini CLI. The value picks
// the behaviour.
const fakeCLIEnv = "GEMINI_MCP_FAKE_CLI"

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeCLIEnv); mode != "" {
		os.Exit(fakeCLI(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeEnvelope(response string) string {
	data, _ := json.Marshal(map[string]any{
		"response":   response,
		"session_id": "fake-session",
		"stats": map[string]any{
			"models": map[string]any{
				"fake-model": map[string]any{"tokens": map[string]int{"input": 10, "candidates": 4, "total": 14}},
			},
		},
	})
	return string(data)
}

func fakeCLI(mode string, args []string) int {
	switch mode {
	case "json":
		fmt.Println(fakeEnvelope("hello from fake"))
	case "noisy":
		fmt.Println("Loaded cached credentials.")
		fmt.Println(fakeEnvelope("after noise"))
	case "plain":
		fmt.Println("plain words")
	case "args":
		fmt.Println(fakeEnvelope(strings.Join(args, " ")))
	case "stdin":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 3
		}
		fmt.Println(fakeEnvelope("stdin=" + string(data)))
	case "fail429":
		fmt.Fprintln(os.Stderr, "429 Too Many Requests")
		return 1
	case "notfound":
		fmt.Fprintln(os.Stderr, "Model gemini-nope not found")
		return 1
	case "silent-fail":
		return 5
	case "sleep":
		time.Sleep(30 * time.Second)
	default:
		fmt.Fprintln(os.Stderr, "unknown fake mode", mode)
		return 2
	}
	return 0
}

func fakeInvoker(t *testing.T, mode string) *Invoker {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("cannot locate test binary: %v", err)
	}
	t.Setenv(fakeCLIEnv, mode)
	return NewInvoker(exe)
}

func TestInvokeStructured(t *testing.T) {
	inv := fakeInvoker(t, "json")
	out := inv.Invoke(context.Background(), "", Request{Prompt: "hi"}, 10*time.Second)

	if !out.OK {
		t.Fatalf("expected success, got %q", out.Message)
	}
	if out.Text != "hello from fake" {
		t.Errorf("text = %q", out.Text)
	}
	want := &Stats{Model: "fake-model", InputTokens: 10, OutputTokens: 4, SessionID: "fake-session"}
	if out.Stats == nil || *out.Stats != *want {
		t.Errorf("stats = %+v, want %+v", out.Stats, want)
	}
}

func TestInvokeNoisyStdout(t *testing.T) {
	inv := fakeInvoker(t, "noisy")
	out := inv.Invoke(context.Background(), "", Request{Prompt: "hi"}, 10*time.Second)
	if !out.OK || out.Text != "after noise" || out.Stats == nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestInvokePlainText(t *testing.T) {
	inv := fakeInvoker(t, "plain")
	out := inv.Invoke(context.Background(), "", Request{Prompt: "hi"}, 10*time.Second)
	if !out.OK || out.Text != "plain words" || out.Stats != nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestInvokeArgs(t *testing.T) {
	inv := fakeInvoker(t, "args")

	out := inv.Invoke(context.Background(), "gemini-2.5-pro", Request{Prompt: "what now", SessionID: "s9"}, 10*time.Second)
	if want := "-p what now -o json -m gemini-2.5-pro -r s9"; out.Text != want {
		t.Errorf("args = %q, want %q", out.Text, want)
	}

	out = inv.Invoke(context.Background(), "", Request{Prompt: "q"}, 10*time.Second)
	if want := "-p q -o json"; out.Text != want {
		t.Errorf("args = %q, want %q", out.Text, want)
	}
}

func TestInvokeStdin(t *testing.T) {
	inv := fakeInvoker(t, "stdin")

	out := inv.Invoke(context.Background(), "", Request{Prompt: "p", Context: "<file path=\"a\">\nx\n</file>"}, 10*time.Second)
	if want := "stdin=<file path=\"a\">\nx\n</file>"; out.Text != want {
		t.Errorf("text = %q, want %q", out.Text, want)
	}

	// no context: nothing attached, the child sees EOF
	out = inv.Invoke(context.Background(), "", Request{Prompt: "p"}, 10*time.Second)
	if out.Text != "stdin=" {
		t.Errorf("text = %q, want empty stdin", out.Text)
	}
}

func TestInvokeExitClassified(t *testing.T) {
	tests := []struct {
		mode    string
		want    Disposition
		message string
	}{
		{"fail429", Retriable, "exited with code 1: 429 Too Many Requests"},
		{"notfound", FallbackNow, "exited with code 1: Model gemini-nope not found"},
		{"silent-fail", Fatal, "exited with code 5: unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			inv := fakeInvoker(t, tt.mode)
			out := inv.Invoke(context.Background(), "m", Request{Prompt: "p"}, 10*time.Second)
			if out.OK {
				t.Fatal("expected failure")
			}
			if out.Disposition != tt.want {
				t.Errorf("disposition = %v, want %v", out.Disposition, tt.want)
			}
			if !strings.HasPrefix(out.Message, "Error: ") || !strings.HasSuffix(out.Message, tt.message) {
				t.Errorf("message = %q, want suffix %q", out.Message, tt.message)
			}
		})
	}
}

func TestInvokeTimeout(t *testing.T) {
	inv := fakeInvoker(t, "sleep")

	start := time.Now()
	out := inv.Invoke(context.Background(), "", Request{Prompt: "p"}, 300*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
	if out.OK || out.Disposition != Retriable {
		t.Fatalf("outcome = %+v, want retriable failure", out)
	}
	if !strings.HasSuffix(out.Message, "timed out after 0.3s") {
		t.Errorf("message = %q", out.Message)
	}
}

func TestInvokeCancelled(t *testing.T) {
	inv := fakeInvoker(t, "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	out := inv.Invoke(ctx, "", Request{Prompt: "p"}, time.Minute)
	if out.OK || out.Disposition != Fatal || !strings.Contains(out.Message, "cancelled") {
		t.Errorf("outcome = %+v, want fatal cancellation", out)
	}

	// Already cancelled: nothing is spawned.
	out = inv.Invoke(ctx, "", Request{Prompt: "p"}, time.Minute)
	if out.OK || !strings.Contains(out.Message, "cancelled") {
		t.Errorf("outcome = %+v", out)
	}
}

func TestInvokeMissingExecutable(t *testing.T) {
	inv := NewInvoker("gemini")
	inv.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	out := inv.Invoke(context.Background(), "", Request{Prompt: "p"}, time.Second)
	if out.OK || out.Disposition != Fatal {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message != "Error: gemini CLI not found in PATH" {
		t.Errorf("message = %q", out.Message)
	}
}

func TestBuildArgs(t *testing.T) {
	got := buildArgs("", Request{Prompt: "-p looks like a flag"})
	want := []string{"-p", "-p looks like a flag", "-o", "json"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q, want %q", got, want)
	}
}
