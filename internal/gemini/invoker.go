package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
)

// Invoker runs the CLI once per call. It holds no per-call state and is
// safe for concurrent use.
type Invoker struct {
	Binary string

	lookPath func(string) (string, error)
}

// NewInvoker creates an invoker for the given executable name or path.
func NewInvoker(binary string) *Invoker {
	if binary == "" {
		binary = DefaultSettings().Binary
	}
	return &Invoker{Binary: binary, lookPath: exec.LookPath}
}

func (inv *Invoker) tool() string {
	return filepath.Base(inv.Binary)
}

// buildArgs returns the CLI argv (without the executable) for one attempt.
func buildArgs(model string, req Request) []string {
	args := []string{"-p", req.Prompt, "-o", "json"}
	if model != "" {
		args = append(args, "-m", model)
	}
	if req.SessionID != "" {
		args = append(args, "-r", req.SessionID)
	}
	return args
}

// Invoke spawns exactly one process for model (empty = CLI default) and
// waits for it, bounded by timeout. Failures come back as an Outcome, never
// as an error.
func (inv *Invoker) Invoke(ctx context.Context, model string, req Request, timeout time.Duration) Outcome {
	tool := inv.tool()

	path, err := inv.lookPath(inv.Binary)
	if err != nil {
		L_debug("gemini: executable lookup failed", "binary", inv.Binary, "error", err)
		return failure(fmt.Sprintf("Error: %s CLI not found in PATH", tool), Fatal)
	}
	if ctx.Err() != nil {
		return failure(fmt.Sprintf("Error: %s CLI call cancelled", tool), Fatal)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, path, buildArgs(model, req)...)
	setProcessGroup(cmd)
	if req.Context != "" {
		cmd.Stdin = strings.NewReader(req.Context)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	L_debug("gemini: invoking", "model", displayModel(model), "timeout", timeout,
		"promptLen", len(req.Prompt), "contextLen", len(req.Context), "resume", req.SessionID != "")

	startTime := time.Now()
	err = cmd.Run()
	elapsed := time.Since(startTime)

	if err != nil {
		// The parent going away wins over our own deadline.
		if ctx.Err() != nil {
			L_debug("gemini: call cancelled", "model", displayModel(model), "elapsed", elapsed)
			return failure(fmt.Sprintf("Error: %s CLI call cancelled", tool), Fatal)
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			L_warn("gemini: timed out", "model", displayModel(model), "timeout", timeout)
			return failure(fmt.Sprintf("Error: %s CLI timed out after %gs", tool, timeout.Seconds()), Retriable)
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return failure(fmt.Sprintf("Error: failed to run %s CLI: %v", tool, err), Fatal)
		}

		ee := &ExitError{Tool: tool, Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		msg := ee.Error()
		d := Classify(msg, ee.Code)
		L_debug("gemini: non-zero exit", "model", displayModel(model), "exitCode", ee.Code,
			"disposition", d, "elapsed", elapsed)
		L_trace("gemini: stderr", "stderr", ee.Stderr)
		return failure(msg, d)
	}

	text, stats := ParseOutput(stdout.String())
	L_debug("gemini: completed", "model", displayModel(model), "elapsed", elapsed,
		"stdoutLen", stdout.Len(), "structured", stats != nil)
	return success(text, stats)
}
