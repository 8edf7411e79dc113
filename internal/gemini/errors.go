// Package gemini runs the gemini CLI as a subprocess: one attempt per model,
// bounded retries on transient errors, and ordered fallback across a model chain.
package gemini

import (
	"fmt"
	"regexp"
	"strings"
)

// Disposition says what the engine should do after a failed attempt.
type Disposition int

const (
	// Fatal closes the attempt sequence for the current model. The fallback
	// chain still advances to the next model.
	Fatal Disposition = iota
	// Retriable means retry the same model after the fixed delay.
	Retriable
	// FallbackNow means the model cannot serve the request; skip remaining retries.
	FallbackNow
)

func (d Disposition) String() string {
	switch d {
	case Retriable:
		return "retriable"
	case FallbackNow:
		return "fallback"
	default:
		return "fatal"
	}
}

// Exit statuses that identify a broken invocation rather than a model problem.
const (
	exitNotExecutable  = 126 // found but not runnable
	exitCommandMissing = 127 // wrapper script could not find the command
)

var (
	// Status codes must stand alone ("429 Too Many Requests", "status: 503"),
	// never as part of a longer number.
	status404 = regexp.MustCompile(`(?:^|[\s:])404(?:\s|$)`)
	status429 = regexp.MustCompile(`(?:^|[\s:])429(?:\s|$)`)
	status503 = regexp.MustCompile(`(?:^|[\s:])503(?:\s|$)`)
	status40x = regexp.MustCompile(`(?:^|[\s:])40[13](?:\s|$)`)

	modelMissing = regexp.MustCompile(`model.*(?:not found|does not exist|unavailable)`)
)

// Classify maps a failure message and exit status to a disposition.
// Transient patterns win over model-unavailable patterns, so a quota or
// rate-limit message is retried even if it also names the model.
// Anything unrecognised is Fatal.
func Classify(msg string, exitCode int) Disposition {
	switch exitCode {
	case exitNotExecutable, exitCommandMissing:
		return Fatal
	}
	if IsTransientMessage(msg) {
		return Retriable
	}
	if IsModelUnavailableMessage(msg) {
		return FallbackNow
	}
	return Fatal
}

// IsTransientMessage reports whether msg describes a condition expected to
// clear on an unmodified retry: rate limits, overload, flaky transport.
func IsTransientMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 429, 503
	if status429.MatchString(msg) || status503.MatchString(msg) {
		return true
	}

	if strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "ratelimit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource exhausted") ||
		strings.Contains(lower, "resource has been exhausted") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "temporarily unavailable") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") {
		return true
	}

	return false
}

// IsModelUnavailableMessage reports whether msg says the requested model
// cannot serve this request at all: unknown, retired, unsupported, or not
// permitted for these credentials.
func IsModelUnavailableMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 404, 401, 403
	if status404.MatchString(msg) || status40x.MatchString(msg) {
		return true
	}

	if modelMissing.MatchString(lower) {
		return true
	}

	if strings.Contains(lower, "not supported") ||
		strings.Contains(lower, "unsupported model") ||
		strings.Contains(lower, "deprecated") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "permission_denied") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "insufficient quota") ||
		strings.Contains(lower, "billing") {
		return true
	}

	return false
}

// shortError strips the "Error: <tool> exited with code N: " framing so the
// fallback warning shows only the detail.
func shortError(msg string) string {
	parts := strings.SplitN(msg, ": ", 3)
	return parts[len(parts)-1]
}

// ExitError is a non-zero exit from the CLI.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	detail := e.Stderr
	if detail == "" {
		detail = "unknown error"
	}
	return fmt.Sprintf("Error: %s CLI exited with code %d: %s", e.Tool, e.Code, detail)
}
