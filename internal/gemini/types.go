package gemini

import "time"

// Request is one logical query. It is never modified once a run starts.
type Request struct {
	Prompt  string
	Context string // piped to stdin when non-empty

	// Model pins a single model with no fallback. When empty, Models (or the
	// configured chain) is tried in order; when both are empty the CLI picks
	// its own default.
	Model  string
	Models []string

	Timeout      time.Duration // per attempt; 0 = configured default
	SessionID    string        // resume a previous CLI session
	SkippedFiles int           // reported in the footer
}

// Outcome is the result of exactly one subprocess execution.
// OK selects which half is meaningful.
type Outcome struct {
	OK    bool
	Text  string
	Stats *Stats

	Message     string
	Disposition Disposition
}

func success(text string, stats *Stats) Outcome {
	return Outcome{OK: true, Text: text, Stats: stats}
}

func failure(msg string, d Disposition) Outcome {
	return Outcome{Message: msg, Disposition: d}
}

// Stats is usage reported by the CLI. It is nil whenever the output was not
// structured; when present Model is non-empty and the counts are >= 0.
type Stats struct {
	Model        string
	InputTokens  int
	OutputTokens int
	SessionID    string
}

// Failure records a model that could not serve the request.
type Failure struct {
	Model   string // "default" when the CLI chose the model
	Message string
}

// Settings are the engine knobs, normally filled from config.
type Settings struct {
	Binary     string
	Models     []string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultSettings mirror the config defaults.
func DefaultSettings() Settings {
	return Settings{
		Binary:     "gemini",
		Timeout:    120 * time.Second,
		MaxRetries: 2,
		RetryDelay: 3 * time.Second,
	}
}

func displayModel(model string) string {
	if model == "" {
		return "default"
	}
	return model
}
