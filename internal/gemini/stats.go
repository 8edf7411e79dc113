package gemini

import (
	"fmt"
	"strings"
)

// ExtractStats picks the model that produced the answer: the entry with the
// most candidate (output) tokens. Ties keep the first entry in document
// order. Entries without a model id are ignored. Returns nil when nothing
// usable remains.
func ExtractStats(models []ModelUsage) *Stats {
	best := -1
	for i, m := range models {
		if m.Model == "" {
			continue
		}
		if best < 0 || m.Tokens.Candidates > models[best].Tokens.Candidates {
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	m := models[best]
	return &Stats{
		Model:        m.Model,
		InputTokens:  max(m.Tokens.Input, 0),
		OutputTokens: max(m.Tokens.Candidates, 0),
	}
}

// FormatFooter renders the metadata block appended to a successful answer.
// fallbackFrom names the first model that failed, if any. Nil stats produce
// an empty footer.
func FormatFooter(stats *Stats, fallbackFrom string, skippedFiles int) string {
	if stats == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString("Model: " + stats.Model)
	if fallbackFrom != "" {
		fmt.Fprintf(&sb, " (fallback from %s)", fallbackFrom)
	}
	fmt.Fprintf(&sb, "\nTokens: %d input / %d output", stats.InputTokens, stats.OutputTokens)
	if stats.SessionID != "" {
		sb.WriteString("\nSession ID: " + stats.SessionID)
	}
	if skippedFiles > 0 {
		fmt.Fprintf(&sb, "\nSkipped: %d binary/junk files", skippedFiles)
	}
	return sb.String()
}

// formatFallbackWarning lists every model that failed before used succeeded.
func formatFallbackWarning(failures []Failure, used string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[WARNING: Fell back to %s]", displayModel(used))
	for _, f := range failures {
		fmt.Fprintf(&sb, "\n  - %s: %s", f.Model, shortError(f.Message))
	}
	return sb.String()
}
