package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// TokenCounts is the per-model usage block reported by the CLI.
// Missing fields decode as zero.
type TokenCounts struct {
	Input      int
	Candidates int
	Total      int
}

// ModelUsage is one entry of stats.models, kept in document order.
type ModelUsage struct {
	Model  string
	Tokens TokenCounts
}

// envelope is the CLI's JSON output:
//
//	{"response": "...", "session_id": "...",
//	 "stats": {"models": {"<id>": {"tokens": {"input": N, "candidates": N, "total": N}}}}}
type envelope struct {
	Response  *string
	SessionID string
	Models    []ModelUsage
}

// ParseOutput extracts the response text and usage stats from CLI stdout.
//
// The whole trimmed output is tried as one JSON object first. If that fails
// (the CLI printed warnings around the payload) each non-blank line is tried
// from the last line upwards; only an object carrying a response or model
// stats counts, so stray JSON log lines are skipped. Output with no such
// object is returned unchanged as plain text with nil stats.
func ParseOutput(raw string) (string, *Stats) {
	text := strings.TrimSpace(raw)

	if env, ok := decodeEnvelope(text); ok {
		return env.text(text), env.stats()
	}

	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if env, ok := decodeEnvelope(line); ok && env.hasPayload() {
			return env.text(text), env.stats()
		}
	}

	return text, nil
}

// hasPayload reports whether the object looks like CLI output rather than
// some other JSON the CLI logged.
func (e *envelope) hasPayload() bool {
	return e.Response != nil || len(e.Models) > 0
}

// text returns the response field, or the whole output when the object has none.
func (e *envelope) text(whole string) string {
	if e.Response != nil {
		return *e.Response
	}
	return whole
}

func (e *envelope) stats() *Stats {
	s := ExtractStats(e.Models)
	if s != nil {
		s.SessionID = e.SessionID
	}
	return s
}

// decodeEnvelope parses s as a JSON object. A malformed stats block does not
// reject the object; it only means no stats.
func decodeEnvelope(s string) (*envelope, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, false
	}

	env := &envelope{}
	if raw, ok := fields["response"]; ok {
		var resp string
		if err := json.Unmarshal(raw, &resp); err == nil {
			env.Response = &resp
		}
	}
	if raw, ok := fields["session_id"]; ok {
		_ = json.Unmarshal(raw, &env.SessionID)
	}
	if raw, ok := fields["stats"]; ok {
		var st struct {
			Models json.RawMessage `json:"models"`
		}
		if err := json.Unmarshal(raw, &st); err == nil && len(st.Models) > 0 {
			if models, err := decodeModels(st.Models); err == nil {
				env.Models = models
			}
		}
	}
	return env, true
}

// decodeModels walks the stats.models object token by token so entries keep
// the order the CLI wrote them in.
func decodeModels(data []byte) ([]ModelUsage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("stats.models: expected object, got %v", tok)
	}

	var out []ModelUsage
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var entry struct {
			Tokens struct {
				Input      float64 `json:"input"`
				Candidates float64 `json:"candidates"`
				Total      float64 `json:"total"`
			} `json:"tokens"`
		}
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("stats.models[%q]: %w", key, err)
		}

		out = append(out, ModelUsage{
			Model: key,
			Tokens: TokenCounts{
				Input:      count(entry.Tokens.Input),
				Candidates: count(entry.Tokens.Candidates),
				Total:      count(entry.Tokens.Total),
			},
		})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// count turns a JSON number into a non-negative token count, saturating at
// math.MaxInt.
func count(f float64) int {
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxInt {
		return math.MaxInt
	}
	return int(f)
}
