// Package tokens estimates prompt sizes before they are sent to the CLI.
package tokens

import (
	"os"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
	"github.com/roelfdiedericks/gemini-mcp/internal/paths"
)

// DefaultEncoding is cl100k_base. Gemini's tokenizer is not public; this is
// close enough for sizing context.
const DefaultEncoding = "cl100k_base"

// cacheEnv is read by tiktoken-go to locate downloaded BPE ranks.
const cacheEnv = "TIKTOKEN_CACHE_DIR"

// Estimator counts tokens with tiktoken, or chars/4 when the encoding
// could not be loaded.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the shared estimator, loading the encoding on first use.
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: encoding unavailable, using chars/4", "error", err)
			globalEstimator = Fallback()
		}
	})
	return globalEstimator
}

// New loads DefaultEncoding. The BPE file is cached under
// ~/.gemini-mcp/cache/tiktoken unless TIKTOKEN_CACHE_DIR is already set.
func New() (*Estimator, error) {
	if os.Getenv(cacheEnv) == "" {
		if dir, err := paths.CacheDir("tiktoken"); err == nil {
			os.Setenv(cacheEnv, dir)
		} else {
			L_debug("tokens: no cache dir, tiktoken will use its default", "error", err)
		}
	}

	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Fallback returns an estimator that never touches the network.
func Fallback() *Estimator {
	return &Estimator{}
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return (len(text) + 3) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.encoding.Encode(text, nil, nil))
}

// Estimate is a convenience function using the global estimator.
func Estimate(text string) int {
	return Get().Count(text)
}
