package files

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
)

// Options controls BuildContext.
type Options struct {
	MaxBytes   int  // total content budget; <= 0 means unlimited
	SkipBinary bool // drop non-text files instead of reporting them unreadable

	// Estimate counts tokens in the finished blob. Nil skips the estimate.
	Estimate func(string) int
}

// Result is the assembled context and what went into it.
type Result struct {
	Text            string
	Included        int // file blocks emitted, including unreadable ones
	Skipped         int // binary files left out
	Truncated       bool
	EstimatedTokens int
}

// BuildContext reads paths in order and wraps each in a <file> block.
// Reading stops at the first file that would take the total past MaxBytes,
// unless nothing has been included yet, and a note records the cut.
func BuildContext(paths []string, opts Options) Result {
	var res Result
	if len(paths) == 0 {
		return res
	}

	var blocks []string
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			L_debug("files: unreadable", "path", path, "error", err)
			blocks = append(blocks, unreadableBlock(path))
			res.Included++
			continue
		}

		if !isText(data) {
			if opts.SkipBinary {
				L_trace("files: skipping binary", "path", path, "mime", mimetype.Detect(data).String())
				res.Skipped++
				continue
			}
			blocks = append(blocks, unreadableBlock(path))
			res.Included++
			continue
		}

		if opts.MaxBytes > 0 && total+len(data) > opts.MaxBytes && res.Included > 0 {
			res.Truncated = true
			break
		}

		blocks = append(blocks, fmt.Sprintf("<file path=\"%s\">\n%s\n</file>", path, data))
		total += len(data)
		res.Included++
	}

	if res.Truncated {
		blocks = append(blocks, fmt.Sprintf(
			"<note>Context truncated: reached %d byte limit. %d of %d files included.</note>",
			opts.MaxBytes, res.Included, len(paths)))
	}

	res.Text = strings.Join(blocks, "\n\n")
	if opts.Estimate != nil && res.Text != "" {
		res.EstimatedTokens = opts.Estimate(res.Text)
	}

	L_debug("files: context built", "included", res.Included, "skipped", res.Skipped,
		"bytes", total, "truncated", res.Truncated)
	return res
}

func unreadableBlock(path string) string {
	return fmt.Sprintf("<file path=\"%s\" error=\"could not read file\" />", path)
}

// isText reports whether data is text. Valid UTF-8 without NUL bytes is
// text whatever its format (PostScript, scripts, markup); content with NULs
// is text only if mimetype places it under text/plain.
func isText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	if bytes.IndexByte(data, 0) < 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
