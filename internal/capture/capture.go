// Package capture bounds raw session output before it reaches the caller.
//
// Shaping is backend-agnostic: the tmux backend hands over rendered pane
// content, the process backend hands over a buffered stream; both go through
// the same line-window-then-char-truncate pipeline.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Shape returns the last `lines` lines of text, then truncates the head of
// that window until it fits in `maxChars` characters. maxChars 0 disables
// truncation, lines <= 0 keeps all lines. The boolean reports whether the
// character cap cut anything.
//
// The ordering is deliberate: line-window first, char-truncate second
// guarantees the tail of the most recent lines always survives, never an
// arbitrary middle slice.
func Shape(text string, lines, maxChars int) (string, bool) {
	out := TailLines(text, lines)
	if maxChars > 0 && len(out) > maxChars {
		cut := len(out) - maxChars
		// Never split a multibyte sequence: advance to the next rune start
		// so the capped output stays valid UTF-8.
		for cut < len(out) && !utf8.RuneStart(out[cut]) {
			cut++
		}
		return out[cut:], true
	}
	return out, false
}

// TailLines returns the last n lines of text with trailing whitespace
// stripped. n <= 0 returns the whole text (still right-trimmed).
func TailLines(text string, n int) string {
	text = strings.TrimRight(text, " \t\r\n")
	if n <= 0 {
		return text
	}
	split := strings.Split(text, "\n")
	if len(split) > n {
		split = split[len(split)-n:]
	}
	return strings.Join(split, "\n")
}

// LineCount counts the lines of a shaped capture. Empty text is zero lines.
func LineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// WriteFile writes a shaped capture to path, creating parent directories as
// needed, so a large capture lands on disk instead of in the caller's output.
func WriteFile(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
