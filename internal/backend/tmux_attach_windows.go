//go:build windows

package backend

import (
	"context"
	"fmt"
)

// Attach is unsupported on Windows: tmux never runs there and session
// creation selects the native process backend instead.
func (t *Tmux) Attach(ctx context.Context) error {
	return fmt.Errorf("%w: tmux attach is not supported on Windows", ErrUnavailable)
}
