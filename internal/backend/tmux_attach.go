//go:build !windows

package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Attach connects the caller's terminal to the tmux session with full PTY
// support. Ctrl+Q detaches and returns to the caller; the session keeps
// running either way.
func (t *Tmux) Attach(ctx context.Context) error {
	if !t.Alive() {
		return ErrSessionGone
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", "attach-session", "-t", t.target)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start pty: %w", err)
	}
	defer ptmx.Close()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	// Track window resizes so the attached view follows the terminal.
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	sigwinchDone := make(chan struct{})
	defer func() {
		signal.Stop(sigwinch)
		close(sigwinchDone)
	}()

	go func() {
		for {
			select {
			case <-sigwinchDone:
				return
			case _, ok := <-sigwinch:
				if !ok {
					return
				}
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = pty.Setsize(ptmx, ws)
				}
			}
		}
	}()
	// Initial size sync
	sigwinch <- syscall.SIGWINCH

	detachCh := make(chan struct{})

	// Terminal capability queries arrive right after raw mode; drop them so
	// they are not forwarded as session input.
	startTime := time.Now()
	const controlSeqWindow = 50 * time.Millisecond

	go func() {
		_, _ = io.Copy(os.Stdout, ptmx)
	}()

	// Read stdin, intercept Ctrl+Q (ASCII 17), forward everything else.
	go func() {
		buf := make([]byte, 32)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if time.Since(startTime) < controlSeqWindow {
				continue
			}
			if n == 1 && buf[0] == 17 {
				close(detachCh)
				cancel()
				return
			}
			if _, err := ptmx.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	cmdDone := make(chan error, 1)
	go func() {
		cmdDone <- cmd.Wait()
	}()

	select {
	case <-detachCh:
		return nil
	case err := <-cmdDone:
		if err != nil {
			// Normal tmux detach (prefix + d) exits 0 or 1.
			if exitErr, ok := err.(*exec.ExitError); ok {
				if exitErr.ExitCode() == 0 || exitErr.ExitCode() == 1 {
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return err
	case <-ctx.Done():
		return nil
	}
}
