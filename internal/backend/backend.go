// Package backend maps session operations onto one of two OS primitives: a
// tmux session (rendered pane capture, real attach) or a native shell
// process wired to a FIFO and an output log (stream capture).
//
// The two variants share no internal representation; they only meet at the
// operation set below. Capture semantics stay per-variant and are unified by
// the capture package at the shaping boundary.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/termhold/termhold/internal/platform"
)

// Kind identifies which OS primitive realizes a session.
type Kind string

const (
	// KindTmux delegates persistence and pane capture to tmux.
	KindTmux Kind = "tmux"
	// KindProcess tracks a detached shell process by pid, with a FIFO for
	// input and a log file for output.
	KindProcess Kind = "process"
)

// Sentinel errors shared by both variants.
var (
	// ErrUnavailable means the backing OS mechanism is missing and could
	// not be installed.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrSessionGone means the OS resource behind a session has vanished
	// (killed externally, machine rebooted, tmux server stopped).
	ErrSessionGone = errors.New("session backend is gone")
)

// ExecResult is the outcome of a bounded command execution.
type ExecResult struct {
	// Output is the captured command output. Empty when TimedOut: a
	// timed-out exec deliberately returns no partial output so the caller
	// never has to guess whether output is complete.
	Output string

	// TimedOut reports that the completion heuristic did not fire before
	// the deadline. The command keeps running in the session; only the
	// caller-side poll gave up.
	TimedOut bool
}

// Backend is the common contract over both session primitives.
type Backend interface {
	// Kind identifies the variant.
	Kind() Kind

	// Create allocates the persistent OS session running shell. The
	// session must outlive the creating process.
	Create(shell string) error

	// Alive re-verifies the OS resource actually exists. Records on disk
	// are never trusted for liveness.
	Alive() bool

	// Exec writes command plus a trailing newline to the session input,
	// then polls output until completion is detected or timeout elapses.
	Exec(command string, timeout time.Duration) (ExecResult, error)

	// ReadRaw retrieves up to the most recent `lines` lines of accumulated
	// output, unshaped.
	ReadRaw(lines int) (string, error)

	// Send delivers raw verbatim: no escaping, no trailing newline, no
	// reinterpretation. The exact bytes requested are the exact bytes the
	// session reads.
	Send(raw string) error

	// Attach switches the caller's terminal to the session's live output
	// until the caller detaches. Detaching never terminates the session.
	Attach(ctx context.Context) error

	// Close terminates the session and releases its resources. Safe to
	// call when the underlying process is already gone.
	Close() error
}

// SelectKind picks the backend variant for new sessions. pref is the config
// value: "auto", "tmux" or "process". Auto prefers tmux on POSIX platforms,
// attempting installation when missing, and falls back to the native process
// backend.
func SelectKind(pref string) (Kind, error) {
	switch pref {
	case "tmux":
		if err := EnsureTmux(); err != nil {
			return "", err
		}
		return KindTmux, nil
	case "process":
		return KindProcess, nil
	default:
		if platform.IsWindows() {
			return KindProcess, nil
		}
		if err := EnsureTmux(); err != nil {
			return KindProcess, nil
		}
		return KindTmux, nil
	}
}

// Options carries tuning shared by both variants.
type Options struct {
	// PollInterval is the sleep between output checks during Exec.
	PollInterval time.Duration
}

const defaultPollInterval = 100 * time.Millisecond

func (o Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return defaultPollInterval
	}
	return o.PollInterval
}
