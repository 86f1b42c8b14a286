//go:build windows

package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/termhold/termhold/internal/capture"
)

const logFileName = "output.log"

// Process is the Windows rendition of the native backend. There is no FIFO
// and no long-lived shell: each Exec runs `cmd /c` and appends its output to
// the session log, so the session is the log history rather than a live
// interpreter. Send and Attach are not available in this mode.
type Process struct {
	dir  string
	pid  int
	opts Options
}

func NewProcess(dir string, pid int, opts Options) *Process {
	return &Process{dir: dir, pid: pid, opts: opts}
}

func (p *Process) Kind() Kind { return KindProcess }

func (p *Process) PID() int { return p.pid }

func (p *Process) logPath() string { return filepath.Join(p.dir, logFileName) }

func (p *Process) Create(shell string) error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	f, err := os.OpenFile(p.logPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output log: %w", err)
	}
	return f.Close()
}

func (p *Process) Alive() bool {
	_, err := os.Stat(p.logPath())
	return err == nil
}

func (p *Process) Send(raw string) error {
	return fmt.Errorf("%w: raw input requires a persistent shell", ErrUnavailable)
}

func (p *Process) Exec(command string, timeout time.Duration) (ExecResult, error) {
	if !p.Alive() {
		return ExecResult{}, ErrSessionGone
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "cmd", "/c", command)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return ExecResult{TimedOut: true}, nil
	}
	if err != nil && len(out) == 0 {
		return ExecResult{}, fmt.Errorf("failed to run command: %w", err)
	}

	f, ferr := os.OpenFile(p.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if ferr == nil {
		fmt.Fprintf(f, "> %s\r\n%s", command, out)
		f.Close()
	}
	return ExecResult{Output: strings.TrimRight(string(out), " \t\r\n")}, nil
}

func (p *Process) ReadRaw(lines int) (string, error) {
	data, err := os.ReadFile(p.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSessionGone
		}
		return "", fmt.Errorf("failed to read output log: %w", err)
	}
	return capture.TailLines(string(data), lines), nil
}

func (p *Process) Attach(ctx context.Context) error {
	return fmt.Errorf("%w: attach requires a persistent shell", ErrUnavailable)
}

func (p *Process) Close() error {
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	return nil
}
