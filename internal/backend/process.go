//go:build !windows

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/termhold/termhold/internal/capture"
	"github.com/termhold/termhold/internal/logging"
	"github.com/termhold/termhold/internal/platform"
)

var procLog = logging.ForComponent(logging.CompBackend)

const (
	fifoFileName = "stdin.fifo"
	logFileName  = "output.log"
)

// Process realizes a session as a detached shell in its own session group,
// reading commands from a FIFO and appending all output to a log file.
// Unlike the tmux variant there is no rendered pane: capture is the raw
// byte stream, so ANSI sequences pass through uncollapsed.
type Process struct {
	dir  string // per-session scratch: FIFO + output log
	pid  int
	opts Options
}

// NewProcess binds a backend to a session scratch directory and the recorded
// shell pid (0 before Create).
func NewProcess(dir string, pid int, opts Options) *Process {
	return &Process{dir: dir, pid: pid, opts: opts}
}

func (p *Process) Kind() Kind { return KindProcess }

// PID returns the shell process id, persisted into the session record.
func (p *Process) PID() int { return p.pid }

func (p *Process) fifoPath() string { return filepath.Join(p.dir, fifoFileName) }
func (p *Process) logPath() string  { return filepath.Join(p.dir, logFileName) }

// Create spawns shell detached in its own session, with stdin wired to a
// fresh FIFO and stdout/stderr appended to the output log. The spawning
// process keeps nothing open: the shell holds its own FIFO descriptor, and
// because that descriptor is opened read-write the shell never sees EOF
// between writers.
func (p *Process) Create(shell string) error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	fifo := p.fifoPath()
	_ = os.Remove(fifo)
	if err := syscall.Mkfifo(fifo, 0o600); err != nil {
		return fmt.Errorf("failed to create fifo: %w", err)
	}

	fifoF, err := os.OpenFile(fifo, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open fifo: %w", err)
	}
	defer fifoF.Close()

	logF, err := os.OpenFile(p.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create output log: %w", err)
	}
	defer logF.Close()

	cmd := exec.Command(shell)
	cmd.Stdin = fifoF
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start shell %s: %w", shell, err)
	}
	p.pid = cmd.Process.Pid
	// The shell belongs to its own session now and outlives this process.
	// The background Wait reaps it if it dies while we are still around;
	// once we exit, init takes over reaping.
	go func() { _ = cmd.Wait() }()

	procLog.Info("session_created", slog.String("dir", p.dir), slog.Int("pid", p.pid), slog.String("shell", shell))
	return nil
}

// Alive probes the recorded pid with signal 0. EPERM still means the process
// exists; only ESRCH (or pid 0) means gone.
func (p *Process) Alive() bool {
	if p.pid <= 0 {
		return false
	}
	err := syscall.Kill(p.pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Send writes raw verbatim into the FIFO. Opening write-only non-blocking
// surfaces a missing reader (dead shell) as ENXIO instead of hanging.
func (p *Process) Send(raw string) error {
	f, err := os.OpenFile(p.fifoPath(), os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ENXIO) || os.IsNotExist(err) {
			return ErrSessionGone
		}
		return fmt.Errorf("failed to open fifo for writing: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(raw); err != nil {
		return fmt.Errorf("failed to write to fifo: %w", err)
	}
	return nil
}

// Exec writes command plus newline to the FIFO and waits for the output log
// to grow and then go quiet. There is no prompt to detect in a stream, so
// quiescence after growth is the completion heuristic for this variant.
// An fsnotify watcher wakes the loop on log writes; a ticker covers
// filesystems where inotify is unreliable (network mounts, 9p under WSL).
func (p *Process) Exec(command string, timeout time.Duration) (ExecResult, error) {
	if !p.Alive() {
		return ExecResult{}, ErrSessionGone
	}

	before, err := fileSize(p.logPath())
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to stat output log: %w", err)
	}

	if err := p.Send(command + "\n"); err != nil {
		return ExecResult{}, err
	}

	interval := p.opts.pollInterval()
	quiet := 3 * interval
	deadline := time.Now().Add(timeout)

	var wake <-chan fsnotify.Event
	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		if err := watcher.Add(p.logPath()); err == nil {
			wake = watcher.Events
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSize := before
	var grownAt time.Time
	for time.Now().Before(deadline) {
		select {
		case <-wake:
		case <-ticker.C:
		}

		size, err := fileSize(p.logPath())
		if err != nil {
			continue
		}
		if size > lastSize {
			lastSize = size
			grownAt = time.Now()
			continue
		}
		if lastSize > before && time.Since(grownAt) >= quiet {
			out, err := p.readRange(before, lastSize)
			if err != nil {
				return ExecResult{}, err
			}
			execLog.Debug("exec_complete", slog.Int("pid", p.pid), slog.Int64("bytes", lastSize-before))
			return ExecResult{Output: strings.TrimRight(out, " \t\n")}, nil
		}
	}

	execLog.Info("exec_timeout", slog.Int("pid", p.pid), slog.Duration("timeout", timeout))
	return ExecResult{TimedOut: true}, nil
}

// ReadRaw returns the last `lines` lines of the accumulated output log.
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

// Attach presents the session foreground. Preferred path: open a system
// terminal window following the output log. Fallback: stream the log to the
// current terminal until the context is cancelled (interrupt detaches, the
// session keeps running).
func (p *Process) Attach(ctx context.Context) error {
	logPath := p.logPath()
	if _, err := os.Stat(logPath); err != nil {
		return ErrSessionGone
	}

	follow := fmt.Sprintf("tail -f %q", logPath)
	for _, launcher := range platform.TerminalLaunchers() {
		if !platform.HasProgram(launcher.Program) {
			continue
		}
		cmd := exec.Command(launcher.Program, launcher.Args(follow)...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err == nil {
			_ = cmd.Process.Release()
			procLog.Info("attach_window_opened", slog.String("terminal", launcher.Program))
			return nil
		}
	}

	return p.streamLog(ctx)
}

// streamLog prints the existing log then follows appended output.
func (p *Process) streamLog(ctx context.Context) error {
	f, err := os.Open(p.logPath())
	if err != nil {
		return fmt.Errorf("failed to open output log: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(os.Stdout, f); err != nil {
		return fmt.Errorf("failed to stream output log: %w", err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := f.Read(buf)
				if n > 0 {
					_, _ = os.Stdout.Write(buf[:n])
				}
				if err != nil {
					break
				}
			}
		}
	}
}

// Close terminates the shell's whole process group (SIGTERM with a SIGKILL
// escalation, since a wedged child can ignore SIGTERM) and removes the
// session scratch directory.
func (p *Process) Close() error {
	if p.Alive() {
		_ = syscall.Kill(-p.pid, syscall.SIGTERM)
		time.Sleep(500 * time.Millisecond)
		if p.Alive() {
			procLog.Info("close_escalating_sigkill", slog.Int("pid", p.pid))
			_ = syscall.Kill(-p.pid, syscall.SIGKILL)
		}
	}
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	procLog.Info("session_closed", slog.Int("pid", p.pid))
	return nil
}

func (p *Process) readRange(from, to int64) (string, error) {
	f, err := os.Open(p.logPath())
	if err != nil {
		return "", fmt.Errorf("failed to open output log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek output log: %w", err)
	}
	buf := make([]byte, to-from)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read output log: %w", err)
	}
	return string(buf[:n]), nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
