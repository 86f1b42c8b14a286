package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/termhold/termhold/internal/logging"
	"github.com/termhold/termhold/internal/platform"
)

var (
	tmuxLog = logging.ForComponent(logging.CompBackend)
	execLog = logging.ForComponent(logging.CompExec)
)

// SessionPrefix namespaces termhold sessions inside the shared tmux server.
const SessionPrefix = "termhold_"

// TmuxTarget returns the tmux session name for a termhold session name.
func TmuxTarget(name string) string {
	return SessionPrefix + name
}

// captureCacheTTL bounds how stale a cached pane capture may be. It sits
// below the exec poll interval so polling always sees fresh content.
const captureCacheTTL = 50 * time.Millisecond

// Tmux realizes a session as a detached tmux session. Output capture reads
// the rendered pane buffer, so cursor movement and screen clearing are
// already collapsed the way a terminal displays them.
type Tmux struct {
	target string
	opts   Options

	// capture-pane result cache, deduplicated via singleflight so
	// concurrent polls spawn at most one tmux subprocess.
	cacheMu      sync.RWMutex
	cacheContent string
	cacheTime    time.Time
	captureSf    singleflight.Group
}

// NewTmux binds a backend to a tmux session target. The target need not
// exist yet; Create allocates it.
func NewTmux(target string, opts Options) *Tmux {
	return &Tmux{target: target, opts: opts}
}

func (t *Tmux) Kind() Kind { return KindTmux }

// Target returns the tmux session name, persisted into the session record.
func (t *Tmux) Target() string { return t.target }

// EnsureTmux checks that tmux is installed, attempting a package-manager
// install when it is missing. Returns ErrUnavailable when tmux cannot be
// made available on this platform.
func EnsureTmux() error {
	if platform.HasProgram("tmux") {
		return nil
	}
	if platform.IsWindows() {
		return fmt.Errorf("%w: tmux is not available on Windows", ErrUnavailable)
	}

	tmuxLog.Info("tmux_missing_attempting_install")
	installers := [][]string{
		{"brew", "install", "tmux"},
		{"sudo", "apt-get", "install", "-y", "tmux"},
		{"sudo", "yum", "install", "-y", "tmux"},
	}
	for _, argv := range installers {
		if !platform.HasProgram(argv[0]) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		cancel()
		if err == nil && platform.HasProgram("tmux") {
			tmuxLog.Info("tmux_installed", slog.String("installer", argv[0]))
			return nil
		}
		tmuxLog.Warn("tmux_install_failed",
			slog.String("installer", argv[0]),
			slog.String("output", strings.TrimSpace(string(out))))
	}
	return fmt.Errorf("%w: tmux is not installed and auto-install failed; install it manually (brew install tmux / apt install tmux)", ErrUnavailable)
}

// Create starts a new detached tmux session running shell. The wide pane
// geometry keeps long command output from wrapping in the capture.
func (t *Tmux) Create(shell string) error {
	cmd := exec.Command("tmux", "new-session", "-d", "-s", t.target, "-x", "200", "-y", "50", shell)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create tmux session: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	// Raise scrollback so read can reach back past one screen. Batched into
	// one subprocess, non-fatal on older tmux versions.
	_ = exec.Command("tmux",
		"set-option", "-t", t.target, "history-limit", "10000", ";",
		"set-option", "-t", t.target, "-q", "escape-time", "10").Run()

	tmuxLog.Info("session_created", slog.String("target", t.target), slog.String("shell", shell))
	return nil
}

// Alive checks session existence against the tmux server itself.
func (t *Tmux) Alive() bool {
	return exec.Command("tmux", "has-session", "-t", t.target).Run() == nil
}

// Send delivers raw to the session verbatim. The -l flag makes tmux treat
// the string as literal text rather than key names, and "--" stops flag
// parsing so payloads starting with "-" survive. No Enter is appended.
func (t *Tmux) Send(raw string) error {
	if !t.Alive() {
		return ErrSessionGone
	}
	t.invalidateCache()
	cmd := exec.Command("tmux", "send-keys", "-l", "-t", t.target, "--", raw)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to send text: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// sendLine sends literal text followed by Enter as two separate tmux calls.
// tmux 3.2+ wraps send-keys -l in bracketed paste sequences; a short delay
// keeps the Enter from being swallowed by the paste handler.
func (t *Tmux) sendLine(line string) error {
	if err := t.Send(line); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	t.invalidateCache()
	return exec.Command("tmux", "send-keys", "-t", t.target, "Enter").Run()
}

// Exec runs command in the session and captures its output. Completion is
// detected by wrapping the command between echoed sentinel markers and
// polling the pane until the end marker appears as output. The marker
// heuristic is approximate by nature: interactive programs that repaint the
// screen can delay or hide the sentinel, in which case Exec times out and
// the caller falls back to read.
func (t *Tmux) Exec(command string, timeout time.Duration) (ExecResult, error) {
	if !t.Alive() {
		return ExecResult{}, ErrSessionGone
	}

	marker := fmt.Sprintf("__TH_%d__", time.Now().UnixMilli())
	startMark := marker + "_START"
	endMark := marker + "_END"

	if err := t.sendLine(fmt.Sprintf("echo '%s'", startMark)); err != nil {
		return ExecResult{}, err
	}
	if err := t.sendLine(command); err != nil {
		return ExecResult{}, err
	}
	if err := t.sendLine(fmt.Sprintf("echo '%s'", endMark)); err != nil {
		return ExecResult{}, err
	}

	deadline := time.Now().Add(timeout)
	interval := t.opts.pollInterval()
	for time.Now().Before(deadline) {
		time.Sleep(interval)

		content, err := t.capturePane(1000)
		if err != nil {
			continue
		}
		if out, done := extractBetweenMarkers(content, startMark, endMark, command); done {
			execLog.Debug("exec_complete", slog.String("target", t.target))
			return ExecResult{Output: out}, nil
		}
	}

	execLog.Info("exec_timeout", slog.String("target", t.target), slog.Duration("timeout", timeout))
	return ExecResult{TimedOut: true}, nil
}

// extractBetweenMarkers pulls the output lines between the echoed start and
// end sentinels. Both the command echo of each sentinel and its output line
// contain the marker text; treating every start hit as a restart and the
// first end hit as the stop keeps only what ran between them. The echo of
// the command itself is dropped when it leads the window.
func extractBetweenMarkers(content, startMark, endMark, command string) (string, bool) {
	lines := strings.Split(content, "\n")

	// The end sentinel must appear as a standalone output line, not just
	// inside the "echo '...'" command echo.
	endSeen := false
	startSeen := false
	for _, line := range lines {
		if strings.TrimSpace(line) == endMark {
			endSeen = true
		}
		if strings.Contains(line, startMark) {
			startSeen = true
		}
	}
	if !endSeen {
		return "", false
	}
	// End without start means the output outgrew the capture window and the
	// start marker scrolled away. An empty capture here would look like a
	// successful silent command; let the caller time out and fall back to
	// read instead.
	if !startSeen {
		return "", false
	}

	var collected []string
	collecting := false
	for _, line := range lines {
		switch {
		case strings.Contains(line, startMark):
			collecting = true
			collected = collected[:0]
		case strings.Contains(line, endMark):
			if collecting {
				collecting = false
			}
		case collecting:
			collected = append(collected, line)
		}
	}

	if len(collected) > 0 && strings.Contains(collected[0], strings.TrimSpace(command)) {
		collected = collected[1:]
	}
	return strings.TrimRight(strings.Join(collected, "\n"), " \t\n"), true
}

// ReadRaw captures the last `lines` lines of the rendered pane buffer.
func (t *Tmux) ReadRaw(lines int) (string, error) {
	if !t.Alive() {
		return "", ErrSessionGone
	}
	if lines <= 0 {
		lines = 1000
	}
	cmd := exec.Command("tmux", "capture-pane", "-t", t.target, "-p", "-S", fmt.Sprintf("-%d", lines))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to capture pane: %w", err)
	}
	return string(out), nil
}

// Close kills the tmux session. Killing an already-gone session is not an
// error: close must be safe to call once regardless of backend state.
func (t *Tmux) Close() error {
	if !t.Alive() {
		return nil
	}
	if out, err := exec.Command("tmux", "kill-session", "-t", t.target).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to kill tmux session: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	tmuxLog.Info("session_closed", slog.String("target", t.target))
	return nil
}

// capturePane reads the pane with scrollback, caching briefly and collapsing
// concurrent calls into one subprocess via singleflight.
func (t *Tmux) capturePane(scrollback int) (string, error) {
	t.cacheMu.RLock()
	if t.cacheContent != "" && time.Since(t.cacheTime) < captureCacheTTL {
		content := t.cacheContent
		t.cacheMu.RUnlock()
		return content, nil
	}
	t.cacheMu.RUnlock()

	v, err, _ := t.captureSf.Do("capture", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", t.target, "-p", "-S", fmt.Sprintf("-%d", scrollback))
		out, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("failed to capture pane: %w", err)
		}
		content := string(out)

		t.cacheMu.Lock()
		t.cacheContent = content
		t.cacheTime = time.Now()
		t.cacheMu.Unlock()
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// invalidateCache clears the capture cache. Called after any input that can
// change pane content.
func (t *Tmux) invalidateCache() {
	t.cacheMu.Lock()
	t.cacheContent = ""
	t.cacheTime = time.Time{}
	t.cacheMu.Unlock()
}
