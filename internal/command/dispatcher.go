// Package command turns parsed CLI verbs into envelope responses. Every
// handler is a full round trip: resolve the session, drive the backend,
// shape the result. No state survives between invocations; the registry on
// disk and the OS are the only memory.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/termhold/termhold/internal/backend"
	"github.com/termhold/termhold/internal/capture"
	"github.com/termhold/termhold/internal/config"
	"github.com/termhold/termhold/internal/inject"
	"github.com/termhold/termhold/internal/logging"
	"github.com/termhold/termhold/internal/platform"
	"github.com/termhold/termhold/internal/registry"
)

var dispLog = logging.ForComponent(logging.CompCLI)

// Dispatcher wires configuration and the registry behind the CLI verbs.
type Dispatcher struct {
	cfg *config.Config
	reg *registry.Registry
}

// NewDispatcher binds the verbs to a session store rooted at sessionsDir.
func NewDispatcher(cfg *config.Config, sessionsDir string) *Dispatcher {
	opts := backend.Options{
		PollInterval: time.Duration(cfg.Exec.PollIntervalMS) * time.Millisecond,
	}
	return &Dispatcher{
		cfg: cfg,
		reg: registry.New(sessionsDir, opts),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// CreateOpts are the create verb's inputs after flag parsing.
type CreateOpts struct {
	Name       string
	Backend    string // "", "auto", "tmux", "process"
	Shell      string
	Foreground bool
}

// Create allocates a new named session. With Foreground set the caller's
// terminal attaches immediately; detaching leaves the session running.
func (d *Dispatcher) Create(ctx context.Context, opts CreateOpts) *Envelope {
	pref := opts.Backend
	if pref == "" {
		pref = d.cfg.Backend
	}
	kind, err := backend.SelectKind(pref)
	if err != nil {
		return fail(opts.Name, err)
	}

	shell := opts.Shell
	if shell == "" {
		shell = d.cfg.Shell
	}
	if shell == "" {
		shell = platform.DefaultShell()
	}

	rec, b, err := d.reg.Create(opts.Name, kind, shell)
	if err != nil {
		return fail(opts.Name, err)
	}
	dispLog.Info("create", slog.String("session", rec.Name), slog.String("backend", string(kind)))

	env := ok(rec.Name)
	env.Backend = string(rec.Kind)
	env.Message = fmt.Sprintf("session %q created (%s backend, shell %s)", rec.Name, rec.Kind, shell)

	if opts.Foreground {
		if err := d.attach(ctx, rec.Name, b); err != nil {
			env.Warning = fmt.Sprintf("session created but attach failed: %v", err)
		}
	}
	return env
}

// Attach brings an existing session to the caller's terminal.
func (d *Dispatcher) Attach(ctx context.Context, name string) *Envelope {
	rec, b, err := d.reg.Open(name)
	if err != nil {
		return fail(name, err)
	}
	if err := d.attach(ctx, rec.Name, b); err != nil {
		return fail(name, err)
	}
	env := ok(name)
	env.Backend = string(rec.Kind)
	env.Message = "detached; session still running"
	return env
}

func (d *Dispatcher) attach(ctx context.Context, name string, b backend.Backend) error {
	_ = d.reg.SetAttachState(name, registry.StateAttached)
	err := b.Attach(ctx)
	_ = d.reg.SetAttachState(name, registry.StateDetached)
	return err
}

// ExecOpts are the exec verb's inputs.
type ExecOpts struct {
	Name        string
	Command     string
	TimeoutSecs int // 0 means the configured default
}

// Exec runs a command in the session and waits for completion up to the
// timeout. A timeout is not a failure: the command keeps running and the
// caller is told to come back with read.
func (d *Dispatcher) Exec(opts ExecOpts) *Envelope {
	rec, b, err := d.reg.Open(opts.Name)
	if err != nil {
		return fail(opts.Name, err)
	}

	secs := opts.TimeoutSecs
	if secs <= 0 {
		secs = d.cfg.Exec.TimeoutSecs
	}
	timeout := time.Duration(secs) * time.Second

	dispLog.Info("exec", slog.String("session", opts.Name), slog.Int("timeout_secs", secs))
	res, err := b.Exec(opts.Command, timeout)
	if err != nil {
		return fail(opts.Name, err)
	}

	env := ok(opts.Name)
	env.Backend = string(rec.Kind)
	if res.TimedOut {
		env.Warning = fmt.Sprintf(
			"command still running after %ds; no output captured yet, use 'read' to retrieve it", secs)
		return env
	}
	env.Output = &res.Output
	env.LinesCount = capture.LineCount(res.Output)
	return env
}

// ReadOpts are the read verb's inputs after defaulting. MaxChars 0 means
// unlimited.
type ReadOpts struct {
	Name       string
	Lines      int
	MaxChars   int
	OutputFile string
}

// Read captures recent session output: last Lines lines, then capped to
// MaxChars characters from the tail. With OutputFile set the line-tailed
// capture goes to the file uncapped and the envelope carries the path
// instead of the text.
func (d *Dispatcher) Read(opts ReadOpts) *Envelope {
	rec, b, err := d.reg.Open(opts.Name)
	if err != nil {
		return fail(opts.Name, err)
	}

	lines := opts.Lines
	if lines <= 0 {
		lines = d.cfg.Read.Lines
	}

	raw, err := b.ReadRaw(lines)
	if err != nil {
		return fail(opts.Name, err)
	}

	env := ok(opts.Name)
	env.Backend = string(rec.Kind)

	if opts.OutputFile != "" {
		if err := capture.WriteFile(opts.OutputFile, raw); err != nil {
			return failf(opts.Name, CodeIOWriteFailure, "failed to write output file: %v", err)
		}
		env.OutputFile = opts.OutputFile
		env.LinesCount = capture.LineCount(raw)
		return env
	}

	shaped, truncated := capture.Shape(raw, lines, opts.MaxChars)
	env.Output = &shaped
	env.Truncated = truncated
	env.LinesCount = capture.LineCount(shaped)
	return env
}

// SendOpts are the send verb's inputs. Exactly one of Text or
// ConfigPath+KeyPath supplies the payload.
type SendOpts struct {
	Name       string
	Text       string
	ConfigPath string
	KeyPath    string
}

// Send delivers exact bytes to the session input. No trailing newline is
// added: sending a command that should run requires an explicit "\n" from
// the caller.
func (d *Dispatcher) Send(opts SendOpts) *Envelope {
	raw, err := inject.Resolve(opts.Text, opts.ConfigPath, opts.KeyPath)
	if err != nil {
		return fail(opts.Name, err)
	}

	rec, b, err := d.reg.Open(opts.Name)
	if err != nil {
		return fail(opts.Name, err)
	}
	if err := b.Send(raw); err != nil {
		return fail(opts.Name, err)
	}

	dispLog.Info("send", slog.String("session", opts.Name), slog.Int("bytes", len(raw)))
	env := ok(opts.Name)
	env.Backend = string(rec.Kind)
	env.Message = fmt.Sprintf("%d bytes delivered", len(raw))
	return env
}

// List reports every registered session with verified liveness. Records
// whose backend died show up as stale rather than disappearing silently.
func (d *Dispatcher) List() *Envelope {
	entries, err := d.reg.List()
	if err != nil {
		return fail("", err)
	}

	sessions := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, SessionInfo{
			Name:        e.Name,
			Backend:     string(e.Kind),
			Shell:       e.Shell,
			CreatedAt:   e.CreatedAt,
			AttachState: e.AttachState,
			Stale:       !e.Alive,
		})
	}

	env := &Envelope{Success: true, Sessions: &sessions}
	env.Message = fmt.Sprintf("%d session(s)", len(sessions))
	return env
}

// Close terminates one session and removes its record. Closing a stale
// session succeeds: the record is the thing being cleaned up.
func (d *Dispatcher) Close(name string) *Envelope {
	if err := d.reg.Close(name); err != nil {
		return fail(name, err)
	}
	env := ok(name)
	env.Message = fmt.Sprintf("session %q closed", name)
	return env
}

// CloseAll closes every session, reporting per-session outcomes. Zero
// sessions is trivially successful.
func (d *Dispatcher) CloseAll() *Envelope {
	closed, err := d.reg.CloseAll()
	if err != nil {
		return fail("", err)
	}

	allOK := true
	results := make([]CloseOutcome, 0, len(closed))
	for _, c := range closed {
		out := CloseOutcome{Name: c.Name, Success: c.Err == nil}
		if c.Err != nil {
			out.Error = c.Err.Error()
			allOK = false
		}
		results = append(results, out)
	}

	env := &Envelope{Success: allOK, Results: &results}
	env.Message = fmt.Sprintf("%d session(s) closed", len(results))
	return env
}
