// Package registry keeps the durable session catalog: one JSON record per
// session under the store's sessions directory. Records are bookkeeping
// only; liveness is always re-verified against the OS before a record is
// trusted. The create-if-absent primitive is the O_EXCL open of the record
// file, which makes concurrent creates of the same name race-free without a
// lock file.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/termhold/termhold/internal/backend"
	"github.com/termhold/termhold/internal/logging"
)

var regLog = logging.ForComponent(logging.CompRegistry)

// Sentinel errors surfaced to the dispatcher for envelope mapping.
var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
	ErrBadName       = errors.New("invalid session name")
)

// Attach states recorded for listing. Informational only: a crash while
// attached leaves "attached" behind, so the field is a hint, not a lock.
const (
	StateDetached = "detached"
	StateAttached = "attached"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxNameLen = 64

// Record is the persisted form of a session.
type Record struct {
	Name        string       `json:"name"`
	Kind        backend.Kind `json:"backend"`
	TmuxTarget  string       `json:"tmux_target,omitempty"`
	PID         int          `json:"pid,omitempty"`
	Shell       string       `json:"shell"`
	CreatedAt   time.Time    `json:"created_at"`
	AttachState string       `json:"attach_state"`
}

// Entry pairs a record with its verified liveness for listing.
type Entry struct {
	Record
	Alive bool
}

// CloseResult reports one session's outcome during CloseAll.
type CloseResult struct {
	Name string
	Err  error
}

// Registry manages records under dir.
type Registry struct {
	dir  string
	opts backend.Options
}

func New(dir string, opts backend.Options) *Registry {
	return &Registry{dir: dir, opts: opts}
}

func (r *Registry) recordPath(name string) string {
	return filepath.Join(r.dir, name+".json")
}

func (r *Registry) scratchDir(name string) string {
	return filepath.Join(r.dir, name)
}

// ValidateName rejects names that could escape the sessions directory or
// collide with record file naming.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen || !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q (use letters, digits, dot, dash, underscore)", ErrBadName, name)
	}
	if strings.HasSuffix(name, ".json") {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// Create allocates a new session: record file first (O_EXCL, the atomicity
// point), then the OS resource. A record whose backend turns out to be dead
// does not block the name; it is swept and the create retried once.
func (r *Registry) Create(name string, kind backend.Kind, shell string) (*Record, backend.Backend, error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	f, err := r.claimRecord(name)
	if err != nil {
		return nil, nil, err
	}

	rec := &Record{
		Name:        name,
		Kind:        kind,
		Shell:       shell,
		CreatedAt:   time.Now().UTC(),
		AttachState: StateDetached,
	}

	b := r.bind(rec)
	if err := b.Create(shell); err != nil {
		f.Close()
		_ = os.Remove(r.recordPath(name))
		return nil, nil, err
	}

	switch be := b.(type) {
	case *backend.Tmux:
		rec.TmuxTarget = be.Target()
	case *backend.Process:
		rec.PID = be.PID()
	}

	if err := writeRecord(f, rec); err != nil {
		_ = b.Close()
		_ = os.Remove(r.recordPath(name))
		return nil, nil, err
	}

	regLog.Info("session_registered",
		slog.String("name", name),
		slog.String("backend", string(kind)),
		slog.Int("pid", rec.PID))
	return rec, b, nil
}

// claimRecord opens the record file exclusively. On collision it verifies
// the existing session is actually alive; a stale record is removed and the
// claim retried once.
func (r *Registry) claimRecord(name string) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(r.recordPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create session record: %w", err)
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}

		rec, rerr := r.load(name)
		if rerr == nil && r.bind(rec).Alive() {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
		}
		regLog.Info("stale_record_swept", slog.String("name", name))
		_ = os.Remove(r.recordPath(name))
		_ = os.RemoveAll(r.scratchDir(name))
	}
}

// Open resolves a record to a live backend. A record whose backend is gone
// is reported as not found; the record itself stays until close so that
// list can still surface it as stale.
func (r *Registry) Open(name string) (*Record, backend.Backend, error) {
	rec, err := r.load(name)
	if err != nil {
		return nil, nil, err
	}
	b := r.bind(rec)
	if !b.Alive() {
		return nil, nil, fmt.Errorf("%w: %q (backend died)", ErrNotFound, name)
	}
	return rec, b, nil
}

// List returns every record, alive or not, sorted by name.
func (r *Registry) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions directory: %w", err)
	}

	var entries []Entry
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		rec, err := r.load(name)
		if err != nil {
			regLog.Warn("unreadable_record_skipped", slog.String("path", path), slog.Any("error", err))
			continue
		}
		entries = append(entries, Entry{Record: *rec, Alive: r.bind(rec).Alive()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Close tears down a session: backend first (tolerating an already-dead
// backend, which is how stale records get purged), then record and scratch.
func (r *Registry) Close(name string) error {
	rec, err := r.load(name)
	if err != nil {
		return err
	}

	if cerr := r.bind(rec).Close(); cerr != nil && !errors.Is(cerr, backend.ErrSessionGone) {
		regLog.Warn("backend_close_failed", slog.String("name", name), slog.Any("error", cerr))
	}
	_ = os.RemoveAll(r.scratchDir(name))
	if err := os.Remove(r.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session record: %w", err)
	}

	regLog.Info("session_closed", slog.String("name", name))
	return nil
}

// CloseAll closes every registered session, continuing past per-session
// failures. Zero sessions is trivially successful.
func (r *Registry) CloseAll() ([]CloseResult, error) {
	entries, err := r.List()
	if err != nil {
		return nil, err
	}
	results := make([]CloseResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, CloseResult{Name: e.Name, Err: r.Close(e.Name)})
	}
	return results, nil
}

// SetAttachState rewrites the record's attach hint.
func (r *Registry) SetAttachState(name, state string) error {
	rec, err := r.load(name)
	if err != nil {
		return err
	}
	rec.AttachState = state

	f, err := os.OpenFile(r.recordPath(name), os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to rewrite session record: %w", err)
	}
	return writeRecord(f, rec)
}

func (r *Registry) load(name string) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse session record %s: %w", name, err)
	}
	return &rec, nil
}

// bind constructs the backend value for a record without touching the OS.
func (r *Registry) bind(rec *Record) backend.Backend {
	switch rec.Kind {
	case backend.KindTmux:
		target := rec.TmuxTarget
		if target == "" {
			target = backend.TmuxTarget(rec.Name)
		}
		return backend.NewTmux(target, r.opts)
	default:
		return backend.NewProcess(r.scratchDir(rec.Name), rec.PID, r.opts)
	}
}

func writeRecord(f *os.File, rec *Record) error {
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return f.Sync()
}
