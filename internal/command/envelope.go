package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/termhold/termhold/internal/backend"
	"github.com/termhold/termhold/internal/inject"
	"github.com/termhold/termhold/internal/registry"
)

// Machine-readable failure codes carried in the envelope. Scripted callers
// branch on these, never on error message text.
const (
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeNotFound           = "NOT_FOUND"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeKeyNotFound        = "KEY_NOT_FOUND"
	CodeNotAString         = "NOT_A_STRING"
	CodeIOWriteFailure     = "IO_WRITE_FAILURE"
	CodeInvalidArguments   = "INVALID_ARGUMENTS"
	CodeInvalidOperation   = "INVALID_OPERATION"
	CodeInternal           = "INTERNAL_ERROR"
)

// Envelope is the single JSON shape every command prints to stdout, for
// success and failure alike. stdout carries exactly one envelope per
// invocation; logs go elsewhere.
type Envelope struct {
	Success bool   `json:"success"`
	Session string `json:"session,omitempty"`
	Backend string `json:"backend,omitempty"`

	// Output is a pointer so that a legitimately empty capture still
	// serializes as "output": "" instead of disappearing.
	Output     *string `json:"output,omitempty"`
	Truncated  bool    `json:"truncated,omitempty"`
	LinesCount int     `json:"lines_count,omitempty"`
	OutputFile string  `json:"output_file,omitempty"`

	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	// Pointers so list/close-all emit an explicit empty array rather than
	// omitting the field when nothing is registered.
	Sessions *[]SessionInfo  `json:"sessions,omitempty"`
	Results  *[]CloseOutcome `json:"results,omitempty"`
}

// SessionInfo is one row of the list output.
type SessionInfo struct {
	Name        string    `json:"name"`
	Backend     string    `json:"backend"`
	Shell       string    `json:"shell"`
	CreatedAt   time.Time `json:"created_at"`
	AttachState string    `json:"attach_state"`
	Stale       bool      `json:"stale,omitempty"`
}

// CloseOutcome is one row of the close-all output.
type CloseOutcome struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ExitCode maps the envelope to the process exit status: 0 success,
// 2 for a missing session, 1 for everything else.
func (e *Envelope) ExitCode() int {
	switch {
	case e.Success:
		return 0
	case e.Code == CodeNotFound:
		return 2
	default:
		return 1
	}
}

// Emit writes the envelope as indented JSON.
func (e *Envelope) Emit(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

func ok(session string) *Envelope {
	return &Envelope{Success: true, Session: session}
}

// fail builds a failure envelope, mapping sentinel errors to their codes.
func fail(session string, err error) *Envelope {
	return &Envelope{
		Success: false,
		Session: session,
		Error:   err.Error(),
		Code:    codeFor(err),
	}
}

func failf(session, code, format string, args ...any) *Envelope {
	return &Envelope{
		Success: false,
		Session: session,
		Error:   fmt.Sprintf(format, args...),
		Code:    code,
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, backend.ErrSessionGone):
		return CodeNotFound
	case errors.Is(err, registry.ErrBadName), errors.Is(err, inject.ErrBadInput):
		return CodeInvalidArguments
	case errors.Is(err, backend.ErrUnavailable):
		return CodeBackendUnavailable
	case errors.Is(err, inject.ErrKeyNotFound):
		return CodeKeyNotFound
	case errors.Is(err, inject.ErrNotAString):
		return CodeNotAString
	default:
		return CodeInternal
	}
}
