//go:build !windows

package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcess(t *testing.T) *Process {
	t.Helper()
	p := NewProcess(filepath.Join(t.TempDir(), "sess"), 0, Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, p.Create("/bin/sh"))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProcessCreateDetachesShell(t *testing.T) {
	p := newTestProcess(t)

	assert.Greater(t, p.PID(), 0)
	assert.True(t, p.Alive())
	assert.FileExists(t, p.logPath())
	assert.FileExists(t, p.fifoPath())
}

func TestProcessExecCapturesOutput(t *testing.T) {
	p := newTestProcess(t)

	res, err := p.Exec("echo hello-from-session", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "hello-from-session", res.Output)
}

func TestProcessExecTimeoutReturnsNoPartialOutput(t *testing.T) {
	p := newTestProcess(t)

	res, err := p.Exec("sleep 30", 300*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.Output, "a timed-out exec must not hand back partial output")
}

func TestProcessExecOnlyNewOutput(t *testing.T) {
	p := newTestProcess(t)

	_, err := p.Exec("echo first", 5*time.Second)
	require.NoError(t, err)

	res, err := p.Exec("echo second", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", res.Output, "earlier output must not repeat")
}

func TestProcessSendIsVerbatim(t *testing.T) {
	p := newTestProcess(t)

	// Without a trailing newline the shell buffers the line unexecuted.
	require.NoError(t, p.Send("echo never-ran"))
	time.Sleep(200 * time.Millisecond)

	data, err := os.ReadFile(p.logPath())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-ran")

	// Completing the line with an explicit newline runs it.
	require.NoError(t, p.Send("\n"))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		data, _ = os.ReadFile(p.logPath())
		if strings.Contains(string(data), "never-ran") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("buffered line did not execute after newline; log: %q", data)
}

func TestProcessReadRawTailsLog(t *testing.T) {
	p := newTestProcess(t)

	_, err := p.Exec("printf 'l1\\nl2\\nl3\\n'", 5*time.Second)
	require.NoError(t, err)

	out, err := p.ReadRaw(2)
	require.NoError(t, err)
	assert.Equal(t, "l2\nl3", out)
}

func TestProcessCloseKillsShellAndScratch(t *testing.T) {
	p := newTestProcess(t)
	pid := p.PID()

	require.NoError(t, p.Close())
	assert.False(t, p.Alive(), "pid %d should be gone", pid)
	_, err := os.Stat(p.dir)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessSendAfterCloseReportsGone(t *testing.T) {
	p := newTestProcess(t)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Send("x"), ErrSessionGone)
}

func TestProcessAliveRejectsZeroPID(t *testing.T) {
	p := NewProcess(t.TempDir(), 0, Options{})
	assert.False(t, p.Alive())
}
