//go:build !windows

package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termhold/termhold/internal/backend"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(t.TempDir(), backend.Options{PollInterval: 20 * time.Millisecond})
}

// plantDeadRecord writes a record whose backend can never be alive.
func plantDeadRecord(t *testing.T, r *Registry, name string) {
	t.Helper()
	rec := Record{
		Name:        name,
		Kind:        backend.KindProcess,
		PID:         0,
		Shell:       "/bin/sh",
		CreatedAt:   time.Now().UTC(),
		AttachState: StateDetached,
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.recordPath(name), data, 0o600))
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"work", "db-2", "a.b_c", "X9"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "-lead", ".hidden", "has space", "a/b", "../up", "x.json"} {
		assert.ErrorIs(t, ValidateName(name), ErrBadName, name)
	}
}

func TestCreateListCloseLifecycle(t *testing.T) {
	r := newTestRegistry(t)

	rec, b, err := r.Create("work", backend.KindProcess, "/bin/sh")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "work", rec.Name)
	assert.Greater(t, rec.PID, 0, "shell pid must be recorded")
	assert.Equal(t, StateDetached, rec.AttachState)

	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "work", entries[0].Name)
	assert.True(t, entries[0].Alive)

	// The name is taken while the shell lives.
	_, _, err = r.Create("work", backend.KindProcess, "/bin/sh")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, r.Close("work"))

	entries, err = r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(r.recordPath("work"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateSweepsStaleRecord(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(r.dir, 0o700))
	plantDeadRecord(t, r, "ghost")

	// The dead record must not block the name.
	rec, _, err := r.Create("ghost", backend.KindProcess, "/bin/sh")
	require.NoError(t, err)
	assert.Greater(t, rec.PID, 0)

	require.NoError(t, r.Close("ghost"))
}

func TestOpenMissingAndStale(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(r.dir, 0o700))

	_, _, err := r.Open("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	plantDeadRecord(t, r, "ghost")
	_, _, err = r.Open("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	// list still surfaces the dead record so close can reap it.
	entries, err := r.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Alive)
}

func TestCloseReapsStaleRecord(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(r.dir, 0o700))
	plantDeadRecord(t, r, "ghost")

	require.NoError(t, r.Close("ghost"))
	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCloseMissing(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Close("nope"), ErrNotFound)
}

func TestCloseAllEmptyIsTriviallySuccessful(t *testing.T) {
	r := newTestRegistry(t)
	results, err := r.CloseAll()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCloseAllClosesEverything(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range []string{"one", "two"} {
		_, _, err := r.Create(name, backend.KindProcess, "/bin/sh")
		require.NoError(t, err)
	}

	results, err := r.CloseAll()
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err, res.Name)
	}

	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetAttachState(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Create("work", backend.KindProcess, "/bin/sh")
	require.NoError(t, err)
	defer r.Close("work")

	require.NoError(t, r.SetAttachState("work", StateAttached))
	rec, err := r.load("work")
	require.NoError(t, err)
	assert.Equal(t, StateAttached, rec.AttachState)
}

func TestListSkipsUnreadableRecord(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(r.dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(r.dir, "broken.json"), []byte("{not json"), 0o600))

	entries, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
