package inject

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveLiteral(t *testing.T) {
	got, err := Resolve("plain text", "", "")
	require.NoError(t, err)
	assert.Equal(t, "plain text", got)
}

func TestResolveRejectsBothSources(t *testing.T) {
	_, err := Resolve("text", "file.json", "a.b")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestResolveRejectsNeitherSource(t *testing.T) {
	_, err := Resolve("", "", "")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestResolveRequiresConfigAndKeyTogether(t *testing.T) {
	_, err := Resolve("", "file.json", "")
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = Resolve("", "", "a.b")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestFromFileNestedLookup(t *testing.T) {
	path := writeJSON(t, `{
		"profiles": {
			"myserver": {
				"password": "p@ss!$(word) | \"quoted\""
			}
		}
	}`)

	got, err := FromFile(path, "profiles.myserver.password")
	require.NoError(t, err)
	assert.Equal(t, `p@ss!$(word) | "quoted"`, got,
		"shell-special characters must arrive byte for byte")
}

func TestFromFileMissingKey(t *testing.T) {
	path := writeJSON(t, `{"profiles": {"myserver": {}}}`)

	_, err := FromFile(path, "profiles.myserver.password")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), "profiles.myserver.password")
}

func TestFromFileTraversalThroughNonObject(t *testing.T) {
	path := writeJSON(t, `{"profiles": "oops"}`)

	_, err := FromFile(path, "profiles.myserver.password")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFromFileNonStringLeaf(t *testing.T) {
	path := writeJSON(t, `{"port": 22}`)

	_, err := FromFile(path, "port")
	assert.ErrorIs(t, err, ErrNotAString)
}

func TestFromFileMissingFile(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.json"), "a")
	assert.Error(t, err)
}

func TestFromFileMalformedJSON(t *testing.T) {
	path := writeJSON(t, `{not json`)
	_, err := FromFile(path, "a")
	assert.Error(t, err)
}
