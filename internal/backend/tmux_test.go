package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTmuxTarget(t *testing.T) {
	assert.Equal(t, "termhold_work", TmuxTarget("work"))
}

func TestExtractBetweenMarkers(t *testing.T) {
	start := "__TH_1___START"
	end := "__TH_1___END"

	pane := "$ echo '__TH_1___START'\n" +
		"__TH_1___START\n" +
		"$ ls\n" +
		"file1\n" +
		"file2\n" +
		"$ echo '__TH_1___END'\n" +
		"__TH_1___END\n" +
		"$ "

	out, done := extractBetweenMarkers(pane, start, end, "ls")
	assert.True(t, done)
	assert.Equal(t, "file1\nfile2", out, "command echo and sentinels must be stripped")
}

func TestExtractBetweenMarkersWaitsForEndSentinel(t *testing.T) {
	start := "__TH_1___START"
	end := "__TH_1___END"

	// The command is still running: only the start sentinel has echoed.
	pane := "$ echo '__TH_1___START'\n" +
		"__TH_1___START\n" +
		"$ sleep 60\n"
	_, done := extractBetweenMarkers(pane, start, end, "sleep 60")
	assert.False(t, done)

	// The end sentinel only appears inside its own command echo; the
	// command before it has not finished.
	pane += "$ echo '__TH_1___END'\n"
	_, done = extractBetweenMarkers(pane, start, end, "sleep 60")
	assert.False(t, done)
}

func TestExtractBetweenMarkersRestartsOnRepeatedStart(t *testing.T) {
	start := "__TH_9___START"
	end := "__TH_9___END"

	// Scrollback noise before the real run must not leak into the capture.
	pane := "stale noise\n" +
		start + "\n" +
		"old partial\n" +
		start + "\n" +
		"$ true\n" +
		"real output\n" +
		end + "\n"

	out, done := extractBetweenMarkers(pane, start, end, "true")
	assert.True(t, done)
	assert.Equal(t, "real output", out)
}

func TestExtractBetweenMarkersScrolledOutStart(t *testing.T) {
	start := "__TH_3___START"
	end := "__TH_3___END"

	// A command that outgrew the capture window: the start marker scrolled
	// away and only the tail plus the end sentinel remain. This must not
	// pass as a successful empty capture.
	pane := "line 998\nline 999\nline 1000\n" + end + "\n$ "
	_, done := extractBetweenMarkers(pane, start, end, "yes | head -5000")
	assert.False(t, done)
}

func TestExtractBetweenMarkersEmptyOutput(t *testing.T) {
	start := "__TH_2___START"
	end := "__TH_2___END"

	pane := start + "\n$ true\n" + end + "\n"
	out, done := extractBetweenMarkers(pane, start, end, "true")
	assert.True(t, done)
	assert.Equal(t, "", out)
}

func TestSelectKindProcess(t *testing.T) {
	kind, err := SelectKind("process")
	assert.NoError(t, err)
	assert.Equal(t, KindProcess, kind)
}

func TestOptionsPollIntervalDefault(t *testing.T) {
	assert.Equal(t, defaultPollInterval, Options{}.pollInterval())
	assert.Equal(t, Options{PollInterval: 1}.PollInterval, Options{PollInterval: 1}.pollInterval())
}
