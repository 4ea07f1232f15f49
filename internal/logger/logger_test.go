package logger

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"trace", LevelDebug},
		{"info", LevelInfo},
		{" Info ", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()

	l, err := New(Options{Level: LevelInfo, Dir: dir, Name: "core"})
	require.NoError(t, err)

	l.WithPrefix("store").Info("opened %s", "cache.db")
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(FilePath(dir, "core", time.Now()))
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "[INFO] [store] opened cache.db")
	assert.NotContains(t, text, "should not appear")
}

func TestConsoleAndPrefixChain(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: LevelDebug, Console: true, Stderr: &buf})
	require.NoError(t, err)

	l.WithPrefix("parent").WithPrefix("child").Warn("careful")
	assert.Contains(t, buf.String(), "[WARN] [parent:child] careful")
}

func TestSetLevelAffectsViews(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: LevelInfo, Console: true, Stderr: &buf})
	require.NoError(t, err)
	view := l.WithPrefix("view")

	view.Debug("debug1")
	l.SetLevel(LevelDebug)
	view.Debug("debug2")

	assert.NotContains(t, buf.String(), "debug1")
	assert.Contains(t, buf.String(), "debug2")
}

func TestNoOutputDisables(t *testing.T) {
	l, err := New(Options{Level: LevelDebug})
	require.NoError(t, err)
	assert.Equal(t, LevelNone, l.GetLevel())

	l.Error("dropped")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestGlobalHelpers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: LevelDebug, Console: true, Stderr: &buf}))
	t.Cleanup(func() { _ = Init(Options{Level: LevelNone}) })

	IPCRequest("ping", "abc")
	IPCResponse("ping", "abc", true)
	IPCResponse("timeline.get", "def", false)
	StreamConnected("Home")
	StreamDisconnected("Home", errors.New("eof"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "[ipc] -> ping id=abc")
	assert.Contains(t, lines[2], "[INFO] [ipc] <- timeline.get id=def failed")
	assert.Contains(t, lines[4], "[WARN] [stream] disconnected from Home: eof")
}
