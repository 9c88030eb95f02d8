package logger

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func reset(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetTimestamps(false)
		SetOutput(os.Stderr)
		now = time.Now
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	reset(t)

	SetVerbose(false)
	assert.False(t, IsVerbose())

	SetVerbose(true)
	assert.True(t, IsVerbose())
}

func TestVerboseGating(t *testing.T) {
	buf := reset(t)

	Debug("hidden %d", 1)
	Info("hidden")
	Section("Hidden")
	assert.Empty(t, buf.String())

	SetVerbose(true)
	Debug("test message %s", "arg")
	Info("indexed %d notes", 3)
	Section("Index")
	assert.Equal(t, "[DEBUG] test message arg\n[INFO] indexed 3 notes\n\n=== Index ===\n", buf.String())
}

func TestWarnAndErrorAlwaysPrint(t *testing.T) {
	buf := reset(t)

	Warn("slow provider")
	Error("failed: %v", "boom")
	assert.Equal(t, "[WARN] slow provider\n[ERROR] failed: boom\n", buf.String())
}

func TestTimestamps(t *testing.T) {
	buf := reset(t)
	now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	SetTimestamps(true)
	Warn("x")
	assert.Equal(t, "2024-01-02T03:04:05Z [WARN] x\n", buf.String())
	assert.Equal(t, buf, Output())
}
