package logutil

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "descriptor created", "kind", "tensor")

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "kind=tensor")
	assert.Contains(t, out, "logutil_test.go")
}

func TestTraceRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	slog.SetDefault(NewLogger(&buf, slog.LevelInfo))
	Trace("unsichtbar")
	assert.Empty(t, buf.String())

	slog.SetDefault(NewLogger(&buf, LevelTrace))
	Trace("sichtbar")
	assert.Contains(t, buf.String(), "sichtbar")
}
