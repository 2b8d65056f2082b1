// logutil.go - Logger-Aufbau und Trace-Level
//
// Dieses Modul enthaelt:
// - LevelTrace: Log-Level unterhalb von Debug
// - NewLogger: slog-Logger mit Text-Handler und Quellangabe
// - Trace/TraceContext: Kurzformen fuer Trace-Ausgaben
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

// LevelTrace liegt unterhalb von slog.LevelDebug
const LevelTrace slog.Level = -8

// NewLogger erstellt einen Text-Logger mit dem gegebenen Level.
// Quellpfade werden auf den Dateinamen gekuerzt, TRACE wird benannt.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

// Trace loggt auf LevelTrace ueber den Default-Logger
func Trace(msg string, args ...any) {
	TraceContext(context.TODO(), msg, args...)
}

// TraceContext loggt auf LevelTrace mit Kontext
func TraceContext(ctx context.Context, msg string, args ...any) {
	if logger := slog.Default(); logger.Enabled(ctx, LevelTrace) {
		logger.Log(ctx, LevelTrace, msg, args...)
	}
}
