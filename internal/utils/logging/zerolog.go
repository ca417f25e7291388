package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerolog returns a Logger writing JSON lines to stderr at the given level.
// When pretty is true, output is rendered with zerolog's console writer instead.
func NewZerolog(level zerolog.Level, pretty bool) Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, ctx Fields) { l.emit(l.zl.Debug(), msg, ctx) }

func (l *zerologLogger) Info(msg string, ctx Fields) { l.emit(l.zl.Info(), msg, ctx) }

func (l *zerologLogger) Warn(msg string, ctx Fields) { l.emit(l.zl.Warn(), msg, ctx) }

func (l *zerologLogger) Error(msg string, ctx Fields) { l.emit(l.zl.Error(), msg, ctx) }

func (l *zerologLogger) emit(ev *zerolog.Event, msg string, ctx Fields) {
	if len(ctx) > 0 {
		ev = ev.Fields(map[string]any(ctx))
	}
	ev.Msg(msg)
}
