package logger

import (
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
)

// slogLogger adapts the standard log/slog package to the Logger interface.
//
// The level variable is shared between a logger and all of its With children, so
// SetLevel on any of them adjusts the whole family at once.
type slogLogger struct {
	base  *slog.Logger
	level *slog.LevelVar
}

// NewSlog creates a slog-backed Logger with the given minimum level.
//
// With ENV=development it renders human-readable colored output via console-slog;
// otherwise it emits JSON records keyed with "ts" for the timestamp.
func NewSlog(level Level) Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(toSlog(level))

	var handler slog.Handler
	if os.Getenv("ENV") == "development" {
		handler = console.NewHandler(os.Stdout, &console.HandlerOptions{
			AddSource: true,
			Level:     levelVar,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: levelVar,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}

	return &slogLogger{
		base:  slog.New(handler),
		level: levelVar,
	}
}

func (l *slogLogger) Debug(msg string, keysAndValues ...any) {
	l.base.Debug(msg, keysAndValues...)
}

func (l *slogLogger) Info(msg string, keysAndValues ...any) {
	l.base.Info(msg, keysAndValues...)
}

func (l *slogLogger) Warn(msg string, keysAndValues ...any) {
	l.base.Warn(msg, keysAndValues...)
}

func (l *slogLogger) Error(msg string, keysAndValues ...any) {
	l.base.Error(msg, keysAndValues...)
}

func (l *slogLogger) With(keyValues ...any) Logger {
	return &slogLogger{
		base:  l.base.With(keyValues...),
		level: l.level,
	}
}

func (l *slogLogger) Level() Level {
	return fromSlog(l.level.Level())
}

func (l *slogLogger) SetLevel(level Level) {
	l.level.Set(toSlog(level))
}

func toSlog(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func fromSlog(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level <= slog.LevelInfo:
		return InfoLevel
	case level <= slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}
