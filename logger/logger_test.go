package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeLine(t *testing.T) {
	require := require.New(t)

	require.Equal(`C\tRDP1\t42`, EscapeLine("C\tRDP1\t42"))
	require.Equal(`APS\t1/0/1000/0\r\n`, EscapeLine("APS\t1/0/1000/0\r\n"))
	require.Equal(`<STX>C\tSTR1`, EscapeLine("\x02C\tSTR1"))
	require.Equal("plain", EscapeLine("plain"))
}

func TestLevelString(t *testing.T) {
	require := require.New(t)

	require.Equal("debug", DebugLevel.String())
	require.Equal("info", InfoLevel.String())
	require.Equal("warn", WarnLevel.String())
	require.Equal("error", ErrorLevel.String())
	require.Equal("unknown", Level(42).String())
}

func TestRecorderCapture(t *testing.T) {
	require := require.New(t)

	rec := NewRecorder()
	rec.Info("connected", "host", "127.0.0.1")
	rec.Warn("dropping invalid reply line", "raw", EscapeLine("Z\tFOO1"))

	entries := rec.Entries()
	require.Len(entries, 2)
	require.Equal(InfoLevel, entries[0].Level)
	require.Equal([]any{"host", "127.0.0.1"}, entries[0].KeyValues)

	require.True(rec.Has(WarnLevel, "invalid reply"))
	require.False(rec.Has(ErrorLevel, "invalid reply"))
}

func TestRecorderWithSharesEntries(t *testing.T) {
	require := require.New(t)

	rec := NewRecorder()
	child := rec.With("component", "poller")
	child.Warn("final position read failed", "axis", 1)

	// the child's records stay visible through the root
	require.True(rec.Has(WarnLevel, "final position read failed"))

	entries := rec.Entries()
	require.Len(entries, 1)
	require.Equal([]any{"component", "poller", "axis", 1}, entries[0].KeyValues)

	// context accumulates without leaking back to the parent
	rec.Info("bare")
	entries = rec.Entries()
	require.Empty(entries[1].KeyValues)
}

func TestRecorderLevelFilter(t *testing.T) {
	require := require.New(t)

	rec := NewRecorder()
	rec.SetLevel(WarnLevel)
	require.Equal(WarnLevel, rec.Level())

	rec.Debug("noise")
	rec.Info("noise")
	rec.Error("kept")

	require.Len(rec.Entries(), 1)
	require.True(rec.Has(ErrorLevel, "kept"))
}

func TestSlogLevels(t *testing.T) {
	require := require.New(t)

	l := NewSlog(InfoLevel)
	require.Equal(InfoLevel, l.Level())

	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())

	// With children share the parent's level variable
	child := l.With("component", "manager")
	child.SetLevel(ErrorLevel)
	require.Equal(ErrorLevel, l.Level())
}
