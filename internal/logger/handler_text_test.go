package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(color bool) (*bytes.Buffer, *slog.Logger) {
	buf := new(bytes.Buffer)
	h := NewConsoleHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}, color)
	return buf, slog.New(h)
}

func TestConsoleHandlerLineShape(t *testing.T) {
	buf, log := newTestConsole(false)

	log.Info("segment posted", "share", "ABCDEFGHIJKLMNOPQRSTUVWX", "bytes", 768000)

	line := buf.String()
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[INFO\] segment posted`, line)
	assert.Contains(t, line, "share=ABCDEFGHIJKLMNOPQRSTUVWX")
	assert.Contains(t, line, "bytes=768000")
}

func TestConsoleHandlerLevels(t *testing.T) {
	t.Run("tags", func(t *testing.T) {
		buf, log := newTestConsole(false)
		log.Debug("d")
		log.Info("i")
		log.Warn("w")
		log.Error("e")

		out := buf.String()
		assert.Contains(t, out, "[DEBUG] d")
		assert.Contains(t, out, "[INFO] i")
		assert.Contains(t, out, "[WARN] w")
		assert.Contains(t, out, "[ERROR] e")
	})

	t.Run("records below the level are dropped", func(t *testing.T) {
		buf := new(bytes.Buffer)
		h := NewConsoleHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
		require.False(t, h.Enabled(context.Background(), slog.LevelInfo))
		require.True(t, h.Enabled(context.Background(), slog.LevelWarn))

		log := slog.New(h)
		log.Info("hidden")
		log.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("nil options default to info", func(t *testing.T) {
		h := NewConsoleHandler(new(bytes.Buffer), nil, false)
		assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
		assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	})
}

func TestConsoleHandlerQuoting(t *testing.T) {
	buf, log := newTestConsole(false)

	log.Info("msg",
		"plain", "value",
		"spaced", "two words",
		"equals", "a=b",
		"empty", "")

	out := buf.String()
	assert.Contains(t, out, "plain=value")
	assert.Contains(t, out, `spaced="two words"`)
	assert.Contains(t, out, `equals="a=b"`)
	assert.Contains(t, out, `empty=""`)
}

func TestConsoleHandlerValueKinds(t *testing.T) {
	buf, log := newTestConsole(false)

	when := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	log.Info("msg",
		slog.Int64("count", -3),
		slog.Uint64("total", 9),
		slog.Float64("ratio", 0.5),
		slog.Bool("ok", true),
		slog.Duration("took", 1500*time.Millisecond),
		slog.Time("at", when))

	out := buf.String()
	assert.Contains(t, out, "count=-3")
	assert.Contains(t, out, "total=9")
	assert.Contains(t, out, "ratio=0.500")
	assert.Contains(t, out, "ok=true")
	assert.Contains(t, out, "took=1.5s")
	assert.Contains(t, out, "at=2026-08-24T12:00:00Z")
}

func TestConsoleHandlerGroups(t *testing.T) {
	t.Run("group names become key prefixes", func(t *testing.T) {
		buf, log := newTestConsole(false)
		log.WithGroup("nntp").Info("posted", "server", "news.example.com")
		assert.Contains(t, buf.String(), "nntp.server=news.example.com")
	})

	t.Run("attrs attached before a group keep their keys", func(t *testing.T) {
		buf, log := newTestConsole(false)
		log.With("worker", 2).WithGroup("nntp").Info("posted", "code", 240)

		out := buf.String()
		assert.Contains(t, out, "worker=2")
		assert.Contains(t, out, "nntp.code=240")
	})

	t.Run("inline group values recurse", func(t *testing.T) {
		buf, log := newTestConsole(false)
		log.Info("msg", slog.Group("queue", slog.String("state", "pending")))
		assert.Contains(t, buf.String(), "queue.state=pending")
	})
}

func TestConsoleHandlerColor(t *testing.T) {
	buf, log := newTestConsole(true)

	log.Error("post failed", Err(assert.AnError), Share("ABCD"))

	out := buf.String()
	assert.Contains(t, out, ansiRed+"ERROR"+ansiReset)
	// The error key is painted red, ordinary keys cyan.
	assert.Contains(t, out, ansiRed+KeyError+ansiReset+"=")
	assert.Contains(t, out, ansiCyan+KeyShare+ansiReset+"=ABCD")
}

func TestConsoleHandlerDropsEmptyAttrs(t *testing.T) {
	buf, log := newTestConsole(false)
	log.Info("msg", Err(nil))
	assert.Equal(t, 0, bytes.Count(buf.Bytes(), []byte("=")))
}
