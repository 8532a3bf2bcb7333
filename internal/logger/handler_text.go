package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ANSI escape sequences for terminal output.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// ConsoleHandler is a slog.Handler that renders one human-readable line
// per record:
//
//	[2026-08-24 15:04:05] [INFO] segment posted share=ABCD... bytes=768000
//
// slog's stock TextHandler quotes every string and carries no color; on a
// terminal this handler colors the level tag and attribute keys, paints
// the error field red so transfer failures stand out in scrollback, and
// quotes only values that would break key=value scanning. Group names
// become dotted key prefixes.
type ConsoleHandler struct {
	level slog.Leveler
	w     io.Writer
	mu    *sync.Mutex

	// prefix is the accumulated group path ("a.b."); preformatted holds
	// attrs attached via WithAttrs, rendered under the prefix current at
	// attach time.
	prefix       string
	preformatted []byte

	color bool
}

// NewConsoleHandler builds a handler writing to w. Records below the
// configured level are dropped; a nil opts means info and above.
func NewConsoleHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ConsoleHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ConsoleHandler{level: level, w: w, mu: &sync.Mutex{}, color: color}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders the record into a local buffer and takes the lock only
// for the final write.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, "2006-01-02 15:04:05")
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	buf = append(buf, h.preformatted...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ConsoleHandler) appendLevel(buf []byte, level slog.Level) []byte {
	var tag, color string
	switch {
	case level < slog.LevelInfo:
		tag, color = "DEBUG", ansiGray
	case level < slog.LevelWarn:
		tag, color = "INFO", ansiGreen
	case level < slog.LevelError:
		tag, color = "WARN", ansiYellow
	default:
		tag, color = "ERROR", ansiRed
	}
	if !h.color {
		return append(buf, tag...)
	}
	buf = append(buf, color...)
	buf = append(buf, tag...)
	return append(buf, ansiReset...)
}

// appendAttr renders one attribute as " key=value". Group values recurse
// with the group name joined onto the key prefix; empty attrs are
// dropped, following slog conventions.
func (h *ConsoleHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}

	key := prefix + a.Key
	buf = append(buf, ' ')
	switch {
	case !h.color:
		buf = append(buf, key...)
	case key == KeyError:
		buf = append(buf, ansiRed...)
		buf = append(buf, key...)
		buf = append(buf, ansiReset...)
	default:
		buf = append(buf, ansiCyan...)
		buf = append(buf, key...)
		buf = append(buf, ansiReset...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendText(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return appendText(buf, fmt.Sprint(v.Any()))
	}
}

// appendText quotes only values that would be ambiguous in key=value
// output: empty strings and anything holding whitespace, quotes or '='.
func appendText(buf []byte, s string) []byte {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		c.preformatted = h.appendAttr(c.preformatted, h.prefix, a)
	}
	return c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix += name + "."
	return c
}

// clone shares the writer and its mutex with the parent.
func (h *ConsoleHandler) clone() *ConsoleHandler {
	return &ConsoleHandler{
		level:        h.level,
		w:            h.w,
		mu:           h.mu,
		prefix:       h.prefix,
		preformatted: append([]byte(nil), h.preformatted...),
		color:        h.color,
	}
}
