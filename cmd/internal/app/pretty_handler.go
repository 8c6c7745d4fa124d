package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	pal    palette
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: useColor,
		pal:   newPalette(),
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("ts=")
	b.WriteString(h.paint(h.pal.dim, ts.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString("lvl=")
	b.WriteString(h.levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString("msg=")
	b.WriteString(h.paint(h.pal.bold, r.Message))

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			b.WriteByte(' ')
			b.WriteString("src=")
			b.WriteString(h.paint(h.pal.dim, fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
		}
	}

	for _, a := range h.attrs {
		h.appendAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, "")
		return true
	})

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}
	if len(h.groups) > 0 {
		fullKey = strings.Join(h.groups, ".") + "." + fullKey
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, fullKey)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(remapPrettyKey(fullKey))
	b.WriteByte('=')
	b.WriteString(h.prettyValue(fullKey, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch strings.TrimSpace(key) {
	case "method":
		return h.colorizeMethod(strings.ToUpper(strings.TrimSpace(v.String())))
	case "path", "url":
		return h.paint(h.pal.cyan, strings.TrimSpace(v.String()))
	case "status":
		if n, ok := valueToInt64(v); ok {
			return h.colorizeStatus(int(n))
		}
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return h.colorizeDurationMS(n)
		}
	case "result":
		return h.colorizeResult(strings.ToLower(strings.TrimSpace(v.String())))
	case "err":
		return h.paint(h.pal.red, quoteIfNeeded(valueToString(v)))
	}

	return quoteIfNeeded(valueToString(v))
}

func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint(h.pal.red, "[ERROR]")
	case level >= slog.LevelWarn:
		return h.paint(h.pal.yellow, "[WARN]")
	case level < slog.LevelInfo:
		return h.paint(h.pal.magenta, "[DEBUG]")
	default:
		return h.paint(h.pal.blue, "[INFO]")
	}
}

func (h *prettyHandler) colorizeMethod(m string) string {
	switch m {
	case "GET":
		return h.paint(h.pal.blue, m)
	case "POST":
		return h.paint(h.pal.green, m)
	case "DELETE":
		return h.paint(h.pal.red, m)
	default:
		return h.paint(h.pal.yellow, m)
	}
}

func (h *prettyHandler) colorizeStatus(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return h.paint(h.pal.red, s)
	case code >= 400:
		return h.paint(h.pal.yellow, s)
	case code >= 300:
		return h.paint(h.pal.cyan, s)
	default:
		return h.paint(h.pal.green, s)
	}
}

func (h *prettyHandler) colorizeDurationMS(ms int64) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return h.paint(h.pal.red, s)
	case ms >= 250:
		return h.paint(h.pal.yellow, s)
	default:
		return h.paint(h.pal.dim, s)
	}
}

func (h *prettyHandler) colorizeResult(r string) string {
	switch r {
	case "success":
		return h.paint(h.pal.green, r)
	case "redirect":
		return h.paint(h.pal.cyan, r)
	case "client_error":
		return h.paint(h.pal.yellow, r)
	case "server_error":
		return h.paint(h.pal.red, r)
	default:
		return r
	}
}

func (h *prettyHandler) paint(c *color.Color, s string) string {
	if !h.color || c == nil {
		return s
	}
	return c.Sprint(s)
}

type palette struct {
	red, yellow, green, blue, cyan, magenta, dim, bold *color.Color
}

func newPalette() palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		c.EnableColor()
		return c
	}
	return palette{
		red:     mk(color.FgRed),
		yellow:  mk(color.FgYellow),
		green:   mk(color.FgGreen),
		blue:    mk(color.FgBlue),
		cyan:    mk(color.FgCyan),
		magenta: mk(color.FgMagenta),
		dim:     mk(color.Faint),
		bold:    mk(color.Bold),
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}
