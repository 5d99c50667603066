// Package logger provides the slog setup shared by catbot and catcleaner.
//
// Records are rendered one per line:
//
//	2006-01-02T15:04:05.000Z [INFO] [mastodon] replied | status=1093, outcome=image
//
// A "component" attribute, usually attached once with logger.With, is lifted
// out of the attribute list into the bracketed tag after the level. Values
// containing spaces, separators or line breaks are quoted so that post text
// never splits a record across lines.
//
// Two levels extend the slog set: [LevelTrace] for stream frames and HTTP
// chatter, and [LevelFail] for errors that stop a binary.
package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

// ComponentKey is the attribute rendered as the bracketed tag.
const ComponentKey = "component"

var levelNames = []struct {
	level slog.Level
	name  string
}{
	{LevelTrace, "TRACE"},
	{LevelDebug, "DEBUG"},
	{LevelInfo, "INFO"},
	{LevelWarn, "WARN"},
	{LevelError, "ERROR"},
	{LevelFail, "FAIL"},
}

// levelName returns the tag of the highest named level not above l.
func levelName(l slog.Level) string {
	name := levelNames[0].name
	for _, ln := range levelNames {
		if l >= ln.level {
			name = ln.name
		}
	}
	return name
}

// ParseLevel converts a config level name to a slog.Level. Unknown names
// give LevelInfo; config validation rejects them before they get here.
func ParseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	for _, ln := range levelNames {
		if strings.EqualFold(s, ln.name) {
			return ln.level
		}
	}
	return LevelInfo
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

var newline = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// Handler writes records in the single-line format described in the package
// documentation. Handlers derived through WithAttrs and WithGroup share the
// writer and its lock.
type Handler struct {
	out   *output
	level slog.Leveler

	component string
	prefix    string // group path, "" or "a.b."
	preset    []byte // rendered WithAttrs attributes
}

type output struct {
	mu sync.Mutex
	w  io.Writer
}

// NewHandler returns a Handler writing to w. The level is consulted on every
// record so a shared *slog.LevelVar takes effect immediately.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = LevelInfo
	}
	return &Handler{out: &output{w: w}, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	attrs := bytes.NewBuffer(append([]byte(nil), h.preset...))
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == ComponentKey {
			component = a.Value.String()
			return true
		}
		appendAttr(attrs, h.prefix, a)
		return true
	})

	var buf bytes.Buffer
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	buf.WriteString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString(" [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	if component != "" {
		buf.WriteByte('[')
		buf.WriteString(component)
		buf.WriteString("] ")
	}
	buf.WriteString(escapeBreaks(r.Message))
	if attrs.Len() > 0 {
		buf.WriteString(" | ")
		buf.Write(attrs.Bytes())
	}
	buf.WriteString(newline)

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler. A top-level component attribute
// replaces the tag instead of being rendered.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	buf := bytes.NewBuffer(append([]byte(nil), h.preset...))
	for _, a := range attrs {
		if h.prefix == "" && a.Key == ComponentKey {
			next.component = a.Value.String()
			continue
		}
		appendAttr(buf, h.prefix, a)
	}
	next.preset = buf.Bytes()
	return &next
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendAttr renders a as key=value, flattening groups into dotted keys.
func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, sub, ga)
		}
		return
	}
	if buf.Len() > 0 {
		buf.WriteString(", ")
	}
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " ,=|\"\r\n\t") {
		return strconv.Quote(s)
	}
	return s
}

func escapeBreaks(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
}

// ///////////////////////////////////////////////
// Constructor
// ///////////////////////////////////////////////

// Options selects where log output goes.
type Options struct {
	// File is the rotating log file. Empty disables file output.
	File string
	// MaxSizeMB triggers rotation. Zero means 10.
	MaxSizeMB int
	// Stderr tees every record to standard error.
	Stderr bool
	// Level is shared with the config watcher. Nil means LevelInfo.
	Level *slog.LevelVar
}

// ErrNoDestination is returned by [New] when neither a file nor stderr is selected.
var ErrNoDestination = errors.New("logger: no output destination")

// New builds a logger for opts. Close the returned io.Closer on exit to
// release the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if opts.File != "" {
		size := opts.MaxSizeMB
		if size <= 0 {
			size = 10
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    size,
			MaxBackups: 3,
			MaxAge:     28,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	switch len(writers) {
	case 0:
		return nil, nil, ErrNoDestination
	case 1:
	default:
		writers = []io.Writer{io.MultiWriter(writers...)}
	}

	var level slog.Leveler = LevelInfo
	if opts.Level != nil {
		level = opts.Level
	}
	return slog.New(NewHandler(writers[0], level)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// Trace logs at LevelTrace.
func Trace(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs at LevelFail.
func Fail(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelFail, msg, args...)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
