package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// Record is a single structured log entry handed to a Sink.
type Record struct {
	Time  time.Time
	Level Level
	Msg   string
	// KV holds key/value pairs in call order: key, value, key, value, ...
	KV []any
}

// Value returns the value logged under key, if any.
func (r Record) Value(key string) (any, bool) {
	for i := 0; i+1 < len(r.KV); i += 2 {
		if k, ok := r.KV[i].(string); ok && k == key {
			return r.KV[i+1], true
		}
	}
	return nil, false
}

// Sink receives records that passed the level filter.
type Sink interface {
	Write(Record)
}

// Logger filters records by level and forwards them to a Sink.
type Logger struct {
	sink     Sink
	minLevel Level
}

// New returns a Logger writing to sink. A nil sink discards everything.
func New(sink Sink, level Level) *Logger {
	return &Logger{sink: sink, minLevel: level}
}

// Discard returns a Logger that drops all records.
func Discard() *Logger {
	return New(nil, LevelError)
}

func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.log(LevelDebug, msg, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.log(LevelInfo, msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.log(LevelWarn, msg, kv...)
}

func (l *Logger) Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	l.log(LevelError, msg, extended...)
}

func (l *Logger) log(level Level, msg string, kv ...any) {
	if l == nil || l.sink == nil {
		return
	}
	if level.rank() < l.minLevel.rank() {
		return
	}
	l.sink.Write(Record{
		Time:  time.Now(),
		Level: level,
		Msg:   msg,
		KV:    kv,
	})
}

// writerSink renders records as single text lines:
//
//	2025-01-01T00:00:00Z [LEVEL] msg key=value ...
type writerSink struct {
	mu     sync.Mutex
	logger *stdlog.Logger
}

// NewWriterSink returns a Sink that writes one line per record to w.
func NewWriterSink(w io.Writer) Sink {
	return &writerSink{logger: stdlog.New(w, "", 0)}
}

func (s *writerSink) Write(r Record) {
	line := r.Time.Format(time.RFC3339Nano) + " [" + string(r.Level) + "] " + r.Msg
	if len(r.KV) > 0 {
		line += formatKVs(r.KV...)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Println(line)
}

// Recorder is a Sink that keeps records in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Write(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Find returns the records whose message equals msg.
func (r *Recorder) Find(msg string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Msg == msg {
			out = append(out, rec)
		}
	}
	return out
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide logger writing to stderr.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(NewWriterSink(os.Stderr), LevelInfo)
	})
	return defaultLogger
}

func SetLevel(l Level) {
	Default().SetLevel(l)
}

func Debug(msg string, kv ...any) {
	Default().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	Default().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	Default().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	Default().Error(msg, err, kv...)
}

func formatKVs(kv ...any) string {
	out := ""
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out += " " + key + "=" + safeSprint(kv[i+1])
	}
	// If odd number of args, last one is ignored.
	return out
}

func safeSprint(v any) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t\n\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
