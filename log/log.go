// Copyright 2026 R5 Labs
// This file is part of the r5peer library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

// Package log provides the leveled, structured key-value logger used
// across every peer component. Call sites look like:
//
//	log.Info("registered neighbour", "url", url, "healthy", true)
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the severity of a log record.
type Level int

const (
	LevelCrit Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelCrit:
		return "CRIT"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "?????"
	}
}

var levelColor = map[Level]int{
	LevelCrit:  35, // magenta
	LevelError: 31, // red
	LevelWarn:  33, // yellow
	LevelInfo:  32, // green
	LevelDebug: 36, // cyan
}

// Logger is the handle returned by New; the package-level functions
// (Info, Warn, Error, Debug, Crit) operate on a shared default
// instance so call sites never need to thread one through explicitly.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	level   Level
	ctx     []interface{}
}

var std = New(os.Stderr)

// New builds a Logger writing to w, colorizing output when w is a
// terminal.
func New(w io.Writer) *Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Logger{out: w, color: color, level: LevelInfo}
}

// SetLevel adjusts the minimum severity recorded by the default logger.
func SetLevel(l Level) { std.mu.Lock(); std.level = l; std.mu.Unlock() }

// SetOutputFile redirects the default logger to a rotating file,
// using lumberjack for size-based rotation.
func SetOutputFile(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	std.mu.Lock()
	std.out = lj
	std.color = false
	std.mu.Unlock()
}

// EnableColorAutoDetect wraps the given file with a colorable writer
// on platforms (namely Windows) where ANSI escapes otherwise render
// as garbage; on every other platform it is a no-op passthrough.
func EnableColorAutoDetect(f *os.File) io.Writer {
	return colorable.NewColorable(f)
}

// New returns a child Logger with the given context fields appended
// to every record it emits.
func (l *Logger) New(ctx ...interface{}) *Logger {
	return &Logger{out: l.out, color: l.color, level: l.level, ctx: append(append([]interface{}{}, l.ctx...), ctx...)}
}

func (l *Logger) log(lvl Level, msg string, ctx []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl > l.level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z0700")
	var b []byte
	if l.color {
		b = append(b, fmt.Sprintf("\x1b[%dm%-5s\x1b[0m[%s] %s", levelColor[lvl], lvl, ts, msg)...)
	} else {
		b = append(b, fmt.Sprintf("%-5s[%s] %s", lvl, ts, msg)...)
	}
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		b = append(b, fmt.Sprintf(" %v=%v", all[i], all[i+1])...)
	}
	if lvl == LevelCrit {
		b = append(b, fmt.Sprintf(" stack=%v", stack.Trace().TrimRuntime())...)
	}
	b = append(b, '\n')
	l.out.Write(b)
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }
func (l *Logger) Crit(msg string, ctx ...interface{})  { l.log(LevelCrit, msg, ctx) }

// Package-level convenience functions operate on the default logger.
func Debug(msg string, ctx ...interface{}) { std.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { std.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { std.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { std.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { std.Crit(msg, ctx...) }

// NewContext returns a child of the default logger with context fields.
func NewContext(ctx ...interface{}) *Logger { return std.New(ctx...) }

// ParseLevel maps a lowercase level name to a Level, defaulting to
// LevelInfo for unrecognised input. Matching is case-sensitive.
func ParseLevel(name string) Level {
	switch name {
	case "crit", "critical":
		return LevelCrit
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}
