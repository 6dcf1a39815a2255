// Package log provides the category logger used across cdpmux. Every line
// carries a category such as "cdp:send" or "ws", which can be filtered with
// a regular expression.
package log

import (
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is a category logger on top of logrus. Every method is safe on a
// nil *Logger and then does nothing.
type Logger struct {
	out    *logrus.Logger
	force  bool
	filter *regexp.Regexp

	mu   sync.Mutex
	last time.Time
}

// NewNullLogger returns a logger that discards every line.
func NewNullLogger() *Logger {
	return New(nil, false, nil)
}

// New wraps out. A nil out discards everything. With force set, lines below
// the current level are still written, at info level. A non-nil filter keeps
// only categories it matches.
func New(out *logrus.Logger, force bool, filter *regexp.Regexp) *Logger {
	if out == nil {
		out = logrus.New()
		out.SetOutput(io.Discard)
	}
	return &Logger{out: out, force: force, filter: filter}
}

// Setup builds a logger writing to w at the named level. An empty filter
// lets every category through.
func Setup(w io.Writer, level, filter string) (*Logger, error) {
	out := logrus.New()
	out.SetOutput(w)
	out.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return nil, fmt.Errorf("invalid log filter %q: %w", filter, err)
		}
	}

	l := New(out, false, re)
	if level != "" {
		if err := l.SetLevel(level); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Logger) Tracef(category, msg string, args ...any) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category, msg string, args ...any) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category, msg string, args ...any) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category, msg string, args ...any) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category, msg string, args ...any) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// Logf writes one line tagged with category, the calling goroutine and the
// time since the previous line.
func (l *Logger) Logf(level logrus.Level, category, msg string, args ...any) {
	if l == nil {
		return
	}
	enabled := l.out.IsLevelEnabled(level)
	if !enabled && !l.force {
		return
	}
	if l.filter != nil && !l.filter.MatchString(category) {
		return
	}

	entry := l.out.WithFields(logrus.Fields{
		"category":  category,
		"elapsed":   fmt.Sprintf("%d ms", l.sinceLast().Milliseconds()),
		"goroutine": goroutineID(),
	})
	if !enabled {
		entry.Infof(msg, args...)
		return
	}
	entry.Logf(level, msg, args...)
}

// sinceLast returns the time since the previous call, or zero on the first.
func (l *Logger) sinceLast() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var d time.Duration
	if !l.last.IsZero() {
		d = now.Sub(l.last)
	}
	l.last = now
	return d
}

// SetLevel sets the level from a logrus level name such as "debug" or
// "warn". On a nil logger it only validates the name.
func (l *Logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	if l != nil {
		l.out.SetLevel(lvl)
	}
	return nil
}

// DebugMode reports whether debug lines are written.
func (l *Logger) DebugMode() bool {
	return l != nil && l.out.IsLevelEnabled(logrus.DebugLevel)
}

// goroutineID parses the id from the "goroutine N [...]" stack header, or
// returns -1 if the header is unexpected.
func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(fields) == 0 {
		return -1
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1
	}
	return id
}
