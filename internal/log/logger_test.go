package log

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level logrus.Level, filter *regexp.Regexp) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	lg := logrus.New()
	lg.SetOutput(&buf)
	lg.SetLevel(level)
	lg.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return New(lg, false, filter), &buf
}

func TestLogger_Fields(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.DebugLevel, nil)
	l.Debugf("cdp:send", "id=%d method=%s", 7, "Page.enable")

	out := buf.String()
	assert.Contains(t, out, "category=\"cdp:send\"")
	assert.Contains(t, out, "id=7 method=Page.enable")
	assert.Contains(t, out, "goroutine=")
	assert.Contains(t, out, "elapsed=")
}

func TestLogger_Level(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.WarnLevel, nil)
	l.Debugf("cdp", "hidden")
	l.Infof("cdp", "hidden")
	assert.Empty(t, buf.String())

	l.Warnf("cdp", "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.False(t, l.DebugMode())

	require.NoError(t, l.SetLevel("debug"))
	assert.True(t, l.DebugMode())
	require.Error(t, l.SetLevel("loud"))
}

func TestLogger_CategoryFilter(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.DebugLevel, regexp.MustCompile(`^ws`))
	l.Debugf("cdp:recv", "dropped")
	l.Debugf("ws:frame", "kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestLogger_Nil(t *testing.T) {
	t.Parallel()

	var l *Logger
	assert.NotPanics(t, func() {
		l.Errorf("cdp", "nothing %d", 1)
		l.Debugf("cdp", "nothing")
	})
	assert.False(t, l.DebugMode())
	require.NoError(t, l.SetLevel("debug"))
	require.Error(t, l.SetLevel("loud"))
}

func TestLogger_Force(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lg := logrus.New()
	lg.SetOutput(&buf)
	lg.SetLevel(logrus.WarnLevel)
	lg.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	l := New(lg, true, nil)
	l.Debugf("cdp", "forced")
	assert.Contains(t, buf.String(), "level=info")
	assert.Contains(t, buf.String(), "forced")
}

func TestLogger_FirstLineHasZeroElapsed(t *testing.T) {
	t.Parallel()

	l, buf := newBufferLogger(t, logrus.DebugLevel, nil)
	l.Debugf("cdp", "first")
	assert.Contains(t, buf.String(), `elapsed="0 ms"`)
}

func TestNew_NilOutputDiscards(t *testing.T) {
	t.Parallel()

	l := New(nil, true, nil)
	assert.NotPanics(t, func() {
		l.Errorf("cdp", "discarded")
	})
	assert.False(t, l.DebugMode())
}

func TestSetup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := Setup(&buf, "info", "^browser$")
	require.NoError(t, err)

	l.Infof("browser", "started pid=%d", 42)
	l.Infof("cdp", "filtered")
	assert.Contains(t, buf.String(), "started pid=42")
	assert.NotContains(t, buf.String(), "filtered")

	_, err = Setup(&buf, "info", "(")
	require.Error(t, err)
	_, err = Setup(&buf, "chatty", "")
	require.Error(t, err)
}

func TestNewNullLogger(t *testing.T) {
	t.Parallel()

	l := NewNullLogger()
	require.NoError(t, l.SetLevel("trace"))
	assert.NotPanics(t, func() {
		l.Tracef("cdp", "discarded")
	})
}
