package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil)

	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	l.SetLevel(DebugLevel)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Equal(t, DebugLevel, l.GetLevel())
}

func TestFieldsAreRendered(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil)

	l.Info("sent",
		String("transport", "tcp"),
		Int("bytes", 42),
		Bool("queued", true),
		ErrorField(errors.New("boom")),
	)

	line := buf.String()
	assert.Contains(t, line, `transport="tcp"`)
	assert.Contains(t, line, "bytes=42")
	assert.Contains(t, line, "queued=true")
	assert.Contains(t, line, `error="boom"`)
	assert.Contains(t, line, "INFO")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil).WithFields(Uri("tcp://127.0.0.1:5555"))

	l.Warn("slow accept")
	assert.Contains(t, buf.String(), `uri="tcp://127.0.0.1:5555"`)
	assert.Contains(t, buf.String(), "WARN")
}

func TestFieldsSortedDeterministically(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil)
	l.Info("x", String("b", "2"), String("a", "1"))

	line := buf.String()
	assert.Less(t, strings.Index(line, "a="), strings.Index(line, "b="))
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	// Must not panic and must chain.
	l.WithFields(String("k", "v")).Error("ignored")
}
