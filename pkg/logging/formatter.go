package logging

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// TextFormatter renders entries as a timestamped line of key=value pairs.
type TextFormatter struct {
	// TimestampFormat defaults to RFC3339 with milliseconds.
	TimestampFormat string
}

// NewTextFormatter creates a text formatter with default settings.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s %-5s %s", entry.Timestamp.Format(f.timestampFormat()), entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := entry.Fields[k]
		switch val := v.(type) {
		case string:
			fmt.Fprintf(&buf, " %s=%q", k, val)
		case time.Duration:
			fmt.Fprintf(&buf, " %s=%s", k, val)
		case error:
			fmt.Fprintf(&buf, " %s=%q", k, val.Error())
		default:
			fmt.Fprintf(&buf, " %s=%v", k, val)
		}
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (f *TextFormatter) timestampFormat() string {
	if f.TimestampFormat != "" {
		return f.TimestampFormat
	}
	return "2006-01-02T15:04:05.000Z07:00"
}
