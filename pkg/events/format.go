package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Format encodes e as one SSE frame terminated by a blank line.
func Format(e Event) ([]byte, error) {
	payload, err := encodeData(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q event data: %w", e.Type, err)
	}

	var buf bytes.Buffer
	if e.Type != "" && e.Type != TypeMessage {
		buf.WriteString("event: ")
		buf.WriteString(singleLine(e.Type))
		buf.WriteByte('\n')
	}
	if e.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(singleLine(e.ID))
		buf.WriteByte('\n')
	}
	if e.Retry > 0 {
		buf.WriteString("retry: ")
		buf.WriteString(strconv.Itoa(e.Retry))
		buf.WriteByte('\n')
	}

	for _, line := range strings.Split(singleLineBreaks(payload), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// FormatComment encodes text as SSE comment lines, which clients ignore.
func FormatComment(text string) []byte {
	var buf bytes.Buffer
	for _, line := range strings.Split(singleLineBreaks(text), "\n") {
		buf.WriteString(": ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func encodeData(data any) (string, error) {
	switch v := data.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// singleLine keeps header fields from injecting extra frame lines.
func singleLine(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func singleLineBreaks(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
