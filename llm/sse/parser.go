// Package sse splits a streaming response body into discrete server-sent
// events. All three supported provider protocols frame their streams as SSE;
// the parser is deliberately tolerant because providers take liberties with
// the spec (missing event lines, comment keep-alives, oversized data lines).
package sse

import (
	"bufio"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Tool-argument frames can carry large
// JSON fragments, well past bufio's 64KB default.
const maxLineSize = 1 << 20

// Event is one parsed SSE frame.
type Event struct {
	Type string // from "event:" lines
	Data string // from "data:" lines, joined with newlines
	ID   string // from "id:" lines
}

// Parser reads SSE events from an io.Reader.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser reading from r.
func NewParser(r io.Reader) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Parser{scanner: scanner}
}

// Next returns the next event from the stream. It returns io.EOF when the
// stream is exhausted or when a "[DONE]" data sentinel is encountered.
func (p *Parser) Next() (Event, error) {
	var evt Event
	var dataLines []string
	hasFields := false

	for p.scanner.Scan() {
		line := p.scanner.Text()

		// A blank line terminates the current event.
		if line == "" {
			if !hasFields {
				continue
			}
			evt.Data = strings.Join(dataLines, "\n")
			return evt, nil
		}

		// Comment line (keep-alive).
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)

		switch field {
		case "data":
			if value == "[DONE]" {
				return Event{}, io.EOF
			}
			dataLines = append(dataLines, value)
			hasFields = true
		case "event":
			evt.Type = value
			hasFields = true
		case "id":
			evt.ID = value
			hasFields = true
		default:
			// Unknown fields (including "retry") are ignored; the core never
			// reconnects a stream.
		}
	}

	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}

	// Flush a trailing event that was not terminated by a blank line.
	if hasFields {
		evt.Data = strings.Join(dataLines, "\n")
		return evt, nil
	}

	return Event{}, io.EOF
}

func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
