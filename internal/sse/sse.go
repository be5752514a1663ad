// Package sse implements an incremental Server-Sent-Events parser suitable
// for feeding with arbitrarily-split byte chunks from a streaming HTTP
// response body.
package sse

import "strings"

// Event is one complete SSE event: an ordered list of field values, keyed
// by field name ("event", "data", ...), in the order they appeared.
type Event struct {
	Fields map[string][]string
}

// Data joins every "data" field with a newline, the conventional way SSE
// multi-line data payloads are reassembled.
func (e Event) Data() string {
	return strings.Join(e.Fields["data"], "\n")
}

// Parser accumulates UTF-8 octets across invocations and emits complete
// events, delimited by a blank line ("\n\n"). Incomplete trailing bytes are
// buffered until the next Feed call.
type Parser struct {
	buf strings.Builder
}

// Feed appends data to the parser's buffer and returns every complete
// event found. Bytes after the last "\n\n" remain buffered.
func (p *Parser) Feed(data []byte) []Event {
	p.buf.Write(data)
	full := p.buf.String()

	var events []Event
	for {
		idx := strings.Index(full, "\n\n")
		if idx < 0 {
			break
		}
		chunk := full[:idx]
		full = full[idx+2:]
		if event, ok := parseEvent(chunk); ok {
			events = append(events, event)
		}
	}

	p.buf.Reset()
	p.buf.WriteString(full)
	return events
}

func parseEvent(chunk string) (Event, bool) {
	lines := strings.Split(chunk, "\n")
	fields := make(map[string][]string)
	seen := false
	for _, line := range lines {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			key, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")
		fields[key] = append(fields[key], value)
		seen = true
	}
	if !seen {
		return Event{}, false
	}
	return Event{Fields: fields}, true
}
