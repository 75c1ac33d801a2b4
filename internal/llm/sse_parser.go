package llm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// maxLineSize bounds a single SSE or NDJSON line
const maxLineSize = 4 << 20

// SSEEvent represents a single Server-Sent Event
type SSEEvent struct {
	Event string // Event type (optional, empty if not specified)
	Data  []byte // Concatenated data lines
	ID    string // Event ID (optional)
}

// SSEParser parses Server-Sent Events (SSE) streams
type SSEParser struct {
	reader    *bufio.Reader
	buffer    bytes.Buffer // Accumulates data for the current event
	eventType string       // Current event type
	eventID   string       // Current event ID
	hasData   bool
}

// NewSSEParser creates a new SSE parser
func NewSSEParser(reader io.Reader) *SSEParser {
	return &SSEParser{
		reader: bufio.NewReaderSize(reader, 64<<10),
	}
}

// NextEvent reads the next SSE event from the stream.
// Returns io.EOF when the stream is complete and io.ErrUnexpectedEOF if the
// stream ends mid-event. The returned Data is owned by the caller.
func (p *SSEParser) NextEvent() (SSEEvent, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			if err == io.EOF && p.pending() {
				// A final event without its blank line is still complete.
				if p.hasData {
					return p.flush(), nil
				}
				return SSEEvent{}, fmt.Errorf("stream ended mid-event: %w", io.ErrUnexpectedEOF)
			}
			return SSEEvent{}, err
		}

		// Empty line marks the end of an event
		if len(line) == 0 {
			if p.pending() {
				return p.flush(), nil
			}
			continue
		}

		// Comments (keep-alives) start with ':'
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if idx := bytes.IndexByte(line, ':'); idx != -1 {
			field = line[:idx]
			value = line[idx+1:]
			// Remove leading space from value if present
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch string(field) {
		case "event":
			p.eventType = string(value)
		case "data":
			if p.hasData {
				p.buffer.WriteByte('\n')
			}
			p.buffer.Write(value)
			p.hasData = true
		case "id":
			p.eventID = string(value)
		}
		// retry and unknown fields are ignored
	}
}

func (p *SSEParser) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("sse line exceeds %d bytes", maxLineSize)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func (p *SSEParser) pending() bool {
	return p.hasData || p.eventType != ""
}

func (p *SSEParser) flush() SSEEvent {
	data := make([]byte, p.buffer.Len())
	copy(data, p.buffer.Bytes())
	event := SSEEvent{
		Event: p.eventType,
		Data:  data,
		ID:    p.eventID,
	}
	p.buffer.Reset()
	p.eventType = ""
	p.eventID = ""
	p.hasData = false
	return event
}

// IsSSEDone checks if the SSE data is the OpenAI [DONE] marker
func IsSSEDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]"))
}

// NDJSONReader reads newline-delimited JSON documents, skipping blank lines
type NDJSONReader struct {
	scanner *bufio.Scanner
}

// NewNDJSONReader creates a reader over r
func NewNDJSONReader(r io.Reader) *NDJSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &NDJSONReader{scanner: scanner}
}

// Next returns the next non-empty line, or io.EOF at the end of the stream
func (r *NDJSONReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
