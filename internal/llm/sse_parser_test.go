package llm

import (
	stderrors "errors"
	"io"
	"strings"
	"testing"
)

func TestSSEParser_SimpleEvent(t *testing.T) {
	parser := NewSSEParser(strings.NewReader("data: hello world\n\n"))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if event.Event != "" {
		t.Errorf("Expected empty event type, got '%s'", event.Event)
	}
	if string(event.Data) != "hello world" {
		t.Errorf("Expected data 'hello world', got '%s'", string(event.Data))
	}

	if _, err := parser.NextEvent(); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestSSEParser_EventTypeAndID(t *testing.T) {
	input := "event: message_start\nid: 7\ndata: {\"type\":\"message_start\"}\n\n"
	parser := NewSSEParser(strings.NewReader(input))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if event.Event != "message_start" {
		t.Errorf("Expected event type 'message_start', got '%s'", event.Event)
	}
	if event.ID != "7" {
		t.Errorf("Expected id '7', got '%s'", event.ID)
	}
	if string(event.Data) != `{"type":"message_start"}` {
		t.Errorf("Expected JSON data, got '%s'", string(event.Data))
	}
}

func TestSSEParser_MultipleEvents(t *testing.T) {
	input := "event: a\ndata: one\n\n\n\ndata: two\n\n"
	parser := NewSSEParser(strings.NewReader(input))

	first, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if first.Event != "a" || string(first.Data) != "one" {
		t.Errorf("Unexpected first event %+v", first)
	}
	if second.Event != "" || string(second.Data) != "two" {
		t.Errorf("Expected event type to reset between events, got %+v", second)
	}
}

func TestSSEParser_MultipleDataLines(t *testing.T) {
	parser := NewSSEParser(strings.NewReader("data: line1\ndata: line2\n\n"))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(event.Data) != "line1\nline2" {
		t.Errorf("Expected joined data, got %q", string(event.Data))
	}
}

func TestSSEParser_CommentsAndUnknownFields(t *testing.T) {
	input := ": keep-alive\nretry: 1000\nfoo: bar\ndata: x\n\n"
	parser := NewSSEParser(strings.NewReader(input))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(event.Data) != "x" {
		t.Errorf("Expected data 'x', got '%s'", string(event.Data))
	}
}

func TestSSEParser_CRLFLineEndings(t *testing.T) {
	parser := NewSSEParser(strings.NewReader("event: e\r\ndata: crlf\r\n\r\n"))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if event.Event != "e" || string(event.Data) != "crlf" {
		t.Errorf("Unexpected event %+v", event)
	}
}

func TestSSEParser_FinalEventWithoutBlankLine(t *testing.T) {
	parser := NewSSEParser(strings.NewReader("data: last"))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(event.Data) != "last" {
		t.Errorf("Expected data 'last', got '%s'", string(event.Data))
	}
	if _, err := parser.NextEvent(); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestSSEParser_EventTypeWithoutData(t *testing.T) {
	parser := NewSSEParser(strings.NewReader("event: message_delta\n"))

	_, err := parser.NextEvent()
	if !stderrors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestSSEParser_DataIsNotAliased(t *testing.T) {
	parser := NewSSEParser(strings.NewReader("data: first\n\ndata: second\n\n"))

	first, _ := parser.NextEvent()
	if _, err := parser.NextEvent(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(first.Data) != "first" {
		t.Errorf("Expected first event data to survive, got '%s'", string(first.Data))
	}
}

func TestSSEParser_LargeEvent(t *testing.T) {
	large := strings.Repeat("x", 200<<10)
	parser := NewSSEParser(strings.NewReader("data: " + large + "\n\n"))

	event, err := parser.NextEvent()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(event.Data) != len(large) {
		t.Errorf("Expected %d bytes, got %d", len(large), len(event.Data))
	}
}

func TestSSEParser_EmptyStream(t *testing.T) {
	for _, input := range []string{"", "\n\n\n", ": only\n: comments\n"} {
		parser := NewSSEParser(strings.NewReader(input))
		if _, err := parser.NextEvent(); err != io.EOF {
			t.Errorf("Input %q: expected EOF, got %v", input, err)
		}
	}
}

func TestIsSSEDone(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{"[DONE]", true},
		{" [DONE] ", true},
		{"[done]", false},
		{`{"done":true}`, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSSEDone([]byte(tt.data)); got != tt.want {
			t.Errorf("IsSSEDone(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestNDJSONReader(t *testing.T) {
	reader := NewNDJSONReader(strings.NewReader("{\"a\":1}\n\n  \n{\"b\":2}"))

	var lines []string
	for {
		line, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		lines = append(lines, string(line))
	}

	if len(lines) != 2 || lines[0] != `{"a":1}` || lines[1] != `{"b":2}` {
		t.Errorf("Unexpected lines %q", lines)
	}
}
