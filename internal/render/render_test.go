package render

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/xunmengshe2x/Claudable/internal/message"
)

func sampleStream() []message.Message {
	f := message.Factory{Adapter: "qwen", SessionID: "s1"}
	return []message.Message{
		f.Status("Qwen CLI started", map[string]any{"pid": 42}),
		f.New(message.RoleAssistant, message.TypeChat, "• Inspect files", map[string]any{"event_type": "plan"}),
		f.New(message.RoleAssistant, message.TypeChat, "Hello there", nil),
		f.New(message.RoleAssistant, message.TypeToolUse, "**Read** `main.go`", map[string]any{"tool_input": map[string]any{"path": "main.go"}}),
		f.New(message.RoleSystem, message.TypeResult, "Qwen turn completed", map[string]any{"hidden_from_ui": true, "stop_reason": "end_turn"}),
	}
}

func TestStdoutRendererDefault(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutRenderer(&buf, false, false, true)
	for _, msg := range sampleStream() {
		r.Emit(msg)
	}
	out := buf.String()
	for _, want := range []string{"Plan:\n• Inspect files", "qwen: Hello there", "tool: Read main.go"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	for _, hidden := range []string{"Qwen CLI started", "Qwen turn completed", "input:"} {
		if strings.Contains(out, hidden) {
			t.Fatalf("did not expect %q in output:\n%s", hidden, out)
		}
	}
}

func TestStdoutRendererVerboseAndQuiet(t *testing.T) {
	var verbose bytes.Buffer
	r := NewStdoutRenderer(&verbose, true, false, true)
	for _, msg := range sampleStream() {
		r.Emit(msg)
	}
	for _, want := range []string{"· Qwen CLI started", "input: map[path:main.go]", "Qwen turn completed (end_turn)"} {
		if !strings.Contains(verbose.String(), want) {
			t.Fatalf("expected %q in verbose output:\n%s", want, verbose.String())
		}
	}

	var quiet bytes.Buffer
	q := NewStdoutRenderer(&quiet, false, true, true)
	for _, msg := range sampleStream() {
		q.Emit(msg)
	}
	q.Emit(message.Factory{}.Error(message.KindTimeout, "Qwen CLI timed out after 1s", nil))
	if quiet.String() != "qwen: Hello there\n\nError [timeout]: Qwen CLI timed out after 1s\n" {
		t.Fatalf("unexpected quiet output %q", quiet.String())
	}
}

func TestJSONLRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONLRenderer(&buf)
	for _, msg := range sampleStream() {
		r.Emit(msg)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		var payload map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &payload); err != nil {
			t.Fatalf("invalid json line %q: %v", scanner.Text(), err)
		}
		if payload["message_type"] == "" || payload["session_id"] != "s1" {
			t.Fatalf("unexpected payload %v", payload)
		}
		lines++
	}
	if lines != len(sampleStream()) {
		t.Fatalf("expected %d lines, got %d", len(sampleStream()), lines)
	}
}
