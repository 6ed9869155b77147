package message

import (
	"testing"
	"time"
)

func TestFactoryNewStampsAndCopiesMetadata(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	f := Factory{Adapter: "qwen", SessionID: "s1", ProjectPath: "/p", Now: func() time.Time { return fixed }}

	meta := map[string]any{"k": "v"}
	msg := f.New(RoleAssistant, TypeChat, "hi", meta)
	meta["k"] = "changed"

	if msg.Metadata["k"] != "v" {
		t.Fatalf("metadata must be copied, got %v", msg.Metadata)
	}
	if msg.Adapter != "qwen" || msg.SessionID != "s1" || msg.ProjectPath != "/p" {
		t.Fatalf("message not stamped: %+v", msg)
	}
	if !msg.CreatedAt.Equal(fixed) || msg.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", msg.CreatedAt)
	}
	if msg.ID == "" || msg.ID == f.New(RoleAssistant, TypeChat, "hi", nil).ID {
		t.Fatalf("expected fresh ids")
	}
}

func TestMessageKinds(t *testing.T) {
	f := Factory{}
	tests := []struct {
		name     string
		msg      Message
		isError  bool
		terminal bool
		hidden   bool
	}{
		{"nil meta", f.New(RoleAssistant, TypeChat, "x", nil), false, false, false},
		{"empty meta", f.New(RoleAssistant, TypeChat, "x", map[string]any{}), false, false, false},
		{"status", f.Status("ready", nil), false, false, false},
		{"error", f.Error(KindTimeout, "late", nil), true, true, false},
		{"hidden result", f.New(RoleSystem, TypeResult, "done", map[string]any{"hidden_from_ui": true}), false, true, true},
		{"non-bool hidden", f.New(RoleSystem, TypeResult, "done", map[string]any{"hidden_from_ui": "yes"}), false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.IsError() != tt.isError || tt.msg.IsTerminal() != tt.terminal || tt.msg.Hidden() != tt.hidden {
				t.Fatalf("unexpected classification for %+v", tt.msg)
			}
		})
	}

	if f.New(RoleAssistant, TypeChat, "x", map[string]any{}).Metadata != nil {
		t.Fatalf("expected empty metadata to be dropped")
	}
	errMsg := f.Error(KindProtocol, "bad", map[string]any{"stage": "prompt"})
	if errMsg.Role != RoleAssistant || errMsg.ErrorKind != KindProtocol || errMsg.Metadata["stage"] != "prompt" {
		t.Fatalf("unexpected error message %+v", errMsg)
	}
	if status := f.Status("ready", nil); status.Role != RoleSystem || status.Type != TypeStatus {
		t.Fatalf("unexpected status message %+v", status)
	}
}
