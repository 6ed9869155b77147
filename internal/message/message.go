package message

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Type categorizes message content.
type Type string

const (
	TypeStatus  Type = "status"
	TypeChat    Type = "chat"
	TypeToolUse Type = "tool_use"
	TypeError   Type = "error"
	TypeResult  Type = "result"
)

// ErrorKind classifies error messages.
type ErrorKind string

const (
	KindUnavailable     ErrorKind = "unavailable"
	KindMalformedOutput ErrorKind = "malformed_output"
	KindProcessFailed   ErrorKind = "process_failed"
	KindProtocol        ErrorKind = "protocol"
	KindTimeout         ErrorKind = "timeout"
	KindCancelled       ErrorKind = "cancelled"
)

// Message is the normalized unit streamed by every adapter.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Type        Type           `json:"message_type"`
	Content     string         `json:"content,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	ProjectPath string         `json:"project_path,omitempty"`
	Adapter     string         `json:"adapter,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IsError reports whether m is an error-typed message.
func (m Message) IsError() bool { return m.Type == TypeError }

// IsTerminal reports whether m ends a run.
func (m Message) IsTerminal() bool { return m.Type == TypeError || m.Type == TypeResult }

// Hidden reports whether the producer asked for m to be kept out of user-facing output.
func (m Message) Hidden() bool {
	hidden, _ := m.Metadata["hidden_from_ui"].(bool)
	return hidden
}

// Factory stamps messages with the fields shared by one run.
type Factory struct {
	Adapter     string
	SessionID   string
	ProjectPath string
	Now         func() time.Time
}

// New builds a message with a fresh ID.
func (f Factory) New(role Role, typ Type, content string, meta map[string]any) Message {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	var md map[string]any
	if len(meta) > 0 {
		md = make(map[string]any, len(meta))
		for k, v := range meta {
			md[k] = v
		}
	}
	return Message{
		ID:          uuid.NewString(),
		Role:        role,
		Type:        typ,
		Content:     content,
		SessionID:   f.SessionID,
		ProjectPath: f.ProjectPath,
		Adapter:     f.Adapter,
		Metadata:    md,
		CreatedAt:   now().UTC(),
	}
}

// Error builds an assistant error message of the given kind.
func (f Factory) Error(kind ErrorKind, content string, meta map[string]any) Message {
	msg := f.New(RoleAssistant, TypeError, content, meta)
	msg.ErrorKind = kind
	return msg
}

// Status builds a system status message.
func (f Factory) Status(content string, meta map[string]any) Message {
	return f.New(RoleSystem, TypeStatus, content, meta)
}
