package qwen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xunmengshe2x/Claudable/internal/message"
	"github.com/xunmengshe2x/Claudable/internal/repo"
)

const maxPlanEntries = 6

var (
	callNoiseLine = regexp.MustCompile(`(?m)^call[_-][A-Za-z0-9]+.*$\n?`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)

	toolVerbs = map[string]string{
		"read":    "Read",
		"edit":    "Edit",
		"write":   "Write",
		"delete":  "Delete",
		"move":    "Move",
		"search":  "Search",
		"execute": "Run",
		"think":   "Think",
		"fetch":   "Fetch",
	}
)

// sessionUpdate is the payload of a session/update notification.
type sessionUpdate struct {
	SessionUpdate string            `json:"sessionUpdate"`
	Type          string            `json:"type"`
	Content       json.RawMessage   `json:"content"`
	Text          json.RawMessage   `json:"text"`
	ToolCallID    string            `json:"toolCallId"`
	Kind          string            `json:"kind"`
	Title         string            `json:"title"`
	Locations     []json.RawMessage `json:"locations"`
	Entries       []json.RawMessage `json:"entries"`
}

func (u sessionUpdate) kind() string {
	if u.SessionUpdate != "" {
		return u.SessionUpdate
	}
	return u.Type
}

// translator turns session updates into messages. Assistant text is buffered and
// flushed before tool calls, before plans and at the end of the turn.
type translator struct {
	f        message.Factory
	workDir  string
	thoughts strings.Builder
	text     strings.Builder
}

func newTranslator(f message.Factory, workDir string) *translator {
	return &translator{f: f, workDir: workDir}
}

// translate returns the messages produced by one update, possibly none.
func (t *translator) translate(raw json.RawMessage) ([]message.Message, error) {
	var u sessionUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode session update: %w", err)
	}
	switch u.kind() {
	case "agent_message_chunk":
		t.text.WriteString(chunkText(u))
		return nil, nil
	case "agent_thought_chunk":
		t.thoughts.WriteString(chunkText(u))
		return nil, nil
	case "tool_call":
		return t.toolCall(u), nil
	case "plan":
		out := t.flush()
		return append(out, t.plan(u)), nil
	default:
		// tool_call_update and unknown kinds are not surfaced
		return nil, nil
	}
}

// flush emits buffered assistant text as one chat message.
func (t *translator) flush() []message.Message {
	if t.thoughts.Len() == 0 && t.text.Len() == 0 {
		return nil
	}
	content := composeContent(t.thoughts.String(), t.text.String())
	t.thoughts.Reset()
	t.text.Reset()
	if content == "" {
		return nil
	}
	return []message.Message{t.f.New(message.RoleAssistant, message.TypeChat, content, nil)}
}

func (t *translator) toolCall(u sessionUpdate) []message.Message {
	name := toolName(u)
	if isOpaqueTool(name) {
		return nil
	}
	path := toolPath(u)
	input := map[string]any{}
	if path != "" {
		input["path"] = path
	}
	out := t.flush()
	meta := map[string]any{
		"event_type": "tool_call",
		"tool_name":  name,
		"tool_input": input,
	}
	if u.ToolCallID != "" {
		meta["tool_call_id"] = u.ToolCallID
	}
	summary := toolSummary(name, u.Title, repo.Relative(t.workDir, path))
	return append(out, t.f.New(message.RoleAssistant, message.TypeToolUse, summary, meta))
}

func (t *translator) plan(u sessionUpdate) message.Message {
	var lines []string
	for i, raw := range u.Entries {
		if i >= maxPlanEntries {
			break
		}
		if title := planTitle(raw); title != "" {
			lines = append(lines, "• "+title)
		}
	}
	content := "Planning…"
	if len(lines) > 0 {
		content = strings.Join(lines, "\n")
	}
	return t.f.New(message.RoleAssistant, message.TypeChat, content, map[string]any{"event_type": "plan"})
}

func chunkText(u sessionUpdate) string {
	var block struct {
		Text string `json:"text"`
	}
	if len(u.Content) > 0 && json.Unmarshal(u.Content, &block) == nil && block.Text != "" {
		return block.Text
	}
	return rawString(u.Text)
}

// rawString renders a JSON value as text: strings verbatim, anything else as JSON.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func composeContent(thoughts, text string) string {
	combined := thoughts
	if thoughts != "" && text != "" {
		combined += "\n\n"
	}
	combined += text
	combined = callNoiseLine.ReplaceAllString(combined, "")
	combined = blankRuns.ReplaceAllString(combined, "\n\n")
	return strings.TrimSpace(combined)
}

// toolName prefers the explicit kind, then the toolCallId prefix, then the title.
func toolName(u sessionUpdate) string {
	if kind := strings.TrimSpace(u.Kind); kind != "" {
		return kind
	}
	if u.ToolCallID != "" {
		for _, sep := range []string{"-", "_"} {
			base, _, _ := strings.Cut(u.ToolCallID, sep)
			if base != "" && !isGenericToolWord(base) {
				return base
			}
		}
	}
	if u.Title != "" {
		return u.Title
	}
	return "tool"
}

func isGenericToolWord(s string) bool {
	switch strings.ToLower(s) {
	case "call", "tool", "toolcall":
		return true
	}
	return false
}

func isOpaqueTool(name string) bool {
	lower := strings.ToLower(name)
	return isGenericToolWord(lower) || strings.HasPrefix(lower, "call_") || strings.HasPrefix(lower, "call-")
}

func toolPath(u sessionUpdate) string {
	if len(u.Locations) > 0 {
		var loc map[string]any
		if json.Unmarshal(u.Locations[0], &loc) == nil {
			for _, key := range []string{"path", "file", "file_path", "filePath", "uri"} {
				if s, ok := loc[key].(string); ok && s != "" {
					return strings.TrimPrefix(s, "file://")
				}
			}
		}
	}
	var items []map[string]any
	if len(u.Content) == 0 || json.Unmarshal(u.Content, &items) != nil {
		return ""
	}
	for _, item := range items {
		for _, key := range []string{"path", "file", "file_path"} {
			if s, ok := item[key].(string); ok && s != "" {
				return s
			}
		}
		if args, ok := item["args"].(map[string]any); ok {
			if s, ok := args["path"].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func planTitle(raw json.RawMessage) string {
	var entry struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if json.Unmarshal(raw, &entry) == nil {
		if entry.Title != "" {
			return entry.Title
		}
		return entry.Content
	}
	return strings.TrimSpace(rawString(raw))
}

func toolSummary(name, title, path string) string {
	verb, ok := toolVerbs[strings.ToLower(name)]
	if !ok && name != "" {
		r, size := utf8.DecodeRuneInString(name)
		verb = string(unicode.ToUpper(r)) + name[size:]
	}
	switch {
	case path != "":
		return fmt.Sprintf("**%s** `%s`", verb, path)
	case title != "" && !strings.EqualFold(title, name):
		return fmt.Sprintf("**%s** %s", verb, title)
	}
	return fmt.Sprintf("**%s**", verb)
}
