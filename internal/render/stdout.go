package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xunmengshe2x/Claudable/internal/message"
)

// StdoutRenderer streams messages to a plain text writer.
type StdoutRenderer struct {
	w         io.Writer
	mu        sync.Mutex
	verbose   bool
	quiet     bool
	showTools bool
}

// NewStdoutRenderer creates a renderer for plain text streaming.
func NewStdoutRenderer(w io.Writer, verbose bool, quiet bool, showTools bool) *StdoutRenderer {
	return &StdoutRenderer{w: w, verbose: verbose, quiet: quiet, showTools: showTools}
}

func (r *StdoutRenderer) Emit(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case message.TypeStatus:
		if r.quiet || !r.verbose {
			return
		}
		fmt.Fprintf(r.w, "· %s\n", msg.Content)
	case message.TypeChat:
		if r.quiet && msg.Metadata["event_type"] == "plan" {
			return
		}
		if msg.Metadata["event_type"] == "plan" {
			fmt.Fprintln(r.w, "\nPlan:")
			fmt.Fprintln(r.w, msg.Content)
			return
		}
		fmt.Fprintf(r.w, "%s: %s\n", speaker(msg), msg.Content)
	case message.TypeToolUse:
		if r.quiet || !r.showTools {
			return
		}
		fmt.Fprintf(r.w, "tool: %s\n", stripMarkdown(msg.Content))
		if r.verbose {
			if input, ok := msg.Metadata["tool_input"]; ok {
				fmt.Fprintf(r.w, "input: %v\n", input)
			}
		}
	case message.TypeResult:
		if r.quiet || (msg.Hidden() && !r.verbose) {
			return
		}
		if reason, ok := msg.Metadata["stop_reason"]; ok {
			fmt.Fprintf(r.w, "%s (%v)\n", msg.Content, reason)
			return
		}
		fmt.Fprintln(r.w, msg.Content)
	case message.TypeError:
		if msg.ErrorKind != "" {
			fmt.Fprintf(r.w, "\nError [%s]: %s\n", msg.ErrorKind, msg.Content)
			return
		}
		fmt.Fprintf(r.w, "\nError: %s\n", msg.Content)
	}
}

func (r *StdoutRenderer) Close() error {
	return nil
}

func speaker(msg message.Message) string {
	if msg.Adapter != "" {
		return msg.Adapter
	}
	return string(msg.Role)
}

func stripMarkdown(s string) string {
	return strings.NewReplacer("**", "", "`", "").Replace(s)
}
