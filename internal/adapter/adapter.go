package adapter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/xunmengshe2x/Claudable/internal/message"
)

var (
	// ErrInvalidRequest is returned when a request can never be executed as given.
	ErrInvalidRequest = errors.New("invalid execution request")
	// ErrMisconfigured is returned when an adapter was built with unusable settings.
	ErrMisconfigured = errors.New("adapter misconfigured")
)

// ExecutionRequest describes one streamed execution.
type ExecutionRequest struct {
	Instruction     string
	ProjectPath     string
	SessionID       string
	IsInitialPrompt bool
	// Model overrides the adapter default when set.
	Model string
	// Timeout overrides the adapter default when positive.
	Timeout time.Duration
	// Images are attachment paths; adapters that cannot use them report so in a status message.
	Images []string
}

// Validate checks the request invariants shared by all adapters.
func (r ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.Instruction) == "" {
		return fmt.Errorf("%w: instruction is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.ProjectPath) == "" {
		return fmt.Errorf("%w: project path is required", ErrInvalidRequest)
	}
	info, err := os.Stat(r.ProjectPath)
	if err != nil {
		return fmt.Errorf("%w: project path: %v", ErrInvalidRequest, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: project path is not a directory: %s", ErrInvalidRequest, r.ProjectPath)
	}
	return nil
}

// Availability reports whether an adapter can run.
type Availability struct {
	Available    bool     `json:"available"`
	Configured   bool     `json:"configured"`
	Error        string   `json:"error,omitempty"`
	Version      string   `json:"version,omitempty"`
	Command      string   `json:"command,omitempty"`
	Models       []string `json:"models,omitempty"`
	DefaultModel string   `json:"default_model,omitempty"`
}

// Adapter bridges instructions to an external coding tool.
type Adapter interface {
	Name() string
	// CheckAvailability probes for the tool and its credentials without starting a run.
	// A tool that is missing or unconfigured is reported in the result, not as an error.
	CheckAvailability(ctx context.Context) (Availability, error)
	// ExecuteWithStreaming returns a single-use, ordered sequence of messages for req.
	// The sequence always yields at least one message; the last one is a result or an error.
	// Breaking out of the range terminates the underlying process.
	ExecuteWithStreaming(ctx context.Context, req ExecutionRequest) (iter.Seq[message.Message], error)
}

// Single returns a sequence yielding exactly msg.
func Single(msg message.Message) iter.Seq[message.Message] {
	return func(yield func(message.Message) bool) {
		yield(msg)
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[message.Message]) []message.Message {
	var out []message.Message
	for msg := range seq {
		out = append(out, msg)
	}
	return out
}
