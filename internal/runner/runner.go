package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xunmengshe2x/Claudable/internal/adapter"
	"github.com/xunmengshe2x/Claudable/internal/message"
	"github.com/xunmengshe2x/Claudable/internal/render"
)

// ErrRunFailed is returned when a run ends with an error message.
var ErrRunFailed = errors.New("run failed")

// RunResult captures run output for JSON mode.
type RunResult struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"timestamp_start"`
	FinishedAt   time.Time         `json:"timestamp_end"`
	Adapter      string            `json:"adapter"`
	ProjectPath  string            `json:"project_path"`
	SessionID    string            `json:"session_id"`
	Instruction  string            `json:"instruction"`
	Model        string            `json:"model,omitempty"`
	Status       string            `json:"status"`
	FinalContent string            `json:"final_content"`
	ErrorKind    message.ErrorKind `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	Messages     []message.Message `json:"messages"`
}

// Runner consumes an adapter's stream on behalf of a caller.
type Runner struct {
	adapter  adapter.Adapter
	renderer render.Renderer
	logger   *zap.Logger
}

// New constructs a Runner. renderer may be nil.
func New(a adapter.Adapter, renderer render.Renderer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{adapter: a, renderer: renderer, logger: logger}
}

// Run executes one request, rendering and recording every message.
func (r *Runner) Run(ctx context.Context, req adapter.ExecutionRequest) (RunResult, error) {
	result := RunResult{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now(),
		Adapter:     r.adapter.Name(),
		ProjectPath: req.ProjectPath,
		SessionID:   req.SessionID,
		Instruction: req.Instruction,
		Model:       req.Model,
		Status:      "failure",
	}
	logger := r.logger.With(zap.String("run_id", result.RunID), zap.String("adapter", result.Adapter))

	seq, err := r.adapter.ExecuteWithStreaming(ctx, req)
	if err != nil {
		logger.Error("execution rejected", zap.Error(err))
		result.Error = err.Error()
		result.FinishedAt = time.Now()
		return result, err
	}

	var answer []string
	var last message.Message
	for msg := range seq {
		result.Messages = append(result.Messages, msg)
		if r.renderer != nil {
			r.renderer.Emit(msg)
		}
		if msg.Role == message.RoleAssistant && msg.Type == message.TypeChat && msg.Metadata["event_type"] != "plan" {
			answer = append(answer, msg.Content)
		}
		last = msg
	}
	result.FinishedAt = time.Now()
	result.FinalContent = strings.TrimSpace(strings.Join(answer, "\n\n"))

	switch last.Type {
	case message.TypeResult:
		result.Status = "success"
		logger.Info("run finished", zap.Int("messages", len(result.Messages)), zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
		return result, nil
	case message.TypeError:
		result.ErrorKind = last.ErrorKind
		result.Error = last.Content
	default:
		result.Error = "stream ended without a result"
	}
	logger.Warn("run failed", zap.String("error_kind", string(result.ErrorKind)), zap.String("error", result.Error))
	return result, fmt.Errorf("%w: %s", ErrRunFailed, result.Error)
}

// DefaultRunsDir is where persisted runs are written.
func DefaultRunsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "clibridge", "runs"), nil
}

// Save writes result as <dir>/<run_id>.json and returns the path.
func Save(dir string, result RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run log: %w", err)
	}
	path := filepath.Join(dir, result.RunID+".json")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("write run log: %w", err)
	}
	return path, nil
}
