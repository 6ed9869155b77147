package qwen

import (
	"context"
	"fmt"
	"iter"
	"os/exec"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xunmengshe2x/Claudable/internal/adapter"
	"github.com/xunmengshe2x/Claudable/internal/message"
	"github.com/xunmengshe2x/Claudable/internal/models"
	"github.com/xunmengshe2x/Claudable/internal/process"
	"github.com/xunmengshe2x/Claudable/internal/session"
)

// Name is the adapter's registry key.
const Name = "qwen"

// Adapter drives the Qwen Code CLI over the Agent Client Protocol.
type Adapter struct {
	cfg     Config
	store   session.Store
	catalog models.Lister
	log     *zap.Logger

	lookPath   func(string) (string, error)
	start      func(process.Config) (*process.Process, error)
	runCommand func(ctx context.Context, command string, args, env []string) (process.Output, error)
}

// New builds an adapter. A nil store keeps sessions in memory; a nil catalog disables endpoint verification.
func New(cfg Config, store session.Store, catalog models.Lister, logger *zap.Logger) (*Adapter, error) {
	if cfg.Timeout < 0 || cfg.StopGrace < 0 || cfg.VersionTimeout < 0 {
		return nil, fmt.Errorf("%w: durations must not be negative", adapter.ErrMisconfigured)
	}
	if cfg.MaxReadBytes < 0 {
		return nil, fmt.Errorf("%w: max read bytes must not be negative", adapter.ErrMisconfigured)
	}
	if strings.TrimSpace(cfg.Command) != "" {
		if _, err := process.SplitCommand(cfg.Command); err != nil {
			return nil, fmt.Errorf("%w: qwen command: %v", adapter.ErrMisconfigured, err)
		}
	}
	if store == nil {
		store = session.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:        cfg.withDefaults(),
		store:      store,
		catalog:    catalog,
		log:        logger.With(zap.String("adapter", Name)),
		lookPath:   exec.LookPath,
		start:      process.Start,
		runCommand: process.Run,
	}, nil
}

func (a *Adapter) Name() string { return Name }

// CheckAvailability looks up the binary, checks credentials and optionally probes the version.
func (a *Adapter) CheckAvailability(ctx context.Context) (adapter.Availability, error) {
	if a == nil {
		return adapter.Availability{}, adapter.ErrMisconfigured
	}
	res, _ := a.availability(ctx)
	return res, nil
}

// availability gates both availability checks and executions. argv is set only when the tool is available.
func (a *Adapter) availability(ctx context.Context) (adapter.Availability, []string) {
	res := adapter.Availability{
		Models:       models.SupportedModels(),
		DefaultModel: a.cfg.model(""),
	}
	configured, reason := a.cfg.configured()
	res.Configured = configured

	argv, err := a.resolveCommand()
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.Command = strings.Join(redactArgs(argv), " ")
	if !configured {
		res.Error = reason
		return res, nil
	}

	if a.cfg.ProbeVersion {
		version, err := a.probeVersion(ctx, argv)
		if err != nil {
			res.Error = fmt.Sprintf("Qwen CLI version probe failed: %v", err)
			return res, nil
		}
		res.Version = version
	}

	if a.cfg.VerifyEndpoint && a.catalog != nil && a.cfg.openAICompatible() {
		ids, err := a.catalog.List(ctx)
		if err != nil {
			res.Error = fmt.Sprintf("endpoint verification failed: %v", err)
			return res, nil
		}
		res.Models = models.Filter(ids, "qwen")
		if len(res.Models) == 0 {
			res.Models = ids
		}
	}

	res.Available = true
	return res, argv
}

func (a *Adapter) probeVersion(ctx context.Context, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.VersionTimeout)
	defer cancel()
	args := append(append([]string{}, argv[1:]...), a.cfg.Args...)
	args = append(args, "--version")
	out, err := a.runCommand(ctx, argv[0], args, buildEnv(a.cfg, ""))
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("exit code %d: %s", out.ExitCode, firstLine(out.Stderr))
	}
	version := firstLine(out.Stdout)
	if version == "" {
		version = "unknown"
	}
	return version, nil
}

// ExecuteWithStreaming returns the lazy message stream of one turn.
// The subprocess is spawned when ranging starts and is gone when ranging ends.
func (a *Adapter) ExecuteWithStreaming(ctx context.Context, req adapter.ExecutionRequest) (iter.Seq[message.Message], error) {
	if a == nil {
		return nil, adapter.ErrMisconfigured
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f := message.Factory{Adapter: Name, SessionID: req.SessionID, ProjectPath: req.ProjectPath}

	avail, argv := a.availability(ctx)
	if !avail.Available {
		a.log.Warn("qwen cli unavailable", zap.String("reason", avail.Error), zap.Bool("configured", avail.Configured))
		return adapter.Single(f.Error(message.KindUnavailable, avail.Error, map[string]any{"configured": avail.Configured})), nil
	}

	var used atomic.Bool
	return func(yield func(message.Message) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(f.Error(message.KindProtocol, "message stream already consumed; start a new execution", nil))
			return
		}
		newTurn(a, req, f, argv).run(ctx, yield)
	}, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
