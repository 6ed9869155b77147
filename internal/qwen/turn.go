package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xunmengshe2x/Claudable/internal/acp"
	"github.com/xunmengshe2x/Claudable/internal/adapter"
	"github.com/xunmengshe2x/Claudable/internal/message"
	"github.com/xunmengshe2x/Claudable/internal/process"
	"github.com/xunmengshe2x/Claudable/internal/repo"
	"github.com/xunmengshe2x/Claudable/internal/util"
)

const (
	protocolVersion  = 1
	oauthMethod      = "qwen-oauth"
	malformedPreview = 200
)

var errStopped = errors.New("turn stopped")

type eventKind int

const (
	eventUpdate eventKind = iota
	eventMalformed
	eventStatus
)

// event is what the read loop and the protocol driver hand to the consumer, in order.
type event struct {
	kind   eventKind
	update json.RawMessage
	line   string
	err    error
	msg    message.Message
}

type driveResult struct {
	stage      string
	stopReason string
	err        error
}

// turn is the state of one execution. It lives only while its sequence is ranged.
type turn struct {
	a       *Adapter
	req     adapter.ExecutionRequest
	f       message.Factory
	argv    []string
	workDir string
	model   string
	timeout time.Duration
	log     *zap.Logger

	events chan event
	quit   chan struct{}

	mu         sync.Mutex
	acpSession string
}

func newTurn(a *Adapter, req adapter.ExecutionRequest, f message.Factory, argv []string) *turn {
	id := uuid.NewString()[:8]
	return &turn{
		a:       a,
		req:     req,
		f:       f,
		argv:    argv,
		workDir: repo.ResolveWorkDir(req.ProjectPath),
		model:   a.cfg.model(req.Model),
		timeout: a.cfg.Timeout,
		log:     a.log.With(zap.String("turn", id), zap.String("session_id", req.SessionID)),
		events:  make(chan event),
		quit:    make(chan struct{}),
	}
}

func (t *turn) currentSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acpSession
}

func (t *turn) setSession(id string) {
	t.mu.Lock()
	t.acpSession = id
	t.mu.Unlock()
}

// push blocks until the consumer takes ev or the turn ends.
func (t *turn) push(ev event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.quit:
		return false
	}
}

func (t *turn) onNotification(method string, params json.RawMessage) {
	if method != "session/update" {
		t.log.Debug("ignoring notification", zap.String("method", method))
		return
	}
	var n struct {
		SessionID string          `json:"sessionId"`
		Update    json.RawMessage `json:"update"`
	}
	if err := json.Unmarshal(params, &n); err != nil {
		t.push(event{kind: eventMalformed, line: string(params), err: err})
		return
	}
	current := t.currentSession()
	if current == "" || n.SessionID != current {
		return
	}
	t.push(event{kind: eventUpdate, update: n.Update})
}

func (t *turn) onMalformed(line []byte, err error) {
	t.push(event{kind: eventMalformed, line: string(line), err: err})
}

func (t *turn) onStderr(line string) {
	if keepStderr(line) {
		t.log.Warn("qwen stderr", zap.String("line", util.RedactSecrets(line)))
	}
}

func (t *turn) run(ctx context.Context, yield func(message.Message) bool) {
	if t.req.Timeout > 0 {
		t.timeout = t.req.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if len(t.req.Images) > 0 {
		t.log.Warn("ignoring attached images", zap.Int("count", len(t.req.Images)))
		note := fmt.Sprintf("Qwen Coder does not support image input yet; ignoring %d attached image(s).", len(t.req.Images))
		if !yield(t.f.Status(note, map[string]any{"ignored_images": len(t.req.Images)})) {
			return
		}
	}
	if t.req.IsInitialPrompt {
		if created, err := ensureProviderFile(t.workDir, t.a.cfg.SystemPromptFile); err != nil {
			t.log.Warn("failed to create provider instructions", zap.Error(err))
		} else if created {
			t.log.Info("created provider instructions", zap.String("dir", t.workDir))
		}
	}

	args := buildArgs(t.a.cfg, t.argv[1:], t.model)
	t.log.Info("starting qwen cli",
		zap.Strings("argv", redactArgs(append([]string{t.argv[0]}, args...))),
		zap.String("work_dir", t.workDir),
		zap.String("mode", t.a.cfg.mode()),
		zap.Int("instruction_len", len(t.req.Instruction)))

	proc, err := t.a.start(process.Config{
		Command:   t.argv[0],
		Args:      args,
		Env:       buildEnv(t.a.cfg, t.model),
		Dir:       t.workDir,
		StopGrace: t.a.cfg.StopGrace,
		OnStderr:  t.onStderr,
		Logger:    t.log,
	})
	if err != nil {
		yield(t.f.Error(message.KindUnavailable, fmt.Sprintf("Failed to start Qwen CLI: %v", err), nil))
		return
	}

	conn := acp.NewConn(proc.Stdout(), proc.Stdin(), acp.Options{
		Logger:         t.log,
		OnNotification: t.onNotification,
		OnMalformed:    t.onMalformed,
	})
	handlers := &clientHandlers{workDir: t.workDir, allowRead: t.a.cfg.AllowFileRead, maxBytes: t.a.cfg.MaxReadBytes, log: t.log}
	handlers.register(conn)

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := conn.Serve(runCtx); err != nil {
			t.log.Debug("read loop ended", zap.Error(err))
		}
	}()
	results := make(chan driveResult, 1)
	driven := make(chan struct{})
	go func() {
		defer close(driven)
		results <- t.drive(runCtx, conn)
	}()
	defer func() {
		close(t.quit)
		proc.Stop()
		<-served
		cancel()
		<-driven
		t.log.Debug("turn torn down", zap.Int("exit_code", proc.ExitCode()))
	}()

	started := t.f.Status("Qwen CLI started", map[string]any{
		"pid":      proc.PID(),
		"work_dir": t.workDir,
		"mode":     t.a.cfg.mode(),
		"model":    t.model,
	})
	if !yield(started) {
		return
	}

	tr := newTranslator(t.f, t.workDir)
	emit := func(msgs []message.Message) bool {
		for _, msg := range msgs {
			if !yield(msg) {
				return false
			}
		}
		return true
	}
	for {
		select {
		case ev := <-t.events:
			if !emit(t.handle(tr, ev)) {
				return
			}
		case res := <-results:
			for drained := false; !drained; {
				select {
				case ev := <-t.events:
					if !emit(t.handle(tr, ev)) {
						return
					}
				default:
					drained = true
				}
			}
			if !emit(tr.flush()) {
				return
			}
			yield(t.finish(ctx, runCtx, res, proc))
			return
		case <-runCtx.Done():
			if !emit(tr.flush()) {
				return
			}
			yield(t.interrupted(ctx, runCtx))
			return
		}
	}
}

func (t *turn) handle(tr *translator, ev event) []message.Message {
	switch ev.kind {
	case eventStatus:
		return []message.Message{ev.msg}
	case eventMalformed:
		preview, _ := util.TruncateBytes(util.RedactSecrets(ev.line), malformedPreview)
		t.log.Warn("malformed output from qwen cli", zap.Error(ev.err), zap.String("line", preview))
		return []message.Message{t.f.Error(message.KindMalformedOutput,
			fmt.Sprintf("Malformed output from Qwen CLI: %s", preview),
			map[string]any{"parse_error": errString(ev.err)})}
	default:
		msgs, err := tr.translate(ev.update)
		if err != nil {
			preview, _ := util.TruncateBytes(string(ev.update), malformedPreview)
			return []message.Message{t.f.Error(message.KindMalformedOutput,
				fmt.Sprintf("Malformed session update from Qwen CLI: %s", preview),
				map[string]any{"parse_error": err.Error()})}
		}
		for _, msg := range msgs {
			if msg.Type == message.TypeToolUse {
				t.log.Info("tool", zap.Any("tool_name", msg.Metadata["tool_name"]), zap.Any("tool_input", msg.Metadata["tool_input"]))
			}
		}
		return msgs
	}
}

// drive runs the protocol: initialize, open a session, prompt.
func (t *turn) drive(ctx context.Context, conn *acp.Conn) driveResult {
	var init initializeResult
	err := conn.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{"readTextFile": t.a.cfg.AllowFileRead, "writeTextFile": false},
		},
	}, &init)
	if err != nil {
		return driveResult{stage: "initialize", err: err}
	}

	id, resumed, err := t.openSession(ctx, conn, init)
	if err != nil {
		return driveResult{stage: "session", err: err}
	}
	t.setSession(id)
	ready := t.f.Status("Qwen session ready", map[string]any{"acp_session_id": id, "resumed": resumed})
	if !t.push(event{kind: eventStatus, msg: ready}) {
		return driveResult{stage: "session", err: errStopped}
	}

	stop, err := t.prompt(ctx, conn, id)
	if err != nil && isSessionNotFound(err) {
		t.log.Warn("qwen session expired; creating a new session and re-sending the prompt", zap.String("acp_session_id", id))
		id, err = t.newSession(ctx, conn, init)
		if err != nil {
			return driveResult{stage: "session recovery", err: err}
		}
		t.setSession(id)
		t.remember(ctx, id)
		stop, err = t.prompt(ctx, conn, id)
	}
	if err != nil {
		return driveResult{stage: "prompt", err: err}
	}
	return driveResult{stopReason: stop}
}

type initializeResult struct {
	ProtocolVersion   int `json:"protocolVersion"`
	AgentCapabilities struct {
		LoadSession bool `json:"loadSession"`
	} `json:"agentCapabilities"`
	AuthMethods []struct {
		ID string `json:"id"`
	} `json:"authMethods"`
}

func (t *turn) sessionParams(extra map[string]any) map[string]any {
	params := map[string]any{"cwd": t.workDir, "mcpServers": []any{}}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

// openSession resumes the caller's previous tool session on follow-up prompts, else creates one.
func (t *turn) openSession(ctx context.Context, conn *acp.Conn, init initializeResult) (string, bool, error) {
	if !t.req.IsInitialPrompt && t.req.SessionID != "" && init.AgentCapabilities.LoadSession {
		stored, ok, err := t.a.store.Get(ctx, Name, t.req.SessionID)
		switch {
		case err != nil:
			t.log.Warn("session store lookup failed", zap.Error(err))
		case ok:
			err := conn.Call(ctx, "session/load", t.sessionParams(map[string]any{"sessionId": stored}), nil)
			if err == nil {
				t.log.Info("qwen session resumed", zap.String("acp_session_id", stored))
				return stored, true, nil
			}
			if ctx.Err() != nil || errors.Is(err, acp.ErrClosed) {
				return "", false, err
			}
			t.log.Warn("session/load failed; starting a new session", zap.Error(err))
		}
	}
	id, err := t.newSession(ctx, conn, init)
	if err != nil {
		return "", false, err
	}
	t.remember(ctx, id)
	t.log.Info("qwen session created", zap.String("acp_session_id", id))
	return id, false, nil
}

// newSession creates a session, authenticating once in native mode when the first attempt is refused.
func (t *turn) newSession(ctx context.Context, conn *acp.Conn, init initializeResult) (string, error) {
	id, err := t.callNewSession(ctx, conn)
	if err == nil {
		return id, nil
	}
	if ctx.Err() != nil || errors.Is(err, acp.ErrClosed) || t.a.cfg.openAICompatible() || !t.a.cfg.NativeAuth {
		return "", err
	}
	method := oauthMethod
	if len(init.AuthMethods) > 0 && !hasAuthMethod(init, oauthMethod) {
		method = init.AuthMethods[0].ID
	}
	t.log.Warn("session/new failed; authenticating", zap.String("method", method), zap.Error(err))
	if err := conn.Call(ctx, "authenticate", map[string]any{"methodId": method}, nil); err != nil {
		return "", fmt.Errorf("authenticate via %s: %w", method, err)
	}
	return t.callNewSession(ctx, conn)
}

func hasAuthMethod(init initializeResult, id string) bool {
	for _, m := range init.AuthMethods {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (t *turn) callNewSession(ctx context.Context, conn *acp.Conn) (string, error) {
	var res struct {
		SessionID string `json:"sessionId"`
	}
	if err := conn.Call(ctx, "session/new", t.sessionParams(nil), &res); err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", acp.NewError(acp.CodeInternalError, "session/new returned no sessionId", nil)
	}
	return res.SessionID, nil
}

func (t *turn) remember(ctx context.Context, id string) {
	if t.req.SessionID == "" {
		return
	}
	if err := t.a.store.Put(ctx, Name, t.req.SessionID, id); err != nil {
		t.log.Warn("failed to store session mapping", zap.Error(err))
	}
}

func (t *turn) prompt(ctx context.Context, conn *acp.Conn, id string) (string, error) {
	var res struct {
		StopReason string `json:"stopReason"`
	}
	t.log.Debug("sending session/prompt", zap.String("acp_session_id", id))
	err := conn.Call(ctx, "session/prompt", map[string]any{
		"sessionId": id,
		"prompt":    []map[string]any{{"type": "text", "text": t.req.Instruction}},
	}, &res)
	return res.StopReason, err
}

func isSessionNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "session not found")
}

// finish converts the driver outcome into the final message.
func (t *turn) finish(ctx, runCtx context.Context, res driveResult, proc *process.Process) message.Message {
	if res.err == nil {
		t.log.Info("turn completed", zap.String("stop_reason", res.stopReason))
		meta := map[string]any{"hidden_from_ui": true, "acp_session_id": t.currentSession()}
		if res.stopReason != "" {
			meta["stop_reason"] = res.stopReason
		}
		return t.f.New(message.RoleSystem, message.TypeResult, "Qwen turn completed", meta)
	}
	if runCtx.Err() != nil {
		return t.interrupted(ctx, runCtx)
	}

	var rpcErr *acp.Error
	if errors.As(res.err, &rpcErr) {
		t.log.Warn("qwen protocol error", zap.String("stage", res.stage), zap.Error(res.err))
		return t.f.Error(message.KindProtocol,
			fmt.Sprintf("Qwen %s error: %s", res.stage, rpcErr.Message),
			map[string]any{"stage": res.stage, "code": rpcErr.Code})
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(res.err, &syntaxErr) || errors.As(res.err, &typeErr) {
		t.log.Warn("qwen sent an unexpected result", zap.String("stage", res.stage), zap.Error(res.err))
		return t.f.Error(message.KindProtocol,
			fmt.Sprintf("Qwen %s error: %v", res.stage, res.err),
			map[string]any{"stage": res.stage})
	}

	// anything else means the process went away or the pipe broke
	select {
	case <-proc.Done():
	case <-time.After(t.a.cfg.StopGrace):
		proc.Stop()
	}
	code := proc.ExitCode()
	tail := proc.StderrTail()
	for i := range tail {
		tail[i] = util.RedactSecrets(tail[i])
	}
	t.log.Warn("qwen cli exited before completing the turn", zap.String("stage", res.stage), zap.Int("exit_code", code), zap.Error(res.err))
	content := fmt.Sprintf("Qwen CLI exited before completing the turn (exit code %d)", code)
	if len(tail) > 0 {
		content += ": " + tail[len(tail)-1]
	}
	return t.f.Error(message.KindProcessFailed, content, map[string]any{
		"stage":       res.stage,
		"exit_code":   code,
		"stderr_tail": tail,
	})
}

// interrupted reports why runCtx ended. ctx is the caller's context, runCtx adds the turn timeout.
func (t *turn) interrupted(ctx, runCtx context.Context) message.Message {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		t.log.Warn("caller deadline exceeded")
		return t.f.Error(message.KindTimeout, "Qwen CLI stopped: the caller's deadline was exceeded", map[string]any{"caller_deadline": true})
	case ctx.Err() != nil:
		t.log.Info("qwen turn cancelled")
		return t.f.Error(message.KindCancelled, "Qwen execution cancelled", nil)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		t.log.Warn("qwen turn timed out", zap.Duration("timeout", t.timeout))
		return t.f.Error(message.KindTimeout, fmt.Sprintf("Qwen CLI timed out after %s", t.timeout), map[string]any{"timeout_ms": t.timeout.Milliseconds()})
	}
	t.log.Info("qwen turn cancelled")
	return t.f.Error(message.KindCancelled, "Qwen execution cancelled", nil)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
