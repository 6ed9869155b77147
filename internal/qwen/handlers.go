package qwen

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/xunmengshe2x/Claudable/internal/acp"
	"github.com/xunmengshe2x/Claudable/internal/repo"
)

// clientHandlers answer the requests the CLI sends back to its client.
type clientHandlers struct {
	workDir   string
	allowRead bool
	maxBytes  int
	log       *zap.Logger
}

func (h *clientHandlers) register(conn *acp.Conn) {
	conn.Handle("session/request_permission", h.requestPermission)
	conn.Handle("fs/read_text_file", h.readTextFile)
	conn.Handle("fs/write_text_file", h.writeTextFile)
	conn.Handle("edit", h.edit)
	conn.Handle("str_replace_editor", h.edit)
}

type permissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// requestPermission auto-approves, preferring allow_always, then allow_once, then the first option.
func (h *clientHandlers) requestPermission(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Options []permissionOption `json:"options"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, acp.NewError(acp.CodeInvalidParams, "invalid permission request", err.Error())
		}
	}
	chosen := pickPermission(req.Options)
	if chosen == nil {
		return map[string]any{"outcome": map[string]any{"outcome": "cancelled"}}, nil
	}
	h.log.Debug("permission granted", zap.String("option", chosen.OptionID), zap.String("kind", chosen.Kind))
	return map[string]any{"outcome": map[string]any{"outcome": "selected", "optionId": chosen.OptionID}}, nil
}

func pickPermission(options []permissionOption) *permissionOption {
	for _, kind := range []string{"allow_always", "allow_once"} {
		for i := range options {
			if options[i].Kind == kind {
				return &options[i]
			}
		}
	}
	if len(options) > 0 {
		return &options[0]
	}
	return nil
}

type readTextFileParams struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Limit int    `json:"limit"`
}

// readTextFile answers empty content unless reads are enabled, then serves files from the work dir.
func (h *clientHandlers) readTextFile(ctx context.Context, params json.RawMessage) (any, error) {
	if !h.allowRead {
		return map[string]any{"content": ""}, nil
	}
	var req readTextFileParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, acp.NewError(acp.CodeInvalidParams, "invalid read request", err.Error())
	}
	content, truncated, err := repo.ReadText(h.workDir, req.Path, req.Line, req.Limit, h.maxBytes)
	if err != nil {
		h.log.Warn("refused file read", zap.String("path", req.Path), zap.Error(err))
		return nil, err
	}
	if truncated {
		h.log.Debug("file read truncated", zap.String("path", req.Path), zap.Int("max_bytes", h.maxBytes))
	}
	return map[string]any{"content": content}, nil
}

// writeTextFile acknowledges without touching the file system.
func (h *clientHandlers) writeTextFile(ctx context.Context, params json.RawMessage) (any, error) {
	var req map[string]any
	_ = json.Unmarshal(params, &req)
	_, hasOld := req["old_string"]
	_, hasContent := req["content"]
	if !hasOld && hasContent {
		h.log.Warn("write request without old_string", zap.Any("path", req["path"]))
	}
	return map[string]any{"success": true}, nil
}

// edit acknowledges edit and str_replace_editor requests without applying them.
func (h *clientHandlers) edit(ctx context.Context, params json.RawMessage) (any, error) {
	var req map[string]any
	_ = json.Unmarshal(params, &req)
	path := req["path"]
	if path == nil {
		path = req["file_path"]
	}
	if _, ok := req["old_string"]; !ok {
		h.log.Warn("edit request without old_string", zap.Any("path", path))
	} else {
		h.log.Debug("edit request acknowledged", zap.Any("path", path))
	}
	return map[string]any{"success": true}, nil
}
