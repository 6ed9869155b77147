package qwen

import (
	"errors"
	"os"
	"strings"

	"github.com/xunmengshe2x/Claudable/internal/process"
	"github.com/xunmengshe2x/Claudable/internal/util"
)

var errNotFound = errors.New("Qwen CLI not found. Set QWEN_CMD or install 'qwen' in PATH")

// resolveCommand returns argv for the first candidate found: QWEN_CMD, qwen, qwen-code.
func (a *Adapter) resolveCommand() ([]string, error) {
	var candidates [][]string
	if cmd := strings.TrimSpace(a.cfg.Command); cmd != "" {
		if parts, err := process.SplitCommand(cmd); err == nil && len(parts) > 0 {
			candidates = append(candidates, parts)
		}
	}
	candidates = append(candidates, []string{"qwen"}, []string{"qwen-code"})
	for _, c := range candidates {
		path, err := a.lookPath(c[0])
		if err == nil {
			return append([]string{path}, c[1:]...), nil
		}
	}
	return nil, errNotFound
}

// buildArgs returns the arguments following the binary in argv.
func buildArgs(cfg Config, prefix []string, model string) []string {
	args := append([]string{}, prefix...)
	args = append(args, cfg.Args...)
	args = append(args, "--experimental-acp")
	if cfg.openAICompatible() {
		args = append(args, "--openai-api-key", cfg.APIKey, "--openai-base-url", cfg.BaseURL)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

// buildEnv layers the adapter overrides on top of the base environment.
func buildEnv(cfg Config, model string) []string {
	base := cfg.Env
	if base == nil {
		base = os.Environ()
	}
	overrides := map[string]string{}
	var order []string
	set := func(k, v string) {
		if _, ok := overrides[k]; !ok {
			order = append(order, k)
		}
		overrides[k] = v
	}
	if !hasEnv(base, "NO_BROWSER") {
		set("NO_BROWSER", "1")
	}
	if cfg.openAICompatible() {
		set("OPENAI_API_KEY", cfg.APIKey)
		set("OPENAI_BASE_URL", cfg.BaseURL)
		if model != "" {
			set("OPENAI_MODEL", model)
		}
		set("QWEN_AUTH_METHOD", "openai-compatible")
		set("QWEN_API_TYPE", "openai")
		set("QWEN_DISABLE_OAUTH", "1")
		set("QWEN_FORCE_OPENAI", "1")
		set("QWEN_USE_OPENAI", "true")
		set("QWEN_OPENAI_ENABLED", "true")
		set("QWEN_SKIP_AUTH", "1")
		// keep the CLI from falling back to other vendors
		set("ANTHROPIC_API_KEY", "")
		set("GEMINI_API_KEY", "")
		set("GOOGLE_API_KEY", "")
	}

	out := make([]string, 0, len(base)+len(order))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range order {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func hasEnv(env []string, key string) bool {
	for _, kv := range env {
		if k, _, _ := strings.Cut(kv, "="); k == key {
			return true
		}
	}
	return false
}

// redactArgs hides credentials in argv before it is logged or reported.
func redactArgs(argv []string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		if i > 0 && argv[i-1] == "--openai-api-key" {
			out[i] = "[REDACTED]"
			continue
		}
		out[i] = util.RedactSecrets(arg)
	}
	return out
}

// keepStderr drops the CLI's known noise.
func keepStderr(line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false
	case strings.Contains(strings.ToLower(trimmed), "polling for token"):
		return false
	case strings.Contains(trimmed, "[ERROR] [ImportProcessor]"):
		return false
	case strings.Contains(trimmed, "ENOENT") &&
		(strings.Contains(trimmed, "node_modules") || strings.Contains(trimmed, "tailwind") || strings.Contains(trimmed, "supabase")):
		return false
	case strings.HasPrefix(trimmed, "DEBUG"):
		return false
	}
	return true
}
