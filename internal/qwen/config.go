package qwen

import (
	"time"

	"github.com/xunmengshe2x/Claudable/internal/models"
	"github.com/xunmengshe2x/Claudable/internal/process"
)

const (
	DefaultTimeout        = 10 * time.Minute
	DefaultVersionTimeout = 10 * time.Second
)

// Config is the explicit configuration of the Qwen adapter.
type Config struct {
	// Command overrides the binary lookup; it may carry leading arguments ("npx qwen").
	Command string
	// Args are inserted before the ACP flags.
	Args []string

	APIKey  string
	BaseURL string
	Model   string
	// NativeAuth lets the CLI use its own login when no API key is configured.
	NativeAuth bool

	// AllowFileRead serves fs/read_text_file from the work dir instead of answering empty.
	AllowFileRead bool
	MaxReadBytes  int

	ProbeVersion   bool
	VersionTimeout time.Duration
	// VerifyEndpoint lists models from the endpoint during availability checks.
	VerifyEndpoint bool

	Timeout   time.Duration
	StopGrace time.Duration

	// Env is the base environment of the subprocess; nil uses the current process environment.
	Env []string
	// SystemPromptFile seeds QWEN.md; empty uses the built-in instructions.
	SystemPromptFile string
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.VersionTimeout == 0 {
		c.VersionTimeout = DefaultVersionTimeout
	}
	if c.StopGrace == 0 {
		c.StopGrace = process.DefaultStopGrace
	}
	return c
}

// openAICompatible reports whether the CLI should be driven through an OpenAI-compatible endpoint.
func (c Config) openAICompatible() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

// configured reports whether credentials are in place, with the reason when they are not.
func (c Config) configured() (bool, string) {
	switch {
	case c.openAICompatible():
		return true, ""
	case c.APIKey != "" && c.BaseURL == "":
		return false, "OPENAI_BASE_URL is not set; the Qwen CLI needs both OPENAI_API_KEY and OPENAI_BASE_URL"
	case c.NativeAuth:
		return true, ""
	default:
		return false, "OPENAI_API_KEY is not set and native Qwen authentication is disabled"
	}
}

// model picks the request override, then the configured model, then the default in OpenAI-compatible mode.
func (c Config) model(override string) string {
	if override != "" {
		return override
	}
	if c.Model != "" {
		return c.Model
	}
	if c.openAICompatible() {
		return models.DefaultModel
	}
	return ""
}

func (c Config) mode() string {
	if c.openAICompatible() {
		return "openai-compatible"
	}
	return "native"
}
