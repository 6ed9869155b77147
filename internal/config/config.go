package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xunmengshe2x/Claudable/internal/process"
	"github.com/xunmengshe2x/Claudable/internal/qwen"
	"github.com/xunmengshe2x/Claudable/internal/repo"
)

const (
	DefaultAdapter        = "qwen"
	DefaultTimeout        = qwen.DefaultTimeout
	DefaultVersionTimeout = qwen.DefaultVersionTimeout
	DefaultStopGrace      = process.DefaultStopGrace
	DefaultOutputFormat   = "text"
	// MemoryStore selects the in-process session store.
	MemoryStore = "memory"
)

// QwenConfig holds the settings of the Qwen adapter.
type QwenConfig struct {
	Command          string        `json:"command,omitempty"`
	Args             []string      `json:"args,omitempty"`
	APIKey           string        `json:"-"`
	BaseURL          string        `json:"base_url,omitempty"`
	Model            string        `json:"model,omitempty"`
	NativeAuth       bool          `json:"native_auth"`
	AllowFileRead    bool          `json:"allow_file_read"`
	MaxReadBytes     int           `json:"max_read_bytes"`
	ProbeVersion     bool          `json:"probe_version"`
	VersionTimeout   time.Duration `json:"version_timeout"`
	VerifyEndpoint   bool          `json:"verify_endpoint"`
	StopGrace        time.Duration `json:"stop_grace"`
	SystemPromptFile string        `json:"system_prompt_file,omitempty"`
}

// Config holds runtime configuration values.
type Config struct {
	Adapter      string
	Project      string
	SessionID    string
	Timeout      time.Duration
	Verbose      bool
	Quiet        bool
	ShowTools    bool
	JSON         bool
	StreamJSON   bool
	LogFile      string
	OutputFormat string
	PersistRuns  bool
	SessionStore string
	HTTPReferer  string
	Title        string
	Qwen         QwenConfig
}

type rawQwen struct {
	Command          string   `mapstructure:"command"`
	Args             []string `mapstructure:"args"`
	APIKey           string   `mapstructure:"api_key"`
	BaseURL          string   `mapstructure:"base_url"`
	Model            string   `mapstructure:"model"`
	NativeAuth       bool     `mapstructure:"native_auth"`
	AllowFileRead    bool     `mapstructure:"allow_file_read"`
	MaxReadBytes     int      `mapstructure:"max_read_bytes"`
	ProbeVersion     bool     `mapstructure:"probe_version"`
	VersionTimeout   string   `mapstructure:"version_timeout"`
	VerifyEndpoint   bool     `mapstructure:"verify_endpoint"`
	StopGrace        string   `mapstructure:"stop_grace"`
	SystemPromptFile string   `mapstructure:"system_prompt_file"`
}

type rawConfig struct {
	Adapter      string  `mapstructure:"adapter"`
	Project      string  `mapstructure:"project"`
	SessionID    string  `mapstructure:"session"`
	Timeout      string  `mapstructure:"timeout"`
	Verbose      bool    `mapstructure:"verbose"`
	Quiet        bool    `mapstructure:"quiet"`
	ShowTools    bool    `mapstructure:"show_tools"`
	JSON         bool    `mapstructure:"json"`
	StreamJSON   bool    `mapstructure:"stream_json"`
	LogFile      string  `mapstructure:"log_file"`
	OutputFormat string  `mapstructure:"output_format"`
	PersistRuns  bool    `mapstructure:"persist_runs"`
	SessionStore string  `mapstructure:"session_store"`
	HTTPReferer  string  `mapstructure:"http_referer"`
	Title        string  `mapstructure:"title"`
	Qwen         rawQwen `mapstructure:"qwen"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"adapter":         "adapter",
	"project":         "project",
	"session":         "session",
	"timeout":         "timeout",
	"verbose":         "verbose",
	"quiet":           "quiet",
	"show-tools":      "show_tools",
	"json":            "json",
	"stream-json":     "stream_json",
	"log-file":        "log_file",
	"persist-runs":    "persist_runs",
	"session-store":   "session_store",
	"model":           "qwen.model",
	"qwen-cmd":        "qwen.command",
	"native-auth":     "qwen.native_auth",
	"allow-file-read": "qwen.allow_file_read",
	"probe-version":   "qwen.probe_version",
	"verify-endpoint": "qwen.verify_endpoint",
	"system-prompt":   "qwen.system_prompt_file",
}

// Load resolves configuration from defaults, config files, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLIBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("adapter", DefaultAdapter)
	v.SetDefault("project", ".")
	v.SetDefault("session", "")
	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
	v.SetDefault("show_tools", true)
	v.SetDefault("json", false)
	v.SetDefault("stream_json", false)
	v.SetDefault("log_file", "")
	v.SetDefault("output_format", DefaultOutputFormat)
	v.SetDefault("persist_runs", false)
	v.SetDefault("session_store", "")
	v.SetDefault("http_referer", "")
	v.SetDefault("title", "clibridge")
	v.SetDefault("qwen.command", "")
	v.SetDefault("qwen.args", []string{})
	v.SetDefault("qwen.api_key", "")
	v.SetDefault("qwen.base_url", "")
	v.SetDefault("qwen.model", "")
	v.SetDefault("qwen.native_auth", false)
	v.SetDefault("qwen.allow_file_read", false)
	v.SetDefault("qwen.max_read_bytes", repo.DefaultMaxReadBytes)
	v.SetDefault("qwen.probe_version", true)
	v.SetDefault("qwen.version_timeout", DefaultVersionTimeout.String())
	v.SetDefault("qwen.verify_endpoint", false)
	v.SetDefault("qwen.stop_grace", DefaultStopGrace.String())
	v.SetDefault("qwen.system_prompt_file", "")

	// the tool's own variables are honored after the prefixed ones
	_ = v.BindEnv("qwen.api_key", "CLIBRIDGE_QWEN_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("qwen.base_url", "CLIBRIDGE_QWEN_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("qwen.model", "CLIBRIDGE_QWEN_MODEL", "OPENAI_MODEL")
	_ = v.BindEnv("qwen.command", "CLIBRIDGE_QWEN_COMMAND", "QWEN_CMD")

	if cmd != nil {
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	if seconds := os.Getenv("CLIBRIDGE_TIMEOUT_SECONDS"); seconds != "" && os.Getenv("CLIBRIDGE_TIMEOUT") == "" {
		v.SetDefault("timeout", seconds+"s")
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	decoder, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", WeaklyTypedInput: true, Result: &raw})
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	timeout, err := parseDuration("timeout", raw.Timeout, DefaultTimeout)
	if err != nil {
		return Config{}, err
	}
	versionTimeout, err := parseDuration("qwen.version_timeout", raw.Qwen.VersionTimeout, DefaultVersionTimeout)
	if err != nil {
		return Config{}, err
	}
	stopGrace, err := parseDuration("qwen.stop_grace", raw.Qwen.StopGrace, DefaultStopGrace)
	if err != nil {
		return Config{}, err
	}

	jsonOutput := raw.JSON
	if cmd != nil && cmd.Flags().Changed("json") {
		jsonOutput = v.GetBool("json")
	} else if strings.EqualFold(raw.OutputFormat, "json") {
		jsonOutput = true
	}
	streamJSON := raw.StreamJSON || strings.EqualFold(raw.OutputFormat, "stream-json")

	cfg := Config{
		Adapter:      raw.Adapter,
		Project:      raw.Project,
		SessionID:    raw.SessionID,
		Timeout:      timeout,
		Verbose:      raw.Verbose,
		Quiet:        raw.Quiet,
		ShowTools:    raw.ShowTools,
		JSON:         jsonOutput,
		StreamJSON:   streamJSON,
		LogFile:      raw.LogFile,
		OutputFormat: raw.OutputFormat,
		PersistRuns:  raw.PersistRuns,
		SessionStore: raw.SessionStore,
		HTTPReferer:  raw.HTTPReferer,
		Title:        raw.Title,
		Qwen: QwenConfig{
			Command:          strings.TrimSpace(raw.Qwen.Command),
			Args:             raw.Qwen.Args,
			APIKey:           strings.TrimSpace(raw.Qwen.APIKey),
			BaseURL:          strings.TrimSpace(raw.Qwen.BaseURL),
			Model:            strings.TrimSpace(raw.Qwen.Model),
			NativeAuth:       raw.Qwen.NativeAuth,
			AllowFileRead:    raw.Qwen.AllowFileRead,
			MaxReadBytes:     raw.Qwen.MaxReadBytes,
			ProbeVersion:     raw.Qwen.ProbeVersion,
			VersionTimeout:   versionTimeout,
			VerifyEndpoint:   raw.Qwen.VerifyEndpoint,
			StopGrace:        stopGrace,
			SystemPromptFile: raw.Qwen.SystemPromptFile,
		},
	}

	if cfg.Adapter == "" {
		cfg.Adapter = DefaultAdapter
	}
	if cfg.Project == "" {
		cfg.Project = "."
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Qwen.MaxReadBytes <= 0 {
		cfg.Qwen.MaxReadBytes = repo.DefaultMaxReadBytes
	}
	if cfg.Qwen.VersionTimeout <= 0 {
		cfg.Qwen.VersionTimeout = DefaultVersionTimeout
	}
	if cfg.Qwen.StopGrace <= 0 {
		cfg.Qwen.StopGrace = DefaultStopGrace
	}
	if cfg.Quiet {
		cfg.ShowTools = false
	}

	return cfg, nil
}

// QwenAdapterConfig converts the settings into the adapter's value object.
// The subprocess inherits the current environment.
func (c Config) QwenAdapterConfig() qwen.Config {
	return qwen.Config{
		Command:          c.Qwen.Command,
		Args:             c.Qwen.Args,
		APIKey:           c.Qwen.APIKey,
		BaseURL:          c.Qwen.BaseURL,
		Model:            c.Qwen.Model,
		NativeAuth:       c.Qwen.NativeAuth,
		AllowFileRead:    c.Qwen.AllowFileRead,
		MaxReadBytes:     c.Qwen.MaxReadBytes,
		ProbeVersion:     c.Qwen.ProbeVersion,
		VersionTimeout:   c.Qwen.VersionTimeout,
		VerifyEndpoint:   c.Qwen.VerifyEndpoint,
		Timeout:          c.Timeout,
		StopGrace:        c.Qwen.StopGrace,
		Env:              os.Environ(),
		SystemPromptFile: c.Qwen.SystemPromptFile,
	}
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return parsed, nil
}

// Dir returns the directory holding clibridge's config file.
func Dir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "clibridge"), nil
}

func loadConfigFile(v *viper.Viper) error {
	if path := os.Getenv("CLIBRIDGE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	base, err := Dir()
	if err != nil {
		return nil
	}
	candidates := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
