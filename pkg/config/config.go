// Package config provides configuration loading and validation for the orchestrator.
//
// Configuration is split between a YAML file (non-secret settings, checked in)
// and environment variables (API keys and tokens, never written to disk).
// Load returns the merged result by value; callers hold their own copy and
// there is no global singleton to mutate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported model gateway backends.
const (
	BackendGemini    = "gemini"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
)

// Default model names per backend.
const (
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultOllamaModel    = "qwen2.5-coder:7b"
	DefaultOllamaHost     = "http://localhost:11434"
)

// Duration is a time.Duration that decodes YAML scalars like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ModelConfig selects and configures the generative backend.
// API keys come from env vars (GEMINI_API_KEY, ANTHROPIC_API_KEY,
// OPENAI_API_KEY), never from the YAML file.
type ModelConfig struct {
	Backend        string        `yaml:"backend"`
	Name           string        `yaml:"name"`
	OllamaHost     string        `yaml:"ollama_host"`
	RequestTimeout Duration      `yaml:"request_timeout"`
	APIKey         string        `yaml:"-"`
}

// RateLimitConfig bounds model gateway calls per sliding window.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      Duration      `yaml:"window"`
}

// GitConfig holds version control settings.
type GitConfig struct {
	RepoURL         string        `yaml:"repo_url"`
	TargetBranch    string        `yaml:"target_branch"`
	FallbackBranch  string        `yaml:"fallback_branch"`
	CommandTimeout  Duration      `yaml:"command_timeout"`
	RemoteTimeout   Duration      `yaml:"remote_timeout"`
	Token           string        `yaml:"-"`
}

// EditConfig holds file editor settings.
type EditConfig struct {
	// Strict makes a multi-file edit all-or-nothing: any file failure
	// fails the batch and nothing is committed.
	Strict bool `yaml:"strict"`
	// PromptTokenBudget caps the size of the prompt sent per file edit.
	PromptTokenBudget int `yaml:"prompt_token_budget"`
}

// WorkflowConfig holds task lifecycle settings.
type WorkflowConfig struct {
	// SuspensionTTL controls how long a rejected transcript stays
	// suspended. Zero means for the lifetime of the process.
	SuspensionTTL Duration `yaml:"suspension_ttl"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WorkDir   string          `yaml:"work_dir"`
	LogDir    string          `yaml:"log_dir"`
	Model     ModelConfig     `yaml:"model"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Git       GitConfig       `yaml:"git"`
	Edit      EditConfig      `yaml:"edit"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
}

// Default returns a config populated with defaults; Load applies the file
// and environment on top of it.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8000"},
		WorkDir: "todo-ui",
		LogDir:  "logs",
		Model: ModelConfig{
			Backend:        BackendGemini,
			Name:           DefaultGeminiModel,
			OllamaHost:     DefaultOllamaHost,
			RequestTimeout: Duration(90 * time.Second),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 5,
			Window:      Duration(time.Minute),
		},
		Git: GitConfig{
			TargetBranch:   "main",
			FallbackBranch: "master",
			CommandTimeout: Duration(30 * time.Second),
			RemoteTimeout:  Duration(60 * time.Second),
		},
		Edit: EditConfig{
			Strict:            false,
			PromptTokenBudget: 6000,
		},
	}
}

// Load reads the YAML file at path (optional), overlays env secrets, and
// validates the result. A missing file yields defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	switch cfg.Model.Backend {
	case BackendAnthropic:
		cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case BackendOpenAI:
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	case BackendOllama:
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			cfg.Model.OllamaHost = host
		}
	default:
		cfg.Model.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	cfg.Git.Token = os.Getenv("GITHUB_TOKEN")
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case BackendGemini, BackendAnthropic, BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir must not be empty")
	}
	if c.Git.CommandTimeout <= 0 || c.Git.RemoteTimeout <= 0 {
		return fmt.Errorf("git timeouts must be positive")
	}
	if c.Edit.PromptTokenBudget <= 0 {
		return fmt.Errorf("edit.prompt_token_budget must be positive, got %d", c.Edit.PromptTokenBudget)
	}
	if c.Workflow.SuspensionTTL < 0 {
		return fmt.Errorf("workflow.suspension_ttl must not be negative")
	}
	return nil
}

// ResolveWorkDir returns the absolute working tree path.
func (c *Config) ResolveWorkDir() (string, error) {
	abs, err := filepath.Abs(c.WorkDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve work_dir %s: %w", c.WorkDir, err)
	}
	return abs, nil
}
