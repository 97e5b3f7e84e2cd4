package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"ontogen/internal/types"
)

// Config holds all ontogen configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Payload execution
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Synthesis loop
	Agent AgentConfig `yaml:"agent"`

	// Capability graph persistence
	Ontology OntologyConfig `yaml:"ontology"`

	// Trace sinks
	Tracing TracingConfig `yaml:"tracing"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the code generator.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, openai-compatible, anthropic, gemini, ollama
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SandboxConfig configures where generated code runs.
type SandboxConfig struct {
	Mode           string `yaml:"mode"`   // inprocess, isolated
	Runner         string `yaml:"runner"` // process, docker (isolated mode only)
	Python         string `yaml:"python"`
	Image          string `yaml:"image"`
	Memory         string `yaml:"memory"`
	PidsLimit      int    `yaml:"pids_limit"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
	// Empty means no limit.
	Timeout string `yaml:"timeout"`
}

// AgentConfig configures the synthesis loop.
type AgentConfig struct {
	// nil means the default; 0 disables retries.
	MaxRetries     *int   `yaml:"max_retries"`
	SystemPrompt   string `yaml:"system_prompt"`
	HostValidation bool   `yaml:"host_validation"`
	LearnTools     bool   `yaml:"learn_tools"`
	Concurrency    int    `yaml:"concurrency"`
}

// OntologyConfig locates the persisted graph. A .db or .sqlite extension
// selects the SQLite backend.
type OntologyConfig struct {
	Path string `yaml:"path"`
}

// TracingConfig configures trace sinks.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Also emit span ends through the tracing logger.
	Log bool `yaml:"log"`
}

const (
	DefaultProvider   = "openai"
	DefaultMaxRetries = 3
)

// DefaultModels maps providers to the model used when none is configured.
var DefaultModels = map[string]string{
	"openai":            "gpt-4o-mini",
	"openai-compatible": "gpt-4o-mini",
	"anthropic":         "claude-3-5-haiku-latest",
	"gemini":            "gemini-2.0-flash",
	"ollama":            "llama3",
}

// APIKeyEnv maps providers to the environment variable holding their key.
var APIKeyEnv = map[string]string{
	"openai":            "OPENAI_API_KEY",
	"openai-compatible": "OPENAI_COMPAT_API_KEY",
	"anthropic":         "ANTHROPIC_API_KEY",
	"gemini":            "GEMINI_API_KEY",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	retries := DefaultMaxRetries
	return &Config{
		LLM: LLMConfig{
			Provider:  DefaultProvider,
			Timeout:   "120s",
			MaxTokens: 4096,
		},

		Sandbox: SandboxConfig{
			Mode:           "isolated",
			Runner:         "process",
			Python:         "python3",
			Image:          "python:3.12-slim",
			Memory:         "256m",
			PidsLimit:      64,
			MaxOutputBytes: 1 << 20,
		},

		Agent: AgentConfig{
			MaxRetries:  &retries,
			Concurrency: 4,
		},

		Ontology: OntologyConfig{
			Path: "ontology.json",
		},

		Tracing: TracingConfig{
			Path: "traces.jsonl",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, types.Wrap(types.KindConfig, err, "failed to read config")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, types.Wrap(types.KindConfig, err, "failed to parse config")
			}
		}
	}

	if err := mergo.Merge(cfg, DefaultConfig(), mergo.WithoutDereference); err != nil {
		return nil, types.Wrap(types.KindConfig, err, "failed to apply defaults")
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("ONTOGEN_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
	if m := os.Getenv("ONTOGEN_MODEL"); m != "" {
		c.LLM.Model = m
	}

	// Provider key from environment unless set in the file
	if c.LLM.APIKey == "" {
		if env, ok := APIKeyEnv[c.LLM.Provider]; ok {
			c.LLM.APIKey = os.Getenv(env)
		}
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" && c.LLM.Provider == "ollama" {
		c.LLM.BaseURL = url
	}

	if path := os.Getenv("ONTOGEN_ONTOLOGY"); path != "" {
		c.Ontology.Path = path
	}
	if mode := os.Getenv("ONTOGEN_SANDBOX"); mode != "" {
		c.Sandbox.Mode = mode
	}
}

// GetModel returns the configured model or the provider default.
func (c *Config) GetModel() string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	return DefaultModels[c.LLM.Provider]
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSandboxTimeout returns the per-run sandbox limit; 0 means none.
func (c *Config) GetSandboxTimeout() time.Duration {
	if c.Sandbox.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetMaxRetries returns the retry budget, never negative.
func (c *Config) GetMaxRetries() int {
	if c.Agent.MaxRetries == nil {
		return DefaultMaxRetries
	}
	if *c.Agent.MaxRetries < 0 {
		return 0
	}
	return *c.Agent.MaxRetries
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "openai-compatible", "anthropic", "gemini", "ollama"}

// ValidSandboxModes lists the execution modes.
var ValidSandboxModes = []string{"inprocess", "isolated"}

// ValidRunners lists the isolated-mode runners.
var ValidRunners = []string{"process", "docker"}

// Validate validates the configuration. API keys are checked when the
// generator is constructed, so commands that never generate code work
// without one.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return types.Errorf(types.KindConfig, "invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidSandboxModes, c.Sandbox.Mode) {
		return types.Errorf(types.KindConfig, "invalid sandbox mode: %s (valid: %v)", c.Sandbox.Mode, ValidSandboxModes)
	}
	if !contains(ValidRunners, c.Sandbox.Runner) {
		return types.Errorf(types.KindConfig, "invalid sandbox runner: %s (valid: %v)", c.Sandbox.Runner, ValidRunners)
	}
	if c.Sandbox.Timeout != "" {
		if d, err := time.ParseDuration(c.Sandbox.Timeout); err != nil || d < 0 {
			return types.Errorf(types.KindConfig, "invalid sandbox timeout: %q", c.Sandbox.Timeout)
		}
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return types.Errorf(types.KindConfig, "invalid llm timeout: %q", c.LLM.Timeout)
	}
	if c.Agent.Concurrency < 1 {
		return types.Errorf(types.KindConfig, "agent concurrency must be at least 1")
	}
	if c.Ontology.Path == "" {
		return types.Errorf(types.KindConfig, "ontology path not configured")
	}
	return c.Logging.Validate()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
