// internal/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for agentd.
type Config struct {
	Model      ModelConfig      `koanf:"model"`
	Agent      AgentConfig      `koanf:"agent"`
	Transcript TranscriptConfig `koanf:"transcript"`
	Workspace  WorkspaceConfig  `koanf:"workspace"`
	Tools      ToolsConfig      `koanf:"tools"`
	MCP        MCPConfig        `koanf:"mcp"`
	History    HistoryConfig    `koanf:"history"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LogConfig        `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ModelConfig configures the completion model backend.
type ModelConfig struct {
	// Provider selects the backend client: "openai" or "anthropic".
	// "openai" covers any OpenAI-compatible endpoint (vLLM, Ollama, etc.).
	Provider       string   `koanf:"provider"`
	BaseURL        string   `koanf:"base_url"`
	Name           string   `koanf:"name"`
	APIKey         Secret   `koanf:"api_key"`
	Temperature    float64  `koanf:"temperature"`
	MaxTokens      int      `koanf:"max_tokens"`
	RequestTimeout Duration `koanf:"request_timeout"`
	MaxRetries     int      `koanf:"max_retries"`
	// RateLimit is requests per second. Zero disables client-side limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	// DeepResearch enables the analyze/decompose/plan/execute/observe loop.
	// When false, runs go straight to the direct executor.
	DeepResearch bool `koanf:"deep_research"`
	// DeepThinking runs the analyze stage before decomposition.
	DeepThinking bool `koanf:"deep_thinking"`
	// Summary closes completed runs with a final summary stage.
	Summary bool `koanf:"summary"`
	// MoreSuggest enables the tool suggestion pre-pass on direct runs.
	MoreSuggest bool `koanf:"more_suggest"`
	// MultiAgent permits handing subtasks to nested agent capabilities.
	MultiAgent bool `koanf:"multi_agent"`
	// MaxLoopCount bounds plan/execute/observe cycles per run.
	MaxLoopCount int `koanf:"max_loop_count"`
	// SystemPrefix is prepended to every stage system message.
	SystemPrefix string `koanf:"system_prefix"`
}

// TranscriptConfig bounds prompt growth.
type TranscriptConfig struct {
	// MaxBytes is the serialized transcript budget. Before each run the
	// controller drops non-user, non-final-answer messages from the front
	// until the transcript fits.
	MaxBytes int `koanf:"max_bytes"`
}

// WorkspaceConfig controls per-session scratch directories.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// ToolsConfig controls local capability loading.
type ToolsConfig struct {
	// DynamicDir holds interpreted Go tool files registered at startup.
	// A missing directory simply loads nothing.
	DynamicDir string `koanf:"dynamic_dir"`
}

// MCPConfig configures external capability servers.
type MCPConfig struct {
	// ServersPath points at the servers definition file (YAML).
	ServersPath    string   `koanf:"servers_path"`
	ConnectTimeout Duration `koanf:"connect_timeout"`
	CallTimeout    Duration `koanf:"call_timeout"`
}

// HistoryConfig controls the optional run history recorder.
// The live transcript never depends on it.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ServerConfig configures the HTTP serving surface.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// KeepAlive is the SSE heartbeat interval for streaming responses.
	KeepAlive Duration `koanf:"keep_alive"`
}

// LogConfig carries the file-configurable subset of logging options.
// The logging package owns the full configuration surface.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// NewDefault returns a Config with working defaults for a local model endpoint.
func NewDefault() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:       "openai",
			BaseURL:        "http://localhost:8000/v1",
			Name:           "qwen-plus",
			Temperature:    0.7,
			MaxTokens:      4096,
			RequestTimeout: Duration(120 * time.Second),
			MaxRetries:     3,
		},
		Agent: AgentConfig{
			DeepResearch: true,
			DeepThinking: true,
			Summary:      true,
			MoreSuggest:  true,
			MultiAgent:   true,
			MaxLoopCount: 10,
		},
		Transcript: TranscriptConfig{
			MaxBytes: 10000,
		},
		Workspace: WorkspaceConfig{
			Root: "~/.agentd/workspaces",
		},
		Tools: ToolsConfig{
			DynamicDir: "~/.config/agentd/tools",
		},
		MCP: MCPConfig{
			ServersPath:    "~/.config/agentd/mcp_servers.yaml",
			ConnectTimeout: Duration(15 * time.Second),
			CallTimeout:    Duration(120 * time.Second),
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "~/.agentd/history.db",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8089,
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			KeepAlive:       Duration(15 * time.Second),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			SampleRatio: 1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("model provider must be 'openai' or 'anthropic', got %q", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model temperature must be in [0, 2], got %v", c.Model.Temperature)
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model max_tokens must be > 0, got %d", c.Model.MaxTokens)
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("model max_retries must be >= 0, got %d", c.Model.MaxRetries)
	}
	if c.Model.RateLimit < 0 {
		return fmt.Errorf("model rate_limit must be >= 0, got %v", c.Model.RateLimit)
	}

	if c.Agent.MaxLoopCount < 1 {
		return fmt.Errorf("agent max_loop_count must be >= 1, got %d", c.Agent.MaxLoopCount)
	}

	if c.Transcript.MaxBytes < 1 {
		return fmt.Errorf("transcript max_bytes must be >= 1, got %d", c.Transcript.MaxBytes)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in [1, 65535], got %d", c.Server.Port)
	}

	if err := ValidateLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry sample_ratio must be in [0, 1], got %v", c.Telemetry.SampleRatio)
		}
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty when history is enabled")
	}

	return nil
}

// ValidateLevel gates the level vocabulary accepted by the config file.
// The logging package converts the name into its own level type.
func ValidateLevel(level string) error {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown level %q", level)
	}
}
