package config

import (
	"time"
)

// Built-in backend kinds
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
)

// Config holds the top-level configuration from assistant-llm.yaml
type Config struct {
	Backend      string                   `mapstructure:"backend" yaml:"backend"`
	Backends     map[string]BackendConfig `mapstructure:"backends" yaml:"backends"`
	Retry        RetryConfig              `mapstructure:"retry" yaml:"retry"`
	Conversation ConversationConfig       `mapstructure:"conversation" yaml:"conversation"`
	Cache        CacheConfig              `mapstructure:"cache" yaml:"cache"`
	Metrics      MetricsConfig            `mapstructure:"metrics" yaml:"metrics"`
	Logging      LoggingConfig            `mapstructure:"logging" yaml:"logging"`
	Debug        bool                     `mapstructure:"debug" yaml:"-"`
}

// BackendConfig holds the settings of one backend kind
type BackendConfig struct {
	BaseURL           string            `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key,omitempty"`         // Inline credential, discouraged
	APIKeyEnv         string            `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"` // Name of the env var holding the credential
	Timeout           int               `mapstructure:"timeout" yaml:"timeout,omitempty"`         // Timeout in seconds
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature       float64           `mapstructure:"temperature" yaml:"temperature"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute,omitempty"` // 0 disables throttling
	APIVersion        string            `mapstructure:"api_version" yaml:"api_version,omitempty"`
	Organization      string            `mapstructure:"organization" yaml:"organization,omitempty"`
	KeepAlive         string            `mapstructure:"keep_alive" yaml:"keep_alive,omitempty"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// ProviderConfig is the active backend: its kind plus the settings for that kind
type ProviderConfig struct {
	Kind     string
	Settings BackendConfig
}

// RetryConfig holds retry configuration. Delays are in seconds.
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   float64 `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    float64 `mapstructure:"max_delay" yaml:"max_delay"`
}

// ConversationConfig holds conversation history configuration
type ConversationConfig struct {
	SystemMessage string `mapstructure:"system_message" yaml:"system_message"`
	MaxTurns      int    `mapstructure:"max_turns" yaml:"max_turns"`
	Persona       string `mapstructure:"persona" yaml:"persona,omitempty"`
	PersonaFile   string `mapstructure:"persona_file" yaml:"persona_file,omitempty"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	MaxSize int  `mapstructure:"max_size" yaml:"max_size"`
	TTL     int  `mapstructure:"ttl" yaml:"ttl"` // Seconds
}

// MetricsConfig holds prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	LogDir       string `mapstructure:"log_dir" yaml:"log_dir"`
	FileLevel    string `mapstructure:"file_level" yaml:"file_level"`       // debug, info, warn, error
	ConsoleLevel string `mapstructure:"console_level" yaml:"console_level"` // debug, info, warn, error
}

// GetTimeout returns the timeout as a time.Duration
func (c *BackendConfig) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// GetMaxTokens returns the max tokens with a default
func (c *BackendConfig) GetMaxTokens() int {
	if c.MaxTokens <= 0 {
		return 1024
	}
	return c.MaxTokens
}

// Clone returns a copy with its own header map
func (c BackendConfig) Clone() BackendConfig {
	if c.Headers != nil {
		headers := make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		c.Headers = headers
	}
	return c
}

// GetBaseDelay returns the base retry delay with a default
func (c *RetryConfig) GetBaseDelay() time.Duration {
	if c.BaseDelay <= 0 {
		return time.Second
	}
	return time.Duration(c.BaseDelay * float64(time.Second))
}

// GetMaxDelay returns the maximum retry delay with a default
func (c *RetryConfig) GetMaxDelay() time.Duration {
	if c.MaxDelay <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MaxDelay * float64(time.Second))
}

// GetMaxAttempts returns the attempt budget with a default
func (c *RetryConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

// GetMaxSize returns the maximum cache size with a default
func (c *CacheConfig) GetMaxSize() int {
	if c.MaxSize <= 0 {
		return 256
	}
	return c.MaxSize
}

// GetTTL returns the TTL as a time.Duration with a default
func (c *CacheConfig) GetTTL() time.Duration {
	if c.TTL <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTL) * time.Second
}
