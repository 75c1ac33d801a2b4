package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

const (
	// EnvPrefix prefixes every environment override, e.g. ASSISTANT_BACKEND
	EnvPrefix = "ASSISTANT"

	globalConfigName  = ".assistant-llm.yaml"
	projectConfigName = "assistant-llm.yaml"
)

// Keys of cliOverrides that apply to the active backend rather than a fixed path
var activeBackendKeys = map[string]bool{
	"model":    true,
	"base_url": true,
}

// Loader handles loading configuration from multiple sources
type Loader struct {
	v       *viper.Viper
	homeDir string
	workDir string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	homeDir, _ := os.UserHomeDir()
	return &Loader{v: v, homeDir: homeDir, workDir: "."}
}

// Load merges configuration sources and decodes the result.
// Precedence: CLI > --config or ./assistant-llm.yaml > ~/.assistant-llm.yaml > Environment > Defaults
// where environment variables override any file value for the keys they name.
func (l *Loader) Load(configPath string, cliOverrides map[string]any) (*Config, error) {
	// 1. Defaults
	setDefaults(l.v, DefaultConfig())

	// 2. ~/.assistant-llm.yaml
	if err := l.loadGlobalConfig(); err != nil {
		return nil, err
	}

	// 3. Project config or explicit --config
	if err := l.loadProjectConfig(configPath); err != nil {
		return nil, err
	}

	// 4. CLI overrides with a fixed key
	for key, value := range cliOverrides {
		if value != nil && !activeBackendKeys[key] {
			l.v.Set(key, value)
		}
	}

	cfg := &Config{}
	if err := decode(l.v.AllSettings(), cfg); err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("failed to decode configuration: %v", err))
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	applyActiveBackendOverrides(cfg, cliOverrides)

	return cfg, nil
}

// ConfigFileUsed returns the last configuration file merged, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// loadGlobalConfig loads configuration from ~/.assistant-llm.yaml
func (l *Loader) loadGlobalConfig() error {
	if l.homeDir == "" {
		return nil // Not a fatal error
	}

	globalConfig := filepath.Join(l.homeDir, globalConfigName)
	if _, err := os.Stat(globalConfig); err != nil {
		return nil // File doesn't exist, skip
	}

	l.v.SetConfigFile(globalConfig)
	if err := l.v.MergeInConfig(); err != nil {
		return errors.NewConfigFileError(globalConfig, err)
	}

	return nil
}

// loadProjectConfig loads the explicit config file, or ./assistant-llm.yaml
// when none was given
func (l *Loader) loadProjectConfig(configPath string) error {
	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(l.workDir, projectConfigName)
	}

	if _, err := os.Stat(configPath); err != nil {
		if explicit {
			return errors.NewConfigFileError(configPath, err)
		}
		return nil
	}

	l.v.SetConfigFile(configPath)
	if err := l.v.MergeInConfig(); err != nil {
		return errors.NewConfigFileError(configPath, err)
	}

	return nil
}

// LoadConfig is a convenience wrapper around NewLoader().Load
func LoadConfig(configPath string, cliOverrides map[string]any) (*Config, error) {
	return NewLoader().Load(configPath, cliOverrides)
}

func decode(input map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	return decoder.Decode(input)
}

// DefaultConfig returns the configuration used when no file sets a value
func DefaultConfig() *Config {
	backends := make(map[string]BackendConfig, len(builtinDefaults))
	for kind, b := range builtinDefaults {
		backends[kind] = b.Clone()
	}
	return &Config{
		Backend:  BackendOllama,
		Backends: backends,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1,
			MaxDelay:    30,
		},
		Conversation: ConversationConfig{
			SystemMessage: "You are a helpful voice assistant. Keep answers short and conversational.",
			MaxTurns:      10,
		},
		Cache: CacheConfig{
			Enabled: false,
			MaxSize: 256,
			TTL:     3600,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9464",
		},
		Logging: LoggingConfig{
			LogDir:       ".assistant/logs",
			FileLevel:    "info",
			ConsoleLevel: "warn",
		},
	}
}

var builtinDefaults = map[string]BackendConfig{
	BackendOllama: {
		BaseURL:     "http://localhost:11434",
		Model:       "llama3.2",
		Timeout:     120,
		MaxTokens:   1024,
		Temperature: 0.7,
		KeepAlive:   "5m",
	},
	BackendOpenAI: {
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		APIKeyEnv:   "OPENAI_API_KEY",
		Timeout:     60,
		MaxTokens:   1024,
		Temperature: 0.7,
	},
	BackendAnthropic: {
		BaseURL:     "https://api.anthropic.com",
		Model:       "claude-3-5-sonnet-latest",
		APIKeyEnv:   "ANTHROPIC_API_KEY",
		Timeout:     60,
		MaxTokens:   1024,
		Temperature: 0.7,
		APIVersion:  "2023-06-01",
	},
	BackendGemini: {
		BaseURL:     "https://generativelanguage.googleapis.com",
		Model:       "gemini-1.5-flash",
		APIKeyEnv:   "GEMINI_API_KEY",
		Timeout:     60,
		MaxTokens:   1024,
		Temperature: 0.7,
	},
}

// BuiltinBackendDefaults returns the default settings of a built-in kind
func BuiltinBackendDefaults(kind string) (BackendConfig, bool) {
	b, ok := builtinDefaults[kind]
	return b.Clone(), ok
}

// setDefaults registers every default with viper so environment variables
// and merged files resolve against known keys
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend", d.Backend)
	for kind, b := range d.Backends {
		prefix := "backends." + kind + "."
		v.SetDefault(prefix+"base_url", b.BaseURL)
		v.SetDefault(prefix+"model", b.Model)
		v.SetDefault(prefix+"api_key_env", b.APIKeyEnv)
		v.SetDefault(prefix+"timeout", b.Timeout)
		v.SetDefault(prefix+"max_tokens", b.MaxTokens)
		v.SetDefault(prefix+"temperature", b.Temperature)
		if b.APIVersion != "" {
			v.SetDefault(prefix+"api_version", b.APIVersion)
		}
		if b.KeepAlive != "" {
			v.SetDefault(prefix+"keep_alive", b.KeepAlive)
		}
	}
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("conversation.system_message", d.Conversation.SystemMessage)
	v.SetDefault("conversation.max_turns", d.Conversation.MaxTurns)
	v.SetDefault("conversation.persona", d.Conversation.Persona)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
	v.SetDefault("logging.log_dir", d.Logging.LogDir)
	v.SetDefault("logging.file_level", d.Logging.FileLevel)
	v.SetDefault("logging.console_level", d.Logging.ConsoleLevel)
	v.SetDefault("debug", false)
}

// applyDefaults fills zero values viper could not default, such as
// fields of backends added only in a file
func applyDefaults(cfg *Config) {
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendConfig)
	}
	for kind, b := range cfg.Backends {
		if d, ok := builtinDefaults[kind]; ok {
			cfg.Backends[kind] = MergeBackendDefaults(b, d)
		}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 10
	}
}

// MergeBackendDefaults fills the empty fields of b from defaults. Temperature
// is left alone because zero is a meaningful value.
func MergeBackendDefaults(b, defaults BackendConfig) BackendConfig {
	if b.BaseURL == "" {
		b.BaseURL = defaults.BaseURL
	}
	if b.Model == "" {
		b.Model = defaults.Model
	}
	if b.APIKey == "" && b.APIKeyEnv == "" {
		b.APIKeyEnv = defaults.APIKeyEnv
	}
	if b.Timeout == 0 {
		b.Timeout = defaults.Timeout
	}
	if b.MaxTokens == 0 {
		b.MaxTokens = defaults.MaxTokens
	}
	if b.APIVersion == "" {
		b.APIVersion = defaults.APIVersion
	}
	if b.KeepAlive == "" {
		b.KeepAlive = defaults.KeepAlive
	}
	if b.Organization == "" {
		b.Organization = defaults.Organization
	}
	return b
}

// applyEnvOverrides applies the short ASSISTANT_* variables that target the
// active backend
func applyEnvOverrides(cfg *Config) {
	b, ok := cfg.Backends[cfg.Backend]
	if !ok {
		b = BackendConfig{}
	}
	changed := false
	if env := os.Getenv(EnvPrefix + "_MODEL"); env != "" {
		b.Model = env
		changed = true
	}
	if env := os.Getenv(EnvPrefix + "_BASE_URL"); env != "" {
		b.BaseURL = env
		changed = true
	}
	if changed && cfg.Backend != "" {
		cfg.Backends[cfg.Backend] = b
	}
}

func applyActiveBackendOverrides(cfg *Config, overrides map[string]any) {
	if cfg.Backend == "" {
		return
	}
	b := cfg.Backends[cfg.Backend]
	changed := false
	if v, ok := overrides["model"].(string); ok && v != "" {
		b.Model = v
		changed = true
	}
	if v, ok := overrides["base_url"].(string); ok && v != "" {
		b.BaseURL = v
		changed = true
	}
	if changed {
		cfg.Backends[cfg.Backend] = b
	}
}

// Active returns the selected backend as a ProviderConfig
func (c *Config) Active() (ProviderConfig, error) {
	if c.Backend == "" {
		return ProviderConfig{}, errors.NewConfigurationError("no backend selected: set 'backend' in the configuration")
	}
	settings, ok := c.Backends[c.Backend]
	if !ok {
		return ProviderConfig{}, errors.NewConfigurationError(
			fmt.Sprintf("backend %q is selected but backends.%s has no settings", c.Backend, c.Backend))
	}
	return ProviderConfig{Kind: c.Backend, Settings: settings.Clone()}, nil
}

// BackendNames returns the configured backend kinds, sorted
func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the values that do not depend on which kinds are registered
func (c *Config) Validate() error {
	active, err := c.Active()
	if err != nil {
		return err
	}
	if err := ValidateBackend(active.Kind, active.Settings); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.NewInvalidConfigValueError("retry.max_attempts", c.Retry.MaxAttempts, "must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.NewInvalidConfigValueError("retry.base_delay", c.Retry.BaseDelay, "delays must not be negative")
	}
	if c.Conversation.MaxTurns < 1 {
		return errors.NewInvalidConfigValueError("conversation.max_turns", c.Conversation.MaxTurns, "must be at least 1")
	}
	if c.Cache.MaxSize < 0 {
		return errors.NewInvalidConfigValueError("cache.max_size", c.Cache.MaxSize, "must not be negative")
	}
	return nil
}

// ValidateBackend checks the settings of one backend kind
func ValidateBackend(kind string, b BackendConfig) error {
	key := func(field string) string { return "backends." + kind + "." + field }

	if b.Model == "" {
		return errors.NewInvalidConfigValueError(key("model"), b.Model, "a model is required")
	}
	if b.BaseURL != "" {
		u, err := url.Parse(b.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.NewInvalidConfigValueError(key("base_url"), b.BaseURL, "must be an absolute http(s) URL")
		}
	}
	if b.Timeout < 0 {
		return errors.NewInvalidConfigValueError(key("timeout"), b.Timeout, "must be positive")
	}
	if b.MaxTokens < 0 {
		return errors.NewInvalidConfigValueError(key("max_tokens"), b.MaxTokens, "must be at least 1")
	}
	if b.Temperature < 0 || b.Temperature > 1 {
		return errors.NewInvalidConfigValueError(key("temperature"), b.Temperature, "must be between 0.0 and 1.0")
	}
	if b.RequestsPerMinute < 0 {
		return errors.NewInvalidConfigValueError(key("requests_per_minute"), b.RequestsPerMinute, "must not be negative")
	}
	return nil
}

// ValidateRetry rejects negative retry values. Zero values fall back to the
// RetryConfig getters' defaults.
func ValidateRetry(r RetryConfig) error {
	if r.MaxAttempts < 0 {
		return errors.NewInvalidConfigValueError("retry.max_attempts", r.MaxAttempts, "must not be negative")
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return errors.NewInvalidConfigValueError("retry.base_delay", r.BaseDelay, "delays must not be negative")
	}
	return nil
}

// ResolveAPIKey returns the credential of a backend. An inline api_key wins
// and is reported with inline=true so callers can warn about it. Otherwise
// api_key_env is looked up with lookup; an unset or empty variable is a
// MissingEnvVarError. A backend with neither returns an empty key.
func ResolveAPIKey(kind string, b BackendConfig, lookup func(string) (string, bool)) (key string, inline bool, err error) {
	if b.APIKey != "" {
		return b.APIKey, true, nil
	}
	if b.APIKeyEnv == "" {
		return "", false, nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(b.APIKeyEnv)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, errors.NewMissingEnvVarError(b.APIKeyEnv, kind)
	}
	return strings.TrimSpace(value), false, nil
}
