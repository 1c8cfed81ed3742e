package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".nexus"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Provider names the inference backend of a context.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// Environment variables consulted when a context carries no API key.
// EnvAPIKey wins over the provider-specific variable.
const (
	EnvAPIKey       = "API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config represents the main configuration structure for a CLI app
type Config struct {
	// AppName is the application name
	AppName string `yaml:"-"`

	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	// configPath is the path to the config file
	configPath string
}

// Context represents a single API context configuration
type Context struct {
	// Name is the context name
	Name string `yaml:"name"`

	// Provider selects the backend. Empty means gemini.
	Provider Provider `yaml:"provider,omitempty"`

	// APIKey is the API key for authentication
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL is the API base URL (optional, uses default if empty)
	BaseURL string `yaml:"base_url,omitempty"`

	// Timeout bounds one generation in seconds (optional)
	Timeout int `yaml:"timeout,omitempty"`

	// Models overrides the model used per route.
	Models Models `yaml:"models,omitempty"`

	// Voice is the prebuilt speech voice (optional)
	Voice string `yaml:"voice,omitempty"`

	// ImageTriggers replaces the default image trigger phrases when set.
	ImageTriggers []string `yaml:"image_triggers,omitempty"`
}

// Models lists per-route model names. Empty fields use the built-in
// defaults of the selected provider.
type Models struct {
	Default string `yaml:"default,omitempty"`
	Coding  string `yaml:"coding,omitempty"`
	Image   string `yaml:"image,omitempty"`
	Speech  string `yaml:"speech,omitempty"`
}

// LoadConfig loads or creates configuration for the specified app
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from a custom path
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	var configPath string

	if customPath != "" {
		configPath = customPath
	} else {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	// Ensure config directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, ctx := range cfg.Contexts {
		if ctx == nil {
			ctx = &Context{}
			cfg.Contexts[name] = ctx
		}
		ctx.Name = name
	}

	cfg.AppName = appName
	cfg.configPath = configPath

	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds or replaces a context. The first context added becomes
// the current one.
func (c *Config) AddContext(name string, ctx *Context) error {
	if err := ctx.Validate(); err != nil {
		return err
	}
	ctx.Name = name
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the current context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the context by name, or current context if name is empty
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names in sorted order
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks the provider name.
func (ctx *Context) Validate() error {
	switch ctx.Provider {
	case "", ProviderGemini, ProviderOpenAI:
		return nil
	}
	return fmt.Errorf("unknown provider %q (want %s or %s)", ctx.Provider, ProviderGemini, ProviderOpenAI)
}

// ProviderName returns the configured provider, gemini when unset.
func (ctx *Context) ProviderName() Provider {
	if ctx.Provider == "" {
		return ProviderGemini
	}
	return ctx.Provider
}

// ResolveAPIKey returns the context key, falling back to API_KEY and then
// to the provider-specific environment variable.
func (ctx *Context) ResolveAPIKey() string {
	if ctx != nil && ctx.APIKey != "" {
		return ctx.APIKey
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		return v
	}
	if ctx != nil && ctx.ProviderName() == ProviderOpenAI {
		return os.Getenv(EnvOpenAIAPIKey)
	}
	return os.Getenv(EnvGeminiAPIKey)
}

// TimeoutDuration converts Timeout to a duration; zero means unbounded.
func (ctx *Context) TimeoutDuration() time.Duration {
	if ctx == nil || ctx.Timeout <= 0 {
		return 0
	}
	return time.Duration(ctx.Timeout) * time.Second
}

// MaskAPIKey masks the API key for display
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
