package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for TeamPulse
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Jira     JiraConfig     `mapstructure:"jira"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Roster   RosterConfig   `mapstructure:"roster"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LLMConfig holds language model settings
type LLMConfig struct {
	DefaultProvider string              `mapstructure:"default_provider"`
	Providers       map[string]Provider `mapstructure:"providers"`
	RequestsPerMin  int                 `mapstructure:"requests_per_min"`
}

// Provider holds individual LLM provider configuration
type Provider struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Timeout   int    `mapstructure:"timeout"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
	CacheTTL   int    `mapstructure:"cache_ttl"` // seconds
}

// AgentConfig holds the orchestration pipeline tunables
type AgentConfig struct {
	HistoryWindow      int `mapstructure:"history_window"`       // messages of context for the intent parser
	ParseRetries       int `mapstructure:"parse_retries"`        // corrective re-prompts before falling back
	OperationTimeout   int `mapstructure:"operation_timeout"`    // seconds, per external operation
	FallbackMaxSteps   int `mapstructure:"fallback_max_steps"`   // hard ceiling on reason-act iterations
	FallbackMaxInvalid int `mapstructure:"fallback_max_invalid"` // consecutive rejected suggestions before giving up
}

// JiraConfig holds issue tracker credentials
type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	APIToken string `mapstructure:"api_token"`
}

// GitHubConfig holds source-control host credentials
type GitHubConfig struct {
	Token        string `mapstructure:"token"`
	Organization string `mapstructure:"organization"`
}

// RosterConfig holds team roster settings
type RosterConfig struct {
	Path        string `mapstructure:"path"`
	RefreshSpec string `mapstructure:"refresh_spec"` // cron expression, empty disables refresh
}

// SecurityConfig holds security settings. Password guards the login
// endpoint; leaving it empty disables login entirely.
type SecurityConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	Password     string   `mapstructure:"password"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.Set("storage.sqlite_path", filepath.Join(dataDir, "teampulse.db"))
	v.Set("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "teampulse.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (TEAMPULSE_SERVER_PORT, TEAMPULSE_JIRA_API_TOKEN, etc.)
	v.SetEnvPrefix("TEAMPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)

	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.timeout", 60)
	v.SetDefault("llm.providers.openai.max_tokens", 2048)
	v.SetDefault("llm.requests_per_min", 60)

	v.SetDefault("storage.cache_ttl", 300)

	v.SetDefault("agent.history_window", 10)
	v.SetDefault("agent.parse_retries", 1)
	v.SetDefault("agent.operation_timeout", 15)
	v.SetDefault("agent.fallback_max_steps", 5)
	v.SetDefault("agent.fallback_max_invalid", 3)

	v.SetDefault("roster.refresh_spec", "@every 1h")

	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "teampulse")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "teampulse")
}

// loadEnvOverrides loads specific env vars that Viper doesn't handle well with nested maps
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.LLM.DefaultProvider = getEnv("TEAMPULSE_LLM_DEFAULT_PROVIDER", cfg.LLM.DefaultProvider)

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]Provider)
	}

	for _, name := range []string{"openai", "openrouter"} {
		envKey := "TEAMPULSE_LLM_PROVIDERS_" + strings.ToUpper(name) + "_API_KEY"
		if apiKey := os.Getenv(envKey); apiKey != "" {
			p := cfg.LLM.Providers[name]
			p.APIKey = apiKey
			p.BaseURL = getEnv("TEAMPULSE_LLM_PROVIDERS_"+strings.ToUpper(name)+"_BASE_URL", p.BaseURL)
			p.Model = getEnv("TEAMPULSE_LLM_PROVIDERS_"+strings.ToUpper(name)+"_MODEL", p.Model)
			cfg.LLM.Providers[name] = p
		}
	}

	cfg.Jira.BaseURL = getEnv("TEAMPULSE_JIRA_BASE_URL", cfg.Jira.BaseURL)
	cfg.Jira.Username = getEnv("TEAMPULSE_JIRA_USERNAME", cfg.Jira.Username)
	cfg.Jira.APIToken = getEnv("TEAMPULSE_JIRA_API_TOKEN", cfg.Jira.APIToken)

	cfg.GitHub.Token = getEnv("TEAMPULSE_GITHUB_TOKEN", cfg.GitHub.Token)
	cfg.GitHub.Organization = getEnv("TEAMPULSE_GITHUB_ORGANIZATION", cfg.GitHub.Organization)

	cfg.Security.JWTSecret = getEnv("TEAMPULSE_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)
	cfg.Security.Password = getEnv("TEAMPULSE_SECURITY_PASSWORD", cfg.Security.Password)
}

func validate(cfg *Config) error {
	if cfg.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider is required")
	}

	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("provider %s not configured", cfg.LLM.DefaultProvider)
	}

	if cfg.Agent.HistoryWindow <= 0 {
		return fmt.Errorf("agent.history_window must be positive")
	}
	if cfg.Agent.FallbackMaxSteps <= 0 {
		return fmt.Errorf("agent.fallback_max_steps must be positive")
	}

	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateSecret(32)
	}

	return nil
}

// generateSecret produces an ephemeral signing secret. Tokens issued under it
// stop verifying on restart; set security.jwt_secret for stable sessions.
func generateSecret(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GetProvider returns the provider configuration by name
func (c *Config) GetProvider(name string) (Provider, bool) {
	p, ok := c.LLM.Providers[name]
	return p, ok
}

// DefaultProvider returns the default provider configuration
func (c *Config) DefaultProvider() (Provider, error) {
	p, ok := c.LLM.Providers[c.LLM.DefaultProvider]
	if !ok {
		return Provider{}, fmt.Errorf("default provider %s not found", c.LLM.DefaultProvider)
	}
	return p, nil
}

// OperationTimeout returns the per-operation external call budget
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.Agent.OperationTimeout) * time.Second
}

// CacheTTL returns the adapter read cache lifetime
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTL) * time.Second
}
