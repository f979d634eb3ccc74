// Package config handles configuration loading and validation for mender.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/mender/internal/core/action"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/resolve"
	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/core/styles"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderReplay = "replay"
)

// Config holds the application configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Resolver ResolverConfig `yaml:"resolver"`
	Patch    PatchConfig    `yaml:"patch"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	Pricing  llm.PriceTable `yaml:"pricing"`
	Database DatabaseConfig `yaml:"database"`
	Batch    BatchConfig    `yaml:"batch"`
	GitPath  string         `yaml:"git_path"`
	Theme    string         `yaml:"theme"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// ProviderConfig selects and tunes the model provider.
type ProviderConfig struct {
	Name        string  `yaml:"name"`     // openai, gemini or replay
	Model       string  `yaml:"model"`    // model name sent to the provider
	BaseURL     string  `yaml:"base_url"` // OpenAI-compatible endpoint; empty uses the public API
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Timeout bounds a single model call. A timeout is a recoverable
	// failure.
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 0 disables rate limiting
	// ReplayPath is the scripted reply directory or JSON file used by the
	// replay provider.
	ReplayPath string `yaml:"replay_path"`
}

// SessionConfig bounds a repair session.
type SessionConfig struct {
	MaxRetries int `yaml:"max_retries"`
	MaxTurns   int `yaml:"max_turns"`
	// MaxHistoryTokens bounds the estimated size of the conversation sent
	// to the model; older prompts and replies are elided past it.
	MaxHistoryTokens int `yaml:"max_history_tokens"`
	// Permissions lists the actions a reply may take, keyed by the state
	// whose prompt it answers. Entries replace the defaults per state.
	Permissions map[session.State]action.KindSet `yaml:"permissions"`
}

// ResolverConfig tunes information request handling.
type ResolverConfig struct {
	MaxFileBytes   int64    `yaml:"max_file_bytes"`
	Ignore         []string `yaml:"ignore"` // doublestar patterns skipped by the similarity search
	MaxSuggestions int      `yaml:"max_suggestions"`
	SearchDepth    int      `yaml:"search_depth"`
}

// PatchConfig tunes patch application.
type PatchConfig struct {
	// VerifyCommand runs in the project root after a patch applies, for
	// example "go build ./...". Empty disables verification.
	VerifyCommand string        `yaml:"verify_command"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	// VerifyOutputLimit caps the command output embedded in the prompt.
	VerifyOutputLimit int64 `yaml:"verify_output_limit"`
}

// PromptsConfig points at prompt overrides.
type PromptsConfig struct {
	Dir    string `yaml:"dir"`    // directory of override templates
	System string `yaml:"system"` // replaces the system prompt
}

// DatabaseConfig tunes the SQLite store.
type DatabaseConfig struct {
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// BatchConfig tunes batch runs.
type BatchConfig struct {
	Parallel int `yaml:"parallel"` // concurrent sessions; overridden by --parallel
}

// DefaultPermissions returns the built-in permission table.
func DefaultPermissions() map[session.State]action.KindSet {
	return map[session.State]action.KindSet{
		session.StateSendInitial:      {action.KindFileContent, action.KindDirectoryListing, action.KindPatch},
		session.StateSendResolvedInfo: {action.KindFileContent, action.KindDirectoryListing, action.KindPatch, action.KindCompletion},
		session.StateSendResult:       {action.KindFileContent, action.KindDirectoryListing, action.KindPatch, action.KindCompletion},
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	ropts := resolve.DefaultOptions()
	return Config{
		Provider: ProviderConfig{
			Name:      ProviderOpenAI,
			Model:     "gpt-4.1",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 8192,
			Timeout:   3 * time.Minute,
		},
		Session: SessionConfig{
			MaxRetries:       3,
			MaxTurns:         15,
			MaxHistoryTokens: 30000,
			Permissions:      DefaultPermissions(),
		},
		Resolver: ResolverConfig{
			MaxFileBytes:   ropts.MaxFileBytes,
			Ignore:         ropts.Ignore,
			MaxSuggestions: ropts.MaxSuggestions,
			SearchDepth:    ropts.SearchDepth,
		},
		Patch: PatchConfig{
			VerifyTimeout:     5 * time.Minute,
			VerifyOutputLimit: 4096,
		},
		Pricing: llm.DefaultPrices(),
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
		},
		Batch: BatchConfig{
			Parallel: 4,
		},
		GitPath: "git",
		Theme:   styles.DefaultTheme,
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
// yaml.v3 decodes maps into the existing value, so user permissions and
// prices are already merged over the defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = defaults.Provider.Timeout
	}
	if c.Session.MaxTurns == 0 {
		c.Session.MaxTurns = defaults.Session.MaxTurns
	}
	if c.Session.MaxHistoryTokens == 0 {
		c.Session.MaxHistoryTokens = defaults.Session.MaxHistoryTokens
	}
	if c.Session.Permissions == nil {
		c.Session.Permissions = defaults.Session.Permissions
	}
	if c.Resolver.MaxFileBytes == 0 {
		c.Resolver.MaxFileBytes = defaults.Resolver.MaxFileBytes
	}
	if c.Resolver.MaxSuggestions == 0 {
		c.Resolver.MaxSuggestions = defaults.Resolver.MaxSuggestions
	}
	if c.Resolver.SearchDepth == 0 {
		c.Resolver.SearchDepth = defaults.Resolver.SearchDepth
	}
	if c.Patch.VerifyTimeout == 0 {
		c.Patch.VerifyTimeout = defaults.Patch.VerifyTimeout
	}
	if c.Patch.VerifyOutputLimit == 0 {
		c.Patch.VerifyOutputLimit = defaults.Patch.VerifyOutputLimit
	}
	if c.Pricing == nil {
		c.Pricing = defaults.Pricing
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
	if c.Batch.Parallel == 0 {
		c.Batch.Parallel = defaults.Batch.Parallel
	}
	if c.GitPath == "" {
		c.GitPath = defaults.GitPath
	}
	if c.Theme == "" {
		c.Theme = defaults.Theme
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	switch c.Provider.Name {
	case ProviderOpenAI, ProviderGemini:
		if c.Provider.Model == "" {
			return fmt.Errorf("provider.model cannot be empty for %s", c.Provider.Name)
		}
	case ProviderReplay:
	default:
		return fmt.Errorf("provider.name must be one of %s, %s, %s; got %q",
			ProviderOpenAI, ProviderGemini, ProviderReplay, c.Provider.Name)
	}

	if c.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout cannot be negative")
	}
	if c.Provider.RequestsPerMinute < 0 {
		return fmt.Errorf("provider.requests_per_minute cannot be negative")
	}

	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries cannot be negative")
	}
	if c.Session.MaxTurns < 1 {
		return fmt.Errorf("session.max_turns must be at least 1")
	}
	if c.Session.MaxHistoryTokens < 1000 {
		return fmt.Errorf("session.max_history_tokens must be at least 1000")
	}

	for state, kinds := range c.Session.Permissions {
		if err := validatePermission(state, kinds); err != nil {
			return err
		}
	}

	if c.Resolver.MaxFileBytes < 1 {
		return fmt.Errorf("resolver.max_file_bytes must be at least 1")
	}
	if c.Resolver.SearchDepth < 1 {
		return fmt.Errorf("resolver.search_depth must be at least 1")
	}

	if c.Batch.Parallel < 1 {
		return fmt.Errorf("batch.parallel must be at least 1")
	}

	if _, ok := styles.GetPalette(c.Theme); !ok {
		return fmt.Errorf("theme must be one of %v; got %q", styles.ThemeNames(), c.Theme)
	}

	for model, p := range c.Pricing {
		if p.Input < 0 || p.Output < 0 {
			return fmt.Errorf("pricing %q cannot be negative", model)
		}
	}

	return nil
}

func validatePermission(state session.State, kinds action.KindSet) error {
	switch state {
	case session.StateSendInitial, session.StateSendResolvedInfo, session.StateSendResult:
	case session.StateSendErrorToLLM:
		return fmt.Errorf("session.permissions: %s inherits the permissions of the state it answers for", state)
	default:
		return fmt.Errorf("session.permissions: %q is not a prompting state", state)
	}

	for _, k := range kinds {
		if !k.IsValid() {
			return fmt.Errorf("session.permissions.%s: unknown action %q", state, k)
		}
	}
	return nil
}

// Allowed returns the actions permitted for a reply answering state.
func (c *Config) Allowed(state session.State) action.KindSet {
	return c.Session.Permissions[state]
}

// PermissionTable returns a copy of the permission table.
func (c *Config) PermissionTable() map[session.State]action.KindSet {
	return maps.Clone(c.Session.Permissions)
}

// Limits returns the session bounds.
func (c *Config) Limits() session.Limits {
	return session.Limits{MaxRetries: c.Session.MaxRetries, MaxTurns: c.Session.MaxTurns}
}

// ResolverOptions converts the resolver section.
func (c *Config) ResolverOptions() resolve.Options {
	return resolve.Options{
		MaxFileBytes:   c.Resolver.MaxFileBytes,
		Ignore:         c.Resolver.Ignore,
		MaxSuggestions: c.Resolver.MaxSuggestions,
		SearchDepth:    c.Resolver.SearchDepth,
	}
}

// APIKey reads the provider key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// DBPath returns the path of the SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mender.db")
}

// ReportsDir returns the directory JSON reports are written to.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.DataDir, "reports")
}
