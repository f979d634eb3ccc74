package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"

	"github.com/colonyops/mender/internal/core/prompt"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration
// including glob patterns, prompt templates and file accessibility. The
// configPath argument specifies the config file location to validate
// (empty string skips the config file check). This calls Validate()
// first for basic structural validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateIgnoreGlobs(),
		c.validatePrompts(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Provider.Name != ProviderReplay && c.Provider.APIKeyEnv != "" && c.APIKey() == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Provider",
			Item:     c.Provider.APIKeyEnv,
			Message:  "environment variable is not set",
		})
	}

	if c.Provider.Name != ProviderReplay {
		if _, ok := c.Pricing.Lookup(c.Provider.Model); !ok {
			warnings = append(warnings, ValidationWarning{
				Category: "Pricing",
				Item:     c.Provider.Model,
				Message:  "model has no price; session cost will be reported as 0",
			})
		}
	}

	if c.Session.MaxRetries == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Session",
			Item:     "max_retries",
			Message:  "retry budget is 0; the first recoverable failure ends a session",
		})
	}

	return warnings
}

// validateFileAccess checks config file, data directory, git executable
// and the replay script.
func (c *Config) validateFileAccess(configPath string) error {
	errs := []error{
		validateConfigFile(configPath),
		criterio.Run("git_path", c.GitPath, executableExists),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	}
	if c.Provider.Name == ProviderReplay {
		errs = append(errs, criterio.Run("provider.replay_path", c.Provider.ReplayPath, pathExists))
	}
	return criterio.ValidateStruct(errs...)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// executableExists validates that the path is executable.
func executableExists(path string) error {
	if path == "" {
		return nil
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("executable not found: %s", path)
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func pathExists(path string) error {
	if path == "" {
		return fmt.Errorf("required for the replay provider")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	return nil
}

// validateIgnoreGlobs checks resolver ignore patterns compile.
func (c *Config) validateIgnoreGlobs() error {
	var errs criterio.FieldErrorsBuilder
	for i, pattern := range c.Resolver.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("resolver.ignore[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}
	return errs.ToError()
}

// validatePrompts checks the override directory and that every template
// it holds parses.
func (c *Config) validatePrompts() error {
	if c.Prompts.Dir == "" {
		return nil
	}

	info, err := os.Stat(c.Prompts.Dir)
	if err != nil {
		return criterio.NewFieldErrors("prompts.dir", fmt.Errorf("cannot access: %w", err))
	}
	if !info.IsDir() {
		return criterio.NewFieldErrors("prompts.dir", fmt.Errorf("exists but is not a directory"))
	}

	if _, err := prompt.New(prompt.Options{Dir: c.Prompts.Dir}); err != nil {
		return criterio.NewFieldErrors("prompts.dir", fmt.Errorf("template error: %w", err))
	}
	return nil
}
