package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/colonyops/mender/internal/core/config"
)

var lookPathFunc = exec.LookPath

// ToolsCheck verifies the external programs a session shells out to.
type ToolsCheck struct {
	GitPath       string
	VerifyCommand string
}

func (c *ToolsCheck) Name() string { return "Tools" }

func (c *ToolsCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if path, err := lookPathFunc(c.GitPath); err != nil {
		result.Items = append(result.Items, warn(c.GitPath, "not found; final diffs are skipped"))
	} else {
		result.Items = append(result.Items, pass(c.GitPath, path))
	}

	fields := strings.Fields(c.VerifyCommand)
	if len(fields) == 0 {
		return result
	}
	if path, err := lookPathFunc(fields[0]); err != nil {
		result.Items = append(result.Items, fail(fields[0], "verify command not found in PATH"))
	} else {
		result.Items = append(result.Items, pass(fields[0], path))
	}

	return result
}

// ProviderCheck verifies the selected provider can be reached with the
// configured credentials.
type ProviderCheck struct {
	Config *config.Config
}

func (c *ProviderCheck) Name() string { return "Provider" }

func (c *ProviderCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}
	p := c.Config.Provider

	label := fmt.Sprintf("%s / %s", p.Name, p.Model)
	if p.Name == config.ProviderReplay {
		label = p.Name
	}
	result.Items = append(result.Items, pass(label, ""))

	if p.Name == config.ProviderReplay {
		if p.ReplayPath == "" {
			result.Items = append(result.Items, fail("replay_path", "not set"))
		} else if _, err := os.Stat(p.ReplayPath); err != nil {
			result.Items = append(result.Items, fail("replay_path", err.Error()))
		} else {
			result.Items = append(result.Items, pass("replay_path", p.ReplayPath))
		}
		return result
	}

	switch {
	case p.APIKeyEnv == "":
		result.Items = append(result.Items, warn("api_key_env", "not set; requests are sent without a key"))
	case c.Config.APIKey() == "":
		result.Items = append(result.Items, fail(p.APIKeyEnv, "environment variable is empty"))
	default:
		result.Items = append(result.Items, pass(p.APIKeyEnv, "set"))
	}

	return result
}

// StorageCheck verifies the data directory is writable and the database
// opens.
type StorageCheck struct {
	DataDir string
	// OpenDB opens and closes the database. Nil skips the check.
	OpenDB func() error
}

func (c *StorageCheck) Name() string { return "Storage" }

func (c *StorageCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if err := checkWritable(c.DataDir); err != nil {
		result.Items = append(result.Items, fail(c.DataDir, err.Error()))
		return result
	}
	result.Items = append(result.Items, pass(c.DataDir, "writable"))

	if c.OpenDB == nil {
		return result
	}
	if err := c.OpenDB(); err != nil {
		result.Items = append(result.Items, fail("database", err.Error()))
	} else {
		result.Items = append(result.Items, pass("database", "ok"))
	}

	return result
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	return errors.Join(f.Close(), os.Remove(name))
}

// ConfigCheck runs the deep configuration validation.
type ConfigCheck struct {
	Config     *config.Config
	ConfigPath string
}

func (c *ConfigCheck) Name() string { return "Config" }

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	label := c.ConfigPath
	if label == "" {
		label = "defaults"
	} else if _, err := os.Stat(c.ConfigPath); err != nil {
		label = filepath.Base(c.ConfigPath) + " (not found, using defaults)"
	}

	if err := c.Config.ValidateDeep(c.ConfigPath); err != nil {
		result.Items = append(result.Items, fail(label, err.Error()))
	} else {
		result.Items = append(result.Items, pass(label, "valid"))
	}

	for _, w := range c.Config.Warnings() {
		item := w.Category
		if w.Item != "" {
			item += ": " + w.Item
		}
		result.Items = append(result.Items, warn(item, w.Message))
	}

	return result
}
