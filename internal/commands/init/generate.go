package initcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/mender/internal/core/config"
)

// Answers holds the values collected by the wizard.
type Answers struct {
	Provider      string
	Model         string
	APIKeyEnv     string
	ReplayPath    string
	VerifyCommand string
	MaxRetries    int
}

// DefaultAnswers returns the answers used with --yes for a provider.
func DefaultAnswers(provider string) Answers {
	a := Answers{Provider: provider, MaxRetries: config.DefaultConfig().Session.MaxRetries}
	switch provider {
	case config.ProviderGemini:
		a.Model = "gemini-2.5-pro"
		a.APIKeyEnv = "GEMINI_API_KEY"
	case config.ProviderReplay:
		a.ReplayPath = "./replies"
	default:
		a.Provider = config.ProviderOpenAI
		a.Model = "gpt-4.1"
		a.APIKeyEnv = "OPENAI_API_KEY"
	}
	return a
}

type fileProvider struct {
	Name       string `yaml:"name"`
	Model      string `yaml:"model,omitempty"`
	APIKeyEnv  string `yaml:"api_key_env,omitempty"`
	ReplayPath string `yaml:"replay_path,omitempty"`
}

type fileSession struct {
	MaxRetries int `yaml:"max_retries"`
}

type filePatch struct {
	VerifyCommand string `yaml:"verify_command,omitempty"`
}

type fileConfig struct {
	Provider fileProvider `yaml:"provider"`
	Session  fileSession  `yaml:"session"`
	Patch    *filePatch   `yaml:"patch,omitempty"`
}

// GenerateConfig renders the answers as a config file.
func GenerateConfig(a Answers) ([]byte, error) {
	fc := fileConfig{
		Provider: fileProvider{
			Name:       a.Provider,
			Model:      a.Model,
			APIKeyEnv:  a.APIKeyEnv,
			ReplayPath: a.ReplayPath,
		},
		Session: fileSession{MaxRetries: a.MaxRetries},
	}
	if a.VerifyCommand != "" {
		fc.Patch = &filePatch{VerifyCommand: a.VerifyCommand}
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append([]byte("# mender configuration\n"), data...), nil
}

// WriteConfig writes data to path, creating parent directories.
func WriteConfig(data []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
