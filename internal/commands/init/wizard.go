// Package initcmd implements the interactive config bootstrap.
package initcmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/colonyops/mender/internal/core/config"
	"github.com/colonyops/mender/internal/printer"
)

// WizardOptions configures the wizard behavior.
type WizardOptions struct {
	ConfigPath string
	Yes        bool   // skip prompts, use defaults
	Force      bool   // overwrite existing config
	Provider   string // preselected provider
}

// Wizard orchestrates the init process.
type Wizard struct {
	opts WizardOptions
}

// NewWizard creates a new init wizard.
func NewWizard(opts WizardOptions) *Wizard {
	return &Wizard{opts: opts}
}

// Run executes the wizard.
func (w *Wizard) Run(ctx context.Context) error {
	p := printer.Ctx(ctx)

	if ConfigExists(w.opts.ConfigPath) && !w.opts.Force {
		if w.opts.Yes {
			return fmt.Errorf("config exists at %s; use --force to overwrite", w.opts.ConfigPath)
		}

		var overwrite bool
		err := huh.NewConfirm().
			Title("Config file already exists").
			Description(w.opts.ConfigPath + "\nOverwrite? (a backup will be created)").
			Value(&overwrite).
			Run()
		if err != nil {
			return err
		}
		if !overwrite {
			p.Infof("Init cancelled")
			return nil
		}
	}

	answers := DefaultAnswers(w.opts.Provider)
	if !w.opts.Yes {
		var err error
		answers, err = w.promptUser(answers.Provider)
		if err != nil {
			return err
		}
	}

	data, err := GenerateConfig(answers)
	if err != nil {
		return err
	}

	backupPath, err := BackupConfig(w.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("backup config: %w", err)
	}
	if backupPath != "" {
		p.Successf("Backed up config to: %s", backupPath)
	}

	if err := WriteConfig(data, w.opts.ConfigPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	p.Successf("Wrote config: %s", w.opts.ConfigPath)

	p.Printf("")
	p.Printf("Next steps:")
	p.Printf("  mender doctor             check the environment")
	p.Printf("  mender run <project-dir>  repair a project")
	return nil
}

func (w *Wizard) promptUser(provider string) (Answers, error) {
	if provider == "" {
		provider = config.ProviderOpenAI
	}

	err := huh.NewSelect[string]().
		Title("Model provider").
		Options(huh.NewOptions(config.ProviderOpenAI, config.ProviderGemini, config.ProviderReplay)...).
		Value(&provider).
		Run()
	if err != nil {
		return Answers{}, err
	}

	a := DefaultAnswers(provider)
	retries := strconv.Itoa(a.MaxRetries)

	var fields []huh.Field
	if provider == config.ProviderReplay {
		fields = append(fields,
			huh.NewInput().
				Title("Replay script").
				Description("Directory of reply files or a JSON array of replies").
				Value(&a.ReplayPath),
		)
	} else {
		fields = append(fields,
			huh.NewInput().
				Title("Model").
				Value(&a.Model),
			huh.NewInput().
				Title("API key environment variable").
				Value(&a.APIKeyEnv),
		)
	}

	fields = append(fields,
		huh.NewInput().
			Title("Verify command").
			Description("Runs in the project after each patch, e.g. go build ./... (optional)").
			Value(&a.VerifyCommand),
		huh.NewInput().
			Title("Retry budget").
			Description("Failed turns allowed per session").
			Value(&retries).
			Validate(func(s string) error {
				n, err := strconv.Atoi(s)
				if err != nil || n < 0 {
					return fmt.Errorf("enter a non-negative number")
				}
				return nil
			}),
	)

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return Answers{}, err
	}

	a.MaxRetries, _ = strconv.Atoi(retries)
	return a, nil
}
