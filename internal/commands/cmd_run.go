package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/core/validate"
	"github.com/colonyops/mender/internal/mender"
	"github.com/colonyops/mender/internal/printer"
	"github.com/colonyops/mender/internal/repair"
	"github.com/colonyops/mender/pkg/iojson"
)

type RunCmd struct {
	flags *Flags
	app   *mender.App

	// flags
	name       string
	contextDir string
	jsonOutput bool
	show       bool
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags, app *mender.App) *RunCmd {
	return &RunCmd{flags: flags, app: app}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Repair one project",
		UsageText: "mender run [options] <project-root>",
		Description: `Runs a repair session against a project directory.

The model is shown the project context, may request files and directory
listings, and proposes unified diffs that are applied to the working copy.
The session ends when the model declares completion, the retry budget is
spent, or the turn limit is reached.

Context files (for example 01_proto.txt) are read from --context-dir, or
from the parent of the project root when the flag is not set.

Exits non-zero unless the session succeeds.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Aliases:     []string{"n"},
				Usage:       "session name (defaults to the project directory name)",
				Destination: &cmd.name,
			},
			&cli.StringFlag{
				Name:        "context-dir",
				Usage:       "directory holding context files",
				Destination: &cmd.contextDir,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the full report as JSON",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "show",
				Usage:       "print the Markdown report when the session ends",
				Destination: &cmd.show,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one project root, got %d", c.Args().Len())
	}

	root, err := filepath.Abs(c.Args().First())
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	if err := validate.ProjectRoot(root); err != nil {
		return fmt.Errorf("project root: %w", err)
	}

	name := cmd.name
	if name == "" {
		name = filepath.Base(root)
	}
	if err := validate.SessionName(name); err != nil {
		return fmt.Errorf("name: %w", err)
	}

	report, runErr := cmd.app.Repairs.Run(ctx, repair.Item{
		Name:        name,
		ProjectRoot: root,
		ContextDir:  cmd.contextDir,
	})
	if report == nil {
		return runErr
	}

	if cmd.jsonOutput {
		if err := iojson.WriteWith(c.Root().Writer, os.Stderr, report); err != nil {
			return err
		}
	} else {
		p := printer.Ctx(ctx)
		printOutcome(p, report)
		p.Printf("  session: %s", report.SessionID)
		if cmd.show {
			if err := renderMarkdown(c.Root().Writer, report.Markdown()); err != nil {
				return err
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if report.Outcome != session.OutcomeSuccess {
		return cli.Exit("", 1)
	}
	return nil
}
