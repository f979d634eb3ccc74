package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/core/validate"
	"github.com/colonyops/mender/internal/mender"
	"github.com/colonyops/mender/internal/repair"
	"github.com/colonyops/mender/pkg/iojson"
	"github.com/colonyops/mender/pkg/logutils"
	"github.com/colonyops/mender/pkg/profiler"
	"github.com/colonyops/mender/pkg/randid"
)

type BatchCmd struct {
	flags        *Flags
	app          *mender.App
	fr           *iojson.FileReader[BatchInput]
	parallel     int
	profilerPort int
}

func NewBatchCmd(flags *Flags, app *mender.App) *BatchCmd {
	return &BatchCmd{
		flags: flags,
		app:   app,
		fr:    &iojson.FileReader[BatchInput]{},
	}
}

func (cmd *BatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "batch",
		Usage: "Repair many projects from JSON input",
		UsageText: `mender batch [options]

Read from stdin:
  echo '{"items":[{"name":"p1","project_root":"./dataset/p1/project"}]}' | mender batch

Read from file:
  mender batch -f items.json`,
		Description: `Runs one repair session per item. Every item gets its own session with
a fresh turn history and retry budget. Sessions run concurrently up to
--parallel (or batch.parallel from the config).

Input JSON schema:
  {
    "items": [
      {
        "name": "item-name",
        "project_root": "path/to/project",
        "context_dir": "optional/path"
      }
    ]
  }

Fields:
  name         - Required. Unique session name.
  project_root - Required. Existing project directory; must be unique.
  context_dir  - Optional. Directory holding context files (defaults to the
                 parent of project_root).

Output is JSON with a batch ID, log file path, per-item results and a
count of sessions by outcome.`,
		Flags: []cli.Flag{
			cmd.fr.Flag(),
			&cli.IntFlag{
				Name:        "parallel",
				Aliases:     []string{"p"},
				Usage:       "concurrent sessions (defaults to batch.parallel)",
				Destination: &cmd.parallel,
			},
			&cli.IntFlag{
				Name:        "profiler-port",
				Usage:       "serve pprof on this loopback port while the batch runs (0 disables)",
				Sources:     cli.EnvVars("MENDER_PROFILER_PORT"),
				Destination: &cmd.profilerPort,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *BatchCmd) run(ctx context.Context, c *cli.Command) error {
	batchID := randid.Generate(6)
	logFile := filepath.Join(cmd.app.Config.DataDir, "logs", "batch-"+batchID+".log")

	logger, closer, err := logutils.New(logutils.Options{Level: cmd.flags.LogLevel, File: logFile})
	if err != nil {
		return iojson.WriteError(fmt.Sprintf("setup logger: %s", err), nil)
	}
	defer closer()

	logger.Info().Str("batch_id", batchID).Msg("starting batch processing")

	if cmd.profilerPort > 0 {
		prof := profiler.New(cmd.profilerPort, logger)
		if err := prof.Start(ctx); err != nil {
			return iojson.WriteError(fmt.Sprintf("start profiler: %s", err), nil)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := prof.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown profiler server")
			}
		}()
	}

	input, err := cmd.fr.Read()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read input")
		return iojson.WriteError(fmt.Sprintf("read input: %s", err), nil)
	}

	if err := input.Validate(); err != nil {
		logger.Error().Err(err).Msg("input validation failed")
		return iojson.WriteError(fmt.Sprintf("invalid input: %s", err), nil)
	}

	items := input.absItems()
	results := cmd.app.Repairs.Batch(ctx, items, cmd.parallel)

	for _, r := range results {
		ev := logger.Info()
		if r.Outcome != session.OutcomeSuccess {
			ev = logger.Warn()
		}
		ev.Str("name", r.Name).
			Str("session_id", r.SessionID).
			Str("outcome", string(r.Outcome)).
			Str("error", r.Error).
			Msg("session finished")
	}

	summary := repair.Summary(results)
	logger.Info().
		Int("total", len(results)).
		Int("success", summary[session.OutcomeSuccess]).
		Int("exhausted", summary[session.OutcomeExhausted]).
		Int("fatal", summary[session.OutcomeFatal]).
		Int("cancelled", summary[session.OutcomeCancelled]).
		Msg("batch processing complete")

	return iojson.Write(BatchOutput{
		BatchID: batchID,
		LogFile: logFile,
		Results: results,
		Summary: summary,
	})
}

// BatchInput is the JSON input schema for batch repairs.
type BatchInput struct {
	Items []repair.Item `json:"items"`
}

// Validate checks the batch input for errors using criterio.
func (b BatchInput) Validate() error {
	if len(b.Items) == 0 {
		return criterio.NewFieldErrors("items", fmt.Errorf("array is empty"))
	}

	var errs criterio.FieldErrorsBuilder
	var (
		seenNames = make(map[string]bool)
		seenRoots = make(map[string]bool)
	)

	for i, item := range b.Items {
		field := fmt.Sprintf("items[%d]", i)

		if err := validate.SessionName(item.Name); err != nil {
			errs = errs.Append(field+".name", err)
			continue
		}
		if seenNames[item.Name] {
			errs = errs.Append(field+".name", fmt.Errorf("duplicate name %q", item.Name))
			continue
		}
		seenNames[item.Name] = true

		if err := validate.ProjectRoot(item.ProjectRoot); err != nil {
			errs = errs.Append(field+".project_root", err)
			continue
		}

		// Two sessions patching one working copy would race.
		root, err := filepath.Abs(item.ProjectRoot)
		if err != nil {
			errs = errs.Append(field+".project_root", err)
			continue
		}
		if seenRoots[root] {
			errs = errs.Append(field+".project_root", fmt.Errorf("duplicate project_root %q", item.ProjectRoot))
			continue
		}
		seenRoots[root] = true

		if item.ContextDir != "" {
			if err := validate.ProjectRoot(item.ContextDir); err != nil {
				errs = errs.Append(field+".context_dir", err)
			}
		}
	}

	return errs.ToError()
}

// absItems returns the items with absolute paths. Paths that cannot be
// resolved are left as given.
func (b BatchInput) absItems() []repair.Item {
	items := make([]repair.Item, len(b.Items))
	for i, item := range b.Items {
		if abs, err := filepath.Abs(item.ProjectRoot); err == nil {
			item.ProjectRoot = abs
		}
		if item.ContextDir != "" {
			if abs, err := filepath.Abs(item.ContextDir); err == nil {
				item.ContextDir = abs
			}
		}
		items[i] = item
	}
	return items
}

// BatchOutput is the JSON output schema.
type BatchOutput struct {
	BatchID string                  `json:"batch_id"`
	LogFile string                  `json:"log_file"`
	Results []repair.Result         `json:"results"`
	Summary map[session.Outcome]int `json:"summary"`
}
