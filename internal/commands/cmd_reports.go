package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/core/styles"
	"github.com/colonyops/mender/internal/core/validate"
	"github.com/colonyops/mender/internal/mender"
	"github.com/colonyops/mender/internal/printer"
	"github.com/colonyops/mender/pkg/iojson"
)

type ReportsCmd struct {
	flags *Flags
	app   *mender.App

	// flags
	jsonOutput bool
}

// NewReportsCmd creates a new reports command
func NewReportsCmd(flags *Flags, app *mender.App) *ReportsCmd {
	return &ReportsCmd{flags: flags, app: app}
}

// Register adds the reports command to the application
func (cmd *ReportsCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := &cli.BoolFlag{
		Name:        "json",
		Usage:       "output as JSON",
		Destination: &cmd.jsonOutput,
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:    "reports",
		Aliases: []string{"r"},
		Usage:   "Inspect finished repair sessions",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List session reports, newest first",
				UsageText: "mender reports ls [--json]",
				Flags:     []cli.Flag{jsonFlag},
				Action:    cmd.runList,
			},
			{
				Name:      "show",
				Usage:     "Show a session report",
				UsageText: "mender reports show [--json] <session-id>",
				Flags:     []cli.Flag{jsonFlag},
				Action:    cmd.runShow,
			},
			{
				Name:      "turns",
				Usage:     "Print the turn log of a session as JSON",
				UsageText: "mender reports turns <session-id>",
				Action:    cmd.runTurns,
			},
			{
				Name:      "rm",
				Usage:     "Delete a session report and its turn log",
				UsageText: "mender reports rm <session-id>...",
				Action:    cmd.runRemove,
			},
		},
	})

	return app
}

func (cmd *ReportsCmd) runList(ctx context.Context, c *cli.Command) error {
	summaries, err := cmd.app.Reports.List(ctx)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}

	if cmd.jsonOutput {
		enc := json.NewEncoder(c.Root().Writer)
		for _, s := range summaries {
			if err := enc.Encode(s); err != nil {
				return err
			}
		}
		return nil
	}

	if len(summaries) == 0 {
		printer.Ctx(ctx).Infof("No reports found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, styles.HeaderStyle.Render("SESSION")+"\t"+
		styles.HeaderStyle.Render("NAME")+"\t"+
		styles.HeaderStyle.Render("OUTCOME")+"\t"+
		styles.HeaderStyle.Render("TURNS")+"\t"+
		styles.HeaderStyle.Render("COST")+"\t"+
		styles.HeaderStyle.Render("STARTED"))
	for _, s := range summaries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			s.SessionID,
			s.Name,
			styles.OutcomeStyle(string(s.Outcome)).Render(string(s.Outcome)),
			s.TurnCount,
			s.Cost,
			s.StartedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func sessionArg(c *cli.Command) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one session id, got %d", c.Args().Len())
	}
	id := c.Args().First()
	if err := validate.SessionID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (cmd *ReportsCmd) runShow(ctx context.Context, c *cli.Command) error {
	id, err := sessionArg(c)
	if err != nil {
		return err
	}

	report, err := cmd.app.Reports.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no report for session %q", id)
	}
	if err != nil {
		return fmt.Errorf("get report: %w", err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, os.Stderr, report)
	}
	return renderMarkdown(c.Root().Writer, report.Markdown())
}

func (cmd *ReportsCmd) runTurns(ctx context.Context, c *cli.Command) error {
	id, err := sessionArg(c)
	if err != nil {
		return err
	}

	turns, err := cmd.app.Reports.Turns(ctx, id)
	if err != nil {
		return fmt.Errorf("list turns: %w", err)
	}
	if len(turns) == 0 {
		return fmt.Errorf("no turns logged for session %q", id)
	}
	return iojson.WriteWith(c.Root().Writer, os.Stderr, turns)
}

func (cmd *ReportsCmd) runRemove(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("expected at least one session id")
	}

	p := printer.Ctx(ctx)
	var errs []error
	for _, id := range c.Args().Slice() {
		err := validate.SessionID(id)
		if err == nil {
			err = cmd.app.Reports.Delete(ctx, id)
		}
		if err != nil {
			p.Errorf("%s: %v", id, err)
			errs = append(errs, err)
			continue
		}
		p.Successf("Deleted %s", id)
	}
	if len(errs) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}
