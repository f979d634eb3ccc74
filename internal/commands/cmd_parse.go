package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/mender/internal/core/action"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/pkg/iojson"
)

type ParseCmd struct {
	flags *Flags
	file  string
}

// NewParseCmd creates a new parse command
func NewParseCmd(flags *Flags) *ParseCmd {
	return &ParseCmd{flags: flags}
}

// Register adds the parse command to the application
func (cmd *ParseCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "parse",
		Usage:     "Parse a model reply and print the action",
		UsageText: "mender parse [-f reply.txt]",
		Description: `Parses a raw model reply the way a session would and prints the
resulting action as JSON. Patches also report the lines the diff adds,
changes and deletes. Reads stdin when --file is not set.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to the reply (reads stdin when omitted)",
				Destination: &cmd.file,
			},
		},
		Action: cmd.run,
	})

	return app
}

// ParseOutput is the JSON output of the parse command.
type ParseOutput struct {
	Action action.Envelope `json:"action"`
	Kind   action.Kind     `json:"kind,omitempty"`
	Stats  *patch.Stat     `json:"stats,omitempty"`
}

func (cmd *ParseCmd) run(_ context.Context, c *cli.Command) error {
	raw, err := cmd.read()
	if err != nil {
		return iojson.WriteError(fmt.Sprintf("read reply: %s", err), nil)
	}

	return iojson.WriteWith(c.Root().Writer, os.Stderr, parseReply(raw))
}

func (cmd *ParseCmd) read() (string, error) {
	if cmd.file != "" {
		data, err := os.ReadFile(cmd.file)
		return string(data), err
	}
	if isTerminal(os.Stdin) {
		return "", fmt.Errorf("no input provided (stdin is a terminal); use -f or pipe the reply")
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

func parseReply(raw string) ParseOutput {
	a := action.Parse(raw)
	out := ParseOutput{Action: action.Envelop(a), Kind: action.KindOf(a)}

	if p, ok := a.(*action.Patch); ok {
		st := patch.Stats(p.Diff)
		out.Stats = &st
	}
	return out
}
