package iojson

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// FileReader decodes a command's JSON input from the --file flag, or from
// stdin when the flag is not set.
type FileReader[T any] struct {
	path  string
	stdin io.Reader
}

// Flag returns the --file flag bound to this reader.
func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to JSON input (reads stdin when omitted)",
		Destination: &fr.path,
	}
}

// Read decodes the input. Reading from an interactive terminal is refused
// so a forgotten pipe does not hang the command.
func (fr *FileReader[T]) Read() (T, error) {
	if fr.path != "" {
		return ReadFile[T](fr.path)
	}

	var input T

	r := fr.stdin
	if r == nil {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return input, fmt.Errorf("no input provided (stdin is a terminal); use -f or pipe JSON")
		}
		r = os.Stdin
	}

	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return input, fmt.Errorf("decode JSON: %w", err)
	}
	return input, nil
}
