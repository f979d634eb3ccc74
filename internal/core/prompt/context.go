package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Placeholder stands in for a context file that does not exist.
const Placeholder = "(not available)"

// Context is the static description of the change a session repairs.
type Context struct {
	Proto               string
	ProtoFileChanges    string
	FileChanges         string
	SurroundedFilePaths string
	SuspectedFiles      string
	// Missing lists the context files that were not found.
	Missing []string
}

// ContextFiles are read from the context directory in this order.
var ContextFiles = []string{
	"01_proto.txt",
	"02_protoFileChanges.txt",
	"03_fileChanges.txt",
	"04_surroundedFilePath.txt",
	"05_suspectedFiles.txt",
}

// LoadContext reads the context files in dir. A missing or blank file
// becomes Placeholder; any other read failure is an error.
func LoadContext(dir string) (Context, error) {
	var c Context
	fields := []*string{
		&c.Proto,
		&c.ProtoFileChanges,
		&c.FileChanges,
		&c.SurroundedFilePaths,
		&c.SuspectedFiles,
	}

	for i, name := range ContextFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			data = nil
		case err != nil:
			return Context{}, fmt.Errorf("read context %s: %w", name, err)
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			text = Placeholder
			c.Missing = append(c.Missing, name)
		}
		*fields[i] = text
	}

	return c, nil
}
