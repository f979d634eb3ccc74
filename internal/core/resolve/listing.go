package resolve

import (
	"fmt"
	"os"
	"strings"
)

// Listing is a one-level view of a directory.
type Listing struct {
	Path  string   `json:"path"`
	Dirs  []string `json:"dirs"`
	Files []string `json:"files"`
}

// list reads the immediate children of abs. os.ReadDir returns entries
// sorted by name, so both slices come out alphabetical.
func list(abs, rel string) (*Listing, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	l := &Listing{Path: rel, Dirs: []string{}, Files: []string{}}
	for _, e := range entries {
		if e.IsDir() {
			l.Dirs = append(l.Dirs, e.Name())
		} else {
			l.Files = append(l.Files, e.Name())
		}
	}
	return l, nil
}

// String renders the listing for a prompt.
func (l *Listing) String() string {
	var b strings.Builder

	path := l.Path
	if path == "" || path == "." {
		path = "."
	}
	fmt.Fprintf(&b, "Directory: %s/\n", strings.TrimSuffix(path, "/"))

	fmt.Fprintf(&b, "Directories (%d):\n", len(l.Dirs))
	if len(l.Dirs) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, d := range l.Dirs {
		fmt.Fprintf(&b, "  %s/\n", d)
	}

	fmt.Fprintf(&b, "Files (%d):\n", len(l.Files))
	if len(l.Files) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, f := range l.Files {
		fmt.Fprintf(&b, "  %s\n", f)
	}

	b.WriteString("Only immediate children are listed. Send a DIRECTORY_LISTING request for a subdirectory to see deeper levels.")
	return b.String()
}
