package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const devNull = "/dev/null"

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// chunk is the part of a diff that describes a single file.
type chunk struct {
	lines  []string
	binary bool
}

// split cuts diff text into per-file chunks. A chunk starts at a
// "diff --git" line, or at a "---"/"+++" pair followed by a hunk header
// when no git header introduced it. Text before the first chunk is dropped.
func split(text string) []chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var (
		chunks  []chunk
		cur     *chunk
		gitHead bool // cur started with "diff --git" and has no hunk yet
	)
	start := func(i int) {
		chunks = append(chunks, chunk{})
		cur = &chunks[len(chunks)-1]
		gitHead = strings.HasPrefix(lines[i], "diff --git ")
	}

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			start(i)
		case !gitHead && isTraditionalHeader(lines, i):
			start(i)
		}
		if cur == nil {
			continue
		}
		if strings.HasPrefix(line, "@@") {
			gitHead = false
		}
		if strings.HasPrefix(line, "GIT binary patch") || (strings.HasPrefix(line, "Binary files ") && strings.HasSuffix(line, " differ")) {
			cur.binary = true
		}
		cur.lines = append(cur.lines, line)
	}
	return chunks
}

func isTraditionalHeader(lines []string, i int) bool {
	return i+2 < len(lines) &&
		strings.HasPrefix(lines[i], "--- ") &&
		strings.HasPrefix(lines[i+1], "+++ ") &&
		strings.HasPrefix(lines[i+2], "@@")
}

// displayPath names the chunk's file before its header is fully read.
func (c chunk) displayPath() string {
	var fallback string
	for _, line := range c.lines {
		if strings.HasPrefix(line, "@@") {
			break
		}
		if name, ok := strings.CutPrefix(line, "+++ "); ok && headerName(name) != devNull {
			return trimSidePrefix(headerName(name))
		}
		if name, ok := strings.CutPrefix(line, "--- "); ok && headerName(name) != devNull {
			fallback = trimSidePrefix(headerName(name))
		}
		if rest, ok := strings.CutPrefix(line, "diff --git "); ok && fallback == "" {
			if fields := strings.Fields(rest); len(fields) == 2 {
				fallback = trimSidePrefix(fields[1])
			}
		}
	}
	return fallback
}

// fileHeader is what a chunk says about the file it changes. Names are
// slash-separated and relative to the project root.
type fileHeader struct {
	oldName  string
	newName  string
	isNew    bool
	isDelete bool
}

func (h fileHeader) path() string {
	if h.isDelete {
		return h.oldName
	}
	return h.newName
}

func (h fileHeader) op() Op {
	switch {
	case h.isNew:
		return OpCreate
	case h.isDelete:
		return OpDelete
	case h.oldName != h.newName:
		return OpRename
	default:
		return OpModify
	}
}

// header reads the file names from the lines before the first hunk.
// "a/" and "b/" prefixes are dropped unless root holds a path that keeps
// them.
func (c chunk) header(root string) (fileHeader, error) {
	var (
		h                    fileHeader
		gitOld, gitNew       string
		renameFrom, renameTo string
	)

	for _, line := range c.lines {
		if strings.HasPrefix(line, "@@") {
			break
		}
		switch {
		case strings.HasPrefix(line, "diff --git "):
			if fields := strings.Fields(strings.TrimPrefix(line, "diff --git ")); len(fields) == 2 {
				gitOld, gitNew = fields[0], fields[1]
			}
		case strings.HasPrefix(line, "--- "):
			if name := headerName(strings.TrimPrefix(line, "--- ")); name == devNull {
				h.isNew = true
			} else {
				h.oldName = name
			}
		case strings.HasPrefix(line, "+++ "):
			if name := headerName(strings.TrimPrefix(line, "+++ ")); name == devNull {
				h.isDelete = true
			} else {
				h.newName = name
			}
		case strings.HasPrefix(line, "new file mode"):
			h.isNew = true
		case strings.HasPrefix(line, "deleted file mode"):
			h.isDelete = true
		case strings.HasPrefix(line, "rename from "):
			renameFrom = strings.TrimSpace(strings.TrimPrefix(line, "rename from "))
		case strings.HasPrefix(line, "rename to "):
			renameTo = strings.TrimSpace(strings.TrimPrefix(line, "rename to "))
		}
	}

	if h.oldName == "" {
		h.oldName = gitOld
	}
	if h.newName == "" {
		h.newName = gitNew
	}
	h.oldName = stripSide(root, h.oldName)
	h.newName = stripSide(root, h.newName)
	if renameFrom != "" && renameTo != "" {
		h.oldName, h.newName = renameFrom, renameTo
	}

	switch {
	case h.isNew && h.isDelete:
		return h, errors.New("malformed diff: file is both created and deleted")
	case h.isNew && h.newName == "":
		return h, errors.New("malformed diff: missing name of the new file")
	case h.isDelete && h.oldName == "":
		return h, errors.New("malformed diff: missing name of the deleted file")
	case h.oldName == "" && h.newName == "":
		return h, errors.New("malformed diff: missing file header")
	}

	if h.isNew {
		h.oldName = ""
	} else if h.isDelete {
		h.newName = ""
	} else if h.oldName == "" {
		h.oldName = h.newName
	} else if h.newName == "" {
		h.newName = h.oldName
	}
	return h, nil
}

// headerName extracts the file name from the rest of a "---" or "+++"
// line, dropping any timestamp and quoting.
func headerName(s string) string {
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		if unq, err := strconv.Unquote(s); err == nil {
			s = unq
		}
	}
	return s
}

func trimSidePrefix(name string) string {
	for _, prefix := range []string{"a/", "b/"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return rest
		}
	}
	return name
}

// stripSide drops a git "a/" or "b/" prefix from name unless the prefixed
// path exists under root and the bare one does not. An empty root always
// drops it.
func stripSide(root, name string) string {
	rest := trimSidePrefix(name)
	if rest == name || root == "" {
		return rest
	}
	if !exists(root, rest) && exists(root, name) {
		return name
	}
	return rest
}

func exists(root, name string) bool {
	_, err := os.Lstat(filepath.Join(root, filepath.FromSlash(name)))
	return err == nil
}

type hunk struct {
	oldPos, newPos int64
	hasPos         bool
	comment        string
	body           []string
}

// normalize renders the chunk as a canonical git diff for h: a clean
// header, and hunk headers recounted from their bodies. Hunks without a
// change are dropped. Body lines missing their operator are read as
// context, and blank lines closing a hunk are trimmed.
func (c chunk) normalize(h fileHeader) (string, error) {
	var hunks []*hunk
	for _, line := range c.lines {
		if strings.HasPrefix(line, "@@") {
			hunks = append(hunks, parseHunkHeader(line))
			continue
		}
		if len(hunks) == 0 {
			continue
		}
		cur := hunks[len(hunks)-1]
		cur.body = append(cur.body, line)
	}

	var b strings.Builder
	writeHeader(&b, h)

	written := 0
	for _, hk := range hunks {
		body := hk.normalizedBody(h)

		var oldLines, newLines, changes int64
		for _, line := range body {
			switch line[0] {
			case ' ':
				oldLines++
				newLines++
			case '-':
				oldLines++
				changes++
			case '+':
				newLines++
				changes++
			}
		}
		if changes == 0 {
			continue
		}

		oldPos, newPos := hk.oldPos, hk.newPos
		if !hk.hasPos {
			oldPos, newPos = 1, 1
		}
		if oldLines == 0 && h.isNew {
			oldPos = 0
		} else if oldLines > 0 && oldPos == 0 {
			oldPos = 1
		}
		if newLines == 0 {
			newPos = 0
		} else if newPos == 0 {
			newPos = 1
		}

		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@%s\n", oldPos, oldLines, newPos, newLines, hk.comment)
		for _, line := range body {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		written++
	}

	if written == 0 && !h.isNew && !h.isDelete && h.op() != OpRename {
		return "", errors.New("malformed diff: no hunk contains a change")
	}
	return b.String(), nil
}

func parseHunkHeader(line string) *hunk {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		// "@@ @@" or "@@ ... @@ func()" without ranges.
		comment := ""
		if i := strings.LastIndex(line, "@@"); i > 1 {
			comment = line[i+2:]
		}
		return &hunk{comment: comment}
	}
	oldPos, _ := strconv.ParseInt(m[1], 10, 64)
	newPos, _ := strconv.ParseInt(m[3], 10, 64)
	return &hunk{oldPos: oldPos, newPos: newPos, hasPos: true, comment: m[5]}
}

func (hk *hunk) normalizedBody(h fileHeader) []string {
	body := hk.body
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
		body = body[:len(body)-1]
	}

	out := make([]string, 0, len(body))
	for _, line := range body {
		if line == "" {
			line = " "
		}
		switch line[0] {
		case '+', '-', '\\':
		default:
			if line[0] != ' ' {
				line = " " + line
			}
			switch {
			case h.isNew:
				line = "+" + line[1:]
			case h.isDelete:
				line = "-" + line[1:]
			}
		}
		if line[0] == '\\' && len(out) == 0 {
			continue
		}
		out = append(out, line)
	}
	return out
}

func writeHeader(b *strings.Builder, h fileHeader) {
	oldName, newName := h.oldName, h.newName
	switch {
	case h.isNew:
		oldName = newName
	case h.isDelete:
		newName = oldName
	}

	fmt.Fprintf(b, "diff --git %s %s\n", quoteName("a/"+oldName), quoteName("b/"+newName))
	switch {
	case h.isNew:
		b.WriteString("new file mode 100644\n")
		fmt.Fprintf(b, "--- %s\n+++ %s\n", devNull, quoteName("b/"+newName))
	case h.isDelete:
		b.WriteString("deleted file mode 100644\n")
		fmt.Fprintf(b, "--- %s\n+++ %s\n", quoteName("a/"+oldName), devNull)
	default:
		if oldName != newName {
			fmt.Fprintf(b, "rename from %s\nrename to %s\n", quoteName(oldName), quoteName(newName))
		}
		fmt.Fprintf(b, "--- %s\n+++ %s\n", quoteName("a/"+oldName), quoteName("b/"+newName))
	}
}

// quoteName quotes names git would quote: those with spaces, quotes or
// control characters.
func quoteName(name string) string {
	if strings.ContainsAny(name, " \t\"\\") || strconv.Quote(name) != `"`+name+`"` {
		return strconv.Quote(name)
	}
	return name
}
