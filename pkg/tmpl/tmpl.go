// Package tmpl renders text/template strings with the function set used by
// prompt templates and shell command templates.
package tmpl

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// shellQuote wraps s in single quotes, escaping embedded quotes with the
// '\'' sequence.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// indent prefixes every non-empty line of s with n spaces.
func indent(n int, s string) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}

var extLangs = map[string]string{
	".go":    "go",
	".proto": "protobuf",
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".java":  "java",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".rb":    "ruby",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".sh":    "bash",
	".md":    "markdown",
	".diff":  "diff",
	".patch": "diff",
}

// Lang returns the code fence language for a file path, or "" when the
// extension is unknown.
func Lang(path string) string {
	return extLangs[strings.ToLower(filepath.Ext(path))]
}

// fence wraps body in a markdown code fence long enough that backtick runs
// inside body cannot close it early.
func fence(language, body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}

	ticks := strings.Repeat("`", max(3, longest+1))
	body = strings.TrimRight(body, "\n")
	return ticks + language + "\n" + body + "\n" + ticks
}

var funcs = template.FuncMap{
	"shq":    shellQuote,
	"join":   strings.Join,
	"trim":   strings.TrimSpace,
	"indent": indent,
	"lang":   Lang,
	"fence":  fence,
	"inc":    func(i int) int { return i + 1 },
}

// Parse compiles text as a named template with the shared functions.
// Missing map keys are errors at execution time.
func Parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

// Execute runs a compiled template and returns its output.
func Execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Render compiles and executes a template string in one step.
//
// Available template functions:
//   - shq: shell-quote a string
//   - join: join a string slice with a separator
//   - trim: strip surrounding whitespace
//   - indent: indent every line by n spaces
//   - lang: code fence language for a file path
//   - fence: wrap text in a code fence (fence "go" .Body)
//   - inc: add one to an int
func Render(text string, data any) (string, error) {
	t, err := Parse("", text)
	if err != nil {
		return "", err
	}
	return Execute(t, data)
}
