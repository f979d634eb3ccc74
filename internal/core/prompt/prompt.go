// Package prompt renders the prompts sent to the model. Templates are
// embedded and can be replaced one by one from an override directory.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/colonyops/mender/internal/core/action"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/pkg/tmpl"
)

//go:embed templates/*.tmpl
var embedded embed.FS

// Name identifies a prompt template.
type Name string

const (
	NameSystem  Name = "system"
	NameInitial Name = "initial"
	NameInfo    Name = "info"
	NameResult  Name = "result"
	NameError   Name = "error"
)

// Names lists every template a Builder loads.
var Names = []Name{NameSystem, NameInitial, NameInfo, NameResult, NameError}

// File is the file name a template is loaded from.
func (n Name) File() string {
	return string(n) + ".tmpl"
}

// Options configures a Builder.
type Options struct {
	// Dir holds override templates named like the embedded ones
	// (initial.tmpl, info.tmpl, ...). Missing files fall back to the
	// embedded template.
	Dir string
	// System replaces the system prompt text when set.
	System string
}

// Builder renders prompts. It is safe for concurrent use.
type Builder struct {
	templates map[Name]*template.Template
	system    string
}

// New parses the embedded templates and any overrides.
func New(opts Options) (*Builder, error) {
	b := &Builder{templates: make(map[Name]*template.Template, len(Names))}

	for _, name := range Names {
		text, err := load(opts.Dir, name)
		if err != nil {
			return nil, err
		}

		t, err := tmpl.Parse(string(name), text)
		if err != nil {
			return nil, err
		}
		b.templates[name] = t
	}

	system, err := b.render(NameSystem, nil)
	if err != nil {
		return nil, err
	}
	b.system = strings.TrimSpace(system)
	if opts.System != "" {
		b.system = strings.TrimSpace(opts.System)
	}

	return b, nil
}

func load(dir string, name Name) (string, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name.File()))
		switch {
		case err == nil:
			return string(data), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("read template override %s: %w", name.File(), err)
		}
	}

	data, err := embedded.ReadFile("templates/" + name.File())
	if err != nil {
		return "", fmt.Errorf("read embedded template %s: %w", name.File(), err)
	}
	return string(data), nil
}

func (b *Builder) render(name Name, data any) (string, error) {
	out, err := tmpl.Execute(b.templates[name], data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out) + "\n", nil
}

// System returns the system prompt.
func (b *Builder) System() string {
	return b.system
}

// InitialData feeds the first prompt of a session.
type InitialData struct {
	Context Context
	Allowed action.KindSet
}

// Initial renders the first prompt.
func (b *Builder) Initial(d InitialData) (string, error) {
	return b.render(NameInitial, d)
}

// InfoData feeds the prompt answering an information request.
type InfoData struct {
	Sections []Section
	Allowed  action.KindSet
	Previous action.Notes
}

// Info renders the answer to an information request. No sections means
// the model asked for nothing.
func (b *Builder) Info(d InfoData) (string, error) {
	return b.render(NameInfo, d)
}

// ResultData feeds the prompt reporting a patch application. Sections
// answers an information request sent with the patch, resolved against
// the patched working copy.
type ResultData struct {
	Applied     []string
	Failed      []patch.FileResult
	Verify      *patch.Verification
	Deferred    bool
	Sections    []Section
	RetriesLeft int
	Allowed     action.KindSet
}

// NewResultData collects the applied and failed files of r.
func NewResultData(r patch.Result) ResultData {
	return ResultData{Applied: r.AppliedFiles(), Failed: r.FailedFiles()}
}

// Result renders the report of a patch application.
func (b *Builder) Result(d ResultData) (string, error) {
	return b.render(NameResult, d)
}

// ErrorData feeds a corrective prompt.
type ErrorData struct {
	Message string
	// Format appends a reminder of the reply format.
	Format      bool
	RetriesLeft int
	Allowed     action.KindSet
}

// Error renders a corrective prompt.
func (b *Builder) Error(d ErrorData) (string, error) {
	return b.render(NameError, d)
}
