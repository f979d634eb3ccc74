package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/core/styles"
	"github.com/colonyops/mender/internal/printer"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderMarkdown writes md to w, styled with glamour when w is a terminal.
func renderMarkdown(w io.Writer, md string) error {
	if !isTerminal(w) {
		_, err := io.WriteString(w, md)
		return err
	}

	width := 100
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = min(cols, 120)
		}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// printOutcome writes the one line summary of a finished session.
func printOutcome(p *printer.Printer, r *session.Report) {
	outcome := styles.OutcomeStyle(string(r.Outcome)).Render(string(r.Outcome))
	line := fmt.Sprintf("%s %s: %d turn(s), %d retry(ies) used, $%.4f",
		r.Name, outcome, r.TurnCount, r.RetriesUsed, r.Cost)

	if r.Outcome == session.OutcomeSuccess {
		p.Successf("%s", line)
		return
	}
	p.Errorf("%s", line)
	if r.LastError != session.ErrorNone {
		p.Printf("  %s: %s", r.LastError, r.LastErrorDetail)
	}
}
