package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/mender/internal/core/llm"
)

// Report is emitted when a session ends: the outcome plus the full turn
// history.
type Report struct {
	SessionID       string        `json:"session_id"`
	Name            string        `json:"name"`
	ProjectRoot     string        `json:"project_root"`
	Provider        string        `json:"provider"`
	Model           string        `json:"model"`
	Outcome         Outcome       `json:"outcome"`
	TurnCount       int           `json:"turn_count"`
	RetriesUsed     int           `json:"retries_used"`
	LastError       ErrorCategory `json:"last_error,omitempty"`
	LastErrorDetail string        `json:"last_error_detail,omitempty"`
	Usage           llm.Usage     `json:"usage"`
	Cost            float64       `json:"cost"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
	BaseCommit      string        `json:"base_commit,omitempty"`
	FinalDiff       string        `json:"final_diff,omitempty"`
	FinalAdditions  int           `json:"final_additions,omitempty"`
	FinalDeletions  int           `json:"final_deletions,omitempty"`
	Turns           []Turn        `json:"turns"`
}

// Summary is the listing form of a stored report.
type Summary struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Outcome   Outcome   `json:"outcome"`
	TurnCount int       `json:"turn_count"`
	Cost      float64   `json:"cost"`
	StartedAt time.Time `json:"started_at"`
}

// Summary returns the listing form of r.
func (r *Report) Summary() Summary {
	return Summary{
		SessionID: r.SessionID,
		Name:      r.Name,
		Outcome:   r.Outcome,
		TurnCount: r.TurnCount,
		Cost:      r.Cost,
		StartedAt: r.StartedAt,
	}
}

// Duration is the wall time the session ran.
func (r *Report) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Markdown renders the report for humans.
func (r *Report) Markdown() string {
	var b strings.Builder

	title := r.Name
	if title == "" {
		title = r.SessionID
	}
	fmt.Fprintf(&b, "# Repair session %s\n\n", title)

	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Session | `%s` |\n", r.SessionID)
	fmt.Fprintf(&b, "| Project | `%s` |\n", r.ProjectRoot)
	fmt.Fprintf(&b, "| Model | %s / %s |\n", r.Provider, r.Model)
	fmt.Fprintf(&b, "| Outcome | **%s** |\n", r.Outcome)
	fmt.Fprintf(&b, "| Turns | %d |\n", r.TurnCount)
	fmt.Fprintf(&b, "| Retries used | %d |\n", r.RetriesUsed)
	if r.LastError != ErrorNone {
		fmt.Fprintf(&b, "| Last error | %s: %s |\n", r.LastError, escapeCell(r.LastErrorDetail))
	}
	fmt.Fprintf(&b, "| Tokens | %d in / %d out |\n", r.Usage.PromptTokens, r.Usage.CompletionTokens)
	fmt.Fprintf(&b, "| Cost | $%.4f |\n", r.Cost)
	fmt.Fprintf(&b, "| Duration | %s |\n", r.Duration().Round(time.Second))
	if r.BaseCommit != "" {
		fmt.Fprintf(&b, "| Base commit | `%s` |\n", r.BaseCommit)
	}
	if r.FinalDiff != "" {
		fmt.Fprintf(&b, "| Working copy | +%d / -%d lines |\n", r.FinalAdditions, r.FinalDeletions)
	}

	if len(r.Turns) > 0 {
		b.WriteString("\n## Turns\n\n")
		b.WriteString("| # | Answering | Action | System | Detail |\n|---|---|---|---|---|\n")
		for _, t := range r.Turns {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				t.Index, t.Answering, t.Action.Type, t.SystemAction, escapeCell(t.Detail))
		}
	}

	if r.FinalDiff != "" {
		b.WriteString("\n## Final diff\n\n```diff\n")
		b.WriteString(strings.TrimRight(r.FinalDiff, "\n"))
		b.WriteString("\n```\n")
	}

	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
