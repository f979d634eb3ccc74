package repair

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colonyops/mender/internal/core/session"
)

// Item is one unit of work for a batch: a project root to repair.
type Item struct {
	Name        string `json:"name"`
	ProjectRoot string `json:"project_root"`
	ContextDir  string `json:"context_dir,omitempty"`
}

// Result is the outcome of one batch item.
type Result struct {
	Name      string          `json:"name"`
	SessionID string          `json:"session_id,omitempty"`
	Outcome   session.Outcome `json:"outcome,omitempty"`
	Turns     int             `json:"turns"`
	Cost      float64         `json:"cost"`
	Error     string          `json:"error,omitempty"`
	Report    *session.Report `json:"-"`
}

// RunnerFactory builds the runner for one item. Each item gets its own
// runner so no provider conversation or rate limiter state is shared
// between concurrent sessions unless the factory chooses to.
type RunnerFactory func(item Item) (*Runner, error)

// Batch runs many sessions. Every item gets a fresh Session: its own turn
// history and retry budget. Items must not share a project root.
type Batch struct {
	NewRunner RunnerFactory
	Limits    session.Limits
	// Parallel caps concurrent sessions. Values below 2 run sequentially.
	Parallel int
	NewID    func() string
	Now      func() time.Time
}

// Run processes items and returns one result per item, in input order.
// Cancelling ctx cancels the running sessions; items not yet started are
// reported as cancelled without running.
func (b *Batch) Run(ctx context.Context, items []Item) []Result {
	now := b.Now
	if now == nil {
		now = time.Now
	}

	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(max(1, b.Parallel))

	for i, item := range items {
		g.Go(func() error {
			results[i] = b.runOne(ctx, item, now)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (b *Batch) runOne(ctx context.Context, item Item, now func() time.Time) Result {
	res := Result{Name: item.Name}

	if ctx.Err() != nil {
		res.Outcome = session.OutcomeCancelled
		res.Error = ctx.Err().Error()
		return res
	}

	runner, err := b.NewRunner(item)
	if err != nil {
		res.Outcome = session.OutcomeFatal
		res.Error = err.Error()
		return res
	}

	s := session.New(b.NewID(), item.Name, item.ProjectRoot, b.Limits, now())
	s.ContextDir = item.ContextDir
	res.SessionID = s.ID

	report, err := runner.Run(ctx, s)
	if err != nil {
		res.Error = err.Error()
	}
	res.Report = report
	res.Outcome = report.Outcome
	res.Turns = report.TurnCount
	res.Cost = report.Cost
	if res.Error == "" && report.Outcome != session.OutcomeSuccess {
		res.Error = describe(report)
	}
	return res
}

func describe(r *session.Report) string {
	switch {
	case r.LastError == session.ErrorNone:
		return r.LastErrorDetail
	case r.LastErrorDetail == "":
		return string(r.LastError)
	}
	return string(r.LastError) + ": " + r.LastErrorDetail
}

// Summary counts results by outcome.
func Summary(results []Result) map[session.Outcome]int {
	out := make(map[session.Outcome]int)
	for _, r := range results {
		out[r.Outcome]++
	}
	return out
}
