package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/mender/internal/core/git"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/logging"
	"github.com/colonyops/mender/internal/core/session"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Machine  *Machine
	Provider llm.Provider
	// System is the system prompt opening every conversation.
	System string
	// Timeout bounds each model call. Zero means no limit.
	Timeout time.Duration
	// HistoryTokens bounds the estimated size of the conversation sent to
	// the model. Older prompts and replies are elided past it. Zero
	// disables compaction.
	HistoryTokens int
	// TurnLog receives every recorded turn. Optional.
	TurnLog session.TurnLog
	// Stores receive the terminal report. Optional.
	Stores []session.Store
	// Git produces the final working-copy diff. Optional.
	Git    git.Git
	Logger zerolog.Logger
}

// Runner drives one session at a time against a model provider.
type Runner struct {
	machine  *Machine
	provider llm.Provider
	system   string
	timeout  time.Duration
	budget   int
	turnLog  session.TurnLog
	stores   []session.Store
	git      git.Git
	log      zerolog.Logger
}

// NewRunner builds a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		machine:  opts.Machine,
		provider: opts.Provider,
		system:   opts.System,
		timeout:  opts.Timeout,
		budget:   opts.HistoryTokens,
		turnLog:  opts.TurnLog,
		stores:   opts.Stores,
		git:      opts.Git,
		log:      opts.Logger,
	}
}

// Run drives s to a terminal outcome and returns its report. The report
// is produced for every outcome, including fatal and cancelled sessions.
// The error joins an invariant violation, if one ended the session, with
// any failure to persist the report.
func (r *Runner) Run(ctx context.Context, s *session.Session) (*session.Report, error) {
	ctx = logging.WithSessionID(ctx, s.ID)
	s.Provider = r.provider.Name()
	s.Model = r.provider.Model()

	var history []llm.Message
	if r.system != "" {
		history = append(history, llm.Message{Role: llm.RoleSystem, Content: r.system})
	}

	r.baseCommit(ctx, s)

	step, runErr := r.machine.Advance(ctx, s, nil)
	for !step.Done() {
		if ctx.Err() != nil {
			step = r.machine.Cancel(s)
			break
		}

		history = append(history, llm.Message{Role: llm.RoleUser, Content: step.Prompt})

		msgs, elided := compact(history, r.budget)
		if elided > 0 {
			r.log.Info().Ctx(ctx).
				Int("elided", elided).
				Int("estimated_tokens", llm.EstimateTokens(msgs)).
				Msg("conversation compacted")
		}

		resp, err := r.send(ctx, msgs)
		if err != nil {
			if ctx.Err() != nil {
				step = r.machine.Cancel(s)
				break
			}
			// The prompt is sent again on the next iteration.
			history = history[:len(history)-1]
			step = r.machine.Fail(ctx, s, err)
			continue
		}
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})

		step, runErr = r.machine.Advance(ctx, s, &Reply{Text: resp.Text, Usage: resp.Usage, Model: resp.Model})
		if step.Turn != nil && r.turnLog != nil {
			if err := r.turnLog.Append(context.WithoutCancel(ctx), s.ID, *step.Turn); err != nil {
				r.log.Warn().Ctx(ctx).Err(err).Int("turn", step.Turn.Index).Msg("append turn log")
			}
		}
	}

	r.finalDiff(context.WithoutCancel(ctx), s)

	report := s.Report()
	r.log.Info().Ctx(ctx).
		Str("outcome", string(report.Outcome)).
		Int("turns", report.TurnCount).
		Int("retries_used", report.RetriesUsed).
		Float64("cost", report.Cost).
		Msg("session ended")

	return report, errors.Join(runErr, r.save(context.WithoutCancel(ctx), report))
}

func (r *Runner) send(ctx context.Context, history []llm.Message) (llm.Response, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.provider.Send(ctx, history)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%s: %w", r.provider.Name(), err)
	}

	r.log.Debug().Ctx(ctx).
		Dur("elapsed", time.Since(start)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("model replied")
	return resp, nil
}

func (r *Runner) baseCommit(ctx context.Context, s *session.Session) {
	if r.git == nil || !r.git.IsRepo(ctx, s.ProjectRoot) {
		return
	}

	head, err := r.git.Head(ctx, s.ProjectRoot)
	if err != nil {
		r.log.Warn().Ctx(ctx).Err(err).Msg("base commit")
		return
	}
	s.BaseCommit = head
}

func (r *Runner) finalDiff(ctx context.Context, s *session.Session) {
	if r.git == nil || !r.git.IsRepo(ctx, s.ProjectRoot) {
		return
	}

	diff, err := r.git.Diff(ctx, s.ProjectRoot)
	if err != nil {
		r.log.Warn().Ctx(ctx).Err(err).Msg("final diff")
		return
	}
	s.FinalDiff = diff
	if diff == "" {
		return
	}

	add, del, err := r.git.DiffStats(ctx, s.ProjectRoot)
	if err != nil {
		r.log.Warn().Ctx(ctx).Err(err).Msg("final diff stats")
		return
	}
	s.FinalAdditions, s.FinalDeletions = add, del
}

func (r *Runner) save(ctx context.Context, report *session.Report) error {
	var errs []error
	for _, st := range r.stores {
		if err := st.Save(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("save report: %w", err))
		}
	}
	return errors.Join(errs...)
}
