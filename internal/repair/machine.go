// Package repair drives repair sessions: the state machine that turns model
// replies into actions, the runner that talks to the provider, and the
// batch runner.
package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/mender/internal/core/action"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/logging"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/internal/core/prompt"
	"github.com/colonyops/mender/internal/core/resolve"
	"github.com/colonyops/mender/internal/core/session"
)

// ErrUnexpectedReply is returned when a reply arrives while the session is
// not waiting for one.
var ErrUnexpectedReply = errors.New("reply received outside AwaitDecision")

// Reply is a raw model reply handed to Advance.
type Reply struct {
	Text  string
	Usage llm.Usage
	// Model is the model that produced the reply, when the provider
	// reports it. It selects the price used for cost accounting.
	Model string
}

// Step is the result of one Advance or Fail call.
type Step struct {
	// Prompt is the next prompt to send. Empty once the session ended.
	Prompt string
	// Outcome is set when the session ended.
	Outcome session.Outcome
	// Turn is the turn recorded by this call, if any.
	Turn *session.Turn
}

// Done reports whether the session ended.
func (s Step) Done() bool {
	return s.Outcome != session.OutcomeNone
}

// Options configures a Machine.
type Options struct {
	Resolver *resolve.Resolver
	Applier  *patch.Applier
	Prompts  *prompt.Builder
	// Permissions maps a prompting state to the actions a reply to it may
	// take.
	Permissions map[session.State]action.KindSet
	// Verifier runs after a patch applies. Nil disables verification.
	Verifier patch.Verifier
	Pricing  llm.PriceTable
	Logger   zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Machine advances sessions. It holds no per-session state, so one Machine
// may serve any number of sessions; a single session must only be advanced
// from one goroutine.
type Machine struct {
	resolver *resolve.Resolver
	applier  *patch.Applier
	prompts  *prompt.Builder
	perms    map[session.State]action.KindSet
	verifier patch.Verifier
	pricing  llm.PriceTable
	log      zerolog.Logger
	now      func() time.Time
}

// NewMachine builds a Machine.
func NewMachine(opts Options) *Machine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		resolver: opts.Resolver,
		applier:  opts.Applier,
		prompts:  opts.Prompts,
		perms:    opts.Permissions,
		verifier: opts.Verifier,
		pricing:  opts.Pricing,
		log:      opts.Logger,
		now:      now,
	}
}

// Allowed returns the actions the next reply of s may take.
func (m *Machine) Allowed(s *session.Session) action.KindSet {
	return m.perms[s.PermissionsFrom]
}

// Advance moves s forward. A nil reply starts the session and returns the
// initial prompt. Otherwise reply answers the pending prompt: it is parsed,
// acted on and recorded as exactly one turn.
//
// Recoverable failures become the next prompt. The returned error is
// reserved for invariant violations; the session has then ended with
// outcome fatal.
func (m *Machine) Advance(ctx context.Context, s *session.Session, reply *Reply) (Step, error) {
	if s.Done() {
		return Step{Outcome: s.Outcome}, session.ErrEnded
	}
	ctx = logging.WithSessionID(ctx, s.ID)

	if reply == nil {
		if s.State != session.StateStart {
			return m.fatal(s, nil, fmt.Errorf("%w: no reply in state %s", ErrUnexpectedReply, s.State))
		}
		return m.start(ctx, s)
	}

	if s.State != session.StateAwaitDecision {
		return m.fatal(s, nil, fmt.Errorf("%w: state %s", ErrUnexpectedReply, s.State))
	}

	ctx = logging.WithTurn(ctx, s.NextTurn())
	t := &session.Turn{
		Index:     s.NextTurn(),
		Timestamp: m.now(),
		Answering: s.Answering,
		Prompt:    s.Pending,
		Response:  reply.Text,
		Usage:     reply.Usage,
	}
	m.account(s, reply)

	parsed := action.Parse(reply.Text)
	t.Action = action.Envelop(parsed)

	var (
		step Step
		err  error
	)
	switch a := parsed.(type) {
	case *action.Malformed:
		step, err = m.malformed(ctx, s, t, a)
	case *action.InfoRequest:
		step, err = m.infoRequest(ctx, s, t, a)
	case *action.Patch:
		step, err = m.patch(ctx, s, t, a)
	case *action.Completion:
		step, err = m.completion(ctx, s, t)
	default:
		err = fmt.Errorf("unhandled action %T", parsed)
	}
	if err != nil {
		return m.fatal(s, t, err)
	}

	t.RetriesLeft = s.RetriesLeft
	if err := s.Record(*t); err != nil {
		return m.fatal(s, nil, err)
	}
	step.Turn = s.LastTurn()

	if !s.Done() && len(s.Turns) >= s.Limits.MaxTurns {
		s.LastErrorDetail = fmt.Sprintf("turn limit of %d reached", s.Limits.MaxTurns)
		s.Finish(session.OutcomeExhausted, m.now())
		step.Prompt, step.Outcome = "", session.OutcomeExhausted
	}

	m.log.Info().Ctx(ctx).
		Str("action", t.Action.Type).
		Str("system_action", string(t.SystemAction)).
		Int("retries_left", s.RetriesLeft).
		Str("outcome", string(step.Outcome)).
		Msg("turn recorded")

	return step, nil
}

// Fail handles a model call that produced no reply. The pending prompt is
// resent and one unit of retry budget is consumed; no turn is recorded.
func (m *Machine) Fail(ctx context.Context, s *session.Session, err error) Step {
	if s.Done() {
		return Step{Outcome: s.Outcome}
	}
	ctx = logging.WithSessionID(ctx, s.ID)

	s.Fail(session.ErrorTransport, err.Error())
	if s.RetriesLeft == 0 {
		m.log.Warn().Ctx(ctx).Err(err).Msg("model call failed, retry budget exhausted")
		s.Finish(session.OutcomeExhausted, m.now())
		return Step{Outcome: session.OutcomeExhausted}
	}

	s.RetriesLeft--
	m.log.Warn().Ctx(ctx).Err(err).Int("retries_left", s.RetriesLeft).Msg("model call failed, resending prompt")
	return Step{Prompt: s.Pending}
}

// Cancel ends s with outcome cancelled. The turn history is kept.
func (m *Machine) Cancel(s *session.Session) Step {
	if !s.Done() {
		s.Finish(session.OutcomeCancelled, m.now())
	}
	return Step{Outcome: s.Outcome}
}

func (m *Machine) start(ctx context.Context, s *session.Session) (Step, error) {
	if err := s.Transition(session.StatePrepareContext); err != nil {
		return m.fatal(s, nil, err)
	}

	if err := checkRoot(s.ProjectRoot); err != nil {
		m.log.Error().Ctx(ctx).Err(err).Str("root", s.ProjectRoot).Msg("cannot start session")
		return m.end(s, session.OutcomeFatal, session.ErrorFatal, err.Error()), nil
	}

	dir := s.ContextDir
	if dir == "" {
		dir = filepath.Dir(filepath.Clean(s.ProjectRoot))
	}
	pctx, err := prompt.LoadContext(dir)
	if err != nil {
		return m.end(s, session.OutcomeFatal, session.ErrorFatal, err.Error()), nil
	}
	if len(pctx.Missing) > 0 {
		m.log.Debug().Ctx(ctx).Strs("missing", pctx.Missing).Str("dir", dir).Msg("context files missing")
	}

	text, err := m.prompts.Initial(prompt.InitialData{
		Context: pctx,
		Allowed: m.perms[session.StateSendInitial],
	})
	if err != nil {
		return m.fatal(s, nil, err)
	}

	m.log.Info().Ctx(ctx).Str("root", s.ProjectRoot).Msg("session started")
	return m.send(s, session.StateSendInitial, text)
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %w", resolve.ErrRootUnreadable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", resolve.ErrRootUnreadable, root)
	}
	if _, err := os.ReadDir(root); err != nil {
		return fmt.Errorf("%w: %w", resolve.ErrRootUnreadable, err)
	}
	return nil
}

func (m *Machine) malformed(ctx context.Context, s *session.Session, t *session.Turn, a *action.Malformed) (Step, error) {
	t.Detail = a.Reason
	return m.recoverable(ctx, s, t, failure{
		category: session.ErrorParse,
		system:   session.SystemRepromptMalformed,
		message:  fmt.Sprintf("The reply could not be parsed: %s.", strings.TrimSuffix(a.Reason, ".")),
		format:   true,
	})
}

func (m *Machine) infoRequest(ctx context.Context, s *session.Session, t *session.Turn, a *action.InfoRequest) (Step, error) {
	allowed := m.Allowed(s)

	if err := s.Transition(session.StateResolveInfoRequests); err != nil {
		return Step{}, err
	}

	if len(a.Requests) == 0 {
		t.SystemAction = session.SystemNoInfoNeeded
		return m.sendInfo(s, nil, a.Notes)
	}

	res, err := m.resolver.Resolve(s.ProjectRoot, a.Requests, allowed)
	if err != nil {
		t.SystemAction = session.SystemFatal
		t.Detail = err.Error()
		return m.end(s, session.OutcomeFatal, session.ErrorFatal, err.Error()), nil
	}
	t.Resolutions = res

	var rejected []string
	for _, r := range res {
		if r.Rejected() {
			rejected = append(rejected, r.Err.FeedbackMessage())
		}
	}

	if len(rejected) == 0 {
		t.SystemAction = session.SystemResolvedInfo
		return m.sendInfo(s, res, a.Notes)
	}

	t.Detail = res[firstRejected(res)].Err.Error()
	f := failure{
		category: session.ErrorValidation,
		system:   session.SystemRejected,
		message:  strings.Join(rejected, "\n\n"),
	}
	// Served requests still reach the model; the rejections ride along as
	// notes in the same prompt.
	if len(rejected) < len(res) {
		f.info = res
		f.notes = a.Notes
	}
	return m.recoverable(ctx, s, t, f)
}

func firstRejected(res []resolve.Resolution) int {
	for i, r := range res {
		if r.Rejected() {
			return i
		}
	}
	return -1
}

func (m *Machine) sendInfo(s *session.Session, res []resolve.Resolution, notes action.Notes) (Step, error) {
	text, err := m.prompts.Info(prompt.InfoData{
		Sections: prompt.Sections(res),
		Allowed:  m.perms[session.StateSendResolvedInfo],
		Previous: notes,
	})
	if err != nil {
		return Step{}, err
	}
	return m.send(s, session.StateSendResolvedInfo, text)
}

func (m *Machine) patch(ctx context.Context, s *session.Session, t *session.Turn, a *action.Patch) (Step, error) {
	allowed := m.Allowed(s)
	if !allowed.Has(action.KindPatch) {
		verr := action.NewNotAllowed(action.KindPatch, "", allowed)
		t.Detail = verr.Error()
		return m.recoverable(ctx, s, t, failure{
			category: session.ErrorValidation,
			system:   session.SystemRejected,
			message:  verr.FeedbackMessage(),
		})
	}

	if err := s.Transition(session.StateParseDiff); err != nil {
		return Step{}, err
	}
	if err := s.Transition(session.StateApplyDiff); err != nil {
		return Step{}, err
	}

	// Cancellation is honored between turns, never during an apply.
	res := m.applier.Apply(context.WithoutCancel(ctx), s.ProjectRoot, a.Diff)
	t.Apply = &res

	if err := s.Transition(session.StateCheckApplyResult); err != nil {
		return Step{}, err
	}

	if res.Err != nil {
		t.Detail = res.Err.Error()
		return m.recoverable(ctx, s, t, failure{
			category: session.ErrorParse,
			system:   session.SystemPatchFailed,
			message: fmt.Sprintf("The %s section does not contain a usable unified diff: %s.",
				action.MarkerModified, res.Err),
			format: true,
		})
	}

	data := prompt.NewResultData(res)
	data.Allowed = m.perms[session.StateSendResult]

	if len(a.Requests) > 0 {
		served, err := m.resolver.Resolve(s.ProjectRoot, a.Requests, allowed)
		if err != nil {
			t.SystemAction = session.SystemFatal
			t.Detail = err.Error()
			return m.end(s, session.OutcomeFatal, session.ErrorFatal, err.Error()), nil
		}
		t.Resolutions = served
		data.Sections = prompt.Sections(served)
	}

	if len(data.Applied) > 0 && m.verifier != nil {
		v := m.verifier.Verify(context.WithoutCancel(ctx), s.ProjectRoot)
		t.Verify = v
		data.Verify = v
		m.log.Info().Ctx(ctx).Str("command", v.Command).Bool("passed", v.Passed()).Msg("verification ran")
	}

	if !res.OK() {
		failed := res.FailedFiles()
		t.Detail = fmt.Sprintf("%d of %d file(s) failed: %s: %s",
			len(failed), len(res.Files), failed[0].Path, failed[0].Reason)
		s.Fail(session.ErrorApply, t.Detail)

		if !m.consume(s) {
			t.SystemAction = session.SystemExhausted
			return m.end(s, session.OutcomeExhausted, session.ErrorApply, t.Detail), nil
		}
		t.SystemAction = session.SystemPatchFailed
		s.DeferredCompletion = false
	} else {
		t.SystemAction = session.SystemAppliedPatch
		s.DeferredCompletion = a.CompletionDeferred
		data.Deferred = a.CompletionDeferred
	}
	data.RetriesLeft = s.RetriesLeft

	text, err := m.prompts.Result(data)
	if err != nil {
		return Step{}, err
	}
	return m.send(s, session.StateSendResult, text)
}

func (m *Machine) completion(ctx context.Context, s *session.Session, t *session.Turn) (Step, error) {
	allowed := m.Allowed(s)
	if !allowed.Has(action.KindCompletion) {
		verr := action.NewNotAllowed(action.KindCompletion, "", allowed)
		t.Detail = verr.Error()
		return m.recoverable(ctx, s, t, failure{
			category: session.ErrorValidation,
			system:   session.SystemRejected,
			message:  verr.FeedbackMessage(),
		})
	}

	t.SystemAction = session.SystemCompleted
	s.DeferredCompletion = false
	s.Finish(session.OutcomeSuccess, m.now())
	m.log.Info().Ctx(ctx).Int("turns", t.Index).Msg("session completed")
	return Step{Outcome: session.OutcomeSuccess}, nil
}

// failure describes a recoverable failure to report back to the model.
type failure struct {
	category session.ErrorCategory
	system   session.SystemAction
	message  string
	// format asks the prompt to restate the reply format.
	format bool
	// info, when set, is served alongside the rejections through the
	// information prompt instead of the error prompt.
	info  []resolve.Resolution
	notes action.Notes
}

// recoverable consumes one unit of retry budget and re-prompts with the
// failure. An empty budget ends the session as exhausted.
func (m *Machine) recoverable(ctx context.Context, s *session.Session, t *session.Turn, f failure) (Step, error) {
	s.Fail(f.category, f.message)
	if t.Detail == "" {
		t.Detail = f.message
	}

	if !m.consume(s) {
		t.SystemAction = session.SystemExhausted
		m.log.Warn().Ctx(ctx).Str("category", string(f.category)).Msg("retry budget exhausted")
		return m.end(s, session.OutcomeExhausted, f.category, t.Detail), nil
	}
	t.SystemAction = f.system

	m.log.Debug().Ctx(ctx).
		Str("category", string(f.category)).
		Int("retries_left", s.RetriesLeft).
		Msg("recoverable failure")

	if f.info != nil {
		return m.sendInfo(s, f.info, f.notes)
	}

	text, err := m.prompts.Error(prompt.ErrorData{
		Message:     f.message,
		Format:      f.format,
		RetriesLeft: s.RetriesLeft,
		Allowed:     m.Allowed(s),
	})
	if err != nil {
		return Step{}, err
	}
	return m.send(s, session.StateSendErrorToLLM, text)
}

// consume takes one unit of retry budget. It reports false when none is
// left.
func (m *Machine) consume(s *session.Session) bool {
	if s.RetriesLeft <= 0 {
		return false
	}
	s.RetriesLeft--
	return true
}

// send moves s through the prompting state into AwaitDecision with text
// pending.
func (m *Machine) send(s *session.Session, state session.State, text string) (Step, error) {
	if err := s.Transition(state); err != nil {
		return Step{}, err
	}
	s.Answering = state
	if state != session.StateSendErrorToLLM {
		s.PermissionsFrom = state
	}
	s.Pending = text

	if err := s.Transition(session.StateAwaitDecision); err != nil {
		return Step{}, err
	}
	return Step{Prompt: text}, nil
}

func (m *Machine) end(s *session.Session, outcome session.Outcome, cat session.ErrorCategory, detail string) Step {
	s.Fail(cat, detail)
	s.Finish(outcome, m.now())
	return Step{Outcome: outcome}
}

// fatal ends s after an invariant violation. t, when given, is recorded
// first so the history shows the reply that triggered it.
func (m *Machine) fatal(s *session.Session, t *session.Turn, err error) (Step, error) {
	m.log.Error().Err(err).Str("session_id", s.ID).Str("state", string(s.State)).Msg("session failed")

	var turn *session.Turn
	if t != nil {
		t.SystemAction = session.SystemFatal
		t.Detail = err.Error()
		t.RetriesLeft = s.RetriesLeft
		if s.Record(*t) == nil {
			turn = s.LastTurn()
		}
	}

	s.Fail(session.ErrorFatal, err.Error())
	s.Finish(session.OutcomeFatal, m.now())
	return Step{Outcome: session.OutcomeFatal, Turn: turn}, err
}

func (m *Machine) account(s *session.Session, reply *Reply) {
	s.Usage = s.Usage.Add(reply.Usage)

	model := reply.Model
	if model == "" {
		model = s.Model
	}
	if cost, ok := m.pricing.Cost(model, reply.Usage); ok {
		s.Cost += cost
	}
}
