// Package session defines the repair session domain: states, turns,
// outcomes and the terminal report.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/colonyops/mender/internal/core/llm"
)

var (
	// ErrNotFound is returned when a stored report does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrTurnGap is returned when a turn does not carry the next index.
	ErrTurnGap = errors.New("turn index out of sequence")
	// ErrInvalidTransition is returned for a state change the machine does
	// not declare.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrEnded is returned when a finished session is advanced.
	ErrEnded = errors.New("session has ended")
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSuccess   Outcome = "success"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCancelled Outcome = "cancelled"
)

// ErrorCategory classifies the failure a session last recovered from, or
// the one that ended it.
type ErrorCategory string

const (
	ErrorNone       ErrorCategory = ""
	ErrorParse      ErrorCategory = "parse"
	ErrorValidation ErrorCategory = "validation"
	ErrorApply      ErrorCategory = "apply"
	ErrorTransport  ErrorCategory = "transport"
	ErrorFatal      ErrorCategory = "fatal"
)

// Limits bound a session.
type Limits struct {
	// MaxRetries is the retry budget: recoverable failures allowed before
	// the session is exhausted.
	MaxRetries int
	// MaxTurns caps the number of model replies.
	MaxTurns int
}

// Session is one repair attempt for one code-change unit. It is owned by a
// single runner and is never shared between goroutines.
type Session struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProjectRoot string `json:"project_root"`
	ContextDir  string `json:"context_dir,omitempty"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`

	State State `json:"state"`
	// Answering is the Send state whose prompt the next reply answers.
	Answering State `json:"answering"`
	// PermissionsFrom is the state whose permissions apply to the next
	// reply. It equals Answering except after an error prompt, which keeps
	// the permissions of the state that preceded it.
	PermissionsFrom State `json:"permissions_from"`
	// Pending is the prompt awaiting a reply.
	Pending string `json:"-"`
	// DeferredCompletion is set when a reply carried a patch together with
	// the completion marker.
	DeferredCompletion bool `json:"deferred_completion,omitempty"`

	Turns       []Turn    `json:"turns"`
	Usage       llm.Usage `json:"usage"`
	Cost        float64   `json:"cost"`
	Limits      Limits    `json:"limits"`
	RetriesLeft int       `json:"retries_left"`

	Outcome         Outcome       `json:"outcome,omitempty"`
	LastError       ErrorCategory `json:"last_error,omitempty"`
	LastErrorDetail string        `json:"last_error_detail,omitempty"`
	// BaseCommit is the HEAD commit of the working copy when the session
	// started, if it is a git checkout.
	BaseCommit string `json:"base_commit,omitempty"`
	FinalDiff  string `json:"final_diff,omitempty"`
	// FinalAdditions and FinalDeletions count the lines of FinalDiff.
	FinalAdditions int `json:"final_additions,omitempty"`
	FinalDeletions int `json:"final_deletions,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// New creates a session in the Start state.
func New(id, name, projectRoot string, limits Limits, now time.Time) *Session {
	return &Session{
		ID:          id,
		Name:        name,
		ProjectRoot: projectRoot,
		State:       StateStart,
		Limits:      limits,
		RetriesLeft: limits.MaxRetries,
		StartedAt:   now,
	}
}

// Done reports whether the session has reached End.
func (s *Session) Done() bool {
	return s.State == StateEnd
}

// Transition moves the session to state to.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// NextTurn is the index the next recorded turn must carry.
func (s *Session) NextTurn() int {
	return len(s.Turns) + 1
}

// Record appends t. Indices start at 1 and have no gaps.
func (s *Session) Record(t Turn) error {
	if want := s.NextTurn(); t.Index != want {
		return fmt.Errorf("%w: got %d, want %d", ErrTurnGap, t.Index, want)
	}
	s.Turns = append(s.Turns, t)
	return nil
}

// LastTurn returns the most recent turn, or nil.
func (s *Session) LastTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// RetriesUsed is the part of the retry budget spent so far.
func (s *Session) RetriesUsed() int {
	return s.Limits.MaxRetries - s.RetriesLeft
}

// Fail notes a recoverable failure.
func (s *Session) Fail(cat ErrorCategory, detail string) {
	s.LastError = cat
	s.LastErrorDetail = detail
}

// Finish ends the session with outcome. A successful session clears the
// last error.
func (s *Session) Finish(outcome Outcome, now time.Time) {
	s.State = StateEnd
	s.Outcome = outcome
	s.Pending = ""
	s.EndedAt = now
	if outcome == OutcomeSuccess {
		s.LastError = ErrorNone
		s.LastErrorDetail = ""
	}
}

// Report builds the terminal report. It is meaningful once Done is true.
func (s *Session) Report() *Report {
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)

	return &Report{
		SessionID:       s.ID,
		Name:            s.Name,
		ProjectRoot:     s.ProjectRoot,
		Provider:        s.Provider,
		Model:           s.Model,
		Outcome:         s.Outcome,
		TurnCount:       len(s.Turns),
		RetriesUsed:     s.RetriesUsed(),
		LastError:       s.LastError,
		LastErrorDetail: s.LastErrorDetail,
		Usage:           s.Usage,
		Cost:            s.Cost,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		BaseCommit:      s.BaseCommit,
		FinalDiff:       s.FinalDiff,
		FinalAdditions:  s.FinalAdditions,
		FinalDeletions:  s.FinalDeletions,
		Turns:           turns,
	}
}
