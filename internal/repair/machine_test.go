package repair

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/core/action"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/internal/core/resolve"
	"github.com/colonyops/mender/internal/core/session"
)

func TestMachine_EndToEnd(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)

	step := start(t, m, s)
	require.False(t, step.Done())
	assert.Nil(t, step.Turn)
	assert.Contains(t, step.Prompt, "Allowed actions: FILE_CONTENT, DIRECTORY_LISTING, PATCH")
	assert.Equal(t, session.StateAwaitDecision, s.State)
	assert.Equal(t, session.StateSendInitial, s.Answering)

	step = reply(t, m, s, replyRequestA)
	require.False(t, step.Done())
	assert.Equal(t, session.SystemResolvedInfo, step.Turn.SystemAction)
	assert.Equal(t, "info_request", step.Turn.Action.Type)
	assert.Contains(t, step.Prompt, "### FILE_CONTENT src/a.go")
	assert.Contains(t, step.Prompt, `return "hello"`)
	assert.Contains(t, step.Prompt, "Read src/a.go.", "previous plan is echoed")
	assert.Equal(t, session.StateSendResolvedInfo, s.Answering)

	step = reply(t, m, s, replyPatch)
	require.False(t, step.Done())
	assert.Equal(t, session.SystemAppliedPatch, step.Turn.SystemAction)
	require.NotNil(t, step.Turn.Apply)
	assert.True(t, step.Turn.Apply.OK())
	assert.Contains(t, step.Prompt, "Your patch was applied to: src/a.go.")
	assert.Equal(t, helloPatched, readFile(t, filepath.Join(root, "src", "a.go")))

	step = reply(t, m, s, replyFin)
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeSuccess, step.Outcome)
	assert.Empty(t, step.Prompt)

	assert.Equal(t, session.OutcomeSuccess, s.Outcome)
	assert.Equal(t, session.ErrorNone, s.LastError)
	assert.Equal(t, 3, s.RetriesLeft)
	require.Len(t, s.Turns, 3)
	for i, turn := range s.Turns {
		assert.Equal(t, i+1, turn.Index)
		assert.NotEmpty(t, turn.Prompt)
		assert.Equal(t, testNow, turn.Timestamp)
	}
	assert.Equal(t, []session.SystemAction{
		session.SystemResolvedInfo,
		session.SystemAppliedPatch,
		session.SystemCompleted,
	}, []session.SystemAction{s.Turns[0].SystemAction, s.Turns[1].SystemAction, s.Turns[2].SystemAction})

	assert.Equal(t, 3300, s.Usage.TotalTokens)
	assert.Greater(t, s.Cost, 0.0)
}

func TestMachine_DirectoryAsFile(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, "%_Reply Required_%\n"+`[{"type": "FILE_CONTENT", "path": "src"}]`)

	require.False(t, step.Done())
	assert.Equal(t, 2, s.RetriesLeft)
	assert.Equal(t, session.StateAwaitDecision, s.State)
	assert.Equal(t, session.StateSendErrorToLLM, s.Answering)
	assert.Equal(t, session.StateSendInitial, s.PermissionsFrom, "error prompt keeps the previous permissions")
	assert.Equal(t, session.ErrorValidation, s.LastError)

	assert.Equal(t, session.SystemRejected, step.Turn.SystemAction)
	assert.Equal(t, 2, step.Turn.RetriesLeft)
	require.Len(t, step.Turn.Resolutions, 1)
	require.NotNil(t, step.Turn.Resolutions[0].Err)
	assert.Equal(t, action.InvalidActionForPath, step.Turn.Resolutions[0].Err.Kind)

	assert.Contains(t, step.Prompt, "which is a directory")
	assert.Contains(t, step.Prompt, "use DIRECTORY_LISTING instead")
	assert.Contains(t, step.Prompt, "Corrections left: 2")
}

func TestMachine_PartialRejection(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, "%_Reply Required_%\n"+
		`[{"type": "FILE_CONTENT", "path": "src/a.go"}, {"type": "FILE_CONTENT", "path": "src"}]`)

	require.False(t, step.Done())
	assert.Equal(t, 2, s.RetriesLeft)
	assert.Equal(t, session.SystemRejected, step.Turn.SystemAction)
	assert.Equal(t, session.StateSendResolvedInfo, s.Answering, "served files still go out")
	assert.Contains(t, step.Prompt, `return "hello"`)
	assert.Contains(t, step.Prompt, "which is a directory")
}

func TestMachine_EmptyInfoRequest(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, replyEmptyInfo)

	require.False(t, step.Done())
	assert.Equal(t, 3, s.RetriesLeft)
	assert.Equal(t, session.SystemNoInfoNeeded, step.Turn.SystemAction)
	assert.Contains(t, step.Prompt, "You did not request any information")
	assert.Equal(t, session.StateSendResolvedInfo, s.Answering)
}

func TestMachine_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "no markers", reply: "I think the fix is to rename the method."},
		{name: "broken request json", reply: replyBrokenJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newProject(t)
			m := newMachine(t)
			s := newSession(root, defaultLimits)
			start(t, m, s)

			step := reply(t, m, s, tt.reply)

			require.False(t, step.Done())
			assert.Equal(t, 2, s.RetriesLeft)
			assert.Equal(t, session.ErrorParse, s.LastError)
			assert.Equal(t, "malformed", step.Turn.Action.Type)
			assert.Equal(t, session.SystemRepromptMalformed, step.Turn.SystemAction)
			assert.NotEmpty(t, step.Turn.Detail)
			assert.Contains(t, step.Prompt, "could not be parsed")
			assert.Contains(t, step.Prompt, "%_Reply Required_%", "format reminder is included")
		})
	}
}

func TestMachine_RetryBudgetExhausted(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, session.Limits{MaxRetries: 1, MaxTurns: 15})
	start(t, m, s)

	step := reply(t, m, s, "no markers here")
	require.False(t, step.Done())
	assert.Equal(t, 0, s.RetriesLeft)

	step = reply(t, m, s, "still no markers")
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeExhausted, step.Outcome)
	assert.Equal(t, session.ErrorParse, s.LastError)
	require.Len(t, s.Turns, 2)
	assert.Equal(t, session.SystemExhausted, s.Turns[1].SystemAction)
	assert.Equal(t, 1, s.RetriesUsed())
}

func TestMachine_ZeroBudgetEndsOnFirstFailure(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, session.Limits{MaxRetries: 0, MaxTurns: 15})
	start(t, m, s)

	step := reply(t, m, s, "no markers")

	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeExhausted, step.Outcome)
	require.Len(t, s.Turns, 1)
}

func TestMachine_TurnLimit(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, session.Limits{MaxRetries: 3, MaxTurns: 2})
	start(t, m, s)

	step := reply(t, m, s, replyEmptyInfo)
	require.False(t, step.Done())

	step = reply(t, m, s, replyEmptyInfo)
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeExhausted, step.Outcome)
	assert.Equal(t, "turn limit of 2 reached", s.LastErrorDetail)
	assert.Len(t, s.Turns, 2)
	assert.Equal(t, 3, s.RetriesLeft, "turn cap does not spend retry budget")
}

func TestMachine_CompletionNotAllowedInitially(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, replyFin)
	require.False(t, step.Done())
	assert.Equal(t, session.SystemRejected, step.Turn.SystemAction)
	assert.Equal(t, session.ErrorValidation, s.LastError)
	assert.Contains(t, step.Prompt, "Action type COMPLETION is not available")
	assert.Equal(t, 2, s.RetriesLeft)

	// The error prompt inherits SendInitial permissions, so completion is
	// still refused.
	step = reply(t, m, s, replyFin)
	require.False(t, step.Done())
	assert.Equal(t, session.SystemRejected, step.Turn.SystemAction)
	assert.Equal(t, 1, s.RetriesLeft)
}

func TestMachine_PatchNotAllowed(t *testing.T) {
	root := newProject(t)
	perms := map[session.State]action.KindSet{
		session.StateSendInitial: {action.KindFileContent},
	}
	m := newMachine(t, func(o *Options) { o.Permissions = perms })
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, replyPatch)

	require.False(t, step.Done())
	assert.Equal(t, session.SystemRejected, step.Turn.SystemAction)
	assert.Nil(t, step.Turn.Apply)
	assert.Contains(t, step.Prompt, "Action type PATCH is not available")
	assert.Equal(t, helloGo, readFile(t, filepath.Join(root, "src", "a.go")), "file untouched")
}

func TestMachine_DeferredCompletion(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, replyPatch+"%%_Fin_%%\n")
	require.False(t, step.Done(), "completion waits for confirmation")
	assert.Equal(t, session.SystemAppliedPatch, step.Turn.SystemAction)
	assert.True(t, s.DeferredCompletion)
	assert.Contains(t, step.Prompt, "Confirm with %%_Fin_%%")

	step = reply(t, m, s, replyFin)
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeSuccess, step.Outcome)
	assert.False(t, s.DeferredCompletion)
}

func TestMachine_CompletionWithProseModifiedSection(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, replyPatch)
	require.False(t, step.Done())

	step = reply(t, m, s, "%_Plan_%\nVerify.\n%_Modified_%\nNo further changes are required.\n%%_Fin_%%\n")
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeSuccess, step.Outcome)
	assert.Equal(t, session.SystemCompleted, step.Turn.SystemAction)
	assert.Equal(t, 3, s.RetriesLeft)
}

func TestMachine_PatchWithRequests(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	text := "%_Reply Required_%\n" + `["src/a.go", "src/sub"]` + "\n" + replyPatch
	step := reply(t, m, s, text)

	require.False(t, step.Done())
	assert.Equal(t, session.SystemAppliedPatch, step.Turn.SystemAction)
	assert.Equal(t, 3, s.RetriesLeft, "rejected requests sent with a patch cost no budget")

	require.Len(t, step.Turn.Resolutions, 2)
	assert.Contains(t, step.Prompt, "It reflects the files after your")
	assert.Contains(t, step.Prompt, `return "hello, world"`, "requests are served after the patch")
	assert.Contains(t, step.Prompt, "use DIRECTORY_LISTING instead")
}

func TestMachine_PatchFailure(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	bad := "%_Modified_%\n" +
		"diff --git a/src/a.go b/src/a.go\n" +
		"--- a/src/a.go\n" +
		"+++ b/src/a.go\n" +
		"@@ -3,3 +3,3 @@\n" +
		" func Goodbye() string {\n" +
		"-\treturn \"bye\"\n" +
		"+\treturn \"farewell\"\n" +
		" }\n"

	step := reply(t, m, s, bad)

	require.False(t, step.Done())
	assert.Equal(t, session.SystemPatchFailed, step.Turn.SystemAction)
	assert.Equal(t, session.ErrorApply, s.LastError)
	assert.Equal(t, 2, s.RetriesLeft)
	assert.Equal(t, session.StateSendResult, s.Answering)
	assert.Contains(t, step.Prompt, "- src/a.go:")
	assert.Contains(t, step.Prompt, "Corrections left: 2")
	assert.Equal(t, helloGo, readFile(t, filepath.Join(root, "src", "a.go")))
}

func TestMachine_ProseInModifiedSection(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, "%_Modified_%\nI would change the greeting.\n")

	require.False(t, step.Done())
	assert.Equal(t, session.SystemRepromptMalformed, step.Turn.SystemAction)
	assert.Equal(t, session.ErrorParse, s.LastError)
	assert.Equal(t, 2, s.RetriesLeft)
	assert.Contains(t, step.Prompt, "section does not contain a unified diff")
}

func TestMachine_Verifier(t *testing.T) {
	root := newProject(t)
	v := &fakeVerifier{result: &patch.Verification{Command: "go build ./...", ExitCode: 1, Output: "a.go:4: undefined: x"}}
	m := newMachine(t, withVerifier(v))
	s := newSession(root, defaultLimits)
	start(t, m, s)

	step := reply(t, m, s, replyPatch)

	require.False(t, step.Done())
	assert.Equal(t, 1, v.calls)
	require.NotNil(t, step.Turn.Verify)
	assert.False(t, step.Turn.Verify.Passed())
	assert.Contains(t, step.Prompt, "The check `go build ./...` failed with exit code 1")
	assert.Contains(t, step.Prompt, "undefined: x")
	assert.Equal(t, 3, s.RetriesLeft, "a failing check is feedback, not a failure")
}

func TestMachine_UnreadableRoot(t *testing.T) {
	m := newMachine(t)
	s := newSession(filepath.Join(t.TempDir(), "missing"), defaultLimits)

	step, err := m.Advance(context.Background(), s, nil)

	require.NoError(t, err)
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeFatal, step.Outcome)
	assert.Equal(t, session.ErrorFatal, s.LastError)
	assert.Contains(t, s.LastErrorDetail, resolve.ErrRootUnreadable.Error())
	assert.Empty(t, s.Turns)
}

func TestMachine_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "root.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	m := newMachine(t)
	s := newSession(file, defaultLimits)

	step := start(t, m, s)
	assert.Equal(t, session.OutcomeFatal, step.Outcome)
}

func TestMachine_LoadsContext(t *testing.T) {
	root := newProject(t)
	parent := filepath.Dir(root)
	require.NoError(t, os.WriteFile(filepath.Join(parent, "01_proto.txt"),
		[]byte("service Greeter { rpc Hello(Req) returns (Resp); }"), 0o644))

	m := newMachine(t)
	s := newSession(root, defaultLimits)

	step := start(t, m, s)
	assert.Contains(t, step.Prompt, "service Greeter")

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "01_proto.txt"), []byte("service Other {}"), 0o644))

	s = newSession(root, defaultLimits)
	s.ContextDir = other
	step = start(t, m, s)
	assert.Contains(t, step.Prompt, "service Other {}")
	assert.NotContains(t, step.Prompt, "service Greeter")
}

func TestMachine_Fail(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, session.Limits{MaxRetries: 1, MaxTurns: 15})
	first := start(t, m, s)

	step := m.Fail(context.Background(), s, errors.New("connection reset"))
	require.False(t, step.Done())
	assert.Equal(t, first.Prompt, step.Prompt, "pending prompt is resent")
	assert.Equal(t, 0, s.RetriesLeft)
	assert.Equal(t, session.ErrorTransport, s.LastError)
	assert.Empty(t, s.Turns)

	step = m.Fail(context.Background(), s, errors.New("connection reset"))
	require.True(t, step.Done())
	assert.Equal(t, session.OutcomeExhausted, step.Outcome)
	assert.Equal(t, session.ErrorTransport, s.LastError)
}

func TestMachine_Cancel(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)
	reply(t, m, s, replyRequestA)

	step := m.Cancel(s)

	assert.Equal(t, session.OutcomeCancelled, step.Outcome)
	assert.True(t, s.Done())
	assert.Len(t, s.Turns, 1, "history is kept")

	step = m.Cancel(s)
	assert.Equal(t, session.OutcomeCancelled, step.Outcome, "cancel is idempotent")
}

func TestMachine_AdvanceAfterEnd(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)
	start(t, m, s)
	m.Cancel(s)

	_, err := m.Advance(context.Background(), s, &Reply{Text: replyFin})
	require.ErrorIs(t, err, session.ErrEnded)
	assert.Empty(t, s.Turns)
}

func TestMachine_ReplyBeforeStart(t *testing.T) {
	root := newProject(t)
	m := newMachine(t)
	s := newSession(root, defaultLimits)

	step, err := m.Advance(context.Background(), s, &Reply{Text: replyFin})

	require.ErrorIs(t, err, ErrUnexpectedReply)
	assert.Equal(t, session.OutcomeFatal, step.Outcome)
	assert.Equal(t, session.ErrorFatal, s.LastError)
}

func TestMachine_CostUsesSessionModel(t *testing.T) {
	root := newProject(t)
	m := newMachine(t, func(o *Options) {
		o.Pricing = llm.PriceTable{"scripted": {Input: 1, Output: 2}}
	})
	s := newSession(root, defaultLimits)
	s.Model = "scripted"
	start(t, m, s)

	_, err := m.Advance(context.Background(), s, &Reply{
		Text:  replyEmptyInfo,
		Usage: llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000},
	})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, s.Cost, 1e-9)
}
