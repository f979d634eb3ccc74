package repair

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/core/config"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/internal/core/prompt"
	"github.com/colonyops/mender/internal/core/resolve"
	"github.com/colonyops/mender/internal/core/session"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

const helloGo = `package a

func Hello() string {
	return "hello"
}
`

const helloPatched = `package a

func Hello() string {
	return "hello, world"
}
`

const helloDiff = "diff --git a/src/a.go b/src/a.go\n" +
	"--- a/src/a.go\n" +
	"+++ b/src/a.go\n" +
	"@@ -3,3 +3,3 @@\n" +
	" func Hello() string {\n" +
	"-\treturn \"hello\"\n" +
	"+\treturn \"hello, world\"\n" +
	" }\n"

const (
	replyRequestA = "%_Thought_%\nI need to see the handler.\n%_Plan_%\nRead src/a.go.\n%_Reply Required_%\n" +
		`[{"type": "FILE_CONTENT", "path": "src/a.go"}]`
	replyPatch      = "%_Plan_%\nUpdate the greeting.\n%_Modified_%\n```diff\n" + helloDiff + "```\n"
	replyFin        = "%_Comment_%\nDone.\n%%_Fin_%%\n"
	replyEmptyInfo  = "%_Thought_%\nNothing else needed.\n%_Reply Required_%\n[]\n"
	replyBrokenJSON = "%_Reply Required_%\n[{\"type\": \"FILE_CONTENT\", \"path\": \"src/a.go\"\n"
)

// newProject creates <tmp>/dataset/project with src/a.go and returns the
// project root.
func newProject(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "dataset", "project")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.go"), []byte(helloGo), 0o644))
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

type machineOpt func(o *Options)

func withVerifier(v patch.Verifier) machineOpt {
	return func(o *Options) { o.Verifier = v }
}

func newMachine(t *testing.T, opts ...machineOpt) *Machine {
	t.Helper()

	prompts, err := prompt.New(prompt.Options{})
	require.NoError(t, err)

	o := Options{
		Resolver:    resolve.New(resolve.DefaultOptions(), zerolog.Nop()),
		Applier:     patch.New(zerolog.Nop()),
		Prompts:     prompts,
		Permissions: config.DefaultPermissions(),
		Pricing:     llm.DefaultPrices(),
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return testNow },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewMachine(o)
}

func newSession(root string, limits session.Limits) *session.Session {
	s := session.New("sess-1", "fix-greeting", root, limits, testNow)
	s.Model = "gpt-4.1"
	return s
}

var defaultLimits = session.Limits{MaxRetries: 3, MaxTurns: 15}

// reply advances s with text and fails the test on an invariant error.
func reply(t *testing.T, m *Machine, s *session.Session, text string) Step {
	t.Helper()
	step, err := m.Advance(context.Background(), s, &Reply{
		Text:  text,
		Usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100},
	})
	require.NoError(t, err)
	return step
}

func start(t *testing.T, m *Machine, s *session.Session) Step {
	t.Helper()
	step, err := m.Advance(context.Background(), s, nil)
	require.NoError(t, err)
	return step
}

// scriptedProvider answers Send calls from a script of handlers.
type scriptedProvider struct {
	mu     sync.Mutex
	script []func(ctx context.Context) (llm.Response, error)
	calls  [][]llm.Message
}

func newScripted(texts ...string) *scriptedProvider {
	p := &scriptedProvider{}
	for _, text := range texts {
		p.then(text)
	}
	return p
}

func (p *scriptedProvider) then(text string) *scriptedProvider {
	p.script = append(p.script, func(context.Context) (llm.Response, error) {
		return scriptedReply(text), nil
	})
	return p
}

func scriptedReply(text string) llm.Response {
	return llm.Response{
		Text:  text,
		Usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100},
		Model: "gpt-4.1",
	}
}

func (p *scriptedProvider) thenFunc(fn func(ctx context.Context) (llm.Response, error)) *scriptedProvider {
	p.script = append(p.script, fn)
	return p
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "gpt-4.1" }

func (p *scriptedProvider) Send(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, slices.Clone(msgs))
	if len(p.script) == 0 {
		p.mu.Unlock()
		return llm.Response{}, errors.New("script exhausted")
	}
	next := p.script[0]
	p.script = p.script[1:]
	p.mu.Unlock()

	return next(ctx)
}

// recordingTurnLog keeps appended turns in memory.
type recordingTurnLog struct {
	mu    sync.Mutex
	turns []session.Turn
}

func (l *recordingTurnLog) Append(_ context.Context, _ string, t session.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	return nil
}

// memoryStore keeps reports in memory.
type memoryStore struct {
	mu      sync.Mutex
	reports map[string]*session.Report
	err     error
}

func (m *memoryStore) Save(_ context.Context, r *session.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.reports == nil {
		m.reports = make(map[string]*session.Report)
	}
	m.reports[r.SessionID] = r
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*session.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) List(context.Context) ([]session.Summary, error) {
	return nil, nil
}

// fakeVerifier returns a fixed verification and counts calls.
type fakeVerifier struct {
	result *patch.Verification
	calls  int
}

func (v *fakeVerifier) Verify(context.Context, string) *patch.Verification {
	v.calls++
	return v.result
}
