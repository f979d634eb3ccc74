package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `--- a/src/a.go
+++ b/src/a.go
@@ -1,3 +1,3 @@
 package a

-var x = 1
+var x = 2`

func TestParse_InfoRequest(t *testing.T) {
	reply := `%_Thought_%
The proto changed, I need the handler.

%_Plan_%
Read the handler, then patch it.

%_Reply Required_%
[
  {"type": "FILE_CONTENT", "path": "wfe/wfe.go"},
  {"type": "DIRECTORY_LISTING", "path": "src/controllers"},
  "ra/ra.go"
]

%_Comment_%
Starting with the handler.

%%_Fin_%%`

	got := Parse(reply)

	req, ok := got.(*InfoRequest)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, []FileRequest{
		{Kind: KindFileContent, Path: "wfe/wfe.go"},
		{Kind: KindDirectoryListing, Path: "src/controllers"},
		{Kind: KindFileContent, Path: "ra/ra.go"},
	}, req.Requests)
	assert.Equal(t, "The proto changed, I need the handler.", req.Thought)
	assert.Equal(t, "Read the handler, then patch it.", req.Plan)
	assert.Equal(t, "Starting with the handler.", req.Comment)
}

func TestParse_EmptyInfoRequest(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no body", "%_Reply Required_%\n"},
		{"empty array", "%_Reply Required_%\n[]\n"},
		{"fenced empty array", "%_Reply Required_%\n```json\n[]\n```\n"},
		{"whitespace body", "%_Thought_%\nnothing needed\n%_Reply Required_%\n   \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.reply)

			req, ok := got.(*InfoRequest)
			require.True(t, ok, "got %T", got)
			assert.NotNil(t, req.Requests)
			assert.Empty(t, req.Requests)
		})
	}
}

func TestParse_BrokenInfoRequestIsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing closing bracket", `[{"type": "FILE_CONTENT", "path": "a.go"}`},
		{"missing opening bracket", `{"type": "FILE_CONTENT", "path": "a.go"}]`},
		{"missing quote", `[{"type": "FILE_CONTENT", "path": a.go"}]`},
		{"truncated", `[{"type": "FILE_CON`},
		{"trailing comma", `[{"type": "FILE_CONTENT", "path": "a.go"},]`},
		{"single object", `{"type": "FILE_CONTENT", "path": "a.go"}`},
		{"missing path", `[{"type": "FILE_CONTENT"}]`},
		{"empty path", `[""]`},
		{"unknown type", `[{"type": "DELETE_FILE", "path": "a.go"}]`},
		{"number entry", `[42]`},
		{"null entry", `[null]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ParsedAction
			require.NotPanics(t, func() {
				got = Parse("%_Reply Required_%\n" + tt.body + "\n%%_Fin_%%")
			})

			m, ok := got.(*Malformed)
			require.True(t, ok, "got %T", got)
			assert.NotEmpty(t, m.Reason)
		})
	}
}

func TestParse_TypeDefaultsAndNormalisation(t *testing.T) {
	got := Parse("%_Reply Required_%\n" + `[{"path": "./src/a.go"}, {"type": "directory_listing", "path": " pkg "}]`)

	req, ok := got.(*InfoRequest)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, []FileRequest{
		{Kind: KindFileContent, Path: "src/a.go"},
		{Kind: KindDirectoryListing, Path: "pkg"},
	}, req.Requests)
}

func TestParse_Patch(t *testing.T) {
	t.Run("explicit section", func(t *testing.T) {
		got := Parse("%_Modified_%\n" + sampleDiff + "\n%_Comment_%\nbumped x\n")

		p, ok := got.(*Patch)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, sampleDiff, p.Diff)
		assert.Equal(t, "bumped x", p.Comment)
		assert.False(t, p.CompletionDeferred)
	})

	t.Run("fenced section", func(t *testing.T) {
		got := Parse("%_Modified_%\n```diff\n" + sampleDiff + "\n```\n")

		p, ok := got.(*Patch)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, sampleDiff, p.Diff)
	})

	t.Run("implicit untagged diff", func(t *testing.T) {
		got := Parse(sampleDiff + "\n")

		p, ok := got.(*Patch)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, sampleDiff, p.Diff)
	})

	t.Run("git header counts as diff", func(t *testing.T) {
		got := Parse("diff --git a/x b/x\nnew file mode 100644\n")
		_, ok := got.(*Patch)
		assert.True(t, ok, "got %T", got)
	})
}

func TestParse_PatchWithCompletionDefersCompletion(t *testing.T) {
	got := Parse("%_Modified_%\n" + sampleDiff + "\n%%_Fin_%%\n")

	p, ok := got.(*Patch)
	require.True(t, ok, "got %T", got)
	assert.True(t, p.CompletionDeferred)
	assert.Equal(t, sampleDiff, p.Diff)
}

func TestParse_ProseModifiedSection(t *testing.T) {
	t.Run("with completion marker", func(t *testing.T) {
		got := Parse("%_Plan_%\nNothing left to do.\n%_Modified_%\nNo further changes are required.\n%%_Fin_%%\n")

		c, ok := got.(*Completion)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, "Nothing left to do.", c.Plan)
		assert.Equal(t, "No further changes are required.", c.Comment)
	})

	t.Run("with requests", func(t *testing.T) {
		got := Parse("%_Modified_%\nnot yet\n%_Reply Required_%\n[\"b.go\"]\n")

		r, ok := got.(*InfoRequest)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, []FileRequest{{Kind: KindFileContent, Path: "b.go"}}, r.Requests)
	})

	t.Run("alone", func(t *testing.T) {
		got := Parse("%_Modified_%\nI would change the greeting.\n")

		m, ok := got.(*Malformed)
		require.True(t, ok, "got %T", got)
		assert.Contains(t, m.Reason, "does not contain a unified diff")
	})
}

func TestParse_PatchWithRequestKeepsRequests(t *testing.T) {
	got := Parse("%_Modified_%\n" + sampleDiff + "\n%_Reply Required_%\n[\"b.go\"]\n")

	p, ok := got.(*Patch)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, []FileRequest{{Kind: KindFileContent, Path: "b.go"}}, p.Requests)
}

func TestParse_Completion(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"bare marker", "%%_Fin_%%"},
		{"with notes", "%_Thought_%\nAll call sites compile now.\n%%_Fin_%%"},
		{"empty modified section", "%_Modified_%\n\n%%_Fin_%%"},
		{"empty request section", "%_Reply Required_%\n[]\n%%_Fin_%%"},
		{"indented marker", "%_Comment_%\ndone\n   %%_Fin_%%   \n"},
		{"text after marker ignored", "%%_Fin_%%\n--- a/x\n+++ b/x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.reply)
			_, ok := got.(*Completion)
			assert.True(t, ok, "got %T", got)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"empty", ""},
		{"whitespace", "  \n\t\n"},
		{"prose only", "I think the fix is to change the field type."},
		{"notes only", "%_Thought_%\nthinking\n%_Plan_%\nplanning\n"},
		{"unknown tag only", "%_Banana_%\nyellow\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.reply)
			m, ok := got.(*Malformed)
			require.True(t, ok, "got %T", got)
			assert.NotEmpty(t, m.Reason)
		})
	}
}

func TestParse_CRLF(t *testing.T) {
	got := Parse("%_Reply Required_%\r\n[\"a.go\"]\r\n%%_Fin_%%\r\n")

	req, ok := got.(*InfoRequest)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, []FileRequest{{Kind: KindFileContent, Path: "a.go"}}, req.Requests)
}

func TestEnvelop(t *testing.T) {
	env := Envelop(&Patch{Diff: "d", CompletionDeferred: true, Notes: Notes{Comment: "c"}})
	assert.Equal(t, "patch", env.Type)
	assert.Equal(t, "d", env.Diff)
	assert.True(t, env.CompletionDeferred)
	assert.Equal(t, "c", env.Comment)

	env = Envelop(&Malformed{Reason: "r"})
	assert.Equal(t, "malformed", env.Type)
	assert.Equal(t, "r", env.Reason)

	assert.Equal(t, KindPatch, KindOf(&Patch{}))
	assert.Equal(t, KindCompletion, KindOf(&Completion{}))
	assert.Equal(t, Kind(""), KindOf(&InfoRequest{}))
}
