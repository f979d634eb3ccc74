package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		data    any
		want    string
		wantErr bool
	}{
		{
			name: "simple substitution",
			tmpl: "root {{ .Root }}",
			data: map[string]string{"Root": "/work/repo"},
			want: "root /work/repo",
		},
		{
			name: "shell quote",
			tmpl: "cd {{ shq .Root }} && go build ./...",
			data: map[string]string{"Root": "/tmp/it's here"},
			want: `cd '/tmp/it'\''s here' && go build ./...`,
		},
		{
			name: "join",
			tmpl: `{{ join .Kinds ", " }}`,
			data: map[string][]string{"Kinds": {"FILE_CONTENT", "PATCH"}},
			want: "FILE_CONTENT, PATCH",
		},
		{
			name: "indent skips blank lines",
			tmpl: `{{ indent 2 .Body }}`,
			data: map[string]string{"Body": "a\n\nb"},
			want: "  a\n\n  b",
		},
		{
			name: "lang from extension",
			tmpl: `{{ lang .Path }}`,
			data: map[string]string{"Path": "api/v1/service.PROTO"},
			want: "protobuf",
		},
		{
			name: "inc",
			tmpl: `{{ inc .N }}`,
			data: map[string]int{"N": 2},
			want: "3",
		},
		{
			name:    "missing key",
			tmpl:    "{{ .Nope }}",
			data:    map[string]string{},
			wantErr: true,
		},
		{
			name:    "invalid syntax",
			tmpl:    "{{ .Root ",
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFence(t *testing.T) {
	assert.Equal(t, "```go\npackage a\n```", fence("go", "package a\n"))

	// A body holding a triple-backtick run needs a longer fence.
	got := fence("", "x ``` y")
	assert.Equal(t, "````\nx ``` y\n````", got)
}

func TestParseExecute(t *testing.T) {
	tpl, err := Parse("greeting", "hi {{ .Name }}")
	require.NoError(t, err)

	out, err := Execute(tpl, map[string]string{"Name": "there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	_, err = Execute(tpl, map[string]string{})
	require.ErrorContains(t, err, "greeting")
}
