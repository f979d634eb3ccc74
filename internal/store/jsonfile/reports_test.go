package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/mender/internal/core/session"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func testReport(id string, started time.Time) *session.Report {
	return &session.Report{
		SessionID: id,
		Name:      "fix-" + id,
		Outcome:   session.OutcomeSuccess,
		TurnCount: 2,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
	}
}

func TestReportStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewReportStore(filepath.Join(t.TempDir(), "reports"))

	want := testReport("a", testNow)
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	md, err := os.ReadFile(store.MarkdownPath("a"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Repair session fix-a")

	assert.NoFileExists(t, store.JSONPath("a")+".tmp")
}

func TestReportStore_GetNotFound(t *testing.T) {
	store := NewReportStore(t.TempDir())

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestReportStore_InvalidID(t *testing.T) {
	store := NewReportStore(t.TempDir())

	for _, id := range []string{"", "..", "../escape", `a\b`} {
		t.Run(id, func(t *testing.T) {
			assert.Error(t, store.Save(context.Background(), testReport(id, testNow)))
			_, err := store.Get(context.Background(), id)
			assert.Error(t, err)
		})
	}
}

func TestReportStore_List(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewReportStore(dir)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.Save(ctx, testReport("old", testNow)))
	require.NoError(t, store.Save(ctx, testReport("new", testNow.Add(time.Hour))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2, "unreadable files are skipped")
	assert.Equal(t, "new", list[0].SessionID)
	assert.Equal(t, "old", list[1].SessionID)
}

func TestReportStore_ListMissingDir(t *testing.T) {
	store := NewReportStore(filepath.Join(t.TempDir(), "absent"))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
