package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/crawl"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/policy"
	"coursedump/pkg/storage"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordsRun(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	id, err := j.BeginRun(ctx, checkpoint.Position{2, 1}, 0, "all")
	require.NoError(t, err)
	assert.Equal(t, id, j.RunID())

	node := models.Node{RemoteID: "9", Kind: models.KindFile, DisplayName: "Syllabus", Locator: "/File/9"}
	j.OnWrite(crawl.WriteEvent{
		Node:     node,
		Position: checkpoint.Position{2, 1},
		Written:  storage.Written{Path: "/out/Syllabus.pdf", Intended: "/out/Syllabus.pdf"},
	})
	j.OnSkip(crawl.SkipEvent{Node: node, Position: checkpoint.Position{0}, Reason: crawl.SkipResume})
	j.OnFailure(crawl.FailureEvent{
		Node:     node,
		Position: checkpoint.Position{2, 2},
		Err:      errs.Transport("get", "/File/9", 500, errors.New("server error")),
		Decision: policy.Continue,
	})

	require.NoError(t, j.FinishRun(ctx, &crawl.Result{
		Complete:     true,
		Files:        1,
		Failures:     1,
		Skipped:      1,
		LastPosition: checkpoint.Position{2, 2},
	}))
	require.NoError(t, j.Err())

	run, err := j.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "[2 1]", run.ResumeFrom)
	assert.Equal(t, "all", run.Scope)
	assert.True(t, run.Complete)
	assert.False(t, run.Aborted)
	assert.Equal(t, 1, run.Files)
	assert.Equal(t, 1, run.Failures)
	assert.Equal(t, "[2 2]", run.LastPosition)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.StartedAt.IsZero())

	n, err := j.WriteCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failures, err := j.Failures(ctx, id)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "9", failures[0].NodeID)
	assert.Equal(t, "transport", failures[0].ErrorKind)
	assert.Equal(t, "continue", failures[0].Decision)
	assert.Equal(t, "[2 2]", failures[0].Position)
	assert.Contains(t, failures[0].Error, "server error")
}

func TestJournalRunsNewestFirst(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	first, err := j.BeginRun(ctx, nil, 0, "all")
	require.NoError(t, err)
	second, err := j.BeginRun(ctx, nil, 3, "containers-only")
	require.NoError(t, err)

	runs, err := j.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, 3, runs[0].StartIndex)
	assert.Nil(t, runs[0].FinishedAt)
}

func TestJournalEmpty(t *testing.T) {
	j := openTest(t)

	_, err := j.LastRun(context.Background())
	assert.ErrorIs(t, err, ErrNoRun)
	assert.ErrorIs(t, j.FinishRun(context.Background(), &crawl.Result{}), ErrNoRun)
}

func TestJournalPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	ctx := context.Background()

	j, err := Open(path, logger.NewNopLogger())
	require.NoError(t, err)
	id, err := j.BeginRun(ctx, nil, 0, "all")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(path, logger.NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()

	run, err := reopened.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
}

func TestJournalRecordsWriteErrors(t *testing.T) {
	j := openTest(t)
	require.NoError(t, j.Close())

	j.OnWrite(crawl.WriteEvent{Node: models.Node{RemoteID: "1"}})
	assert.Error(t, j.Err())
}
