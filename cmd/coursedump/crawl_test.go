package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/config"
	"coursedump/pkg/crawl"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

func TestAskResume(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"\n", true},
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"later\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got := askResume(strings.NewReader(tt.answer), &out, checkpoint.Position{3, 1})
		assert.Equal(t, tt.want, got, "answer %q", tt.answer)
		assert.Contains(t, out.String(), "[3 1]")
	}
}

func TestForceNonInteractive(t *testing.T) {
	p := config.PolicyConfig{Mode: config.PolicyInteractive}
	require.NoError(t, forceNonInteractive(&p))
	assert.Equal(t, config.PolicyContinue, p.Mode)

	p = config.PolicyConfig{Mode: "", NonInteractiveDecision: config.PolicyAbort}
	require.NoError(t, forceNonInteractive(&p))
	assert.Equal(t, config.PolicyAbort, p.Mode)

	p = config.PolicyConfig{Mode: config.PolicyInteractive, NonInteractiveDecision: "skip"}
	require.NoError(t, forceNonInteractive(&p))
	assert.Equal(t, config.PolicyContinue, p.Mode)

	p = config.PolicyConfig{Mode: config.PolicyAbort, NonInteractiveDecision: config.PolicyContinue}
	require.NoError(t, forceNonInteractive(&p))
	assert.Equal(t, config.PolicyAbort, p.Mode, "explicit modes are kept")

	p = config.PolicyConfig{Mode: config.PolicyInteractive, NonInteractiveDecision: "retry"}
	assert.Error(t, forceNonInteractive(&p))
}

func TestResolveResume(t *testing.T) {
	defer func() { resumeRun, forceRestart, nonInteractive = false, false, false }()

	store := checkpoint.NewFileStore(t.TempDir()+"/state.txt", logger.NewNopLogger())
	require.NoError(t, store.Save(checkpoint.Position{2, 0}))

	nonInteractive = true
	pos, err := resolveResume(store, false)
	require.NoError(t, err)
	assert.Nil(t, pos, "without --resume a non-interactive run starts over")

	pos, err = resolveResume(store, true)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Position{2, 0}, pos, "crawl.resume applies without a prompt")

	resumeRun = true
	pos, err = resolveResume(store, false)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Position{2, 0}, pos)

	resumeRun, forceRestart = false, true
	pos, err = resolveResume(store, true)
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.False(t, store.Exists(), "--force-restart removes the checkpoint")
}

func TestTotalListerReportsRootSize(t *testing.T) {
	root := models.Node{Kind: models.KindRoot, DisplayName: "root"}
	course := models.Node{Kind: models.KindCourse, RemoteID: "c1", DisplayName: "Course"}

	inner := crawl.ListerFunc(func(ctx context.Context, node models.Node) (paginate.Page, error) {
		if node.Kind == models.KindRoot {
			return paginate.NewStatic([]models.Node{course}, []models.Node{course, course}), nil
		}
		return paginate.NewStatic([]models.Node{{Kind: models.KindNote, DisplayName: "n"}}), nil
	})

	total := -1
	lister := &totalLister{Lister: inner, onTotal: func(n int) { total = n }}

	page, err := lister.List(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	nodes, err := paginate.Collect(context.Background(), page, paginate.Options{})
	require.NoError(t, err)
	assert.Len(t, nodes, 3, "the drained listing is replayed unchanged")

	total = -1
	_, err = lister.List(context.Background(), course)
	require.NoError(t, err)
	assert.Equal(t, -1, total, "only the root listing is counted")
}

func TestProfileArg(t *testing.T) {
	defer func() { profile = "" }()

	assert.Equal(t, "default", profileArg(nil))
	assert.Equal(t, "work", profileArg([]string{" work "}))

	profile = "school"
	assert.Equal(t, "school", profileArg(nil))
	assert.Equal(t, "work", profileArg([]string{"work"}))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"crawl"},
		{"list"},
		{"version"},
		{"checkpoint", "show"},
		{"checkpoint", "clear"},
		{"session", "set"},
		{"session", "list"},
		{"journal", "failures"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	for _, name := range []string{"resume", "force-restart", "output", "rate-limit-delay", "start-index", "scope", "non-interactive", "on-failure"} {
		assert.NotNil(t, crawlCmd.Flags().Lookup(name), "crawl should have --%s", name)
	}
}
