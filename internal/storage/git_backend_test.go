package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
)

func writeRun(t *testing.T, outputDir string, scrapedAt time.Time, lessons ...string) {
	t.Helper()
	tree := &classroom.Tree{Community: "acme", ScrapedAt: scrapedAt, Modules: []classroom.Module{}}
	require.NoError(t, tree.Save(classroom.TreePath(outputDir, "acme")))
	dir := filepath.Join(outputDir, "acme", "modules", "intro")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range lessons {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# "+name), 0644))
	}
}

func testArchive(t *testing.T) (*GitArchive, *SimpleMetricsCollector, string) {
	dir := t.TempDir()
	metrics := NewSimpleMetricsCollector()
	cfg := config.ArchiveConfig{Enabled: true, AuthorName: "tester", AuthorEmail: "tester@example.com"}
	return NewGitArchive(dir, cfg, metrics), metrics, dir
}

func TestGitArchive_CommitAndHistory(t *testing.T) {
	archive, metrics, dir := testArchive(t)
	ctx := context.Background()
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	writeRun(t, dir, first, "01-welcome.md")
	// downloads must stay out of the repository
	videos := filepath.Join(dir, "acme", "videos", "Intro", "Welcome")
	require.NoError(t, os.MkdirAll(videos, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(videos, "video.mp4"), []byte("bytes"), 0644))

	snap1, err := archive.Commit(ctx, "acme", first)
	require.NoError(t, err)
	assert.Equal(t, "Snapshot acme at 2025-03-01T10:00:00Z", snap1.Message)
	assert.Equal(t, "tester", snap1.Author)
	assert.Len(t, snap1.Hash, 40)

	writeRun(t, dir, second, "01-welcome.md", "02-setup.md")
	snap2, err := archive.Commit(ctx, "acme", second)
	require.NoError(t, err)
	assert.NotEqual(t, snap1.Hash, snap2.Hash)

	history, err := archive.History(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, snap2.Hash, history[0].Hash)
	assert.Equal(t, snap1.Hash, history[1].Hash)

	limited, err := archive.History(ctx, "acme", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, snap2.Hash, limited[0].Hash)

	repo, err := git.PlainOpen(filepath.Join(dir, "acme"))
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	tree, err := commit.Tree()
	require.NoError(t, err)

	for _, path := range []string{".gitignore", classroom.TreeFilename, "modules/intro/01-welcome.md", "modules/intro/02-setup.md"} {
		_, err := tree.File(path)
		assert.NoError(t, err, path)
	}
	_, err = tree.File("videos/Intro/Welcome/video.mp4")
	assert.Error(t, err)

	summary := metrics.Summary()
	require.Contains(t, summary, "commit")
	assert.Equal(t, 2, summary["commit"].SuccessCount)
	assert.Equal(t, 2, summary["history"].Count)
}

func TestGitArchive_RenamedLessonLeavesSnapshot(t *testing.T) {
	archive, _, dir := testArchive(t)
	ctx := context.Background()
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	writeRun(t, dir, first, "01-welcome.md", "02-setup.md")
	_, err := archive.Commit(ctx, "acme", first)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "acme", "modules", "intro", "02-setup.md")))
	writeRun(t, dir, first.Add(time.Hour), "02-installing.md")
	snap, err := archive.Commit(ctx, "acme", first.Add(time.Hour))
	require.NoError(t, err)

	repo, err := git.PlainOpen(filepath.Join(dir, "acme"))
	require.NoError(t, err)
	commit, err := repo.CommitObject(plumbing.NewHash(snap.Hash))
	require.NoError(t, err)
	tree, err := commit.Tree()
	require.NoError(t, err)

	for _, path := range []string{"modules/intro/01-welcome.md", "modules/intro/02-installing.md"} {
		_, err := tree.File(path)
		assert.NoError(t, err, path)
	}
	_, err = tree.File("modules/intro/02-setup.md")
	assert.ErrorIs(t, err, object.ErrFileNotFound)
}

func TestGitArchive_CommitWithoutLessons(t *testing.T) {
	archive, _, dir := testArchive(t)
	tree := &classroom.Tree{Community: "acme", Modules: []classroom.Module{}}
	require.NoError(t, tree.Save(classroom.TreePath(dir, "acme")))

	_, err := archive.Commit(context.Background(), "acme", time.Now())
	require.NoError(t, err)
}

func TestGitArchive_NothingToArchive(t *testing.T) {
	archive, metrics, _ := testArchive(t)
	_, err := archive.Commit(context.Background(), "missing", time.Now())
	require.Error(t, err)
	assert.Equal(t, 1, metrics.Summary()["commit"].FailureCount)
}

func TestGitArchive_HistoryWithoutRepository(t *testing.T) {
	archive, _, dir := testArchive(t)
	_, err := archive.History(context.Background(), "acme", 0)
	assert.ErrorIs(t, err, ErrNoSnapshots)

	_, err = git.PlainInit(filepath.Join(dir, "empty"), false)
	require.NoError(t, err)
	_, err = archive.History(context.Background(), "empty", 0)
	assert.ErrorIs(t, err, ErrNoSnapshots)
}

func TestGitArchive_CancelledContext(t *testing.T) {
	archive, _, dir := testArchive(t)
	writeRun(t, dir, time.Now(), "01-a.md")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := archive.Commit(ctx, "acme", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimpleMetricsCollector_Summary(t *testing.T) {
	c := NewSimpleMetricsCollector()
	c.RecordMetric(StorageMetrics{OperationType: "commit", Duration: 30, Success: true})
	c.RecordMetric(StorageMetrics{OperationType: "commit", Duration: 10, Success: false})
	c.RecordMetric(StorageMetrics{OperationType: "commit", Duration: 20, Success: true})

	stats := c.Summary()["commit"]
	require.NotNil(t, stats)
	assert.Equal(t, OperationStats{
		Count:         3,
		SuccessCount:  2,
		FailureCount:  1,
		TotalDuration: 60,
		MinDuration:   10,
		MaxDuration:   30,
		AvgDuration:   20,
	}, *stats)
	assert.Len(t, c.GetMetrics(), 3)
}
