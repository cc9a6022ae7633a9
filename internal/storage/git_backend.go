package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
)

// ErrNoSnapshots is returned by History for a community that was never
// archived.
var ErrNoSnapshots = errors.New("no snapshots archived")

const (
	lessonGlob    = "modules/*/*.md"
	gitignoreName = ".gitignore"
)

// Downloads and in-flight files stay out of the history.
const gitignore = `videos/
resources/
images/
*.part
*.tmp
`

// GitArchive implements Archive with one go-git repository per community
// output directory.
type GitArchive struct {
	outputDir        string
	author           config.ArchiveConfig
	metricsCollector MetricsCollector
	mu               sync.Mutex
}

// NewGitArchive creates an archive over the community directories under
// outputDir.
func NewGitArchive(outputDir string, cfg config.ArchiveConfig, metrics MetricsCollector) *GitArchive {
	return &GitArchive{
		outputDir:        outputDir,
		author:           cfg,
		metricsCollector: metrics,
	}
}

// Commit stages the persisted tree and lesson Markdown of community and
// commits them. The repository is initialised on first use.
func (g *GitArchive) Commit(ctx context.Context, community string, scrapedAt time.Time) (*Snapshot, error) {
	start := time.Now()
	snap, err := g.commit(ctx, community, scrapedAt)

	g.recordMetric("commit", community, start, err)
	return snap, err
}

// History lists archived snapshots of community, newest first. A limit of
// zero or less returns all of them.
func (g *GitArchive) History(ctx context.Context, community string, limit int) ([]Snapshot, error) {
	start := time.Now()
	snaps, err := g.history(ctx, community, limit)

	g.recordMetric("history", community, start, err)
	return snaps, err
}

func (g *GitArchive) commit(ctx context.Context, community string, scrapedAt time.Time) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	dir := filepath.Join(g.outputDir, community)
	if _, err := os.Stat(filepath.Join(dir, classroom.TreeFilename)); err != nil {
		return nil, fmt.Errorf("nothing to archive for %s: %w", community, err)
	}

	repo, err := openOrInit(dir)
	if err != nil {
		return nil, err
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, gitignoreName), []byte(gitignore), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", gitignoreName, err)
	}
	for _, name := range []string{gitignoreName, classroom.TreeFilename} {
		if _, err := w.Add(name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := w.AddGlob(lessonGlob); err != nil && !errors.Is(err, git.ErrGlobNoMatches) {
		return nil, fmt.Errorf("failed to add lessons: %w", err)
	}
	if err := stageRemovedLessons(repo, w, dir); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Snapshot %s at %s", community, scrapedAt.UTC().Format(time.RFC3339))
	sig := &object.Signature{
		Name:  g.author.AuthorName,
		Email: g.author.AuthorEmail,
		When:  time.Now(),
	}
	hash, err := w.Commit(msg, &git.CommitOptions{Author: sig})
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	log.Info().
		Str("community", community).
		Str("commit", hash.String()).
		Msg("Extraction archived")

	return &Snapshot{
		Hash:    hash.String(),
		Message: msg,
		Author:  sig.Name,
		When:    sig.When,
	}, nil
}

func (g *GitArchive) history(ctx context.Context, community string, limit int) ([]Snapshot, error) {
	repo, err := git.PlainOpen(filepath.Join(g.outputDir, community))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoSnapshots
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoSnapshots
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var snaps []Snapshot
	errStop := errors.New("stop")
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limit > 0 && len(snaps) >= limit {
			return errStop
		}
		snaps = append(snaps, Snapshot{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return snaps, nil
}

// stageRemovedLessons drops tracked lesson files that no longer exist, so a
// renamed or removed lesson leaves the next snapshot.
func stageRemovedLessons(repo *git.Repository, w *git.Worktree, dir string) error {
	idx, err := repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	var gone []string
	for _, e := range idx.Entries {
		if ok, _ := path.Match(lessonGlob, e.Name); !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(e.Name))); errors.Is(err, os.ErrNotExist) {
			gone = append(gone, e.Name)
		}
	}
	for _, name := range gone {
		if _, err := w.Remove(name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func openOrInit(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init git repository: %w", err)
	}
	log.Info().Str("path", dir).Msg("Initialised snapshot repository")
	return repo, nil
}

func (g *GitArchive) recordMetric(operation, community string, start time.Time, err error) {
	if g.metricsCollector == nil {
		return
	}
	g.metricsCollector.RecordMetric(StorageMetrics{
		OperationType: operation,
		Community:     community,
		Duration:      time.Since(start).Nanoseconds(),
		Success:       err == nil,
		Error:         err,
	})
}
