// Package download turns a persisted classroom tree into files on disk. Each
// phase flattens the tree into work items, runs them through a bounded pool
// with resume checks, and writes a report whose entries carry every
// per-item failure.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/internal/pool"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
	"github.com/Caia-Tech/classroom-archive/pkg/logging"
	"github.com/Caia-Tech/classroom-archive/pkg/ratelimit"
)

// ErrNoItems is returned when a phase has nothing to download.
var ErrNoItems = errors.New("no downloadable items")

// Engine executes download phases.
type Engine struct {
	cfg    config.DownloadConfig
	runner Runner
	client *Client
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithClient replaces the direct transfer client.
func WithClient(c *Client) Option {
	return func(e *Engine) { e.client = c }
}

// NewEngine creates an engine from download settings.
func NewEngine(cfg config.DownloadConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		runner: ExecRunner{KillGrace: cfg.KillGrace},
		client: NewClient(cfg.HTTPTimeout, cfg.MaxRedirects, cfg.UserAgent).WithHostLimiter(ratelimit.NewHostLimiter(cfg.HostInterval)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VideoOptions tunes the video phase.
type VideoOptions struct {
	// ModuleFilter restricts work to the module with exactly this title.
	ModuleFilter string
}

// ResourceOptions tunes the resource phase.
type ResourceOptions struct {
	// Force re-downloads files that already exist on disk.
	Force bool
}

// RunVideos downloads every resolvable video in tree. Items already on disk
// or recorded in the manifest are skipped. Item failures are recorded in the
// report; the returned error is non-nil only when there is no work or the
// manifest cannot be read. A report that cannot be written is logged and
// leaves Report.Path empty.
func (e *Engine) RunVideos(ctx context.Context, tree *classroom.Tree, layout Layout, opts VideoOptions) (*Report, error) {
	items := CollectVideos(tree, layout, opts.ModuleFilter)
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	manifest, err := LoadManifest(layout.ManifestPath())
	if err != nil {
		return nil, err
	}

	logger := logging.GetPhaseLogger(layout.Community, string(PhaseVideos))
	logger.Info().
		Int("videos", len(items)).
		Int("modules", len(tree.Modules)).
		Int("manifest_entries", manifest.Len()).
		Msg("Starting video downloads")

	return e.run(ctx, PhaseVideos, layout, items, logger, func(ctx context.Context, it Item, log zerolog.Logger) Result {
		return e.processVideo(ctx, it, manifest, log)
	})
}

// RunResources downloads every resource link and image in tree.
func (e *Engine) RunResources(ctx context.Context, tree *classroom.Tree, layout Layout, opts ResourceOptions) (*Report, error) {
	items := CollectResources(tree, layout)
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	logger := logging.GetPhaseLogger(layout.Community, string(PhaseResources))
	logger.Info().
		Int("items", len(items)).
		Bool("force", opts.Force).
		Msg("Starting resource downloads")

	return e.run(ctx, PhaseResources, layout, items, logger, func(ctx context.Context, it Item, log zerolog.Logger) Result {
		return e.processResource(ctx, it, opts.Force, log)
	})
}

type processFunc func(ctx context.Context, it Item, log zerolog.Logger) Result

func (e *Engine) run(ctx context.Context, phase Phase, layout Layout, items []Item, logger zerolog.Logger, process processFunc) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		Community: layout.Community,
		Phase:     phase,
		StartedAt: e.now().UTC(),
	}

	p := pool.New(ctx, e.cfg.Concurrency)
	results := make([]Result, len(items))
	handles := make([]*pool.Handle, len(items))
	var started atomic.Int64

	for i, it := range items {
		handles[i] = p.Submit(func(ctx context.Context) error {
			n := started.Add(1)
			log := logger.With().
				Str("progress", fmt.Sprintf("%d/%d", n, len(items))).
				Str("module", it.Module).
				Str("lesson", it.Lesson).
				Logger()
			results[i] = process(ctx, it, log)
			if results[i].Status == StatusFailed {
				return errors.New(results[i].Error)
			}
			return nil
		})
	}
	p.Wait()

	// Items never started because ctx was cancelled still get an entry.
	for i, h := range handles {
		if results[i].Status != "" {
			continue
		}
		results[i] = newResult(items[i])
		results[i].Status = StatusFailed
		if err := h.Wait(); err != nil {
			results[i].Error = err.Error()
		}
	}

	report.Results = results
	report.FinishedAt = e.now().UTC()
	report.tally()

	logger.Info().
		Str("run_id", report.RunID).
		Int("succeeded", report.Succeeded).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("total", report.Total()).
		Msg("Download phase complete")
	e.logHosts(logger)

	path := layout.ReportPath(phase)
	if err := WriteReport(path, report); err != nil {
		logger.Error().Err(err).Str("report", path).Msg("Failed to write report")
		return report, nil
	}
	report.Path = path
	logger.Info().Str("report", path).Msg("Report written")
	return report, nil
}

// logHosts summarises direct-transfer hosts, warning about any that failed
// or are backed off.
func (e *Engine) logHosts(logger zerolog.Logger) {
	for host, st := range e.client.HostStats() {
		ev := logger.Debug()
		if st.ErrorCount > 0 || st.InBackoff {
			ev = logger.Warn()
		}
		ev.Str("host", host).
			Int64("requests", st.RequestCount).
			Int64("errors", st.ErrorCount).
			Bool("backoff", st.InBackoff).
			Msg("Host summary")
	}
}

func newResult(it Item) Result {
	return Result{
		Module:     it.Module,
		Lesson:     it.Lesson,
		Kind:       it.Kind,
		Platform:   it.Platform,
		URL:        it.URL,
		OutputPath: it.Dest,
	}
}

func (e *Engine) processVideo(ctx context.Context, it Item, manifest *Manifest, log zerolog.Logger) Result {
	res := newResult(it)

	if nonEmptyFile(it.Dest) {
		log.Debug().Msg("Skipping video already on disk")
		res.Status = StatusSkipped
		return res
	}
	if manifest.Has(it.Dest) {
		log.Debug().Msg("Skipping video recorded in manifest")
		res.Status = StatusSkipped
		return res
	}

	if err := os.MkdirAll(filepath.Dir(it.Dest), 0755); err != nil {
		return failed(res, fmt.Errorf("failed to create directory: %w", err), log)
	}

	log.Info().Str("platform", it.Platform).Str("url", it.URL).Msg("Downloading video")
	if err := e.fetchVideo(ctx, it); err != nil {
		return failed(res, err, log)
	}

	res.Status = StatusSuccess
	log.Info().Str("path", it.Dest).Msg("Video downloaded")
	if err := manifest.Append(it.Dest); err != nil {
		log.Warn().Err(err).Msg("Failed to record video in manifest")
	}
	return res
}

func (e *Engine) processResource(ctx context.Context, it Item, force bool, log zerolog.Logger) Result {
	res := newResult(it)

	if !force && nonEmptyFile(it.Dest) {
		log.Debug().Str("path", it.Dest).Msg("Skipping file already on disk")
		res.Status = StatusSkipped
		return res
	}

	if err := os.MkdirAll(filepath.Dir(it.Dest), 0755); err != nil {
		return failed(res, fmt.Errorf("failed to create directory: %w", err), log)
	}

	log.Info().Str("kind", string(it.Kind)).Str("url", it.URL).Msg("Downloading file")
	path, err := e.client.Fetch(ctx, it.URL, it.Dest)
	if err != nil {
		return failed(res, err, log)
	}
	res.OutputPath = path
	res.Status = StatusSuccess
	return res
}

func failed(res Result, err error, log zerolog.Logger) Result {
	log.Warn().Err(err).Str("url", res.URL).Msg("Download failed")
	res.Status = StatusFailed
	res.Error = err.Error()
	return res
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
