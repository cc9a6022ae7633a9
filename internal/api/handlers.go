// Package api serves persisted classroom trees, download reports and
// manifests over HTTP. It is read-only: every response is built from files
// the extraction and download phases wrote.
package api

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Caia-Tech/classroom-archive/internal/download"
	"github.com/Caia-Tech/classroom-archive/internal/storage"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
)

const version = "0.1.0"

var validSlug = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Handlers contains the HTTP handlers for the API
type Handlers struct {
	outputDir string
	archive   storage.Archive
}

// NewHandlers creates handlers over outputDir. archive may be nil when
// snapshots are disabled.
func NewHandlers(outputDir string, archive storage.Archive) *Handlers {
	return &Handlers{
		outputDir: outputDir,
		archive:   archive,
	}
}

// CommunitySummary describes one extracted community.
type CommunitySummary struct {
	Slug          string    `json:"slug"`
	ScrapedAt     time.Time `json:"scrapedAt"`
	Modules       int       `json:"modules"`
	Lessons       int       `json:"lessons"`
	Videos        int       `json:"videos"`
	VideoMinutes  int       `json:"videoMinutes"`
	Downloaded    int       `json:"downloadedVideos"`
	FailedModules int       `json:"failedModules"`
}

// Health returns the service health status
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "classroom-archive",
		"version":   version,
		"timestamp": time.Now().UTC(),
	})
}

// ListCommunities lists every community with a persisted tree
func (h *Handlers) ListCommunities(c *fiber.Ctx) error {
	entries, err := os.ReadDir(h.outputDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read output directory",
		})
	}

	communities := []CommunitySummary{}
	for _, e := range entries {
		if !e.IsDir() || !validSlug.MatchString(e.Name()) {
			continue
		}
		tree, err := classroom.Load(classroom.TreePath(h.outputDir, e.Name()))
		if err != nil {
			continue
		}
		communities = append(communities, h.summarize(tree))
	}
	sort.Slice(communities, func(i, j int) bool { return communities[i].Slug < communities[j].Slug })

	return c.JSON(fiber.Map{
		"communities": communities,
		"total":       len(communities),
	})
}

func (h *Handlers) summarize(tree *classroom.Tree) CommunitySummary {
	stats := tree.Stats()
	s := CommunitySummary{
		Slug:         tree.Community,
		ScrapedAt:    tree.ScrapedAt,
		Modules:      stats.Modules,
		Lessons:      stats.Lessons,
		Videos:       stats.Videos,
		VideoMinutes: int(stats.Duration.Round(time.Minute).Minutes()),
	}
	for _, m := range tree.Modules {
		if m.Error != "" {
			s.FailedModules++
		}
	}
	layout := download.Layout{Root: h.outputDir, Community: tree.Community}
	if manifest, err := download.LoadManifest(layout.ManifestPath()); err == nil {
		s.Downloaded = manifest.Len()
	}
	return s
}

// GetTree returns the persisted classroom tree of a community
func (h *Handlers) GetTree(c *fiber.Ctx) error {
	slug, ok := slugParam(c)
	if !ok {
		return invalidSlug(c)
	}
	tree, err := classroom.Load(classroom.TreePath(h.outputDir, slug))
	if err != nil {
		return notFoundOr(c, err, "Community not extracted")
	}
	return c.JSON(tree)
}

// GetReport returns the latest report of a download phase
func (h *Handlers) GetReport(c *fiber.Ctx) error {
	slug, ok := slugParam(c)
	if !ok {
		return invalidSlug(c)
	}
	phase := download.Phase(c.Params("phase"))
	if phase != download.PhaseVideos && phase != download.PhaseResources {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Phase must be videos or resources",
		})
	}

	layout := download.Layout{Root: h.outputDir, Community: slug}
	report, err := download.LoadReport(layout.ReportPath(phase))
	if err != nil {
		return notFoundOr(c, err, "No report for this phase")
	}
	return c.JSON(report)
}

// GetManifest lists the videos recorded as downloaded
func (h *Handlers) GetManifest(c *fiber.Ctx) error {
	slug, ok := slugParam(c)
	if !ok {
		return invalidSlug(c)
	}
	layout := download.Layout{Root: h.outputDir, Community: slug}
	if _, err := os.Stat(layout.Dir()); err != nil {
		return notFoundOr(c, err, "Community not extracted")
	}
	manifest, err := download.LoadManifest(layout.ManifestPath())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	entries := manifest.Entries()
	rel := make([]string, 0, len(entries))
	for _, p := range entries {
		if r, err := filepath.Rel(layout.Dir(), p); err == nil {
			p = filepath.ToSlash(r)
		}
		rel = append(rel, p)
	}
	return c.JSON(fiber.Map{
		"community": slug,
		"entries":   rel,
		"total":     len(rel),
	})
}

// GetSnapshots lists archived extraction runs, newest first
func (h *Handlers) GetSnapshots(c *fiber.Ctx) error {
	slug, ok := slugParam(c)
	if !ok {
		return invalidSlug(c)
	}
	if h.archive == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Snapshot archive is disabled",
		})
	}
	limit := c.QueryInt("limit", 20)
	snaps, err := h.archive.History(c.UserContext(), slug, limit)
	if errors.Is(err, storage.ErrNoSnapshots) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No snapshots archived",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"community": slug,
		"snapshots": snaps,
		"total":     len(snaps),
	})
}

func slugParam(c *fiber.Ctx) (string, bool) {
	slug := c.Params("slug")
	return slug, validSlug.MatchString(slug)
}

func invalidSlug(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid community slug",
	})
}

func notFoundOr(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": msg,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
