package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Caia-Tech/classroom-archive/internal/api"
	"github.com/Caia-Tech/classroom-archive/internal/browser"
	"github.com/Caia-Tech/classroom-archive/internal/download"
	"github.com/Caia-Tech/classroom-archive/internal/extractor"
	"github.com/Caia-Tech/classroom-archive/internal/storage"
	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
)

func scrapeCommand() *cli.Command {
	return &cli.Command{
		Name:      "scrape",
		Usage:     "extract the classroom tree and lesson Markdown of one or more communities",
		ArgsUsage: "<community-url> [community-url...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "headed", Usage: "show the browser window"},
			&cli.StringFlag{Name: "cookies", Usage: "session cookie export (overrides browser.cookies_path)"},
			&cli.BoolFlag{Name: "archive", Usage: "commit each extraction to the community git history"},
		},
		Action: runScrape,
	}
}

func runScrape(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one community URL is required", 1)
	}
	cfg := configFrom(c)
	if c.Bool("headed") {
		cfg.Browser.Headless = false
	}
	if v := c.String("cookies"); v != "" {
		cfg.Browser.CookiesPath = v
	}
	if c.Bool("archive") {
		cfg.Archive.Enabled = true
	}

	cookies, err := browser.LoadCookies(cfg.Browser.CookiesPath)
	if err != nil {
		return err
	}
	session, err := browser.NewSession(c.Context, cfg.Browser, cookies)
	if err != nil {
		return err
	}
	defer session.Close()

	var archive storage.Archive
	if cfg.Archive.Enabled {
		archive = storage.NewGitArchive(cfg.OutputDir, cfg.Archive, storage.NewSimpleMetricsCollector())
	}

	ext := extractor.New(session, cfg.Browser)
	var failed int
	for _, ref := range c.Args().Slice() {
		community, err := extractor.CommunitySlug(ref)
		if err != nil {
			log.Error().Err(err).Str("input", ref).Msg("Skipping community")
			failed++
			continue
		}

		tree, err := ext.Extract(c.Context, community)
		if err != nil {
			if c.Context.Err() != nil {
				return c.Context.Err()
			}
			log.Error().Err(err).Str("community", community).Msg("Extraction failed")
			failed++
			continue
		}

		res, err := extractor.Persist(tree, cfg.OutputDir)
		if err != nil {
			log.Error().Err(err).Str("community", community).Msg("Failed to persist extraction")
			failed++
			continue
		}
		log.Info().
			Str("community", community).
			Str("tree", res.TreePath).
			Int("lesson_files", res.LessonFiles).
			Msg("Extraction saved")

		if archive != nil {
			if _, err := archive.Commit(c.Context, community, tree.ScrapedAt); err != nil {
				log.Warn().Err(err).Str("community", community).Msg("Failed to archive extraction")
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d communities failed", failed, c.NArg())
	}
	return nil
}

func downloadVideosCommand() *cli.Command {
	return &cli.Command{
		Name:      "download-videos",
		Usage:     "download every video of an extracted community",
		ArgsUsage: "<community>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "module", Usage: "only download videos of the module with this title"},
			&cli.IntFlag{Name: "concurrency", Usage: "parallel downloads (overrides download.concurrency)"},
			&cli.StringFlag{Name: "cookies-from-browser", Usage: "browser to read cookies from, passed to yt-dlp"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			if n := c.Int("concurrency"); n > 0 {
				cfg.Download.Concurrency = n
			}
			if v := c.String("cookies-from-browser"); v != "" {
				cfg.Download.CookiesFromBrowser = v
			}
			tree, layout, err := loadTree(c)
			if err != nil {
				return err
			}
			report, err := download.NewEngine(cfg.Download).RunVideos(c.Context, tree, layout, download.VideoOptions{
				ModuleFilter: c.String("module"),
			})
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
}

func downloadResourcesCommand() *cli.Command {
	return &cli.Command{
		Name:      "download-resources",
		Usage:     "download lesson attachments and images of an extracted community",
		ArgsUsage: "<community>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "re-download files that already exist"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			tree, layout, err := loadTree(c)
			if err != nil {
				return err
			}
			report, err := download.NewEngine(cfg.Download).RunResources(c.Context, tree, layout, download.ResourceOptions{
				Force: c.Bool("force"),
			})
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
}

func cleanPartialCommand() *cli.Command {
	return &cli.Command{
		Name:      "clean-partial",
		Usage:     "remove video files that are not recorded as completely downloaded",
		ArgsUsage: "<community>",
		Action: func(c *cli.Context) error {
			tree, layout, err := loadTree(c)
			if err != nil {
				return err
			}
			manifest, err := download.LoadManifest(layout.ManifestPath())
			if err != nil {
				return err
			}
			removed, err := download.CleanPartial(tree, layout, manifest)
			for _, p := range removed {
				fmt.Println("removed", p)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%d partial files removed\n", len(removed))
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve extracted trees, download reports and manifests over HTTP",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "listen port (overrides server.port)"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			if p := c.Int("port"); p > 0 {
				cfg.Server.Port = p
			}
			var archive storage.Archive
			metrics := storage.NewSimpleMetricsCollector()
			if cfg.Archive.Enabled {
				archive = storage.NewGitArchive(cfg.OutputDir, cfg.Archive, metrics)
			}
			app := api.NewApp(api.NewHandlers(cfg.OutputDir, archive), metrics)
			return api.Serve(c.Context, cfg.Server, app)
		},
	}
}

// loadTree reads the persisted tree named by the first argument, which may
// be a community slug or URL.
func loadTree(c *cli.Context) (*classroom.Tree, download.Layout, error) {
	if c.NArg() != 1 {
		return nil, download.Layout{}, cli.Exit("exactly one community is required", 1)
	}
	community, err := extractor.CommunitySlug(c.Args().First())
	if err != nil {
		return nil, download.Layout{}, err
	}
	layout := download.Layout{Root: configFrom(c).OutputDir, Community: community}
	tree, err := classroom.Load(layout.TreePath())
	if err != nil {
		return nil, layout, fmt.Errorf("%w (run scrape first)", err)
	}
	if err := tree.Validate(); err != nil {
		return nil, layout, err
	}
	return tree, layout, nil
}

func printReport(r *download.Report) error {
	fmt.Printf("%s: %d succeeded, %d skipped, %d failed of %d\n",
		r.Phase, r.Succeeded, r.Skipped, r.Failed, r.Total())
	if r.Path != "" {
		fmt.Printf("Report: %s\n", r.Path)
	} else {
		fmt.Println("Report: not written, see log")
	}
	if r.Failed > 0 {
		log.Warn().Int("failed", r.Failed).Msg("Some items failed; rerun to retry them")
	}
	return nil
}
