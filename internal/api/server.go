package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/internal/storage"
)

// NewApp builds the fiber application with all routes registered.
// metrics may be nil.
func NewApp(h *Handlers, metrics *storage.SimpleMetricsCollector) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Classroom Archive API",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))

	setupRoutes(app, h, NewStorageHandler(metrics))
	return app
}

func setupRoutes(app *fiber.App, h *Handlers, storageHandler *StorageHandler) {
	app.Get("/health", h.Health)

	v1 := app.Group("/api/v1")

	communities := v1.Group("/communities")
	communities.Get("/", h.ListCommunities)
	communities.Get("/:slug/tree", h.GetTree)
	communities.Get("/:slug/reports/:phase", h.GetReport)
	communities.Get("/:slug/manifest", h.GetManifest)
	communities.Get("/:slug/snapshots", h.GetSnapshots)

	v1.Get("/storage/metrics", storageHandler.GetStorageMetrics)
}

// Serve listens on the configured address until ctx is cancelled.
func Serve(ctx context.Context, cfg config.ServerConfig, app *fiber.App) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting report server")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down report server")
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return <-errCh
	}
}
