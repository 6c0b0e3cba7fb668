package rest

import (
	"context"
	"strings"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	jwtware "github.com/gofiber/contrib/v3/jwt"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	logging "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

var logger = logrus.WithField("module", "rest")

// presigned downloads carry their own token
var publicPaths = []string{"/login", "/files/tempdownload"}

func New(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "screenrec",
		BodyLimit:    max(cfg.MaxChunkMegabytes, cfg.MaxUploadMegabytes, 1) * 1024 * 1024,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logging.New(logging.Config{
		Format: "| ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		Stream: logger.Writer(),
	}))
	app.Use(requestID())

	if cfg.Username != "" && cfg.PasswordHash != "" {
		logger.Info("JWT authentication enabled for REST API")
		app.Post("/login",
			limiter.New(limiter.Config{Max: 10, Expiration: 1 * time.Minute}),
			loginHandler(cfg),
		)
		app.Use(jwtware.New(jwtware.Config{
			Next: func(c fiber.Ctx) bool {
				for _, p := range publicPaths {
					if strings.HasPrefix(c.Path(), p) {
						return true
					}
				}
				return false
			},
			SigningKey: jwtware.SigningKey{Key: []byte(cfg.JwtSecret)},
		}))
	}

	return app
}

func provider(ls fx.Lifecycle, cfg *config.Config) *fiber.App {
	app := New(cfg)

	ls.Append(
		fx.StartStopHook(
			func(ctx context.Context) error {
				addr := ":" + cfg.Port
				logger.Infof("starting http server on %s", addr)
				go func() {
					if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
						logger.Errorf("http server error: %v", err)
					}
				}()
				return nil
			},
			func(ctx context.Context) error {
				logger.Info("stopping http server")
				return app.ShutdownWithContext(ctx)
			},
		),
	)

	return app
}

var Module = fx.Module("rest", fx.Provide(provider))
