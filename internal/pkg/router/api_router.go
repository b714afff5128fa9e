package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/BundleFox/app/controllers"
	apiv1 "github.com/ManuelReschke/BundleFox/internal/api/v1"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
	"github.com/ManuelReschke/BundleFox/internal/pkg/middleware"
)

// Config wires the API routes to their handlers.
type Config struct {
	Controllers *controllers.Controllers
	// APISecret guards /private and /triggers.
	APISecret string
	// LimiterStorage keeps the per IP counters; nil keeps them in memory.
	LimiterStorage    fiber.Storage
	LimiterMax        int
	LimiterExpiration time.Duration
}

// LoadConfig reads API_SECRET, API_RATE_LIMIT_MAX and API_RATE_LIMIT_WINDOW.
func LoadConfig(ctl *controllers.Controllers) Config {
	return Config{
		Controllers:       ctl,
		APISecret:         env.GetEnv("API_SECRET", ""),
		LimiterMax:        env.GetEnvInt("API_RATE_LIMIT_MAX", 300),
		LimiterExpiration: env.GetEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
	}
}

type ApiRouter struct {
	cfg Config
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	triggers := constants.APIPrefix + constants.APIV1Prefix + constants.TriggersPrefix
	api := app.Group(constants.APIPrefix, limiter.New(limiter.Config{
		// Schedulers call the triggers from a handful of addresses
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), triggers)
		},
		Max:        h.cfg.LimiterMax,
		Expiration: h.cfg.LimiterExpiration,
		Storage:    h.cfg.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   constants.ErrTooManyRequests,
				"message": "Too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group(constants.APIV1Prefix)
	apiServer := apiv1.NewAPIServer(h.cfg.Controllers)
	apiv1.RegisterHandlersWithOptions(v1, apiServer, apiv1.FiberServerOptions{
		InternalMiddlewares: []apiv1.MiddlewareFunc{
			apiv1.MiddlewareFunc(middleware.SharedSecretMiddleware(h.cfg.APISecret)),
		},
	})
}

func NewApiRouter(cfg Config) *ApiRouter {
	if cfg.LimiterMax <= 0 {
		cfg.LimiterMax = 300
	}
	if cfg.LimiterExpiration <= 0 {
		cfg.LimiterExpiration = time.Minute
	}
	return &ApiRouter{cfg: cfg}
}
