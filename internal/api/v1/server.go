// Package apiv1 binds the routes described in public/docs/v1/openapi.yml.
package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Liveness probe
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// Resolve the bundle a device should run
	// (POST /updates)
	PostUpdates(c *fiber.Ctx) error
	// Device check-in without resolution
	// (POST /stats)
	PostStats(c *fiber.Ctx) error
	// List self-assignable channels
	// (GET /channel_self)
	GetChannelSelf(c *fiber.Ctx) error
	// Self-assign a channel
	// (POST /channel_self)
	PostChannelSelf(c *fiber.Ctx) error
	// Current channel of a device
	// (PUT /channel_self)
	PutChannelSelf(c *fiber.Ctx) error
	// Remove a self-assigned channel
	// (DELETE /channel_self)
	DeleteChannelSelf(c *fiber.Ctx) error

	// (POST /private/bundle)
	PostPrivateBundle(c *fiber.Ctx) error
	// (DELETE /private/bundle)
	DeletePrivateBundle(c *fiber.Ctx) error
	// (POST /private/channel)
	PostPrivateChannel(c *fiber.Ctx) error
	// (POST /private/app/defaults)
	PostPrivateAppDefaults(c *fiber.Ctx) error
	// (POST /private/device/override)
	PostPrivateDeviceOverride(c *fiber.Ctx) error
	// (DELETE /private/device/override)
	DeletePrivateDeviceOverride(c *fiber.Ctx) error
	// (GET /private/account/usage)
	GetPrivateAccountUsage(c *fiber.Ctx) error

	// (POST /triggers/cron_stat_org)
	PostTriggersCronStatOrg(c *fiber.Ctx) error
	// (POST /triggers/cron_stat_app)
	PostTriggersCronStatApp(c *fiber.Ctx) error
	// (POST /triggers/queue_consumer)
	PostTriggersQueueConsumer(c *fiber.Ctx) error
	// (POST /triggers/build_time)
	PostTriggersBuildTime(c *fiber.Ctx) error
	// (POST /triggers/credits)
	PostTriggersCredits(c *fiber.Ctx) error
}

// FiberServerOptions provides options for the Fiber server.
type FiberServerOptions struct {
	BaseURL     string
	Middlewares []MiddlewareFunc
	// InternalMiddlewares guard the /private and /triggers routes.
	InternalMiddlewares []MiddlewareFunc
}

type MiddlewareFunc fiber.Handler

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, FiberServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router fiber.Router, si ServerInterface, options FiberServerOptions) {
	for _, m := range options.Middlewares {
		router.Use(fiber.Handler(m))
	}

	router.Get(options.BaseURL+"/ping", si.GetPing)
	router.Post(options.BaseURL+"/updates", si.PostUpdates)
	router.Post(options.BaseURL+"/stats", si.PostStats)
	router.Get(options.BaseURL+"/channel_self", si.GetChannelSelf)
	router.Post(options.BaseURL+"/channel_self", si.PostChannelSelf)
	router.Put(options.BaseURL+"/channel_self", si.PutChannelSelf)
	router.Delete(options.BaseURL+"/channel_self", si.DeleteChannelSelf)

	internal := make([]fiber.Handler, 0, len(options.InternalMiddlewares))
	for _, m := range options.InternalMiddlewares {
		internal = append(internal, fiber.Handler(m))
	}
	guard := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, internal...), h)
	}

	router.Post(options.BaseURL+"/private/bundle", guard(si.PostPrivateBundle)...)
	router.Delete(options.BaseURL+"/private/bundle", guard(si.DeletePrivateBundle)...)
	router.Post(options.BaseURL+"/private/channel", guard(si.PostPrivateChannel)...)
	router.Post(options.BaseURL+"/private/app/defaults", guard(si.PostPrivateAppDefaults)...)
	router.Post(options.BaseURL+"/private/device/override", guard(si.PostPrivateDeviceOverride)...)
	router.Delete(options.BaseURL+"/private/device/override", guard(si.DeletePrivateDeviceOverride)...)
	router.Get(options.BaseURL+"/private/account/usage", guard(si.GetPrivateAccountUsage)...)

	router.Post(options.BaseURL+"/triggers/cron_stat_org", guard(si.PostTriggersCronStatOrg)...)
	router.Post(options.BaseURL+"/triggers/cron_stat_app", guard(si.PostTriggersCronStatApp)...)
	router.Post(options.BaseURL+"/triggers/queue_consumer", guard(si.PostTriggersQueueConsumer)...)
	router.Post(options.BaseURL+"/triggers/build_time", guard(si.PostTriggersBuildTime)...)
	router.Post(options.BaseURL+"/triggers/credits", guard(si.PostTriggersCredits)...)
}
