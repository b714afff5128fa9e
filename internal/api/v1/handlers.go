package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behavior consistent
	"github.com/ManuelReschke/BundleFox/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	ctl *controllers.Controllers
}

// NewAPIServer creates a new API server instance
func NewAPIServer(ctl *controllers.Controllers) *APIServer {
	return &APIServer{ctl: ctl}
}

var _ ServerInterface = (*APIServer)(nil)

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (s *APIServer) PostUpdates(c *fiber.Ctx) error {
	return s.ctl.Updates.HandleUpdates(c)
}

func (s *APIServer) PostStats(c *fiber.Ctx) error {
	return s.ctl.Updates.HandleStats(c)
}

func (s *APIServer) GetChannelSelf(c *fiber.Ctx) error {
	return s.ctl.ChannelSelf.HandleList(c)
}

func (s *APIServer) PostChannelSelf(c *fiber.Ctx) error {
	return s.ctl.ChannelSelf.HandleSet(c)
}

// PutChannelSelf returns the current channel. PUT is kept for older clients
// that send a body with the lookup.
func (s *APIServer) PutChannelSelf(c *fiber.Ctx) error {
	return s.ctl.ChannelSelf.HandleGet(c)
}

func (s *APIServer) DeleteChannelSelf(c *fiber.Ctx) error {
	return s.ctl.ChannelSelf.HandleUnset(c)
}

func (s *APIServer) PostPrivateBundle(c *fiber.Ctx) error {
	return s.ctl.Bundles.HandlePublish(c)
}

func (s *APIServer) DeletePrivateBundle(c *fiber.Ctx) error {
	return s.ctl.Bundles.HandleDelete(c)
}

func (s *APIServer) PostPrivateChannel(c *fiber.Ctx) error {
	return s.ctl.Channels.HandleUpsert(c)
}

func (s *APIServer) PostPrivateAppDefaults(c *fiber.Ctx) error {
	return s.ctl.Channels.HandleAppDefaults(c)
}

func (s *APIServer) PostPrivateDeviceOverride(c *fiber.Ctx) error {
	return s.ctl.Devices.HandleSetOverride(c)
}

func (s *APIServer) DeletePrivateDeviceOverride(c *fiber.Ctx) error {
	return s.ctl.Devices.HandleClearOverride(c)
}

func (s *APIServer) GetPrivateAccountUsage(c *fiber.Ctx) error {
	return s.ctl.Accounts.HandleUsage(c)
}

func (s *APIServer) PostTriggersCronStatOrg(c *fiber.Ctx) error {
	return s.ctl.Triggers.HandleCronStatOrg(c)
}

func (s *APIServer) PostTriggersCronStatApp(c *fiber.Ctx) error {
	return s.ctl.Triggers.HandleCronStatApp(c)
}

// PostTriggersQueueConsumer answers 202 before the batch is processed.
func (s *APIServer) PostTriggersQueueConsumer(c *fiber.Ctx) error {
	return s.ctl.Triggers.HandleQueueConsumer(c)
}

func (s *APIServer) PostTriggersBuildTime(c *fiber.Ctx) error {
	return s.ctl.Triggers.HandleBuildTime(c)
}

func (s *APIServer) PostTriggersCredits(c *fiber.Ctx) error {
	return s.ctl.Triggers.HandleCredits(c)
}
