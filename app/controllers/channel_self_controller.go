package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
)

// ChannelSelfController lets devices pick their own channel
type ChannelSelfController struct {
	repos   *repository.Repositories
	limiter *ratelimit.Limiter
}

func NewChannelSelfController(repos *repository.Repositories, limiter *ratelimit.Limiter) *ChannelSelfController {
	return &ChannelSelfController{repos: repos, limiter: limiter}
}

type channelSelfRequest struct {
	AppID          string `json:"app_id" query:"app_id" validate:"required"`
	DeviceID       string `json:"device_id" query:"device_id" validate:"required,max=36"`
	Platform       string `json:"platform" query:"platform" validate:"required"`
	Channel        string `json:"channel" query:"channel"`
	VersionName    string `json:"version_name" query:"version_name"`
	VersionBuild   string `json:"version_build" query:"version_build"`
	PluginVersion  string `json:"plugin_version" query:"plugin_version"`
	OSVersion      string `json:"os_version" query:"os_version"`
	CustomID       string `json:"custom_id" query:"custom_id"`
	DefaultChannel string `json:"default_channel" query:"default_channel"`
	IsEmulator     bool   `json:"is_emulator" query:"is_emulator"`
	IsProd         *bool  `json:"is_prod" query:"is_prod"`
}

func (r *channelSelfRequest) key() ratelimit.Key {
	return ratelimit.Key{AppID: r.AppID, DeviceID: r.DeviceID}
}

// SelfChannel is one entry of the self-assignable channel list
type SelfChannel struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	Public       bool   `json:"public"`
	AllowSelfSet bool   `json:"allow_self_set"`
}

// check validates the descriptor. It writes the error response itself and
// returns false when the request must stop.
func (cc *ChannelSelfController) check(c *fiber.Ctx, req *channelSelfRequest, op string) (bool, error) {
	if err := validate.Struct(req); err != nil {
		return false, errorJSON(c, fiber.StatusBadRequest, constants.ErrMissingInfo, "Cannot find device_id or app_id")
	}
	if !models.IsValidPlatform(req.Platform) {
		return false, errorJSON(c, fiber.StatusBadRequest, constants.ErrInvalidPlatform, "Platform "+req.Platform+" is not supported")
	}
	for _, v := range []string{req.VersionBuild, req.VersionName} {
		if v = strings.TrimSpace(v); v == "" || v == "builtin" {
			continue
		}
		if _, err := semver.Coerce(v); err != nil {
			return false, errorJSON(c, fiber.StatusBadRequest, constants.ErrSemver, "Version "+v+" doesn't follow semver convention")
		}
	}
	if !cc.limiter.Allow(c.UserContext(), req.key(), op) {
		return false, tooManyRequests(c)
	}
	return true, nil
}

// selfManaged reports whether the device may replace or remove the assignment.
func selfManaged(a *models.ChannelDevice) bool {
	return a.Source == models.AssignmentSourceSelf && a.Channel != nil && a.Channel.AllowDeviceSelfSet
}

// HandleSet answers POST /channel_self
func (cc *ChannelSelfController) HandleSet(c *fiber.Ctx) error {
	var req channelSelfRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if ok, err := cc.check(c, &req, ratelimit.OpChannelSet); !ok {
		return err
	}
	req.Channel = strings.TrimSpace(req.Channel)
	if req.Channel == "" {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrMissingInfo, "Cannot find channel")
	}
	if !cc.limiter.AllowChannelSet(c.UserContext(), req.key(), req.Channel) {
		return tooManyRequests(c)
	}

	app, err := loadApp(c, cc.repos, req.AppID)
	if app == nil {
		return err
	}

	existing, err := cc.repos.Device.GetChannelAssignment(app.AppID, req.DeviceID)
	switch {
	case err == nil:
		if !selfManaged(existing) {
			return errorJSON(c, fiber.StatusBadRequest, constants.ErrCannotOverride, "Cannot change device override current channel don't allow it")
		}
	case !isNotFound(err):
		return internalError(c, "load channel assignment", err)
	default:
		existing = nil
	}

	ch, err := cc.repos.Channel.GetByName(app.AppID, req.Channel)
	if err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusBadRequest, constants.ErrChannelNotFound, "Cannot find channel "+req.Channel)
		}
		return internalError(c, "load channel", err)
	}
	if !ch.AllowDeviceSelfSet || !ch.SupportsPlatform(req.Platform) {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrSelfSetNotAllowed, "This channel does not allow devices to self associate")
	}

	if app.IsDefaultFor(ch.ID, req.Platform) {
		// Picking the default channel is the same as having no assignment.
		if existing != nil {
			if err := cc.repos.Device.DeleteChannelAssignment(app.AppID, req.DeviceID); err != nil {
				return internalError(c, "delete channel assignment", err)
			}
		}
	} else {
		err := cc.repos.Device.SetChannelAssignment(&models.ChannelDevice{
			AppID:     app.AppID,
			DeviceID:  req.DeviceID,
			ChannelID: ch.ID,
			Source:    models.AssignmentSourceSelf,
		})
		if err != nil {
			return internalError(c, "save channel assignment", err)
		}
	}

	cc.touchDevice(&req)
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleGet answers PUT /channel_self with the channel the device is on
func (cc *ChannelSelfController) HandleGet(c *fiber.Ctx) error {
	var req channelSelfRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if ok, err := cc.check(c, &req, ratelimit.OpChannelGet); !ok {
		return err
	}
	app, err := loadApp(c, cc.repos, req.AppID)
	if app == nil {
		return err
	}

	assignment, err := cc.repos.Device.GetChannelAssignment(app.AppID, req.DeviceID)
	if err == nil && assignment.Channel != nil {
		return c.JSON(fiber.Map{
			"channel":  assignment.Channel.Name,
			"status":   "override",
			"allowSet": assignment.Channel.AllowDeviceSelfSet,
		})
	}
	if err != nil && !isNotFound(err) {
		return internalError(c, "load channel assignment", err)
	}

	id := app.DefaultChannelFor(req.Platform)
	if id == nil {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrChannelNotFound, "Cannot find channel")
	}
	ch, err := cc.repos.Channel.GetByID(*id)
	if err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusBadRequest, constants.ErrChannelNotFound, "Cannot find channel")
		}
		return internalError(c, "load default channel", err)
	}
	return c.JSON(fiber.Map{
		"channel":  ch.Name,
		"status":   "default",
		"allowSet": ch.AllowDeviceSelfSet,
	})
}

// HandleUnset answers DELETE /channel_self
func (cc *ChannelSelfController) HandleUnset(c *fiber.Ctx) error {
	var req channelSelfRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if ok, err := cc.check(c, &req, ratelimit.OpChannelDelete); !ok {
		return err
	}
	app, err := loadApp(c, cc.repos, req.AppID)
	if app == nil {
		return err
	}

	assignment, err := cc.repos.Device.GetChannelAssignment(app.AppID, req.DeviceID)
	if err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusBadRequest, constants.ErrCannotOverride, "Cannot find channel override")
		}
		return internalError(c, "load channel assignment", err)
	}
	if !selfManaged(assignment) {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrCannotOverride, "Cannot change device override current channel don't allow it")
	}
	if err := cc.repos.Device.DeleteChannelAssignment(app.AppID, req.DeviceID); err != nil {
		return internalError(c, "delete channel assignment", err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleList answers GET /channel_self
func (cc *ChannelSelfController) HandleList(c *fiber.Ctx) error {
	var req channelSelfRequest
	if err := c.QueryParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse query")
	}
	if ok, err := cc.check(c, &req, ratelimit.OpChannelList); !ok {
		return err
	}
	app, err := loadApp(c, cc.repos, req.AppID)
	if app == nil {
		return err
	}

	channels, err := cc.repos.Channel.ListSelfAssignable(app.AppID, req.Platform)
	if err != nil {
		return internalError(c, "list channels", err)
	}
	out := make([]SelfChannel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, SelfChannel{
			ID:           ch.ID,
			Name:         ch.Name,
			Public:       ch.Public,
			AllowSelfSet: ch.AllowDeviceSelfSet,
		})
	}
	return c.JSON(out)
}

// touchDevice stores the reported device state when the client sent it.
func (cc *ChannelSelfController) touchDevice(req *channelSelfRequest) {
	if strings.TrimSpace(req.VersionBuild) == "" {
		return
	}
	version := req.VersionName
	if version == "" || version == "builtin" {
		version = req.VersionBuild
	}
	device := &models.Device{
		AppID:          req.AppID,
		DeviceID:       req.DeviceID,
		CustomID:       req.CustomID,
		VersionName:    version,
		VersionBuild:   req.VersionBuild,
		Platform:       req.Platform,
		OSVersion:      req.OSVersion,
		PluginVersion:  req.PluginVersion,
		IsEmulator:     req.IsEmulator,
		IsProd:         req.IsProd == nil || *req.IsProd,
		DefaultChannel: req.DefaultChannel,
	}
	if err := cc.repos.Device.Upsert(device); err != nil {
		fiberlog.Warnf("[ChannelSelf] Failed to store device %s/%s: %v", req.AppID, req.DeviceID, err)
	}
}
