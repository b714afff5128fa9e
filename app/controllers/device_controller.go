package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
)

// DeviceController manages administrator overrides of single devices
type DeviceController struct {
	repos *repository.Repositories
}

func NewDeviceController(repos *repository.Repositories) *DeviceController {
	return &DeviceController{repos: repos}
}

// deviceOverrideRequest sets a pin (bundle), a channel assignment, or both.
type deviceOverrideRequest struct {
	AppID    string `json:"app_id" validate:"required"`
	DeviceID string `json:"device_id" validate:"required,max=36"`
	Bundle   string `json:"bundle"`
	Channel  string `json:"channel"`
}

// Kinds of overrides a DELETE may target; empty clears both.
const (
	overrideKindBundle  = "bundle"
	overrideKindChannel = "channel"
)

type clearOverrideRequest struct {
	AppID    string `json:"app_id" validate:"required"`
	DeviceID string `json:"device_id" validate:"required,max=36"`
	Kind     string `json:"kind" validate:"omitempty,oneof=bundle channel"`
}

// HandleSetOverride answers POST /private/device/override
func (dc *DeviceController) HandleSetOverride(c *fiber.Ctx) error {
	var req deviceOverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	req.Bundle = strings.TrimSpace(req.Bundle)
	req.Channel = strings.TrimSpace(req.Channel)
	if req.Bundle == "" && req.Channel == "" {
		return invalidRequest(c, "bundle or channel is required")
	}

	app, err := loadApp(c, dc.repos, req.AppID)
	if app == nil {
		return err
	}

	var bundle *models.Bundle
	if req.Bundle != "" {
		bundle, err = dc.repos.Bundle.GetByName(app.AppID, req.Bundle)
		if err != nil && !isNotFound(err) {
			return internalError(c, "load bundle", err)
		}
		if err != nil || bundle.Deleted {
			return errorJSON(c, fiber.StatusNotFound, constants.ErrBundleNotFound, "Bundle "+req.Bundle+" not found")
		}
	}
	var channel *models.Channel
	if req.Channel != "" {
		channel, err = dc.repos.Channel.GetByName(app.AppID, req.Channel)
		if err != nil {
			if isNotFound(err) {
				return errorJSON(c, fiber.StatusNotFound, constants.ErrChannelNotFound, "Cannot find channel "+req.Channel)
			}
			return internalError(c, "load channel", err)
		}
	}

	if bundle != nil {
		err := dc.repos.Device.SetBundleOverride(&models.DeviceBundleOverride{
			AppID:    app.AppID,
			DeviceID: req.DeviceID,
			BundleID: bundle.ID,
		})
		if err != nil {
			return internalError(c, "save bundle override", err)
		}
	}
	if channel != nil {
		err := dc.repos.Device.SetChannelAssignment(&models.ChannelDevice{
			AppID:     app.AppID,
			DeviceID:  req.DeviceID,
			ChannelID: channel.ID,
			Source:    models.AssignmentSourceAdmin,
		})
		if err != nil {
			return internalError(c, "save channel assignment", err)
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleClearOverride answers DELETE /private/device/override
func (dc *DeviceController) HandleClearOverride(c *fiber.Ctx) error {
	var req clearOverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	app, err := loadApp(c, dc.repos, req.AppID)
	if app == nil {
		return err
	}

	if req.Kind == "" || req.Kind == overrideKindBundle {
		if err := dc.repos.Device.DeleteBundleOverride(app.AppID, req.DeviceID); err != nil {
			return internalError(c, "delete bundle override", err)
		}
	}
	if req.Kind == "" || req.Kind == overrideKindChannel {
		if err := dc.repos.Device.DeleteChannelAssignment(app.AppID, req.DeviceID); err != nil {
			return internalError(c, "delete channel assignment", err)
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
