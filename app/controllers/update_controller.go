package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BundleFox/internal/pkg/updates"
)

// Response headers of the update check
const (
	HeaderUpdateStatus      = "x-update-status"
	HeaderUpdateOverwritten = "x-update-overwritten"
)

// UpdateController serves device update checks
type UpdateController struct {
	svc *updates.Service
}

func NewUpdateController(svc *updates.Service) *UpdateController {
	return &UpdateController{svc: svc}
}

// HandleUpdates answers POST /updates
func (uc *UpdateController) HandleUpdates(c *fiber.Ctx) error {
	var req updates.CheckRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}

	resp, err := uc.svc.Check(c.UserContext(), req)
	if err != nil {
		return renderUpdateError(c, err)
	}

	c.Set(HeaderUpdateStatus, resp.UpdateStatus)
	c.Set(HeaderUpdateOverwritten, strconv.FormatBool(resp.Overwritten))
	return c.JSON(resp)
}

// HandleStats answers POST /stats
func (uc *UpdateController) HandleStats(c *fiber.Ctx) error {
	var req updates.CheckRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := uc.svc.RecordStats(c.UserContext(), req); err != nil {
		return renderUpdateError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func renderUpdateError(c *fiber.Ctx, err error) error {
	var typed *updates.Error
	if errors.As(err, &typed) {
		c.Set(HeaderUpdateStatus, updates.UpdateStatusFail)
		return errorJSON(c, typed.Status, typed.Code, typed.Message)
	}
	return internalError(c, "update check", err)
}
