package controllers

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/billing"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/BundleFox/internal/pkg/updates"
	"github.com/ManuelReschke/BundleFox/internal/pkg/usage"
)

// CreditCache drops cached credit answers after a grant.
type CreditCache interface {
	Invalidate(ctx context.Context, accountID string)
}

// ObjectStore is the part of the bundle storage the handlers need.
type ObjectStore interface {
	ObjectSize(ctx context.Context, objectKey string) (int64, error)
	Delete(ctx context.Context, objectKey string) error
}

// URLProbe checks an external bundle URL before it is published.
type URLProbe interface {
	Probe(ctx context.Context, rawURL string) error
}

// Dependencies holds the services behind the HTTP handlers. Store, Credits
// and Probe are optional.
type Dependencies struct {
	Repos      *repository.Repositories
	Updates    *updates.Service
	Limiter    *ratelimit.Limiter
	Aggregator *usage.Aggregator
	Queue      *jobqueue.Queue
	Ledger     *billing.Service
	Credits    CreditCache
	Store      ObjectStore
	Probe      URLProbe
}

var validate = validator.New()

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

func invalidRequest(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusBadRequest, constants.ErrInvalidRequest, message)
}

func tooManyRequests(c *fiber.Ctx) error {
	return errorJSON(c, fiber.StatusTooManyRequests, constants.ErrTooManyRequests, "Too many requests")
}

func internalError(c *fiber.Ctx, what string, err error) error {
	fiberlog.Errorf("[API] %s: %v", what, err)
	return errorJSON(c, fiber.StatusInternalServerError, constants.ErrInternal, "Internal error")
}

// validationError renders channel invariant violations with their own code.
func validationError(c *fiber.Ctx, err error) (bool, error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return true, errorJSON(c, fiber.StatusBadRequest, ve.Code, ve.Message)
	}
	return false, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// loadApp writes the error response itself and returns nil app on failure.
func loadApp(c *fiber.Ctx, repos *repository.Repositories, appID string) (*models.App, error) {
	app, err := repos.App.GetByAppID(appID)
	if err == nil {
		return app, nil
	}
	if isNotFound(err) {
		return nil, errorJSON(c, fiber.StatusNotFound, constants.ErrAppNotFound, "App "+appID+" not found")
	}
	return nil, internalError(c, "load app", err)
}
