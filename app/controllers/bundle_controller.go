package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/bundlestore"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
	"github.com/ManuelReschke/BundleFox/internal/pkg/upload"
)

// BundleController publishes and deletes bundles
type BundleController struct {
	repos *repository.Repositories
	queue *jobqueue.Queue
	store ObjectStore
	probe URLProbe
}

func NewBundleController(deps Dependencies) *BundleController {
	return &BundleController{repos: deps.Repos, queue: deps.Queue, store: deps.Store, probe: deps.Probe}
}

type manifestFileRequest struct {
	FileName    string `json:"file_name" validate:"required"`
	FileHash    string `json:"file_hash" validate:"required"`
	FileSize    int64  `json:"file_size" validate:"gte=0"`
	StoragePath string `json:"storage_path"`
}

type publishBundleRequest struct {
	AppID            string                `json:"app_id" validate:"required"`
	Name             string                `json:"name" validate:"required"`
	Checksum         string                `json:"checksum"`
	ExternalURL      string                `json:"external_url"`
	StoragePath      string                `json:"storage_path"`
	Size             int64                 `json:"size" validate:"gte=0"`
	MinUpdateVersion string                `json:"min_update_version"`
	Manifest         []manifestFileRequest `json:"manifest" validate:"dive"`
}

type deleteBundleRequest struct {
	AppID string `json:"app_id" validate:"required"`
	Name  string `json:"name" validate:"required"`
}

// HandlePublish answers POST /private/bundle
func (bc *BundleController) HandlePublish(c *fiber.Ctx) error {
	var req publishBundleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	if err := upload.ValidateBundleName(req.Name); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrInvalidVersionFormat, "Bundle name "+req.Name+" is not a semantic version")
	}
	if req.MinUpdateVersion != "" && !semver.IsValid(req.MinUpdateVersion) {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrInvalidVersionFormat, "min_update_version "+req.MinUpdateVersion+" is not a semantic version")
	}
	if req.ExternalURL != "" {
		if err := upload.ValidateExternalURL(req.ExternalURL); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, constants.ErrInvalidBundleURL, err.Error())
		}
		if req.StoragePath != "" {
			return invalidRequest(c, "external_url and storage_path are exclusive")
		}
		if bc.probe != nil {
			if err := bc.probe.Probe(c.UserContext(), req.ExternalURL); err != nil {
				return errorJSON(c, fiber.StatusBadRequest, constants.ErrInvalidBundleURL, err.Error())
			}
		}
	}
	if req.ExternalURL == "" && req.StoragePath == "" && len(req.Manifest) == 0 {
		return invalidRequest(c, "A bundle needs an external_url, a storage_path or a manifest")
	}
	if err := upload.ValidateChecksum(strings.ToLower(req.Checksum)); err != nil {
		return invalidRequest(c, err.Error())
	}

	app, err := loadApp(c, bc.repos, req.AppID)
	if app == nil {
		return err
	}

	bundle := &models.Bundle{
		AppID:            app.AppID,
		Name:             req.Name,
		Checksum:         strings.ToLower(req.Checksum),
		ExternalURL:      strings.TrimSpace(req.ExternalURL),
		StoragePath:      strings.TrimSpace(req.StoragePath),
		Size:             req.Size,
		MinUpdateVersion: req.MinUpdateVersion,
	}
	for i, f := range req.Manifest {
		if err := upload.ValidateManifestFileName(f.FileName); err != nil {
			return invalidRequest(c, err.Error()+": "+f.FileName)
		}
		path := f.StoragePath
		if path == "" {
			path = bundlestore.ManifestKey(app.AppID, f.FileHash)
		}
		bundle.Manifest = append(bundle.Manifest, models.ManifestEntry{
			Position:    i,
			FileName:    f.FileName,
			FileHash:    strings.ToLower(f.FileHash),
			FileSize:    f.FileSize,
			StoragePath: path,
		})
	}
	bc.fillSize(c.UserContext(), bundle)

	if err := bc.repos.Bundle.Create(bundle); err != nil {
		if errors.Is(err, repository.ErrDuplicateBundle) {
			return errorJSON(c, fiber.StatusConflict, constants.ErrBundleExists, "Bundle "+req.Name+" already exists")
		}
		return internalError(c, "create bundle", err)
	}
	fiberlog.Infof("[Bundles] Published %s %s", bundle.AppID, bundle.Name)

	bc.enqueueAppStats(c.UserContext(), app.AppID)
	return c.Status(fiber.StatusCreated).JSON(bundle)
}

// fillSize reads the archive size from storage when the publisher left it out.
func (bc *BundleController) fillSize(ctx context.Context, bundle *models.Bundle) {
	if bc.store == nil || bundle.StoragePath == "" || bundle.Size > 0 {
		return
	}
	size, err := bc.store.ObjectSize(ctx, bundle.StoragePath)
	if err != nil {
		fiberlog.Warnf("[Bundles] Cannot read size of %s: %v", bundle.StoragePath, err)
		return
	}
	bundle.Size = size
}

// HandleDelete answers DELETE /private/bundle
func (bc *BundleController) HandleDelete(c *fiber.Ctx) error {
	var req deleteBundleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}

	bundle, err := bc.repos.Bundle.GetByName(req.AppID, req.Name)
	if err == nil && bundle.Deleted {
		return errorJSON(c, fiber.StatusNotFound, constants.ErrBundleNotFound, "Bundle "+req.Name+" not found")
	}
	if err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, constants.ErrBundleNotFound, "Bundle "+req.Name+" not found")
		}
		return internalError(c, "load bundle", err)
	}

	inUse, err := bc.repos.Bundle.IsReferenced(bundle.ID)
	if err != nil {
		return internalError(c, "check bundle references", err)
	}
	if inUse {
		return errorJSON(c, fiber.StatusBadRequest, constants.ErrBundleInUse, "Bundle "+req.Name+" is used by a channel or a device")
	}
	if err := bc.repos.Bundle.MarkDeleted(bundle.ID); err != nil {
		return internalError(c, "delete bundle", err)
	}

	if bc.store != nil && bundle.StoragePath != "" {
		if err := bc.store.Delete(c.UserContext(), bundle.StoragePath); err != nil {
			fiberlog.Warnf("[Bundles] Failed to delete archive %s: %v", bundle.StoragePath, err)
		}
	}
	bc.enqueueAppStats(c.UserContext(), bundle.AppID)
	return c.JSON(fiber.Map{"status": "ok"})
}

// enqueueAppStats refreshes the storage footprint after a bundle change.
func (bc *BundleController) enqueueAppStats(ctx context.Context, appID string) {
	if bc.queue == nil {
		return
	}
	payload := jobqueue.CronStatAppPayload{AppID: appID}.ToMap()
	if _, err := bc.queue.EnqueueJob(ctx, jobqueue.JobTypeCronStatApp, payload); err != nil {
		fiberlog.Warnf("[Bundles] Failed to enqueue app stats for %s: %v", appID, err)
	}
}
