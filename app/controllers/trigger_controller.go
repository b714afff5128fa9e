package controllers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/billing"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/usage"
)

// TriggerController serves the internal triggers called by schedulers and CI
type TriggerController struct {
	repos      *repository.Repositories
	queue      *jobqueue.Queue
	aggregator *usage.Aggregator
	ledger     *billing.Service
	credits    CreditCache

	// Running queue consumers
	wg sync.WaitGroup
}

func NewTriggerController(deps Dependencies) *TriggerController {
	return &TriggerController{
		repos:      deps.Repos,
		queue:      deps.Queue,
		aggregator: deps.Aggregator,
		ledger:     deps.Ledger,
		credits:    deps.Credits,
	}
}

// Wait blocks until consumers started by HandleQueueConsumer are done.
func (tc *TriggerController) Wait() {
	tc.wg.Wait()
}

type cronStatOrgRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Force     bool   `json:"force"`
}

type cronStatAppRequest struct {
	AppID string `json:"app_id" validate:"required"`
}

type queueConsumerRequest struct {
	QueueName string `json:"queue_name" validate:"required"`
	BatchSize int    `json:"batch_size" validate:"gte=0"`
}

// HandleCronStatOrg answers POST /triggers/cron_stat_org
func (tc *TriggerController) HandleCronStatOrg(c *fiber.Ctx) error {
	var req cronStatOrgRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	if _, err := tc.repos.Account.GetByID(req.AccountID); err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, constants.ErrAccountNotFound, "Account "+req.AccountID+" not found")
		}
		return internalError(c, "load account", err)
	}

	payload := jobqueue.CronStatOrgPayload{AccountID: req.AccountID, Force: req.Force}.ToMap()
	job, err := tc.queue.EnqueueJob(c.UserContext(), jobqueue.JobTypeCronStatOrg, payload)
	if err != nil {
		return internalError(c, "enqueue cron_stat_org", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "job_id": job.ID})
}

// HandleCronStatApp answers POST /triggers/cron_stat_app
func (tc *TriggerController) HandleCronStatApp(c *fiber.Ctx) error {
	var req cronStatAppRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	app, err := loadApp(c, tc.repos, req.AppID)
	if app == nil {
		return err
	}

	payload := jobqueue.CronStatAppPayload{AppID: app.AppID}.ToMap()
	job, err := tc.queue.EnqueueJob(c.UserContext(), jobqueue.JobTypeCronStatApp, payload)
	if err != nil {
		return internalError(c, "enqueue cron_stat_app", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "job_id": job.ID})
}

// HandleQueueConsumer answers POST /triggers/queue_consumer. The batch runs
// after the response is sent.
func (tc *TriggerController) HandleQueueConsumer(c *fiber.Ctx) error {
	var req queueConsumerRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	jobType, ok := jobqueue.ParseJobType(req.QueueName)
	if !ok {
		return invalidRequest(c, "Unknown queue "+req.QueueName)
	}
	batch := req.BatchSize
	if batch <= 0 {
		batch = tc.queue.Config().BatchSize
	}

	ctx := context.WithoutCancel(c.UserContext())
	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		res, err := tc.queue.ProcessBatch(ctx, jobType, batch)
		if err != nil {
			fiberlog.Errorf("[Triggers] Queue %s consumer failed: %v", jobType, err)
			return
		}
		fiberlog.Infof("[Triggers] Queue %s: read=%d completed=%d failed=%d archived=%d",
			jobType, res.Read, res.Completed, res.Failed, res.Archived)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted", "queue_name": string(jobType), "batch_size": batch})
}

// HandleBuildTime answers POST /triggers/build_time
func (tc *TriggerController) HandleBuildTime(c *fiber.Ctx) error {
	var req usage.BuildRecord
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	row, err := tc.aggregator.RecordBuildTime(c.UserContext(), req)
	if err != nil {
		switch {
		case errors.Is(err, usage.ErrInvalidBuild):
			return invalidRequest(c, err.Error())
		case isNotFound(err):
			return errorJSON(c, fiber.StatusNotFound, constants.ErrAppNotFound, "App "+req.AppID+" not found")
		}
		return internalError(c, "record build time", err)
	}
	return c.JSON(row)
}

// HandleCredits answers POST /triggers/credits
func (tc *TriggerController) HandleCredits(c *fiber.Ctx) error {
	var req billing.GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}
	if _, err := tc.repos.Account.GetByID(req.AccountID); err != nil {
		if isNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, constants.ErrAccountNotFound, "Account "+req.AccountID+" not found")
		}
		return internalError(c, "load account", err)
	}

	grant, created, err := tc.ledger.GrantCredits(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidGrant) {
			return invalidRequest(c, err.Error())
		}
		return internalError(c, "grant credits", err)
	}
	if tc.credits != nil {
		tc.credits.Invalidate(c.UserContext(), req.AccountID)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(grant)
}
