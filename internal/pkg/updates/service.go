package updates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/BundleFox/internal/pkg/resolver"
	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
	"github.com/ManuelReschke/BundleFox/internal/pkg/usage"
)

// Error is a typed outcome of an update check with a stable code.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(status int, code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Status: status}
}

// Values of the x-update-status header.
const (
	UpdateStatusNewVersion = "new_version"
	UpdateStatusNoNew      = "no_new"
	UpdateStatusFail       = "fail"
)

// Sent by clients that still run the version shipped in the binary.
const builtinVersion = "builtin"

// CheckRequest is the device descriptor sent with an update check.
type CheckRequest struct {
	AppID          string `json:"app_id" validate:"required"`
	DeviceID       string `json:"device_id" validate:"required,max=36"`
	Platform       string `json:"platform" validate:"required"`
	CurrentVersion string `json:"current_version"`
	// VersionName is accepted from older clients in place of current_version.
	VersionName    string `json:"version_name"`
	VersionBuild   string `json:"version_build" validate:"required"`
	PluginVersion  string `json:"plugin_version"`
	OSVersion      string `json:"os_version"`
	CustomID       string `json:"custom_id"`
	DefaultChannel string `json:"default_channel"`
	IsEmulator     bool   `json:"is_emulator"`
	IsProd         *bool  `json:"is_prod"`
}

// Current is the version the device runs, falling back to the native build.
func (r *CheckRequest) Current() string {
	v := strings.TrimSpace(r.CurrentVersion)
	if v == "" {
		v = strings.TrimSpace(r.VersionName)
	}
	if v == "" || v == builtinVersion {
		return strings.TrimSpace(r.VersionBuild)
	}
	return v
}

// Prod defaults to true when the client does not say.
func (r *CheckRequest) Prod() bool {
	return r.IsProd == nil || *r.IsProd
}

// CheckResponse is the body of an update check answer.
type CheckResponse struct {
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
	Manifest []ManifestFile `json:"manifest,omitempty"`
	URL      string         `json:"url,omitempty"`
	Version  string         `json:"version,omitempty"`
	Checksum string         `json:"checksum,omitempty"`
	Old      string         `json:"old,omitempty"`

	UpdateStatus string `json:"-"`
	Overwritten  bool   `json:"-"`
}

type AppLookup interface {
	GetByAppID(appID string) (*models.App, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, accountID string) (entitlements.Decision, error)
}

type Resolver interface {
	Resolve(ctx context.Context, app *models.App, device resolver.Device) (resolver.Outcome, error)
}

type Decider interface {
	Decide(ctx context.Context, bundle *models.Bundle, pluginVersion *semver.Version) (*Decision, error)
}

// ActivityRecorder stores device state and usage counters.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, act usage.Activity) error
}

// Service answers update checks.
type Service struct {
	apps     AppLookup
	gate     Authorizer
	resolver Resolver
	engine   Decider
	activity ActivityRecorder
	validate *validator.Validate
	now      func() time.Time

	// Background telemetry writes.
	wg sync.WaitGroup
}

func NewService(apps AppLookup, gate Authorizer, res Resolver, engine Decider, activity ActivityRecorder) *Service {
	return &Service{
		apps:     apps,
		gate:     gate,
		resolver: res,
		engine:   engine,
		activity: activity,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Wait blocks until pending telemetry writes are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

type parsedRequest struct {
	current *semver.Version
	native  *semver.Version
	plugin  *semver.Version
}

// parse validates the descriptor before anything is looked up.
func (s *Service) parse(req *CheckRequest) (*parsedRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(fiber.StatusBadRequest, constants.ErrMissingInfo, "Cannot find device_id or app_id")
	}
	if !models.IsValidPlatform(req.Platform) {
		return nil, newError(fiber.StatusBadRequest, constants.ErrInvalidPlatform, "Platform %q is not supported", req.Platform)
	}

	out := &parsedRequest{}
	var err error
	if out.native, err = semver.Coerce(req.VersionBuild); err != nil {
		return nil, newError(fiber.StatusBadRequest, constants.ErrSemver,
			"Native version: %s doesn't follow semver convention", req.VersionBuild)
	}
	if out.current, err = semver.Coerce(req.Current()); err != nil {
		return nil, newError(fiber.StatusBadRequest, constants.ErrSemver,
			"Version: %s doesn't follow semver convention", req.Current())
	}
	plugin := strings.TrimSpace(req.PluginVersion)
	if plugin == "" {
		plugin = DefaultPluginVersion
	}
	if out.plugin, err = semver.Coerce(plugin); err != nil {
		return nil, newError(fiber.StatusBadRequest, constants.ErrSemver,
			"Plugin version: %s doesn't follow semver convention", plugin)
	}
	return out, nil
}

func (s *Service) lookupApp(appID string) (*models.App, error) {
	app, err := s.apps.GetByAppID(appID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(fiber.StatusNotFound, constants.ErrAppNotFound, "App %s not found", appID)
		}
		return nil, fmt.Errorf("load app: %w", err)
	}
	return app, nil
}

// Check resolves the bundle a device should run. Typed outcomes are
// returned as *Error; any other error is internal.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	parsed, err := s.parse(&req)
	if err != nil {
		return nil, err
	}
	app, err := s.lookupApp(req.AppID)
	if err != nil {
		return nil, err
	}

	var served int64
	defer func() { s.record(ctx, app, &req, served) }()

	decision, err := s.gate.Authorize(ctx, app.OwnerOrg)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if !decision.Allowed {
		log.Infof("[Updates] Denied %s for app %s: %s", req.DeviceID, app.AppID, decision.Reason)
		if decision.Reason == entitlements.ReasonOnPremise {
			return nil, newError(fiber.StatusTooManyRequests, constants.ErrOnPremiseApp, "On-premise app detected")
		}
		return nil, newError(fiber.StatusTooManyRequests, constants.ErrNeedPlanUpgrade, "Cannot update, upgrade plan to continue to update")
	}

	device := resolver.Device{
		AppID:          app.AppID,
		DeviceID:       req.DeviceID,
		Platform:       req.Platform,
		CurrentVersion: parsed.current,
		NativeVersion:  parsed.native,
		IsEmulator:     req.IsEmulator,
		IsProd:         req.Prod(),
		DefaultChannel: req.DefaultChannel,
	}
	outcome, err := s.resolver.Resolve(ctx, app, device)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	overwritten := outcome.Source == resolver.SourcePinnedBundle || outcome.Source == resolver.SourceChannelOverride

	if !outcome.HasTarget() {
		return noTargetResponse(outcome, parsed.current.String(), overwritten), nil
	}

	d, err := s.engine.Decide(ctx, outcome.Bundle, parsed.plugin)
	if err != nil {
		if errors.Is(err, ErrCannotGetBundle) {
			log.Warnf("[Updates] Cannot deliver bundle %s of %s: %v", outcome.Version(), app.AppID, err)
			return &CheckResponse{
				Error:        constants.ErrCannotGetBundle,
				Message:      "Cannot get bundle",
				Version:      outcome.Version(),
				Old:          parsed.current.String(),
				UpdateStatus: UpdateStatusFail,
				Overwritten:  overwritten,
			}, nil
		}
		return nil, fmt.Errorf("decide: %w", err)
	}
	served = d.BandwidthBytes

	resp := &CheckResponse{
		Version:      d.Version,
		Checksum:     d.Checksum,
		UpdateStatus: UpdateStatusNewVersion,
		Overwritten:  overwritten,
	}
	if d.IsManifest() {
		resp.Manifest = d.Manifest
	} else {
		resp.URL = d.URL
	}
	return resp, nil
}

func noTargetResponse(outcome resolver.Outcome, current string, overwritten bool) *CheckResponse {
	if outcome.Reason == resolver.ReasonNoNewVersion {
		return &CheckResponse{
			Status:       "no_update",
			Message:      outcome.Reason.Message(),
			UpdateStatus: UpdateStatusNoNew,
			Overwritten:  overwritten,
		}
	}
	resp := &CheckResponse{
		Error:        string(outcome.Reason),
		Message:      outcome.Reason.Message(),
		UpdateStatus: UpdateStatusFail,
		Overwritten:  overwritten,
	}
	if outcome.Bundle != nil {
		resp.Version = outcome.Bundle.Name
		resp.Old = current
	}
	return resp
}

// RecordStats stores a check-in without resolving an update.
func (s *Service) RecordStats(ctx context.Context, req CheckRequest) error {
	if _, err := s.parse(&req); err != nil {
		return err
	}
	app, err := s.lookupApp(req.AppID)
	if err != nil {
		return err
	}
	s.record(ctx, app, &req, 0)
	return nil
}

// record writes telemetry in the background. Failures are logged only.
func (s *Service) record(ctx context.Context, app *models.App, req *CheckRequest, served int64) {
	if s.activity == nil {
		return
	}
	act := usage.Activity{
		App: app,
		Device: models.Device{
			AppID:          app.AppID,
			DeviceID:       req.DeviceID,
			CustomID:       req.CustomID,
			VersionName:    req.Current(),
			VersionBuild:   req.VersionBuild,
			Platform:       req.Platform,
			OSVersion:      req.OSVersion,
			PluginVersion:  req.PluginVersion,
			IsEmulator:     req.IsEmulator,
			IsProd:         req.Prod(),
			DefaultChannel: req.DefaultChannel,
		},
		BandwidthBytes: served,
		At:             s.now(),
	}
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[Updates] Telemetry panic for %s: %v", act.Device.DeviceID, r)
			}
		}()
		if err := s.activity.RecordActivity(bg, act); err != nil {
			log.Errorf("[Updates] Failed to record activity for %s/%s: %v", app.AppID, act.Device.DeviceID, err)
		}
	}()
}
