package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
)

// ChannelController manages channels and the app platform defaults
type ChannelController struct {
	repos *repository.Repositories
}

func NewChannelController(repos *repository.Repositories) *ChannelController {
	return &ChannelController{repos: repos}
}

// channelRequest creates or updates a channel. Unset fields keep their
// current value, or the default for a new channel.
type channelRequest struct {
	AppID                        string  `json:"app_id" validate:"required"`
	Name                         string  `json:"name" validate:"required,max=191"`
	Bundle                       *string `json:"bundle"`
	IOS                          *bool   `json:"ios"`
	Android                      *bool   `json:"android"`
	Public                       *bool   `json:"public"`
	AllowDeviceSelfSet           *bool   `json:"allow_device_self_set"`
	AllowEmulator                *bool   `json:"allow_emulator"`
	AllowDev                     *bool   `json:"allow_dev"`
	AllowProd                    *bool   `json:"allow_prod"`
	DisableAutoUpdateUnderNative *bool   `json:"disable_auto_update_under_native"`
	DisableAutoUpdate            *string `json:"disable_auto_update"`
}

type appDefaultsRequest struct {
	AppID string `json:"app_id" validate:"required"`
	// Channel names; an empty string unsets the default, null keeps it.
	IOSChannel     *string `json:"ios_channel"`
	AndroidChannel *string `json:"android_channel"`
	Sync           *bool   `json:"sync"`
}

func newChannel(appID, name string) *models.Channel {
	return &models.Channel{
		AppID:                        appID,
		Name:                         name,
		IOS:                          true,
		Android:                      true,
		AllowEmulator:                true,
		AllowDev:                     true,
		AllowProd:                    true,
		DisableAutoUpdateUnderNative: true,
		DisableAutoUpdate:            models.AutoUpdateMajor,
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (r *channelRequest) apply(ch *models.Channel) {
	setBool(&ch.IOS, r.IOS)
	setBool(&ch.Android, r.Android)
	setBool(&ch.Public, r.Public)
	setBool(&ch.AllowDeviceSelfSet, r.AllowDeviceSelfSet)
	setBool(&ch.AllowEmulator, r.AllowEmulator)
	setBool(&ch.AllowDev, r.AllowDev)
	setBool(&ch.AllowProd, r.AllowProd)
	setBool(&ch.DisableAutoUpdateUnderNative, r.DisableAutoUpdateUnderNative)
	if r.DisableAutoUpdate != nil {
		ch.DisableAutoUpdate = models.AutoUpdatePolicy(*r.DisableAutoUpdate)
	}
}

// HandleUpsert answers POST /private/channel
func (cc *ChannelController) HandleUpsert(c *fiber.Ctx) error {
	var req channelRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}

	app, err := loadApp(c, cc.repos, req.AppID)
	if app == nil {
		return err
	}

	ch, err := cc.repos.Channel.GetByName(app.AppID, req.Name)
	created := false
	switch {
	case err == nil:
	case isNotFound(err):
		ch = newChannel(app.AppID, req.Name)
		created = true
	default:
		return internalError(c, "load channel", err)
	}
	req.apply(ch)

	if req.Bundle != nil {
		ch.Bundle = nil
		ch.BundleID = nil
		if name := strings.TrimSpace(*req.Bundle); name != "" {
			bundle, err := cc.repos.Bundle.GetByName(app.AppID, name)
			if err != nil && !isNotFound(err) {
				return internalError(c, "load bundle", err)
			}
			if err != nil || bundle.Deleted {
				return errorJSON(c, fiber.StatusNotFound, constants.ErrBundleNotFound, "Bundle "+name+" not found")
			}
			ch.BundleID = &bundle.ID
		}
	}

	if err := validate.Struct(ch); err != nil {
		return invalidRequest(c, err.Error())
	}
	if err := models.ValidateChannel(ch, app); err != nil {
		if ok, rerr := validationError(c, err); ok {
			return rerr
		}
		return internalError(c, "validate channel", err)
	}
	if err := cc.repos.Channel.Save(ch); err != nil {
		return internalError(c, "save channel", err)
	}
	fiberlog.Infof("[Channels] Saved channel %s of %s", ch.Name, ch.AppID)

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(ch)
}

// resolveDefault returns the channel named by v, or the current default when v is nil.
func (cc *ChannelController) resolveDefault(c *fiber.Ctx, app *models.App, platform string, v *string) (*models.Channel, bool, error) {
	if v == nil {
		id := app.DefaultChannelFor(platform)
		if id == nil {
			return nil, true, nil
		}
		ch, err := cc.repos.Channel.GetByID(*id)
		if err != nil {
			if isNotFound(err) {
				return nil, true, nil
			}
			return nil, false, internalError(c, "load default channel", err)
		}
		return ch, true, nil
	}
	name := strings.TrimSpace(*v)
	if name == "" {
		return nil, true, nil
	}
	ch, err := cc.repos.Channel.GetByName(app.AppID, name)
	if err != nil {
		if isNotFound(err) {
			return nil, false, errorJSON(c, fiber.StatusNotFound, constants.ErrChannelNotFound, "Cannot find channel "+name)
		}
		return nil, false, internalError(c, "load channel", err)
	}
	return ch, true, nil
}

// HandleAppDefaults answers POST /private/app/defaults
func (cc *ChannelController) HandleAppDefaults(c *fiber.Ctx) error {
	var req appDefaultsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, "Cannot parse json")
	}
	if err := validate.Struct(&req); err != nil {
		return invalidRequest(c, err.Error())
	}

	app, err := loadApp(c, cc.repos, req.AppID)
	if app == nil {
		return err
	}

	ios, ok, err := cc.resolveDefault(c, app, models.PlatformIOS, req.IOSChannel)
	if !ok {
		return err
	}
	android, ok, err := cc.resolveDefault(c, app, models.PlatformAndroid, req.AndroidChannel)
	if !ok {
		return err
	}
	if req.Sync != nil {
		app.DefaultChannelSync = *req.Sync
	}

	if err := models.ValidateAppDefaults(app, ios, android); err != nil {
		if ok, rerr := validationError(c, err); ok {
			return rerr
		}
		return internalError(c, "validate app defaults", err)
	}

	var iosID, androidID *uint
	if ios != nil {
		iosID = &ios.ID
	}
	if android != nil {
		androidID = &android.ID
	}
	if err := cc.repos.App.SetDefaultChannels(app.AppID, iosID, androidID, app.DefaultChannelSync); err != nil {
		return internalError(c, "save app defaults", err)
	}
	app.DefaultChannelIOSID = iosID
	app.DefaultChannelAndroidID = androidID
	return c.JSON(app)
}
