package models

import "time"

// AutoUpdatePolicy limits how far a channel may move a device in one update.
type AutoUpdatePolicy string

const (
	AutoUpdateNone          AutoUpdatePolicy = "none"
	AutoUpdatePatch         AutoUpdatePolicy = "patch"
	AutoUpdateMinor         AutoUpdatePolicy = "minor"
	AutoUpdateMajor         AutoUpdatePolicy = "major"
	AutoUpdateVersionNumber AutoUpdatePolicy = "version_number"
)

// Channel routes devices of an app to one current bundle.
type Channel struct {
	ID                           uint             `gorm:"primaryKey" json:"id"`
	AppID                        string           `gorm:"type:varchar(191);not null;index:ux_channels_app_name,unique,priority:1" json:"app_id" validate:"required"`
	Name                         string           `gorm:"type:varchar(191);not null;index:ux_channels_app_name,unique,priority:2" json:"name" validate:"required,max=191"`
	BundleID                     *uint            `gorm:"index" json:"bundle_id,omitempty"`
	Bundle                       *Bundle          `gorm:"foreignKey:BundleID" json:"bundle,omitempty"`
	IOS                          bool             `gorm:"column:ios" json:"ios"`
	Android                      bool             `gorm:"column:android" json:"android"`
	Public                       bool             `json:"public"`
	AllowDeviceSelfSet           bool             `json:"allow_device_self_set"`
	AllowEmulator                bool             `json:"allow_emulator"`
	AllowDev                     bool             `json:"allow_dev"`
	AllowProd                    bool             `json:"allow_prod"`
	DisableAutoUpdateUnderNative bool             `json:"disable_auto_update_under_native"`
	DisableAutoUpdate            AutoUpdatePolicy `gorm:"type:varchar(20);not null;default:'major'" json:"disable_auto_update" validate:"omitempty,oneof=none patch minor major version_number"`
	CreatedAt                    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// SupportsPlatform reports whether devices of the given platform may use the channel.
func (c *Channel) SupportsPlatform(platform string) bool {
	switch platform {
	case PlatformIOS:
		return c.IOS
	case PlatformAndroid:
		return c.Android
	default:
		return false
	}
}

// AllowsEnvironment checks the prod/dev flags against a device build.
func (c *Channel) AllowsEnvironment(isProd bool) bool {
	if isProd {
		return c.AllowProd
	}
	return c.AllowDev
}

// Policy returns the auto-update policy, treating an empty value as the default.
func (c *Channel) Policy() AutoUpdatePolicy {
	if c.DisableAutoUpdate == "" {
		return AutoUpdateMajor
	}
	return c.DisableAutoUpdate
}
