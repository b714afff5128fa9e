package models

import "time"

// Platform identifiers reported by devices.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// App is an application registered for over-the-air updates.
type App struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	AppID                   string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"app_id"`
	Name                    string    `gorm:"type:varchar(191);not null;default:''" json:"name"`
	OwnerOrg                string    `gorm:"type:varchar(36);not null;index" json:"owner_org"`
	DefaultChannelIOSID     *uint     `gorm:"column:default_channel_ios_id" json:"default_channel_ios_id,omitempty"`
	DefaultChannelAndroidID *uint     `gorm:"column:default_channel_android_id" json:"default_channel_android_id,omitempty"`
	DefaultChannelSync      bool      `json:"default_channel_sync"`
	RetentionSeconds        int64     `gorm:"not null;default:2592000" json:"retention_seconds"`
	ExposeMetadata          bool      `json:"expose_metadata"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultChannelFor returns the default channel id bound for a platform.
func (a *App) DefaultChannelFor(platform string) *uint {
	switch platform {
	case PlatformIOS:
		return a.DefaultChannelIOSID
	case PlatformAndroid:
		return a.DefaultChannelAndroidID
	default:
		return nil
	}
}

// IsDefaultFor reports whether the channel is the app's default for the platform.
func (a *App) IsDefaultFor(channelID uint, platform string) bool {
	id := a.DefaultChannelFor(platform)
	return id != nil && *id == channelID
}

// IsValidPlatform reports whether p names a supported device platform.
func IsValidPlatform(p string) bool {
	return p == PlatformIOS || p == PlatformAndroid
}
