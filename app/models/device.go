package models

import "time"

// Device is the last reported state of an installed client.
type Device struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AppID          string    `gorm:"type:varchar(191);not null;index:ux_devices_app_device,unique,priority:1" json:"app_id"`
	DeviceID       string    `gorm:"type:varchar(191);not null;index:ux_devices_app_device,unique,priority:2" json:"device_id"`
	CustomID       string    `gorm:"type:varchar(191);not null;default:''" json:"custom_id"`
	VersionName    string    `gorm:"type:varchar(191);not null;default:''" json:"version_name"`
	VersionBuild   string    `gorm:"type:varchar(191);not null;default:''" json:"version_build"`
	Platform       string    `gorm:"type:varchar(16);not null" json:"platform"`
	OSVersion      string    `gorm:"column:os_version;type:varchar(64);not null;default:''" json:"os_version"`
	PluginVersion  string    `gorm:"type:varchar(64);not null;default:''" json:"plugin_version"`
	IsEmulator     bool      `json:"is_emulator"`
	IsProd         bool      `json:"is_prod"`
	DefaultChannel string    `gorm:"type:varchar(191);not null;default:''" json:"default_channel"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeviceBundleOverride pins a device to one exact bundle.
type DeviceBundleOverride struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AppID     string    `gorm:"type:varchar(191);not null;index:ux_device_bundle_overrides,unique,priority:1" json:"app_id"`
	DeviceID  string    `gorm:"type:varchar(191);not null;index:ux_device_bundle_overrides,unique,priority:2" json:"device_id"`
	BundleID  uint      `gorm:"not null;index" json:"bundle_id"`
	Bundle    *Bundle   `gorm:"foreignKey:BundleID" json:"bundle,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Channel assignment sources.
const (
	AssignmentSourceAdmin = "admin"
	AssignmentSourceSelf  = "self"
)

// ChannelDevice assigns a device to a channel explicitly.
type ChannelDevice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AppID     string    `gorm:"type:varchar(191);not null;index:ux_channel_devices,unique,priority:1" json:"app_id"`
	DeviceID  string    `gorm:"type:varchar(191);not null;index:ux_channel_devices,unique,priority:2" json:"device_id"`
	ChannelID uint      `gorm:"not null;index" json:"channel_id"`
	Channel   *Channel  `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
	Source    string    `gorm:"type:varchar(16);not null;default:'admin'" json:"source"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
