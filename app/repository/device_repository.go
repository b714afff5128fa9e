package repository

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// deviceRepository implements the DeviceRepository interface
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new device repository instance
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// Upsert records a check-in; the last write wins
func (r *deviceRepository) Upsert(device *models.Device) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"custom_id",
			"version_name",
			"version_build",
			"platform",
			"os_version",
			"plugin_version",
			"is_emulator",
			"is_prod",
			"default_channel",
			"updated_at",
		}),
	}).Create(device).Error
}

// Get retrieves the last known state of a device
func (r *deviceRepository) Get(appID, deviceID string) (*models.Device, error) {
	var device models.Device
	err := r.db.Where("app_id = ? AND device_id = ?", appID, deviceID).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// GetBundleOverride retrieves a pin together with the pinned bundle
func (r *deviceRepository) GetBundleOverride(appID, deviceID string) (*models.DeviceBundleOverride, error) {
	var override models.DeviceBundleOverride
	path, order := preloadBundle("Bundle.")
	err := r.db.Preload("Bundle").Preload(path, order).
		Where("app_id = ? AND device_id = ?", appID, deviceID).
		First(&override).Error
	if err != nil {
		return nil, err
	}
	return &override, nil
}

// GetChannelAssignment retrieves an explicit channel assignment with channel and bundle
func (r *deviceRepository) GetChannelAssignment(appID, deviceID string) (*models.ChannelDevice, error) {
	var assignment models.ChannelDevice
	path, order := preloadBundle("Channel.Bundle.")
	err := r.db.Preload("Channel").Preload("Channel.Bundle").Preload(path, order).
		Where("app_id = ? AND device_id = ?", appID, deviceID).
		First(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// SetBundleOverride creates or replaces the pin of a device
func (r *deviceRepository) SetBundleOverride(override *models.DeviceBundleOverride) error {
	return r.db.Omit("Bundle").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"bundle_id"}),
	}).Create(override).Error
}

// SetChannelAssignment creates or replaces the channel assignment of a device
func (r *deviceRepository) SetChannelAssignment(assignment *models.ChannelDevice) error {
	return r.db.Omit("Channel").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "source", "updated_at"}),
	}).Create(assignment).Error
}

// DeleteBundleOverride removes the pin of a device
func (r *deviceRepository) DeleteBundleOverride(appID, deviceID string) error {
	return r.db.Where("app_id = ? AND device_id = ?", appID, deviceID).Delete(&models.DeviceBundleOverride{}).Error
}

// DeleteChannelAssignment removes the channel assignment of a device
func (r *deviceRepository) DeleteChannelAssignment(appID, deviceID string) error {
	return r.db.Where("app_id = ? AND device_id = ?", appID, deviceID).Delete(&models.ChannelDevice{}).Error
}
