package repository

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"gorm.io/gorm"
)

// channelRepository implements the ChannelRepository interface
type channelRepository struct {
	db *gorm.DB
}

// NewChannelRepository creates a new channel repository instance
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func preloadBundle(prefix string) (string, func(db *gorm.DB) *gorm.DB) {
	return prefix + "Manifest", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}
}

// GetByID retrieves a channel with its current bundle and manifest
func (r *channelRepository) GetByID(id uint) (*models.Channel, error) {
	var channel models.Channel
	path, order := preloadBundle("Bundle.")
	err := r.db.Preload("Bundle").Preload(path, order).First(&channel, id).Error
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetByName retrieves a channel of an app by name
func (r *channelRepository) GetByName(appID, name string) (*models.Channel, error) {
	var channel models.Channel
	path, order := preloadBundle("Bundle.")
	err := r.db.Preload("Bundle").Preload(path, order).
		Where("app_id = ? AND name = ?", appID, name).
		First(&channel).Error
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// ListSelfAssignable retrieves channels a device of the platform may pick itself
func (r *channelRepository) ListSelfAssignable(appID, platform string) ([]models.Channel, error) {
	var channels []models.Channel
	q := r.db.Where("app_id = ? AND allow_device_self_set = ?", appID, true)
	switch platform {
	case models.PlatformIOS:
		q = q.Where("ios = ?", true)
	case models.PlatformAndroid:
		q = q.Where("android = ?", true)
	}
	err := q.Order("name ASC").Find(&channels).Error
	return channels, err
}

// Save creates or updates a channel without touching associations
func (r *channelRepository) Save(channel *models.Channel) error {
	return r.db.Omit("Bundle").Save(channel).Error
}
