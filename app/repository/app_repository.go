package repository

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"gorm.io/gorm"
)

// appRepository implements the AppRepository interface
type appRepository struct {
	db *gorm.DB
}

// NewAppRepository creates a new app repository instance
func NewAppRepository(db *gorm.DB) AppRepository {
	return &appRepository{db: db}
}

// Create creates a new app in the database
func (r *appRepository) Create(app *models.App) error {
	return r.db.Create(app).Error
}

// GetByAppID retrieves an app by its public identifier
func (r *appRepository) GetByAppID(appID string) (*models.App, error) {
	var app models.App
	err := r.db.Where("app_id = ?", appID).First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// ListByOwner retrieves all apps of an account
func (r *appRepository) ListByOwner(ownerOrg string) ([]models.App, error) {
	var apps []models.App
	err := r.db.Where("owner_org = ?", ownerOrg).Order("id ASC").Find(&apps).Error
	return apps, err
}

// SetDefaultChannels stores both platform defaults and the sync flag in one statement
func (r *appRepository) SetDefaultChannels(appID string, iosID, androidID *uint, sync bool) error {
	return r.db.Model(&models.App{}).
		Where("app_id = ?", appID).
		Updates(map[string]interface{}{
			"default_channel_ios_id":     iosID,
			"default_channel_android_id": androidID,
			"default_channel_sync":       sync,
		}).Error
}
