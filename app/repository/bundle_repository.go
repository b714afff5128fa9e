package repository

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/BundleFox/app/models"
	"gorm.io/gorm"
)

// ErrDuplicateBundle is returned when (app_id, name) already exists
var ErrDuplicateBundle = errors.New("bundle already exists")

// bundleRepository implements the BundleRepository interface
type bundleRepository struct {
	db *gorm.DB
}

// NewBundleRepository creates a new bundle repository instance
func NewBundleRepository(db *gorm.DB) BundleRepository {
	return &bundleRepository{db: db}
}

// Create inserts a bundle together with its manifest entries
func (r *bundleRepository) Create(bundle *models.Bundle) error {
	for i := range bundle.Manifest {
		bundle.Manifest[i].Position = i
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(bundle).Error
	})
	if isDuplicateKey(err) {
		return ErrDuplicateBundle
	}
	return err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// GetByID retrieves a bundle with its ordered manifest
func (r *bundleRepository) GetByID(id uint) (*models.Bundle, error) {
	var bundle models.Bundle
	path, order := preloadBundle("")
	err := r.db.Preload(path, order).First(&bundle, id).Error
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// GetByName retrieves a bundle of an app by its version name
func (r *bundleRepository) GetByName(appID, name string) (*models.Bundle, error) {
	var bundle models.Bundle
	path, order := preloadBundle("")
	err := r.db.Preload(path, order).Where("app_id = ? AND name = ?", appID, name).First(&bundle).Error
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// ExistsByName checks for an existing (app_id, name) pair, deleted bundles included
func (r *bundleRepository) ExistsByName(appID, name string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Bundle{}).Where("app_id = ? AND name = ?", appID, name).Count(&count).Error
	return count > 0, err
}

// ListLive retrieves bundles not marked as deleted
func (r *bundleRepository) ListLive(appID string) ([]models.Bundle, error) {
	var bundles []models.Bundle
	path, order := preloadBundle("")
	err := r.db.Preload(path, order).Where("app_id = ? AND deleted = ?", appID, false).Order("id ASC").Find(&bundles).Error
	return bundles, err
}

// IsReferenced reports whether a channel or a device pin targets the bundle
func (r *bundleRepository) IsReferenced(id uint) (bool, error) {
	var channels int64
	if err := r.db.Model(&models.Channel{}).Where("bundle_id = ?", id).Count(&channels).Error; err != nil {
		return false, err
	}
	if channels > 0 {
		return true, nil
	}
	var pins int64
	if err := r.db.Model(&models.DeviceBundleOverride{}).Where("bundle_id = ?", id).Count(&pins).Error; err != nil {
		return false, err
	}
	return pins > 0, nil
}

// MarkDeleted flags a bundle as deleted; its row is kept for the duplicate check
func (r *bundleRepository) MarkDeleted(id uint) error {
	return r.db.Model(&models.Bundle{}).Where("id = ?", id).Update("deleted", true).Error
}
