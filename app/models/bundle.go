package models

import "time"

// Bundle is a semver-named build artifact of an app.
type Bundle struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	AppID            string          `gorm:"type:varchar(191);not null;index:ux_bundles_app_name,unique,priority:1" json:"app_id"`
	Name             string          `gorm:"type:varchar(191);not null;index:ux_bundles_app_name,unique,priority:2" json:"name"`
	Checksum         string          `gorm:"type:varchar(128);not null;default:''" json:"checksum"`
	ExternalURL      string          `gorm:"type:varchar(1024);not null;default:''" json:"external_url,omitempty"`
	StoragePath      string          `gorm:"type:varchar(1024);not null;default:''" json:"storage_path,omitempty"`
	Size             int64           `gorm:"not null;default:0" json:"size"`
	MinUpdateVersion string          `gorm:"type:varchar(191);not null;default:''" json:"min_update_version,omitempty"`
	Deleted          bool            `gorm:"index" json:"deleted"`
	Manifest         []ManifestEntry `gorm:"foreignKey:BundleID;constraint:OnDelete:CASCADE" json:"manifest,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ManifestEntry is a single file of a bundle used for differential delivery.
type ManifestEntry struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	BundleID    uint   `gorm:"not null;index" json:"bundle_id"`
	Position    int    `gorm:"not null;default:0" json:"position"`
	FileName    string `gorm:"type:varchar(1024);not null" json:"file_name"`
	FileHash    string `gorm:"type:varchar(128);not null" json:"file_hash"`
	FileSize    int64  `gorm:"not null;default:0" json:"file_size"`
	StoragePath string `gorm:"type:varchar(1024);not null" json:"storage_path"`
}

// HasManifest reports whether the bundle can be delivered file by file.
func (b *Bundle) HasManifest() bool {
	return len(b.Manifest) > 0
}

// HasArchive reports whether the bundle has a full archive reference.
func (b *Bundle) HasArchive() bool {
	return b.ExternalURL != "" || b.StoragePath != ""
}

// Footprint is the number of bytes the bundle occupies in object storage.
func (b *Bundle) Footprint() int64 {
	total := int64(0)
	if b.StoragePath != "" {
		total += b.Size
	}
	for _, e := range b.Manifest {
		total += e.FileSize
	}
	return total
}
