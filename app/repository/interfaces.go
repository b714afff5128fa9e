package repository

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"gorm.io/gorm"
)

// AppRepository defines the interface for app-related database operations
type AppRepository interface {
	Create(app *models.App) error
	GetByAppID(appID string) (*models.App, error)
	ListByOwner(ownerOrg string) ([]models.App, error)
	SetDefaultChannels(appID string, iosID, androidID *uint, sync bool) error
}

// ChannelRepository defines the interface for channel-related database operations
type ChannelRepository interface {
	GetByID(id uint) (*models.Channel, error)
	GetByName(appID, name string) (*models.Channel, error)
	ListSelfAssignable(appID, platform string) ([]models.Channel, error)
	Save(channel *models.Channel) error
}

// BundleRepository defines the interface for bundle-related database operations
type BundleRepository interface {
	Create(bundle *models.Bundle) error
	GetByID(id uint) (*models.Bundle, error)
	GetByName(appID, name string) (*models.Bundle, error)
	ExistsByName(appID, name string) (bool, error)
	ListLive(appID string) ([]models.Bundle, error)
	IsReferenced(id uint) (bool, error)
	MarkDeleted(id uint) error
}

// DeviceRepository defines the interface for device check-ins and overrides
type DeviceRepository interface {
	Upsert(device *models.Device) error
	Get(appID, deviceID string) (*models.Device, error)
	GetBundleOverride(appID, deviceID string) (*models.DeviceBundleOverride, error)
	GetChannelAssignment(appID, deviceID string) (*models.ChannelDevice, error)
	SetBundleOverride(override *models.DeviceBundleOverride) error
	SetChannelAssignment(assignment *models.ChannelDevice) error
	DeleteBundleOverride(appID, deviceID string) error
	DeleteChannelAssignment(appID, deviceID string) error
}

// AccountRepository defines the interface for billing accounts and their cached usage state
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id string) (*models.Account, error)
	GetUsageState(accountID string) (*models.AccountUsageState, error)
	ListPlans() ([]models.Plan, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	App     AppRepository
	Channel ChannelRepository
	Bundle  BundleRepository
	Device  DeviceRepository
	Account AccountRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		App:     NewAppRepository(db),
		Channel: NewChannelRepository(db),
		Bundle:  NewBundleRepository(db),
		Device:  NewDeviceRepository(db),
		Account: NewAccountRepository(db),
	}
}
