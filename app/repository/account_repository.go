package repository

import (
	"github.com/ManuelReschke/BundleFox/app/models"
	"gorm.io/gorm"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account in the database
func (r *accountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

// GetByID retrieves an account with its plan
func (r *accountRepository) GetByID(id string) (*models.Account, error) {
	var account models.Account
	err := r.db.Preload("Plan").Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetUsageState retrieves the cached usage flags of an account
func (r *accountRepository) GetUsageState(accountID string) (*models.AccountUsageState, error) {
	var state models.AccountUsageState
	err := r.db.Where("account_id = ?", accountID).First(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ListPlans retrieves all plans ordered by price
func (r *accountRepository) ListPlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Order("price_monthly ASC").Find(&plans).Error
	return plans, err
}
