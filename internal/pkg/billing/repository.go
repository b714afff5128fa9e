package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BundleFox/app/models"
)

// consumeEpsilon absorbs float rounding when a grant is drained exactly.
const consumeEpsilon = 1e-9

// EpisodeKey identifies one overage episode.
type EpisodeKey struct {
	AccountID  string
	Metric     models.UsageMetric
	CycleStart time.Time
	CycleEnd   time.Time
}

// Repository provides DB operations used by the ledger.
type Repository interface {
	Transaction(fn func(repo Repository) error) error
	LockEpisode(key EpisodeKey) (*models.OverageEpisode, error)
	SaveEpisode(ep *models.OverageEpisode) error
	FindPricingStep(metric models.UsageMetric, amount float64) (*models.CreditPricingStep, error)
	ActiveGrants(accountID string, now time.Time) ([]models.UsageCreditGrant, error)
	ConsumeGrant(grantID string, credits float64) (bool, error)
	CreateEvent(ev *models.UsageOverageEvent) error
	CreateConsumption(c *models.UsageCreditConsumption) error
	CreateGrant(g *models.UsageCreditGrant) error
	FindGrantBySourceRef(accountID, source, ref string) (*models.UsageCreditGrant, error)
	ListEvents(accountID string, limit int) ([]models.UsageOverageEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(repo Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// LockEpisode creates the episode row if needed and locks it for the rest of
// the surrounding transaction.
func (r *gormRepository) LockEpisode(key EpisodeKey) (*models.OverageEpisode, error) {
	ep := &models.OverageEpisode{
		AccountID:  key.AccountID,
		Metric:     key.Metric,
		CycleStart: key.CycleStart,
		CycleEnd:   key.CycleEnd,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "metric"},
			{Name: "cycle_start"},
			{Name: "cycle_end"},
		},
		DoNothing: true,
	}).Create(ep).Error; err != nil {
		return nil, err
	}

	var locked models.OverageEpisode
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND metric = ? AND cycle_start = ? AND cycle_end = ?",
			key.AccountID, key.Metric, key.CycleStart, key.CycleEnd).
		First(&locked).Error
	if err != nil {
		return nil, err
	}
	return &locked, nil
}

func (r *gormRepository) SaveEpisode(ep *models.OverageEpisode) error {
	return r.db.Save(ep).Error
}

// FindPricingStep returns the step containing amount, or nil when the metric is not priced.
func (r *gormRepository) FindPricingStep(metric models.UsageMetric, amount float64) (*models.CreditPricingStep, error) {
	var steps []models.CreditPricingStep
	if err := r.db.Where("metric = ?", metric).Order("step_min ASC").Find(&steps).Error; err != nil {
		return nil, err
	}
	for i := range steps {
		if steps[i].Contains(amount) {
			return &steps[i], nil
		}
	}
	return nil, nil
}

// ActiveGrants lists unexpired grants with credits left, earliest expiry first.
func (r *gormRepository) ActiveGrants(accountID string, now time.Time) ([]models.UsageCreditGrant, error) {
	var grants []models.UsageCreditGrant
	err := r.db.
		Where("account_id = ? AND expires_at > ? AND credits_consumed < credits_total", accountID, now).
		Order("expires_at ASC").Order("granted_at ASC").Order("id ASC").
		Find(&grants).Error
	return grants, err
}

// ConsumeGrant debits a grant unless that would exceed its total. It reports
// whether the debit was applied.
func (r *gormRepository) ConsumeGrant(grantID string, credits float64) (bool, error) {
	tx := r.db.Model(&models.UsageCreditGrant{}).
		Where("id = ? AND credits_consumed + ? <= credits_total + ?", grantID, credits, consumeEpsilon).
		Update("credits_consumed", gorm.Expr(
			"CASE WHEN credits_consumed + ? > credits_total THEN credits_total ELSE credits_consumed + ? END",
			credits, credits,
		))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateEvent(ev *models.UsageOverageEvent) error {
	return r.db.Create(ev).Error
}

func (r *gormRepository) CreateConsumption(c *models.UsageCreditConsumption) error {
	return r.db.Create(c).Error
}

func (r *gormRepository) CreateGrant(g *models.UsageCreditGrant) error {
	return r.db.Create(g).Error
}

func (r *gormRepository) FindGrantBySourceRef(accountID, source, ref string) (*models.UsageCreditGrant, error) {
	var g models.UsageCreditGrant
	err := r.db.Where("account_id = ? AND source = ? AND source_ref = ?", accountID, source, ref).First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *gormRepository) ListEvents(accountID string, limit int) ([]models.UsageOverageEvent, error) {
	var events []models.UsageOverageEvent
	q := r.db.Where("account_id = ?", accountID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}
