package repository

import (
	"strings"

	"github.com/intakecoach/webportal/app/models"
	"gorm.io/gorm"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// GetActive retrieves all purchasable plans in display order
func (r *planRepository) GetActive() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Order("sort_order, price_cents").Find(&plans).Error
	return plans, err
}

// GetBySlug retrieves a plan by its slug
func (r *planRepository) GetBySlug(slug string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("slug = ? AND is_active = ?", strings.TrimSpace(slug), true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetByPriceRef retrieves a plan by its processor price reference
func (r *planRepository) GetByPriceRef(priceRef string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("price_ref = ?", strings.TrimSpace(priceRef)).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
