package repository

import (
	"strings"

	"github.com/intakecoach/webportal/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// GetByUserID retrieves the subscription state linked to a user
func (r *subscriptionRepository) GetByUserID(userID uint) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByCustomerRef retrieves subscription state by billing customer reference
func (r *subscriptionRepository) GetByCustomerRef(ref string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("customer_ref = ?", strings.TrimSpace(ref)).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetBySubscriptionRef retrieves subscription state by external subscription reference
func (r *subscriptionRepository) GetBySubscriptionRef(ref string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("subscription_ref = ?", strings.TrimSpace(ref)).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert creates or overwrites the subscription row keyed by customer ref.
func (r *subscriptionRepository) Upsert(sub *models.BillingSubscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "customer_ref"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"subscription_ref",
			"status",
			"plan_ref",
			"plan_name",
			"current_period_end",
			"cancel_at_period_end",
			"last_event_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("customer_ref = ?", sub.CustomerRef).First(sub).Error
}
