package billing

import (
	"strings"
	"time"

	"github.com/intakecoach/webportal/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the provisioning engine. Lookups
// that find nothing return gorm.ErrRecordNotFound.
type Repository interface {
	GetUserByEmail(email string) (*models.User, error)
	CreateUser(user *models.User) error
	SaveUser(user *models.User) error
	GetSubscriptionByUserID(userID uint) (*models.BillingSubscription, error)
	GetSubscriptionByCustomerRef(ref string) (*models.BillingSubscription, error)
	GetSubscriptionBySubscriptionRef(ref string) (*models.BillingSubscription, error)
	UpsertSubscription(sub *models.BillingSubscription) error
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", models.NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateUser(user *models.User) error {
	user.Email = models.NormalizeEmail(user.Email)
	return r.db.Create(user).Error
}

func (r *gormRepository) SaveUser(user *models.User) error {
	user.Email = models.NormalizeEmail(user.Email)
	return r.db.Save(user).Error
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByCustomerRef(ref string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("customer_ref = ?", strings.TrimSpace(ref)).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionBySubscriptionRef(ref string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("subscription_ref = ?", strings.TrimSpace(ref)).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.BillingSubscription) error {
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

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	// Only a clean run stamps processed_at; a failed attempt records the
	// error and leaves the event eligible for redelivery.
	updates := map[string]interface{}{
		"processing_error": processingError,
	}
	if processingError == "" {
		now := time.Now()
		updates["processed_at"] = &now
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
