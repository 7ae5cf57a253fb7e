package repository

import (
	"github.com/intakecoach/webportal/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for account-related database
// operations. Email lookups are case-insensitive; callers may pass addresses
// in any casing.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByPublicID(publicID string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByBillingCustomerRef(ref string) (*models.User, error)
	GetBySubscriptionRef(ref string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// SubscriptionRepository defines database operations for billing
// subscription state.
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.BillingSubscription, error)
	GetByCustomerRef(ref string) (*models.BillingSubscription, error)
	GetBySubscriptionRef(ref string) (*models.BillingSubscription, error)
	Upsert(sub *models.BillingSubscription) error
}

// PlanRepository defines database operations for pricing plans.
type PlanRepository interface {
	GetActive() ([]models.Plan, error)
	GetBySlug(slug string) (*models.Plan, error)
	GetByPriceRef(priceRef string) (*models.Plan, error)
}

// PageRepository defines database operations for marketing content pages.
type PageRepository interface {
	Create(page *models.Page) error
	GetByID(id uint) (*models.Page, error)
	GetBySlug(slug string) (*models.Page, error)
	GetAll() ([]models.Page, error)
	GetActive() ([]models.Page, error)
	Update(page *models.Page) error
	Delete(id uint) error
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	Plan         PlanRepository
	Page         PageRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Plan:         NewPlanRepository(db),
		Page:         NewPageRepository(db),
	}
}
