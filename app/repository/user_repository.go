package repository

import (
	"strings"

	"github.com/intakecoach/webportal/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	user.Email = models.NormalizeEmail(user.Email)
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByPublicID retrieves a user by their opaque public identifier
func (r *userRepository) GetByPublicID(publicID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("public_id = ?", strings.TrimSpace(publicID)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address, case-insensitively
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", models.NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByBillingCustomerRef resolves a billing customer reference to its user
func (r *userRepository) GetByBillingCustomerRef(ref string) (*models.User, error) {
	var sub models.BillingSubscription
	if err := r.db.Where("customer_ref = ?", strings.TrimSpace(ref)).First(&sub).Error; err != nil {
		return nil, err
	}
	return r.GetByID(sub.UserID)
}

// GetBySubscriptionRef resolves an external subscription reference to its user
func (r *userRepository) GetBySubscriptionRef(ref string) (*models.User, error) {
	var sub models.BillingSubscription
	if err := r.db.Where("subscription_ref = ?", strings.TrimSpace(ref)).First(&sub).Error; err != nil {
		return nil, err
	}
	return r.GetByID(sub.UserID)
}

// Update updates an existing user in the database
func (r *userRepository) Update(user *models.User) error {
	user.Email = models.NormalizeEmail(user.Email)
	return r.db.Save(user).Error
}

// Delete soft deletes a user by their ID
func (r *userRepository) Delete(id uint) error {
	return r.db.Delete(&models.User{}, id).Error
}

// List retrieves a paginated list of users
func (r *userRepository) List(offset, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error
	return users, err
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
