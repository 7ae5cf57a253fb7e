package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Plan is a purchasable pricing tier shown on the pricing page. PriceRef is
// the payment processor's price identifier used to start checkout.
type Plan struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=1,max=100"`
	Slug        string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug" validate:"required,min=1,max=100"`
	PriceRef    string         `gorm:"type:varchar(191);uniqueIndex;not null" json:"price_ref" validate:"required"`
	PriceCents  int64          `gorm:"not null;default:0" json:"price_cents"`
	Interval    string         `gorm:"type:varchar(16);not null;default:'month'" json:"interval" validate:"oneof=month year"`
	Description string         `gorm:"type:text" json:"description"`
	IsActive    bool           `gorm:"default:true;index" json:"is_active"`
	SortOrder   int            `gorm:"default:0" json:"sort_order"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Plan) Validate() error {
	v := validator.New()
	return v.Struct(p)
}
