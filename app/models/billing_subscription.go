package models

import (
	"strings"
	"time"
)

const BillingProviderStripe = "stripe"

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusUnpaid     = "unpaid"
)

// BillingSubscription mirrors the payment processor's subscription state for
// one customer. The customer ref is set once when the account is linked and
// never reassigned; all other fields are overwritten by inbound events.
type BillingSubscription struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	CustomerRef       string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"customer_ref"`
	SubscriptionRef   string     `gorm:"type:varchar(191);not null;default:'';index" json:"subscription_ref"`
	Status            string     `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	PlanRef           string     `gorm:"type:varchar(191);not null;default:''" json:"plan_ref"`
	PlanName          string     `gorm:"type:varchar(191);not null;default:''" json:"plan_name"`
	CurrentPeriodEnd  *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasSubscription reports whether a concrete subscription is attached, as
// opposed to a bare customer link left behind by a checkout without one.
func (s *BillingSubscription) HasSubscription() bool {
	return s.SubscriptionRef != ""
}

// IsEntitling reports whether the status still grants product access.
func (s *BillingSubscription) IsEntitling() bool {
	switch s.Status {
	case BillingStatusActive, BillingStatusTrialing, BillingStatusPastDue:
		return true
	default:
		return false
	}
}

// NormalizeBillingStatus maps a raw processor status onto the known set.
func NormalizeBillingStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case BillingStatusActive:
		return BillingStatusActive
	case BillingStatusTrialing:
		return BillingStatusTrialing
	case BillingStatusPastDue:
		return BillingStatusPastDue
	case BillingStatusCanceled:
		return BillingStatusCanceled
	case BillingStatusUnpaid:
		return BillingStatusUnpaid
	default:
		return BillingStatusIncomplete
	}
}
