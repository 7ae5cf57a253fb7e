package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEntitling(t *testing.T) {
	entitling := []string{BillingStatusActive, BillingStatusTrialing, BillingStatusPastDue}
	for _, status := range entitling {
		sub := BillingSubscription{Status: status}
		assert.True(t, sub.IsEntitling(), status)
	}

	notEntitling := []string{BillingStatusCanceled, BillingStatusIncomplete, BillingStatusUnpaid, ""}
	for _, status := range notEntitling {
		sub := BillingSubscription{Status: status}
		assert.False(t, sub.IsEntitling(), status)
	}
}

func TestHasSubscription(t *testing.T) {
	sub := BillingSubscription{CustomerRef: "cus_1"}
	assert.False(t, sub.HasSubscription())

	sub.SubscriptionRef = "sub_1"
	assert.True(t, sub.HasSubscription())
}

func TestNormalizeBillingStatus(t *testing.T) {
	assert.Equal(t, BillingStatusActive, NormalizeBillingStatus(" Active "))
	assert.Equal(t, BillingStatusTrialing, NormalizeBillingStatus("trialing"))
	assert.Equal(t, BillingStatusPastDue, NormalizeBillingStatus("past_due"))
	assert.Equal(t, BillingStatusCanceled, NormalizeBillingStatus("CANCELED"))
	assert.Equal(t, BillingStatusUnpaid, NormalizeBillingStatus("unpaid"))
	assert.Equal(t, BillingStatusIncomplete, NormalizeBillingStatus("incomplete_expired"))
	assert.Equal(t, BillingStatusIncomplete, NormalizeBillingStatus("paused"))
	assert.Equal(t, BillingStatusIncomplete, NormalizeBillingStatus(""))
}
