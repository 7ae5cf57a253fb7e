package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
)

func stripeEvent(t *testing.T, eventType string, created int64, payload string) *stripe.Event {
	t.Helper()
	return &stripe.Event{
		ID:      "evt_test",
		Type:    stripe.EventType(eventType),
		Created: created,
		Data: &stripe.EventData{
			Raw: json.RawMessage(payload),
		},
	}
}

func TestTranslateCheckoutSessionCompleted(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	env, err := translateStripeEvent(stripeEvent(t, "checkout.session.completed", created, `{
		"id": "cs_123",
		"customer": "cus_123",
		"customer_details": {"email": "Jane@Firm.com", "name": "Jane"},
		"subscription": "sub_123",
		"payment_status": "paid"
	}`))
	require.NoError(t, err)

	ev, ok := env.Event.(CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "evt_test", ev.EventID)
	assert.Equal(t, "cs_123", ev.SessionRef)
	assert.Equal(t, "cus_123", ev.CustomerRef)
	assert.Equal(t, "Jane@Firm.com", ev.CustomerEmail)
	assert.Equal(t, "Jane", ev.CustomerName)
	assert.Equal(t, "sub_123", ev.SubscriptionRef)
	assert.Equal(t, time.Unix(created, 0).UTC(), ev.OccurredAt)
}

func TestTranslateCheckoutFallsBackToCustomerEmail(t *testing.T) {
	env, err := translateStripeEvent(stripeEvent(t, "checkout.session.completed", 0, `{
		"id": "cs_123",
		"customer": "cus_123",
		"customer_email": "fallback@firm.com"
	}`))
	require.NoError(t, err)

	ev := env.Event.(CheckoutCompleted)
	assert.Equal(t, "fallback@firm.com", ev.CustomerEmail)
}

func TestTranslateSubscriptionUpdated(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix()
	env, err := translateStripeEvent(stripeEvent(t, "customer.subscription.updated", 100, fmt.Sprintf(`{
		"id": "sub_123",
		"customer": "cus_123",
		"status": "active",
		"cancel_at_period_end": true,
		"items": {"data": [{"current_period_end": %d, "price": {"id": "price_pro", "nickname": "Professional"}}]}
	}`, end)))
	require.NoError(t, err)

	ev, ok := env.Event.(SubscriptionUpserted)
	require.True(t, ok)
	assert.Equal(t, "cus_123", ev.CustomerRef)
	assert.Equal(t, "sub_123", ev.SubscriptionRef)
	assert.Equal(t, "active", ev.Status)
	assert.Equal(t, "price_pro", ev.PlanRef)
	assert.Equal(t, "Professional", ev.PlanName)
	assert.True(t, ev.CancelAtPeriodEnd)
	require.NotNil(t, ev.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(end, 0).UTC(), *ev.CurrentPeriodEnd)
}

func TestTranslateSubscriptionTopLevelPeriodEnd(t *testing.T) {
	// Older API versions put current_period_end on the subscription itself.
	env, err := translateStripeEvent(stripeEvent(t, "customer.subscription.created", 100, `{
		"id": "sub_123",
		"customer": "cus_123",
		"status": "trialing",
		"current_period_end": 1800000000,
		"items": {"data": [{"price": {"id": "price_starter"}}]}
	}`))
	require.NoError(t, err)

	ev := env.Event.(SubscriptionUpserted)
	require.NotNil(t, ev.CurrentPeriodEnd)
	assert.Equal(t, int64(1800000000), ev.CurrentPeriodEnd.Unix())
	assert.Equal(t, "price_starter", ev.PlanName, "price id stands in when there is no nickname")
}

func TestTranslateSubscriptionDeleted(t *testing.T) {
	env, err := translateStripeEvent(stripeEvent(t, "customer.subscription.deleted", 100, `{
		"id": "sub_123",
		"customer": "cus_123",
		"status": "canceled"
	}`))
	require.NoError(t, err)

	ev, ok := env.Event.(SubscriptionCanceled)
	require.True(t, ok)
	assert.Equal(t, "sub_123", ev.SubscriptionRef)
	assert.Nil(t, ev.CurrentPeriodEnd)
}

func TestTranslateInvoicePaymentFailed(t *testing.T) {
	env, err := translateStripeEvent(stripeEvent(t, "invoice.payment_failed", 100, `{
		"id": "in_123",
		"customer": "cus_123"
	}`))
	require.NoError(t, err)

	ev, ok := env.Event.(InvoicePaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "cus_123", ev.CustomerRef)
}

func TestTranslateIgnoredEventTypeHasNilEvent(t *testing.T) {
	env, err := translateStripeEvent(stripeEvent(t, "invoice.paid", 100, `{"id": "in_123"}`))
	require.NoError(t, err)
	assert.Nil(t, env.Event)
	assert.Equal(t, "invoice.paid", env.EventType)
}

func signStripePayload(secret string, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAndParseWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	proc := &StripeProcessor{webhookSecret: secret}
	payload := []byte(`{"id": "evt_1", "type": "invoice.payment_failed", "created": 100, "data": {"object": {"id": "in_1", "customer": "cus_1"}}}`)

	env, err := proc.VerifyAndParseWebhook(payload, signStripePayload(secret, payload, time.Now().Unix()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", env.EventID)
	ev, ok := env.Event.(InvoicePaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "cus_1", ev.CustomerRef)
}

func TestVerifyAndParseWebhookRejectsBadSignature(t *testing.T) {
	proc := &StripeProcessor{webhookSecret: "whsec_test"}
	payload := []byte(`{"id": "evt_1"}`)

	_, err := proc.VerifyAndParseWebhook(payload, signStripePayload("whsec_other", payload, time.Now().Unix()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = proc.VerifyAndParseWebhook(payload, "garbage")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyAndParseWebhookRejectsStaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	proc := &StripeProcessor{webhookSecret: secret}
	payload := []byte(`{"id": "evt_1"}`)

	stale := time.Now().Add(-time.Hour).Unix()
	_, err := proc.VerifyAndParseWebhook(payload, signStripePayload(secret, payload, stale))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
