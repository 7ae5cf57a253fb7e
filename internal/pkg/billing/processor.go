package billing

import (
	"context"
	"time"
)

// CheckoutSession is the provider-neutral view of a hosted checkout session.
type CheckoutSession struct {
	SessionRef      string
	CustomerRef     string
	CustomerEmail   string
	CustomerName    string
	SubscriptionRef string
	PaymentStatus   string
	RedirectURL     string
}

// PaymentStatusPaid is the settled state a checkout session must reach
// before it provisions an account.
const PaymentStatusPaid = "paid"

// Customer is the provider-neutral view of a billing customer record.
type Customer struct {
	CustomerRef string
	Email       string
	Name        string
}

// CheckoutParams describes a new hosted checkout session.
type CheckoutParams struct {
	PriceRef   string
	SuccessURL string
	CancelURL  string
}

// WebhookEnvelope is a verified, parsed webhook delivery. Event is nil for
// provider event types this system intentionally ignores; such deliveries are
// acknowledged without processing.
type WebhookEnvelope struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
	Event      Event
}

// Processor wraps the external payment system. Implementations classify
// transport failures as ErrProcessorUnavailable and unknown customers as
// ErrCustomerNotFound so the engine can tell retryable from terminal.
type Processor interface {
	RetrieveCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error)
	RetrieveCustomer(ctx context.Context, customerRef string) (*Customer, error)
	FindOrCreateCustomer(ctx context.Context, email, name string) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
	VerifyAndParseWebhook(payload []byte, signatureHeader string) (*WebhookEnvelope, error)
}
