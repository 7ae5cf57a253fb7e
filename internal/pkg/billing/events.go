package billing

import "time"

// Result describes the effect a billing event had on local account state.
type Result string

const (
	ResultCreated Result = "created"
	ResultUpdated Result = "updated"
	ResultSkipped Result = "skipped"
)

// Event is one of the normalized billing event variants consumed by the
// Provisioner. All variants carry the provider event id for deduplication
// and the provider-side timestamp for staleness checks.
type Event interface {
	ProviderEventID() string
	billingEvent()
}

// CheckoutCompleted signals a finished hosted-checkout session. The email may
// be empty; the engine then resolves it through the processor.
type CheckoutCompleted struct {
	EventID         string
	SessionRef      string
	CustomerRef     string
	CustomerEmail   string
	CustomerName    string
	SubscriptionRef string
	OccurredAt      time.Time
}

// SubscriptionUpserted is a created or updated subscription. It is applied as
// a full overwrite of the mutable subscription fields.
type SubscriptionUpserted struct {
	EventID           string
	CustomerRef       string
	SubscriptionRef   string
	Status            string
	PlanRef           string
	PlanName          string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	OccurredAt        time.Time
}

// SubscriptionCanceled marks a subscription as canceled. The row is kept,
// never deleted.
type SubscriptionCanceled struct {
	EventID          string
	SubscriptionRef  string
	CurrentPeriodEnd *time.Time
	OccurredAt       time.Time
}

// InvoicePaymentFailed flags the customer's subscription as past due.
type InvoicePaymentFailed struct {
	EventID     string
	CustomerRef string
	OccurredAt  time.Time
}

func (e CheckoutCompleted) ProviderEventID() string    { return e.EventID }
func (e SubscriptionUpserted) ProviderEventID() string { return e.EventID }
func (e SubscriptionCanceled) ProviderEventID() string { return e.EventID }
func (e InvoicePaymentFailed) ProviderEventID() string { return e.EventID }

func (CheckoutCompleted) billingEvent()    {}
func (SubscriptionUpserted) billingEvent() {}
func (SubscriptionCanceled) billingEvent() {}
func (InvoicePaymentFailed) billingEvent() {}
