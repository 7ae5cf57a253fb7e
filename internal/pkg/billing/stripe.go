package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	portalsession "github.com/stripe/stripe-go/v83/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/intakecoach/webportal/internal/pkg/env"
)

// StripeProcessor implements Processor against the Stripe API.
type StripeProcessor struct {
	webhookSecret string
}

// NewStripeProcessorFromEnv configures the global Stripe client from
// STRIPE_SECRET_KEY and returns a processor verifying webhooks with
// STRIPE_WEBHOOK_SECRET.
func NewStripeProcessorFromEnv() *StripeProcessor {
	stripe.Key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	return &StripeProcessor{
		webhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	}
}

func (s *StripeProcessor) RetrieveCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := checkoutsession.Get(strings.TrimSpace(sessionRef), params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	out := &CheckoutSession{
		SessionRef:    sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		RedirectURL:   sess.URL,
	}
	if sess.Customer != nil {
		out.CustomerRef = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionRef = sess.Subscription.ID
	}
	if sess.CustomerDetails != nil {
		out.CustomerEmail = sess.CustomerDetails.Email
		out.CustomerName = sess.CustomerDetails.Name
	}
	if out.CustomerEmail == "" {
		out.CustomerEmail = sess.CustomerEmail
	}
	return out, nil
}

func (s *StripeProcessor) RetrieveCustomer(ctx context.Context, customerRef string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(strings.TrimSpace(customerRef), params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if cust.Deleted {
		return nil, fmt.Errorf("%w: %s is deleted", ErrCustomerNotFound, customerRef)
	}
	return &Customer{
		CustomerRef: cust.ID,
		Email:       cust.Email,
		Name:        cust.Name,
	}, nil
}

// FindOrCreateCustomer resolves the Stripe customer for an email, creating
// one when the account has never been through checkout. Used by the billing
// portal path.
func (s *StripeProcessor) FindOrCreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	listParams := &stripe.CustomerListParams{
		Email: stripe.String(strings.TrimSpace(email)),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := customer.List(listParams)
	for iter.Next() {
		c := iter.Customer()
		return &Customer{CustomerRef: c.ID, Email: c.Email, Name: c.Name}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, classifyStripeError(err)
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(strings.TrimSpace(email)),
	}
	createParams.Context = ctx
	if name != "" {
		createParams.Name = stripe.String(name)
	}
	cust, err := customer.New(createParams)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &Customer{CustomerRef: cust.ID, Email: cust.Email, Name: cust.Name}, nil
}

func (s *StripeProcessor) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(p.SuccessURL),
		CancelURL:                stripe.String(p.CancelURL),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		AllowPromotionCodes:      stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("source", "intakecoach_website")

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &CheckoutSession{
		SessionRef:    sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		RedirectURL:   sess.URL,
	}, nil
}

func (s *StripeProcessor) CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(strings.TrimSpace(customerRef)),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return sess.URL, nil
}

// VerifyAndParseWebhook checks the Stripe-Signature header against the raw
// payload and translates the event into the engine's normalized form.
// Event types outside our coverage come back with a nil Event.
func (s *StripeProcessor) VerifyAndParseWebhook(payload []byte, signatureHeader string) (*WebhookEnvelope, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return translateStripeEvent(&event)
}

// translateStripeEvent maps a verified Stripe event onto the engine's event
// union. Payloads are decoded with minimal local structs so translation does
// not depend on the webhook's API version.
func translateStripeEvent(event *stripe.Event) (*WebhookEnvelope, error) {
	envelope := &WebhookEnvelope{
		EventID:   event.ID,
		EventType: string(event.Type),
	}
	if event.Created > 0 {
		envelope.OccurredAt = time.Unix(event.Created, 0).UTC()
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripeCheckoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("billing: decode checkout session payload: %w", err)
		}
		email := sess.CustomerDetails.Email
		if email == "" {
			email = sess.CustomerEmail
		}
		envelope.Event = CheckoutCompleted{
			EventID:         event.ID,
			SessionRef:      sess.ID,
			CustomerRef:     sess.Customer,
			CustomerEmail:   email,
			CustomerName:    sess.CustomerDetails.Name,
			SubscriptionRef: sess.Subscription,
			OccurredAt:      envelope.OccurredAt,
		}

	case "customer.subscription.created", "customer.subscription.updated":
		sub, err := decodeStripeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		envelope.Event = SubscriptionUpserted{
			EventID:           event.ID,
			CustomerRef:       sub.Customer,
			SubscriptionRef:   sub.ID,
			Status:            sub.Status,
			PlanRef:           sub.planRef(),
			PlanName:          sub.planName(),
			CurrentPeriodEnd:  sub.currentPeriodEnd(),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			OccurredAt:        envelope.OccurredAt,
		}

	case "customer.subscription.deleted":
		sub, err := decodeStripeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		envelope.Event = SubscriptionCanceled{
			EventID:          event.ID,
			SubscriptionRef:  sub.ID,
			CurrentPeriodEnd: sub.currentPeriodEnd(),
			OccurredAt:       envelope.OccurredAt,
		}

	case "invoice.payment_failed":
		var inv stripeInvoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("billing: decode invoice payload: %w", err)
		}
		envelope.Event = InvoicePaymentFailed{
			EventID:     event.ID,
			CustomerRef: inv.Customer,
			OccurredAt:  envelope.OccurredAt,
		}
	}

	return envelope, nil
}

type stripeCheckoutSessionPayload struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	Subscription  string `json:"subscription"`
	PaymentStatus string `json:"payment_status"`
}

type stripeSubscriptionPayload struct {
	ID                   string `json:"id"`
	Customer             string `json:"customer"`
	Status               string `json:"status"`
	CancelAtPeriodEnd    bool   `json:"cancel_at_period_end"`
	CurrentPeriodEndUnix int64  `json:"current_period_end"`
	Items                struct {
		Data []struct {
			CurrentPeriodEndUnix int64 `json:"current_period_end"`
			Price                struct {
				ID       string `json:"id"`
				Nickname string `json:"nickname"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoicePayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

func decodeStripeSubscription(raw json.RawMessage) (*stripeSubscriptionPayload, error) {
	var sub stripeSubscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("billing: decode subscription payload: %w", err)
	}
	return &sub, nil
}

func (s *stripeSubscriptionPayload) planRef() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

func (s *stripeSubscriptionPayload) planName() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	if n := s.Items.Data[0].Price.Nickname; n != "" {
		return n
	}
	return s.Items.Data[0].Price.ID
}

// currentPeriodEnd handles both payload shapes: older API versions carry the
// period end on the subscription, newer ones on each item.
func (s *stripeSubscriptionPayload) currentPeriodEnd() *time.Time {
	end := s.CurrentPeriodEndUnix
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEndUnix > end {
			end = item.CurrentPeriodEndUnix
		}
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", ErrCustomerNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
}
