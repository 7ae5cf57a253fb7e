package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/intakecoach/webportal/app/models"
	"gorm.io/gorm"
)

// SetupNotifier is called after an account was provisioned from a payment
// event so the customer can be invited to pick a password. Failures are
// logged, never propagated; provisioning must not depend on mail delivery.
type SetupNotifier func(email, name string)

// Provisioner consumes payment-processor events and creates, updates or
// skips local account state. Every handler is a safe-to-repeat upsert:
// events may be redelivered or arrive out of order, and replaying an event
// must not change state beyond its first successful application.
type Provisioner struct {
	repo      Repository
	processor Processor
	notify    SetupNotifier
	locks     *keyMutex
}

// engineLocks is shared by every engine in the process. Handlers build a
// fresh Provisioner per request, so per-instance locks would not serialize
// concurrent deliveries for the same customer.
var engineLocks = newKeyMutex()

// NewProvisioner creates a provisioning engine. notify may be nil.
func NewProvisioner(repo Repository, processor Processor, notify SetupNotifier) *Provisioner {
	return &Provisioner{
		repo:      repo,
		processor: processor,
		notify:    notify,
		locks:     engineLocks,
	}
}

// NewProvisionerFromDB creates a provisioning engine from a GORM DB handle.
func NewProvisionerFromDB(db *gorm.DB, processor Processor, notify SetupNotifier) *Provisioner {
	return NewProvisioner(NewRepository(db), processor, notify)
}

// HandleEvent dispatches a normalized billing event to its handler.
func (p *Provisioner) HandleEvent(ctx context.Context, ev Event) (Result, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, e)
	case SubscriptionUpserted:
		return p.handleSubscriptionUpserted(ctx, e)
	case SubscriptionCanceled:
		return p.handleSubscriptionCanceled(ctx, e)
	case InvoicePaymentFailed:
		return p.handleInvoicePaymentFailed(ctx, e)
	default:
		return ResultSkipped, fmt.Errorf("billing: unknown event type %T", ev)
	}
}

func (p *Provisioner) handleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) (Result, error) {
	email, name, err := p.resolveCustomerIdentity(ctx, ev.CustomerEmail, ev.CustomerName, ev.CustomerRef)
	if err != nil {
		return ResultSkipped, err
	}
	if email == "" {
		return ResultSkipped, fmt.Errorf("%w: checkout session %s", ErrMissingCustomerEmail, ev.SessionRef)
	}

	unlock := p.locks.Lock("customer:" + ev.CustomerRef)
	defer unlock()

	user, created, err := p.findOrCreateUser(email, name)
	if err != nil {
		return ResultSkipped, err
	}

	sub, err := p.subscriptionForLink(user, ev.CustomerRef)
	if err != nil {
		if errors.Is(err, ErrCustomerRefConflict) {
			log.Printf("billing: checkout %s: %v", ev.SessionRef, err)
			return ResultSkipped, nil
		}
		return ResultSkipped, err
	}
	if sub != nil {
		if ev.SubscriptionRef != "" {
			sub.SubscriptionRef = ev.SubscriptionRef
		}
		stampEventTime(sub, ev.OccurredAt)
		if err := p.repo.UpsertSubscription(sub); err != nil {
			return ResultSkipped, err
		}
	}

	if created {
		p.sendSetupNotice(user)
		return ResultCreated, nil
	}
	return ResultUpdated, nil
}

func (p *Provisioner) handleSubscriptionUpserted(ctx context.Context, ev SubscriptionUpserted) (Result, error) {
	unlock := p.locks.Lock("customer:" + ev.CustomerRef)
	defer unlock()

	result := ResultUpdated

	sub, err := p.repo.GetSubscriptionByCustomerRef(ev.CustomerRef)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ResultSkipped, err
		}
		// The checkout-completed event was missed or is still on its way:
		// provision the account from the processor's customer record.
		email, name, rerr := p.resolveCustomerIdentity(ctx, "", "", ev.CustomerRef)
		if rerr != nil {
			return ResultSkipped, rerr
		}
		if email == "" {
			return ResultSkipped, fmt.Errorf("%w: customer %s", ErrMissingCustomerEmail, ev.CustomerRef)
		}
		user, created, uerr := p.findOrCreateUser(email, name)
		if uerr != nil {
			return ResultSkipped, uerr
		}
		if created {
			p.sendSetupNotice(user)
			result = ResultCreated
		}
		sub, err = p.subscriptionForLink(user, ev.CustomerRef)
		if err != nil {
			if errors.Is(err, ErrCustomerRefConflict) {
				log.Printf("billing: subscription %s: %v", ev.SubscriptionRef, err)
				return ResultSkipped, nil
			}
			return ResultSkipped, err
		}
	} else if staleCancellationReplay(sub, ev) {
		// A canceled subscription is never resurrected by a redelivered
		// update that does not provably postdate the cancellation.
		log.Printf("billing: ignoring stale update for canceled subscription %s", ev.SubscriptionRef)
		return ResultSkipped, nil
	}

	// Full overwrite of the mutable fields keyed by the customer ref makes
	// this handler naturally idempotent.
	sub.SubscriptionRef = ev.SubscriptionRef
	sub.Status = models.NormalizeBillingStatus(ev.Status)
	sub.PlanRef = ev.PlanRef
	sub.PlanName = ev.PlanName
	sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	stampEventTime(sub, ev.OccurredAt)

	if err := p.repo.UpsertSubscription(sub); err != nil {
		return ResultSkipped, err
	}
	return result, nil
}

func (p *Provisioner) handleSubscriptionCanceled(ctx context.Context, ev SubscriptionCanceled) (Result, error) {
	unlock := p.locks.Lock("subscription:" + ev.SubscriptionRef)
	defer unlock()

	sub, err := p.repo.GetSubscriptionBySubscriptionRef(ev.SubscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Cancellation can race account cleanup or be a retry for state
			// that was already reconciled.
			log.Printf("billing: cancellation for unknown subscription %s, ignoring", ev.SubscriptionRef)
			return ResultSkipped, nil
		}
		return ResultSkipped, err
	}

	sub.Status = models.BillingStatusCanceled
	sub.CancelAtPeriodEnd = false
	if ev.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	stampEventTime(sub, ev.OccurredAt)

	if err := p.repo.UpsertSubscription(sub); err != nil {
		return ResultSkipped, err
	}
	return ResultUpdated, nil
}

func (p *Provisioner) handleInvoicePaymentFailed(ctx context.Context, ev InvoicePaymentFailed) (Result, error) {
	unlock := p.locks.Lock("customer:" + ev.CustomerRef)
	defer unlock()

	sub, err := p.repo.GetSubscriptionByCustomerRef(ev.CustomerRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("billing: payment failure for unknown customer %s, ignoring", ev.CustomerRef)
			return ResultSkipped, nil
		}
		return ResultSkipped, err
	}
	if !sub.HasSubscription() {
		return ResultSkipped, nil
	}

	sub.Status = models.BillingStatusPastDue
	stampEventTime(sub, ev.OccurredAt)

	if err := p.repo.UpsertSubscription(sub); err != nil {
		return ResultSkipped, err
	}
	return ResultUpdated, nil
}

// CompleteAccountSetup sets the account's credential, creating the account
// if it does not exist yet. It covers both "finish initial setup" after
// provisioning and "change password"; the account becomes active either way.
// Email and billing linkage are never touched here.
func (p *Provisioner) CompleteAccountSetup(ctx context.Context, email, newCredential string) (Result, error) {
	norm := models.NormalizeEmail(email)

	unlock := p.locks.Lock("email:" + norm)
	defer unlock()

	user, err := p.repo.GetUserByEmail(norm)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ResultSkipped, err
		}
		// Checkout never reached us for this email; create the account now.
		name := norm
		if at := strings.Index(norm, "@"); at > 0 {
			name = norm[:at]
		}
		user, err = models.CreateUser(name, norm, newCredential)
		if err != nil {
			return ResultSkipped, err
		}
		if err := p.repo.CreateUser(user); err != nil {
			return ResultSkipped, err
		}
		return ResultCreated, nil
	}

	if err := user.SetPassword(newCredential); err != nil {
		return ResultSkipped, err
	}
	user.Status = models.STATUS_ACTIVE
	if err := p.repo.SaveUser(user); err != nil {
		return ResultSkipped, err
	}
	return ResultUpdated, nil
}

// WebhookOutcome describes what became of one webhook delivery.
type WebhookOutcome struct {
	Duplicate bool
	Ignored   bool
	Result    Result
}

// ProcessWebhook records a verified delivery and applies its event. A
// redelivery short-circuits only when the stored event already processed
// cleanly; an earlier failed attempt runs again, so a transient failure is
// never buried by deduplication.
func (p *Provisioner) ProcessWebhook(ctx context.Context, envelope *WebhookEnvelope, payloadJSON string) (WebhookOutcome, error) {
	created, stored, err := p.RecordWebhookEvent(ctx, envelope.EventID, envelope.EventType, payloadJSON, true)
	if err != nil {
		return WebhookOutcome{}, err
	}
	if !created && stored.Processed() {
		return WebhookOutcome{Duplicate: true}, nil
	}

	if envelope.Event == nil {
		if err := p.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
			log.Printf("billing: mark webhook %d processed: %v", stored.ID, err)
		}
		return WebhookOutcome{Ignored: true}, nil
	}

	result, err := p.HandleEvent(ctx, envelope.Event)
	if markErr := p.MarkWebhookProcessed(ctx, stored.ID, err); markErr != nil {
		log.Printf("billing: mark webhook %d processed: %v", stored.ID, markErr)
	}
	if err != nil {
		return WebhookOutcome{}, err
	}
	return WebhookOutcome{Result: result}, nil
}

// EnsureBillingCustomer returns the customer ref linked to the account,
// creating the processor-side customer and the link when the account has
// none. The link is written under the same customer lock the webhook
// handlers take.
func (p *Provisioner) EnsureBillingCustomer(ctx context.Context, user *models.User) (string, error) {
	sub, err := p.repo.GetSubscriptionByUserID(user.ID)
	if err == nil && sub.CustomerRef != "" {
		return sub.CustomerRef, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	cust, err := p.processor.FindOrCreateCustomer(ctx, user.Email, user.Name)
	if err != nil {
		return "", err
	}

	unlock := p.locks.Lock("customer:" + cust.CustomerRef)
	defer unlock()

	sub, err = p.subscriptionForLink(user, cust.CustomerRef)
	if err != nil {
		return "", err
	}
	if err := p.repo.UpsertSubscription(sub); err != nil {
		return "", err
	}
	return cust.CustomerRef, nil
}

// RecordWebhookEvent persists webhook payloads idempotently. The returned
// bool is false when the event id was seen before.
func (p *Provisioner) RecordWebhookEvent(ctx context.Context, eventID, eventType, payloadJSON string, signatureValid bool) (bool, *models.BillingWebhookEvent, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		sum := sha256.Sum256([]byte(payloadJSON))
		id = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: id,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     payloadJSON,
		SignatureValid:  signatureValid,
	}
	return p.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (p *Provisioner) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("billing: webhook event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return p.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// resolveCustomerIdentity returns the case-folded email and display name, via
// the processor when the event itself did not carry them.
func (p *Provisioner) resolveCustomerIdentity(ctx context.Context, email, name, customerRef string) (string, string, error) {
	email = models.NormalizeEmail(email)
	if email != "" {
		return email, name, nil
	}
	if customerRef == "" {
		return "", name, nil
	}
	cust, err := p.processor.RetrieveCustomer(ctx, customerRef)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return "", name, nil
		}
		return "", name, err
	}
	if name == "" {
		name = cust.Name
	}
	return models.NormalizeEmail(cust.Email), name, nil
}

// findOrCreateUser looks up the account by case-folded email and provisions
// a provisional one when absent. A create that loses a race against a
// concurrent signup falls back to the winner's row.
func (p *Provisioner) findOrCreateUser(email, name string) (*models.User, bool, error) {
	user, err := p.repo.GetUserByEmail(email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user, err = models.NewProvisionalUser(name, email)
	if err != nil {
		return nil, false, err
	}
	if err := p.repo.CreateUser(user); err != nil {
		if existing, lookupErr := p.repo.GetUserByEmail(email); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return user, true, nil
}

// subscriptionForLink returns the subscription row to update for a checkout,
// creating the customer link when the account has none. The customer ref is
// set once; a different existing link is reported, not reassigned. A nil row
// with nil error means there is nothing to write.
func (p *Provisioner) subscriptionForLink(user *models.User, customerRef string) (*models.BillingSubscription, error) {
	sub, err := p.repo.GetSubscriptionByCustomerRef(customerRef)
	if err == nil {
		if sub.UserID != user.ID {
			return nil, fmt.Errorf("%w: %s belongs to user %d, event targets user %d",
				ErrCustomerRefConflict, customerRef, sub.UserID, user.ID)
		}
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	existing, err := p.repo.GetSubscriptionByUserID(user.ID)
	if err == nil {
		if existing.CustomerRef != customerRef {
			return nil, fmt.Errorf("%w: user %d already linked to %s",
				ErrCustomerRefConflict, user.ID, existing.CustomerRef)
		}
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return &models.BillingSubscription{
		UserID:      user.ID,
		CustomerRef: customerRef,
		Status:      models.BillingStatusActive,
	}, nil
}

// staleCancellationReplay reports whether an update event for a canceled
// subscription should be dropped. Without a provider sequence number the
// event timestamp is the only ordering signal; when it cannot prove the
// update postdates the cancellation, the cancellation wins.
func staleCancellationReplay(sub *models.BillingSubscription, ev SubscriptionUpserted) bool {
	if sub.Status != models.BillingStatusCanceled {
		return false
	}
	if sub.SubscriptionRef != "" && sub.SubscriptionRef != ev.SubscriptionRef {
		// The customer started a new subscription; that is not a replay.
		return false
	}
	if ev.OccurredAt.IsZero() || sub.LastEventAt == nil {
		return true
	}
	return !ev.OccurredAt.After(*sub.LastEventAt)
}

func stampEventTime(sub *models.BillingSubscription, occurredAt time.Time) {
	if occurredAt.IsZero() {
		return
	}
	if sub.LastEventAt == nil || occurredAt.After(*sub.LastEventAt) {
		t := occurredAt
		sub.LastEventAt = &t
	}
}

func (p *Provisioner) sendSetupNotice(user *models.User) {
	if p.notify == nil {
		return
	}
	p.notify(user.Email, user.Name)
}
