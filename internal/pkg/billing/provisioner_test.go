package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/intakecoach/webportal/app/models"
)

type fakeRepository struct {
	mu      sync.Mutex
	nextID  uint
	users   map[string]*models.User // keyed by normalized email
	subs    map[string]*models.BillingSubscription
	events  map[string]*models.BillingWebhookEvent
	marked  map[uint]string
	eventID uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:  make(map[string]*models.User),
		subs:   make(map[string]*models.BillingSubscription),
		events: make(map[string]*models.BillingWebhookEvent),
		marked: make(map[uint]string),
	}
}

func (r *fakeRepository) GetUserByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[models.NormalizeEmail(email)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepository) CreateUser(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	norm := models.NormalizeEmail(user.Email)
	if _, exists := r.users[norm]; exists {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	user.ID = r.nextID
	user.Email = norm
	cp := *user
	r.users[norm] = &cp
	return nil
}

func (r *fakeRepository) SaveUser(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	cp.Email = models.NormalizeEmail(cp.Email)
	r.users[cp.Email] = &cp
	return nil
}

func (r *fakeRepository) GetSubscriptionByUserID(userID uint) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) GetSubscriptionByCustomerRef(ref string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepository) GetSubscriptionBySubscriptionRef(ref string) (*models.BillingSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.SubscriptionRef == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) UpsertSubscription(sub *models.BillingSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.CustomerRef] = &cp
	return nil
}

func (r *fakeRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + ":" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.eventID++
	event.ID = r.eventID
	cp := *event
	r.events[key] = &cp
	stored := cp
	return true, &stored, nil
}

func (r *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked[id] = processingError
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessingError = processingError
			if processingError == "" {
				now := time.Now()
				ev.ProcessedAt = &now
			}
		}
	}
	return nil
}

type fakeProcessor struct {
	customers map[string]*Customer
	err       error
}

func (p *fakeProcessor) RetrieveCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error) {
	return nil, ErrProcessorUnavailable
}

func (p *fakeProcessor) RetrieveCustomer(ctx context.Context, customerRef string) (*Customer, error) {
	if p.err != nil {
		return nil, p.err
	}
	c, ok := p.customers[customerRef]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return c, nil
}

func (p *fakeProcessor) FindOrCreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	if p.err != nil {
		return nil, p.err
	}
	norm := models.NormalizeEmail(email)
	for _, c := range p.customers {
		if models.NormalizeEmail(c.Email) == norm {
			return c, nil
		}
	}
	c := &Customer{
		CustomerRef: fmt.Sprintf("cus_minted_%d", len(p.customers)+1),
		Email:       norm,
		Name:        name,
	}
	p.customers[c.CustomerRef] = c
	return c, nil
}

func (p *fakeProcessor) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	return nil, ErrProcessorUnavailable
}

func (p *fakeProcessor) CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	return "", ErrProcessorUnavailable
}

func (p *fakeProcessor) VerifyAndParseWebhook(payload []byte, signatureHeader string) (*WebhookEnvelope, error) {
	return nil, ErrInvalidSignature
}

func newTestProvisioner(repo *fakeRepository, proc *fakeProcessor) (*Provisioner, *[]string) {
	if proc == nil {
		proc = &fakeProcessor{customers: map[string]*Customer{}}
	}
	var notices []string
	p := NewProvisioner(repo, proc, func(email, name string) {
		notices = append(notices, email)
	})
	return p, &notices
}

func checkoutEvent(ref, email string) CheckoutCompleted {
	return CheckoutCompleted{
		EventID:         "evt_" + ref,
		SessionRef:      "cs_" + ref,
		CustomerRef:     ref,
		CustomerEmail:   email,
		SubscriptionRef: "sub_" + ref,
		OccurredAt:      time.Now(),
	}
}

func TestCheckoutCompletedProvisionsAccount(t *testing.T) {
	repo := newFakeRepository()
	p, notices := newTestProvisioner(repo, nil)

	result, err := p.HandleEvent(context.Background(), checkoutEvent("cus_1", "Jane@Firm.com"))
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)

	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_PROVISIONAL, user.Status)
	assert.Equal(t, "jane@firm.com", user.Email)
	assert.NotEmpty(t, user.Password)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, "sub_cus_1", sub.SubscriptionRef)

	require.Len(t, *notices, 1)
	assert.Equal(t, "jane@firm.com", (*notices)[0])
}

func TestCheckoutCompletedReplayIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	p, notices := newTestProvisioner(repo, nil)

	ev := checkoutEvent("cus_1", "jane@firm.com")
	_, err := p.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	firstUser, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)

	result, err := p.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	secondUser, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	assert.Equal(t, firstUser.ID, secondUser.ID)
	assert.Equal(t, firstUser.Password, secondUser.Password, "replay must not rotate the credential")
	assert.Len(t, *notices, 1, "setup notice is only sent on first provisioning")
	assert.Len(t, repo.users, 1)
}

func TestCheckoutCompletedMatchesEmailCaseInsensitively(t *testing.T) {
	repo := newFakeRepository()
	existing, err := models.CreateUser("Jane", "jane@firm.com", "supersecret")
	require.NoError(t, err)
	require.NoError(t, repo.CreateUser(existing))

	p, notices := newTestProvisioner(repo, nil)

	result, err := p.HandleEvent(context.Background(), checkoutEvent("cus_1", "JANE@FIRM.COM"))
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)
	assert.Len(t, repo.users, 1)
	assert.Empty(t, *notices)

	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status, "existing account keeps its status")
	assert.True(t, models.CheckPasswordHash("supersecret", user.Password), "existing credential survives")
}

func TestCheckoutCompletedWithoutEmailIsAbsorbed(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, &fakeProcessor{customers: map[string]*Customer{}})

	ev := checkoutEvent("cus_unknown", "")
	result, err := p.HandleEvent(context.Background(), ev)
	assert.ErrorIs(t, err, ErrMissingCustomerEmail)
	assert.Equal(t, ResultSkipped, result)
	assert.Empty(t, repo.users)
}

func TestCheckoutCompletedResolvesEmailViaProcessor(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{
		"cus_1": {CustomerRef: "cus_1", Email: "Owner@Firm.com", Name: "Owner"},
	}}
	p, _ := newTestProvisioner(repo, proc)

	result, err := p.HandleEvent(context.Background(), checkoutEvent("cus_1", ""))
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)

	user, err := repo.GetUserByEmail("owner@firm.com")
	require.NoError(t, err)
	assert.Equal(t, "Owner", user.Name)
}

func TestSubscriptionUpsertedBeforeCheckoutProvisions(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{
		"cus_1": {CustomerRef: "cus_1", Email: "jane@firm.com", Name: "Jane"},
	}}
	p, notices := newTestProvisioner(repo, proc)

	end := time.Now().Add(30 * 24 * time.Hour)
	result, err := p.HandleEvent(context.Background(), SubscriptionUpserted{
		EventID:          "evt_sub_1",
		CustomerRef:      "cus_1",
		SubscriptionRef:  "sub_1",
		Status:           "active",
		PlanRef:          "price_pro",
		PlanName:         "Professional",
		CurrentPeriodEnd: &end,
		OccurredAt:       time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)

	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_PROVISIONAL, user.Status)
	assert.Len(t, *notices, 1)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, "Professional", sub.PlanName)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
}

func TestSubscriptionUpsertedProcessorDownIsRetryable(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, &fakeProcessor{err: ErrProcessorUnavailable})

	_, err := p.HandleEvent(context.Background(), SubscriptionUpserted{
		EventID:         "evt_sub_1",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		Status:          "active",
		OccurredAt:      time.Now(),
	})
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
	assert.Empty(t, repo.users, "nothing is half-provisioned on a transient failure")
}

func TestCancellationForUnknownSubscriptionIsNoop(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)

	result, err := p.HandleEvent(context.Background(), SubscriptionCanceled{
		EventID:         "evt_cancel",
		SubscriptionRef: "sub_missing",
		OccurredAt:      time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)
	assert.Empty(t, repo.subs)
}

func TestStaleUpdateCannotResurrectCancellation(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	t0 := time.Now().Add(-1 * time.Hour)
	t1 := t0.Add(10 * time.Minute)
	t2 := t0.Add(20 * time.Minute)

	first := checkoutEvent("cus_1", "jane@firm.com")
	first.OccurredAt = t0
	_, err := p.HandleEvent(ctx, first)
	require.NoError(t, err)

	_, err = p.HandleEvent(ctx, SubscriptionCanceled{
		EventID:         "evt_cancel",
		SubscriptionRef: "sub_cus_1",
		OccurredAt:      t1,
	})
	require.NoError(t, err)

	// A redelivered update from before the cancellation must be dropped.
	result, err := p.HandleEvent(ctx, SubscriptionUpserted{
		EventID:         "evt_stale",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_cus_1",
		Status:          "active",
		OccurredAt:      t0,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, sub.Status)

	// An update that provably postdates the cancellation applies.
	result, err = p.HandleEvent(ctx, SubscriptionUpserted{
		EventID:         "evt_fresh",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_cus_1",
		Status:          "active",
		OccurredAt:      t2,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	sub, err = repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
}

func TestNewSubscriptionAfterCancellationApplies(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	_, err := p.HandleEvent(ctx, checkoutEvent("cus_1", "jane@firm.com"))
	require.NoError(t, err)
	_, err = p.HandleEvent(ctx, SubscriptionCanceled{
		EventID:         "evt_cancel",
		SubscriptionRef: "sub_cus_1",
		OccurredAt:      time.Now(),
	})
	require.NoError(t, err)

	// The customer re-subscribed; a different subscription ref is not a
	// replay even without a usable timestamp.
	result, err := p.HandleEvent(ctx, SubscriptionUpserted{
		EventID:         "evt_resub",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_new",
		Status:          "active",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
	assert.Equal(t, "sub_new", sub.SubscriptionRef)
}

func TestInvoicePaymentFailedMarksPastDue(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	_, err := p.HandleEvent(ctx, checkoutEvent("cus_1", "jane@firm.com"))
	require.NoError(t, err)

	result, err := p.HandleEvent(ctx, InvoicePaymentFailed{
		EventID:     "evt_fail",
		CustomerRef: "cus_1",
		OccurredAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusPastDue, sub.Status)
}

func TestInvoicePaymentFailedUnknownCustomerIsNoop(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)

	result, err := p.HandleEvent(context.Background(), InvoicePaymentFailed{
		EventID:     "evt_fail",
		CustomerRef: "cus_missing",
		OccurredAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)
}

func TestCustomerRefConflictIsSkippedNotReassigned(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	_, err := p.HandleEvent(ctx, checkoutEvent("cus_1", "jane@firm.com"))
	require.NoError(t, err)

	// Same customer ref, different email: the link is set once.
	ev := checkoutEvent("cus_1", "attacker@firm.com")
	ev.EventID = "evt_conflict"
	result, err := p.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	owner, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, sub.UserID, "subscription stays with the original account")
}

func TestCompleteAccountSetupActivatesProvisionalAccount(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	_, err := p.HandleEvent(ctx, checkoutEvent("cus_1", "jane@firm.com"))
	require.NoError(t, err)

	result, err := p.CompleteAccountSetup(ctx, "Jane@Firm.com", "chosen-password")
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status)
	assert.True(t, models.CheckPasswordHash("chosen-password", user.Password))
	assert.Equal(t, "jane@firm.com", user.Email, "email is never rewritten")

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, sub.UserID, "billing linkage is untouched")
}

func TestCompleteAccountSetupCreatesAccountWhenCheckoutNeverArrived(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)

	result, err := p.CompleteAccountSetup(context.Background(), "late@firm.com", "chosen-password")
	require.NoError(t, err)
	assert.Equal(t, ResultCreated, result)

	user, err := repo.GetUserByEmail("late@firm.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status)
	assert.Equal(t, "late", user.Name)
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	created, stored, err := p.RecordWebhookEvent(ctx, "evt_1", "checkout.session.completed", "{}", true)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, replay, err := p.RecordWebhookEvent(ctx, "evt_1", "checkout.session.completed", "{}", true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, replay.ID)
}

func TestRecordWebhookEventHashesEmptyEventID(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	created, stored, err := p.RecordWebhookEvent(ctx, "", "checkout.session.completed", `{"id":"x"}`, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(stored.ProviderEventID, "hash:"))

	// Same payload, still no event id: dedups on the payload hash.
	created, _, err = p.RecordWebhookEvent(ctx, "", "checkout.session.completed", `{"id":"x"}`, true)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestConcurrentCheckoutRepliesCreateOneAccount(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.HandleEvent(ctx, checkoutEvent("cus_1", "jane@firm.com"))
		}()
	}
	wg.Wait()

	assert.Len(t, repo.users, 1)
	assert.Len(t, repo.subs, 1)
}

func TestFullLifecycleScenario(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{
		"cus_1": {CustomerRef: "cus_1", Email: "jane@firm.com", Name: "Jane"},
	}}
	p, _ := newTestProvisioner(repo, proc)
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Hour)

	// Subscription update arrives before the checkout event.
	_, err := p.HandleEvent(ctx, SubscriptionUpserted{
		EventID:         "evt_1",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		Status:          "trialing",
		PlanRef:         "price_pro",
		PlanName:        "Professional",
		OccurredAt:      base,
	})
	require.NoError(t, err)

	// The late checkout event is a harmless update.
	ev := checkoutEvent("cus_1", "jane@firm.com")
	ev.SubscriptionRef = "sub_1"
	ev.OccurredAt = base.Add(time.Minute)
	result, err := p.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	// Trial converts, then a payment fails, then the customer cancels.
	_, err = p.HandleEvent(ctx, SubscriptionUpserted{
		EventID:         "evt_2",
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		Status:          "active",
		PlanRef:         "price_pro",
		PlanName:        "Professional",
		OccurredAt:      base.Add(2 * time.Minute),
	})
	require.NoError(t, err)

	_, err = p.HandleEvent(ctx, InvoicePaymentFailed{
		EventID:     "evt_3",
		CustomerRef: "cus_1",
		OccurredAt:  base.Add(3 * time.Minute),
	})
	require.NoError(t, err)

	_, err = p.HandleEvent(ctx, SubscriptionCanceled{
		EventID:         "evt_4",
		SubscriptionRef: "sub_1",
		OccurredAt:      base.Add(4 * time.Minute),
	})
	require.NoError(t, err)

	sub, err := repo.GetSubscriptionByCustomerRef("cus_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, sub.Status)
	assert.False(t, sub.IsEntitling())
	assert.Len(t, repo.users, 1)
}

func TestProcessWebhookRetriesTransientFailure(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{}, err: ErrProcessorUnavailable}
	p, _ := newTestProvisioner(repo, proc)
	ctx := context.Background()

	envelope := &WebhookEnvelope{
		EventID:   "evt_sub_9",
		EventType: "customer.subscription.updated",
		Event: SubscriptionUpserted{
			EventID:         "evt_sub_9",
			CustomerRef:     "cus_9",
			SubscriptionRef: "sub_9",
			Status:          "active",
			PlanRef:         "price_pro",
			PlanName:        "Professional",
			OccurredAt:      time.Now(),
		},
	}

	// First delivery fails on the customer lookup.
	_, err := p.ProcessWebhook(ctx, envelope, `{"id":"evt_sub_9"}`)
	assert.ErrorIs(t, err, ErrProcessorUnavailable)

	stored := repo.events["stripe:evt_sub_9"]
	require.NotNil(t, stored)
	assert.False(t, stored.Processed(), "a failed attempt must stay eligible for redelivery")
	assert.NotEmpty(t, stored.ProcessingError)

	// The processor recovers; the redelivery must apply the event, not be
	// dropped as a duplicate.
	proc.err = nil
	proc.customers["cus_9"] = &Customer{CustomerRef: "cus_9", Email: "jane@firm.com", Name: "Jane"}

	outcome, err := p.ProcessWebhook(ctx, envelope, `{"id":"evt_sub_9"}`)
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, ResultCreated, outcome.Result)

	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	sub, err := repo.GetSubscriptionByCustomerRef("cus_9")
	require.NoError(t, err)
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, models.BillingStatusActive, sub.Status)

	// Only now does the delivery short-circuit.
	outcome, err = p.ProcessWebhook(ctx, envelope, `{"id":"evt_sub_9"}`)
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
}

func TestProcessWebhookAcknowledgesIgnoredEventTypes(t *testing.T) {
	repo := newFakeRepository()
	p, _ := newTestProvisioner(repo, nil)
	ctx := context.Background()

	envelope := &WebhookEnvelope{EventID: "evt_paid", EventType: "invoice.paid"}

	outcome, err := p.ProcessWebhook(ctx, envelope, `{"id":"evt_paid"}`)
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)

	outcome, err = p.ProcessWebhook(ctx, envelope, `{"id":"evt_paid"}`)
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
}

func TestOutOfOrderUpsertCannotRelinkAccount(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{
		"cus_b": {CustomerRef: "cus_b", Email: "jane@firm.com", Name: "Jane"},
	}}
	p, _ := newTestProvisioner(repo, proc)
	ctx := context.Background()

	_, err := p.HandleEvent(ctx, checkoutEvent("cus_a", "jane@firm.com"))
	require.NoError(t, err)

	// A subscription event for a second customer ref resolving to the same
	// email must not give the account a second billing identity.
	result, err := p.HandleEvent(ctx, SubscriptionUpserted{
		EventID:         "evt_b",
		CustomerRef:     "cus_b",
		SubscriptionRef: "sub_b",
		Status:          "active",
		OccurredAt:      time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	_, err = repo.GetSubscriptionByCustomerRef("cus_b")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)
	sub, err := repo.GetSubscriptionByUserID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_a", sub.CustomerRef)
	assert.Len(t, repo.subs, 1)
}

func TestEnsureBillingCustomerReturnsExistingLink(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{}}
	p, _ := newTestProvisioner(repo, proc)
	ctx := context.Background()

	_, err := p.HandleEvent(ctx, checkoutEvent("cus_1", "jane@firm.com"))
	require.NoError(t, err)
	user, err := repo.GetUserByEmail("jane@firm.com")
	require.NoError(t, err)

	// Already linked: the processor must not be consulted.
	proc.err = ErrProcessorUnavailable
	ref, err := p.EnsureBillingCustomer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", ref)
}

func TestEnsureBillingCustomerCreatesAndLinksOnce(t *testing.T) {
	repo := newFakeRepository()
	proc := &fakeProcessor{customers: map[string]*Customer{}}
	p, _ := newTestProvisioner(repo, proc)
	ctx := context.Background()

	user, err := models.CreateUser("Jane", "jane@firm.com", "chosen-password")
	require.NoError(t, err)
	require.NoError(t, repo.CreateUser(user))

	ref, err := p.EnsureBillingCustomer(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	sub, err := repo.GetSubscriptionByCustomerRef(ref)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sub.UserID)

	again, err := p.EnsureBillingCustomer(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Len(t, repo.subs, 1)
}
