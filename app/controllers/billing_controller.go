package controllers

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/intakecoach/webportal/app/repository"
	"github.com/intakecoach/webportal/internal/pkg/billing"
	"github.com/intakecoach/webportal/internal/pkg/env"
	"github.com/intakecoach/webportal/internal/pkg/usercontext"
)

// HandleStripeWebhook ingests billing events. Responses steer the
// processor's retry behavior: absorbed and duplicate events return 200 so
// delivery stops, transient failures return 5xx so the processor retries.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	prov := newProvisioner()
	processor := billing.NewStripeProcessorFromEnv()

	envelope, err := processor.VerifyAndParseWebhook(rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := prov.ProcessWebhook(ctx, envelope, string(rawBody))
	if err != nil {
		if errors.Is(err, billing.ErrMissingCustomerEmail) {
			// Terminal for this event; retrying will never produce an email.
			log.Printf("[StripeWebhook] %s absorbed: %v", envelope.EventType, err)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "absorbed": true})
		}
		if errors.Is(err, billing.ErrProcessorUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "processor_unavailable"})
		}
		log.Printf("[StripeWebhook] %s failed: %v", envelope.EventType, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	if outcome.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if outcome.Ignored {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "result": string(outcome.Result)})
}

// HandleCheckoutSessionCreate starts a hosted checkout for a plan. It is the
// target of the pricing page forms and needs no authenticated session; the
// account is created from the payment events.
func HandleCheckoutSessionCreate(c *fiber.Ctx) error {
	planSlug := c.FormValue("plan")
	plan, err := repository.GetGlobalFactory().GetPlanRepository().GetBySlug(planSlug)
	if err != nil || !plan.IsActive {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Unknown plan"}).Redirect("/pricing")
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	processor := billing.NewStripeProcessorFromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cs, err := processor.CreateCheckoutSession(ctx, billing.CheckoutParams{
		PriceRef:   plan.PriceRef,
		SuccessURL: base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/pricing",
	})
	if err != nil {
		log.Printf("[Checkout] session create failed: %v", err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Checkout is temporarily unavailable"}).Redirect("/pricing")
	}

	return c.Redirect(cs.RedirectURL, fiber.StatusSeeOther)
}

// HandleCheckoutSuccess is the browser's return leg after payment. It runs
// the same provisioning path as the webhook so the account exists even when
// the webhook has not arrived yet; the engine's idempotent upserts make the
// double application harmless.
func HandleCheckoutSuccess(c *fiber.Ctx) error {
	sessionRef := strings.TrimSpace(c.Query("session_id"))
	if sessionRef == "" {
		return c.Redirect("/pricing", fiber.StatusSeeOther)
	}

	processor := billing.NewStripeProcessorFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cs, err := processor.RetrieveCheckoutSession(ctx, sessionRef)
	if err != nil {
		log.Printf("[Checkout] session %s lookup failed: %v", sessionRef, err)
		return c.Redirect("/payment-failed", fiber.StatusSeeOther)
	}
	if cs.PaymentStatus != billing.PaymentStatusPaid {
		return c.Redirect("/payment-failed", fiber.StatusSeeOther)
	}

	prov := newProvisioner()
	if _, err := prov.HandleEvent(ctx, billing.CheckoutCompleted{
		EventID:         "checkout-return:" + sessionRef,
		SessionRef:      cs.SessionRef,
		CustomerRef:     cs.CustomerRef,
		CustomerEmail:   cs.CustomerEmail,
		CustomerName:    cs.CustomerName,
		SubscriptionRef: cs.SubscriptionRef,
		OccurredAt:      time.Now(),
	}); err != nil {
		log.Printf("[Checkout] provisioning from return leg failed: %v", err)
		return c.Redirect("/payment-failed", fiber.StatusSeeOther)
	}

	return c.Redirect("/complete-account?email="+url.QueryEscape(cs.CustomerEmail)+"&session_id="+url.QueryEscape(sessionRef), fiber.StatusSeeOther)
}

// HandleBillingPortal sends the logged-in customer to the processor's
// self-service portal.
func HandleBillingPortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	processor := billing.NewStripeProcessorFromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		log.Printf("[BillingPortal] user %d lookup failed: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "No billing profile found for your account"}).Redirect("/dashboard")
	}

	customerRef, err := newProvisioner().EnsureBillingCustomer(ctx, user)
	if err != nil {
		log.Printf("[BillingPortal] customer resolve failed: %v", err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "No billing profile found for your account"}).Redirect("/dashboard")
	}

	portalURL, err := processor.CreateBillingPortalSession(ctx, customerRef, base+"/dashboard")
	if err != nil {
		log.Printf("[BillingPortal] session create failed: %v", err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "The billing portal is temporarily unavailable"}).Redirect("/dashboard")
	}

	return c.Redirect(portalURL, fiber.StatusSeeOther)
}
