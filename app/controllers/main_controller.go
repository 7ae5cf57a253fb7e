package controllers

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/intakecoach/webportal/app/models"
	"github.com/intakecoach/webportal/app/repository"
	"github.com/intakecoach/webportal/internal/pkg/cache"
	"github.com/intakecoach/webportal/internal/pkg/entitlements"
	"github.com/intakecoach/webportal/internal/pkg/env"
	"github.com/intakecoach/webportal/internal/pkg/hcaptcha"
	"github.com/intakecoach/webportal/internal/pkg/mail"
	"github.com/intakecoach/webportal/internal/pkg/metrics/counter"
	"github.com/intakecoach/webportal/internal/pkg/statistics"
	"github.com/intakecoach/webportal/internal/pkg/usercontext"
	"github.com/intakecoach/webportal/internal/pkg/utils"
)

func HandleHome(c *fiber.Ctx) error {
	data := viewData(c, "AI Intake Calls for Law Firms")
	data["Flash"] = flash.Get(c)
	data["IsDev"] = env.IsDev()
	data["Stats"] = statistics.GetPortalStats()

	return c.Render("home", data)
}

const (
	activePlansCacheKey = "plans:active"
	activePlansCacheTTL = 5 * time.Minute
)

// HandlePricing lists the active plans. Checkout buttons post the plan's
// price reference to the checkout session endpoint.
func HandlePricing(c *fiber.Ctx) error {
	plans, err := loadActivePlans()
	if err != nil {
		log.Printf("[Pricing] failed to load plans: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to load pricing")
	}

	data := viewData(c, "Pricing")
	data["Flash"] = flash.Get(c)
	data["Plans"] = plans

	return c.Render("pricing", data)
}

// loadActivePlans serves the pricing table from Redis and falls back to the
// database on a cache miss.
func loadActivePlans() ([]models.Plan, error) {
	if cached, err := cache.Get(activePlansCacheKey); err == nil && cached != "" {
		var plans []models.Plan
		if err := json.Unmarshal([]byte(cached), &plans); err == nil {
			return plans, nil
		}
	}

	plans, err := repository.GetGlobalFactory().GetPlanRepository().GetActive()
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(plans); err == nil {
		_ = cache.Set(activePlansCacheKey, string(encoded), activePlansCacheTTL)
	}

	return plans, nil
}

// HandlePaymentFailed is the landing page for checkout sessions that did not
// settle.
func HandlePaymentFailed(c *fiber.Ctx) error {
	data := viewData(c, "Payment failed")
	data["Flash"] = flash.Get(c)

	return c.Render("payment_failed", data)
}

// HandlePage serves an editor-managed content page by slug and counts the
// view in Redis. The counter is flushed to the database in the background.
func HandlePage(c *fiber.Ctx) error {
	slug := c.Params("slug")

	page, err := repository.GetGlobalFactory().GetPageRepository().GetBySlug(slug)
	if err != nil || !page.IsActive {
		return c.Status(fiber.StatusNotFound).Render("404", viewData(c, "Not Found"))
	}

	if err := counter.AddPageView(page.ID); err != nil {
		log.Printf("[Page] view counter for %s: %v", slug, err)
	}

	data := viewData(c, page.Title)
	data["Page"] = page

	return c.Render("page", data)
}

func HandleContact(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodPost {
		return handleContactSubmit(c)
	}

	data := viewData(c, "Contact")
	data["Flash"] = flash.Get(c)
	data["HCaptchaSitekey"] = env.GetEnv("HCAPTCHA_SITEKEY", "")

	return c.Render("contact", data)
}

func handleContactSubmit(c *fiber.Ctx) error {
	valid, err := hcaptcha.Verify(c.FormValue("h-captcha-response"))
	if err != nil || !valid {
		errorMsg := "Captcha validation failed. Please try again."
		if err != nil && env.IsDev() {
			errorMsg = fmt.Sprintf("Captcha validation failed: %v", err)
		}
		return flash.WithError(c, fiber.Map{"type": "error", "message": errorMsg}).Redirect("/contact")
	}

	email := models.NormalizeEmail(c.FormValue("email"))
	message := c.FormValue("message")
	if email == "" || message == "" {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Email and message are required"}).Redirect("/contact")
	}

	to := env.GetEnv("CONTACT_RECIPIENT", env.GetEnv("SMTP_FROM", ""))
	body := fmt.Sprintf("From: %s\nName: %s\n\n%s", email, c.FormValue("name"), message)
	if err := mail.SendMail(to, "Contact form message", body); err != nil {
		log.Printf("[Contact] send failed: %v", err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Message could not be sent, please try again later"}).Redirect("/contact")
	}

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Thanks! We will get back to you shortly."}).Redirect("/contact")
}

// HandleDashboard is the landing page of the customer portal. It shows the
// current subscription state next to the account details.
func HandleDashboard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	repos := repository.GetGlobalFactory()
	user, err := repos.GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Account could not be loaded"}).Redirect("/login")
	}

	data := viewData(c, "Dashboard")
	data["Flash"] = flash.Get(c)
	data["User"] = user
	data["NeedsSetup"] = user.IsProvisional()
	data["AvatarURL"] = utils.GetGravatarURL(user.Email, 96)

	plan := entitlements.Normalize(userCtx.Plan)
	data["CallMinutes"] = entitlements.MonthlyCallMinutes(plan)
	data["Lines"] = entitlements.ConcurrentLines(plan)
	data["PrioritySupport"] = entitlements.PrioritySupport(plan)

	sub, err := repos.GetSubscriptionRepository().GetByUserID(userCtx.UserID)
	if err == nil {
		data["Subscription"] = sub
		data["Entitled"] = sub.IsEntitling()
	}

	return c.Render("dashboard", data)
}
