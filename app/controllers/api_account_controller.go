package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/intakecoach/webportal/app/models"
	"github.com/intakecoach/webportal/app/repository"
	"github.com/intakecoach/webportal/internal/pkg/usercontext"
)

// HandleGetAccountStatus reports the caller's session state. Anonymous
// callers get a plain "not authenticated" answer, not an error; the portal
// frontend polls this after checkout.
func HandleGetAccountStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.JSON(fiber.Map{"authenticated": false})
	}

	account, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	return c.JSON(fiber.Map{
		"authenticated": true,
		"id":            account.PublicID,
		"email":         account.Email,
		"name":          account.Name,
		"status":        account.Status,
		"needs_setup":   account.IsProvisional(),
		"plan":          userCtx.Plan,
		"created_at":    account.CreatedAt,
	})
}

// HandleGetSubscription returns the authenticated user's subscription state.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	sub, err := repository.GetGlobalFactory().GetSubscriptionRepository().GetByUserID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"has_subscription": false})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	return c.JSON(fiber.Map{
		"has_subscription":     sub.HasSubscription(),
		"status":               sub.Status,
		"plan":                 sub.PlanName,
		"entitled":             sub.IsEntitling(),
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

// HandleCompleteAccountAPI is the JSON variant of the account completion
// flow used by the portal frontend.
func HandleCompleteAccountAPI(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	email := models.NormalizeEmail(req.Email)
	if email == "" || len(req.Password) < 8 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Email and a password of at least 8 characters are required"})
	}

	result, err := newProvisioner().CompleteAccountSetup(c.Context(), email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Account setup failed"})
	}

	return c.JSON(fiber.Map{"ok": true, "result": string(result)})
}
