package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/intakecoach/webportal/internal/pkg/usercontext"
)

func isLoggedIn(c *fiber.Ctx) bool {
	var fromProtected bool
	if protectedValue := c.Locals(usercontext.KeyFromProtected); protectedValue != nil {
		fromProtected = protectedValue.(bool)
	}

	return fromProtected
}

func csrfToken(c *fiber.Ctx) string {
	if v := c.Locals("csrf"); v != nil {
		if token, ok := v.(string); ok {
			return token
		}
	}

	return ""
}

// viewData seeds the fiber.Map every page render starts from so templates
// always see the auth state and CSRF token.
func viewData(c *fiber.Ctx, title string) fiber.Map {
	userCtx := usercontext.GetUserContext(c)

	return fiber.Map{
		"Title":      title,
		"IsLoggedIn": userCtx.IsLoggedIn,
		"IsAdmin":    userCtx.IsAdmin,
		"Username":   userCtx.Username,
		"Plan":       userCtx.Plan,
		"CSRFToken":  csrfToken(c),
	}
}
