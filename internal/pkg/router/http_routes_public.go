package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/intakecoach/webportal/app/controllers"
	"github.com/intakecoach/webportal/internal/pkg/middleware"
	gothfiber "github.com/shareed2k/goth_fiber"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Marketing pages
	app.Get("/pricing", loggedInMiddleware, controllers.HandlePricing)
	app.Get("/page/:slug", loggedInMiddleware, controllers.HandlePage)
	app.Get("/payment-failed", loggedInMiddleware, controllers.HandlePaymentFailed)

	// Checkout return leg; state carried in the session_id query param
	app.Get("/checkout/success", loggedInMiddleware, controllers.HandleCheckoutSuccess)

	// Auth
	app.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)

	// Social OAuth
	app.Get("/auth/:provider", gothfiber.BeginAuthHandler)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)

	// Billing provider webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)
}
