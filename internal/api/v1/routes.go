package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/intakecoach/webportal/internal/pkg/middleware"
)

// RegisterHandlers attaches the v1 API surface to the given router group.
// Checkout and account completion are reachable without a session; they are
// the endpoints a paying customer uses before an account exists.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)

	r.Post("/checkout/session", s.PostCheckoutSession)
	r.Post("/account/complete", s.PostAccountComplete)

	r.Get("/account/status", s.GetAccountStatus)
	r.Get("/subscription", middleware.RequireAPISessionAuth, s.GetSubscription)
	r.Post("/billing/portal", middleware.RequireAPISessionAuth, s.PostBillingPortal)
}
