package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/intakecoach/webportal/app/controllers"
)

// APIServer implements the public v1 API surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetAccountStatus returns account information for the authenticated user.
// Security is enforced via session middleware attached in the router.
func (s *APIServer) GetAccountStatus(c *fiber.Ctx) error {
	return controllers.HandleGetAccountStatus(c)
}

// GetSubscription returns the authenticated user's subscription state
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	return controllers.HandleGetSubscription(c)
}

// PostAccountComplete sets the account password after provisioning
func (s *APIServer) PostAccountComplete(c *fiber.Ctx) error {
	return controllers.HandleCompleteAccountAPI(c)
}

// PostCheckoutSession starts a hosted checkout for a plan
func (s *APIServer) PostCheckoutSession(c *fiber.Ctx) error {
	return controllers.HandleCheckoutSessionCreate(c)
}

// PostBillingPortal redirects to the processor's self-service portal
func (s *APIServer) PostBillingPortal(c *fiber.Ctx) error {
	return controllers.HandleBillingPortal(c)
}
