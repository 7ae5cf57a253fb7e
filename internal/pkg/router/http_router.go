package router

import (
	"github.com/intakecoach/webportal/app/controllers"
	"github.com/intakecoach/webportal/internal/pkg/middleware"
	"github.com/intakecoach/webportal/internal/pkg/oauth"
	"github.com/intakecoach/webportal/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Initialize admin page controller with repository
	controllers.InitializeAdminPageController()

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func loggedInMiddleware(c *fiber.Ctx) error {
	// UserContextMiddleware already set all user context; this is a
	// pass-through kept for route readability.
	return c.Next()
}
