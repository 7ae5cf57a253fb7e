package controllers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/intakecoach/webportal/app/models"
	"github.com/intakecoach/webportal/app/repository"
	"github.com/intakecoach/webportal/internal/pkg/billing"
	"github.com/intakecoach/webportal/internal/pkg/database"
	"github.com/intakecoach/webportal/internal/pkg/mail"
	"github.com/intakecoach/webportal/internal/pkg/session"
	"github.com/intakecoach/webportal/internal/pkg/usercontext"
)

func HandleAuthLogin(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodPost {
		return handleLoginSubmit(c)
	}

	data := viewData(c, "Log in")
	data["Flash"] = flash.Get(c)

	return c.Render("auth/login", data)
}

func handleLoginSubmit(c *fiber.Ctx) error {
	fm := fiber.Map{"type": "error"}

	// notice: failures stay generic so the form cannot be used to probe
	// which emails have accounts
	user, err := repository.GetGlobalFactory().GetUserRepository().GetByEmail(c.FormValue("email"))
	if err != nil {
		fm["message"] = "Invalid email or password"

		return flash.WithError(c, fm).Redirect("/login")
	}

	if !user.CheckPassword(c.FormValue("password")) {
		fm["message"] = "Invalid email or password"

		return flash.WithError(c, fm).Redirect("/login")
	}

	if user.Status == models.STATUS_DISABLED {
		fm["message"] = "Invalid email or password"

		return flash.WithError(c, fm).Redirect("/login")
	}

	if err := establishSession(c, user); err != nil {
		fm["message"] = fmt.Sprintf("something went wrong: %s", err)

		return flash.WithError(c, fm).Redirect("/login")
	}

	database.GetDB().Model(user).Update("last_login_at", time.Now())

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Welcome back!"}).Redirect("/dashboard")
}

// establishSession writes the authenticated user into the session store.
// The cached plan is cleared so the next request re-reads the subscription.
func establishSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}

	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.Role == "admin")
	sess.Delete(usercontext.KeyUserPlan)

	return sess.Save()
}

func HandleAuthLogout(c *fiber.Ctx) error {
	fm := fiber.Map{"type": "error"}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		fm["message"] = "logged out (no sess)"

		return flash.WithError(c, fm).Redirect("/login")
	}

	if err := sess.Destroy(); err != nil {
		fm["message"] = fmt.Sprintf("something went wrong: %s", err)

		return flash.WithError(c, fm).Redirect("/login")
	}

	c.Locals(usercontext.KeyFromProtected, false)

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "See you soon!"}).Redirect("/login")
}

// HandleCompleteAccount lets a freshly provisioned customer set their own
// password. The email is prefilled from the checkout redirect but the
// operation works for any provisional account.
func HandleCompleteAccount(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodPost {
		return handleCompleteAccountSubmit(c)
	}

	data := viewData(c, "Finish your account")
	data["Flash"] = flash.Get(c)
	data["Email"] = c.Query("email")

	return c.Render("auth/complete_account", data)
}

func handleCompleteAccountSubmit(c *fiber.Ctx) error {
	email := models.NormalizeEmail(c.FormValue("email"))
	password := c.FormValue("password")

	if email == "" || len(password) < 8 {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Password must be at least 8 characters"}).Redirect("/complete-account?email=" + email)
	}
	if password != c.FormValue("password_confirm") {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Passwords do not match"}).Redirect("/complete-account?email=" + email)
	}

	prov := newProvisioner()
	if _, err := prov.CompleteAccountSetup(c.Context(), email, password); err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Account setup failed, please try again"}).Redirect("/complete-account?email=" + email)
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByEmail(email)
	if err == nil {
		if err := establishSession(c, user); err == nil {
			return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Your account is ready!"}).Redirect("/dashboard")
		}
	}

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Your account is ready, please log in"}).Redirect("/login")
}

func newProvisioner() *billing.Provisioner {
	return billing.NewProvisionerFromDB(database.GetDB(), billing.NewStripeProcessorFromEnv(), mail.SendAccountSetupMail)
}
