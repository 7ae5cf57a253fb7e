package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/intakecoach/webportal/app/models"
	"github.com/intakecoach/webportal/app/repository"
)

// AdminPageController manages the editor-facing content page CRUD
type AdminPageController struct {
	pageRepo repository.PageRepository
}

var adminPageController *AdminPageController

// InitializeAdminPageController wires the controller to the global repositories
func InitializeAdminPageController() {
	adminPageController = &AdminPageController{
		pageRepo: repository.GetGlobalFactory().GetPageRepository(),
	}
}

func (apc *AdminPageController) handleError(c *fiber.Ctx, message string, err error) error {
	fm := fiber.Map{
		"type":    "error",
		"message": message + ": " + err.Error(),
	}
	return flash.WithError(c, fm).Redirect("/admin/pages")
}

// HandleAdminPages renders the page management overview
func HandleAdminPages(c *fiber.Ctx) error {
	apc := adminPageController

	pages, err := apc.pageRepo.GetAll()
	if err != nil {
		return apc.handleError(c, "Failed to load pages", err)
	}

	data := viewData(c, "Pages")
	data["Flash"] = flash.Get(c)
	data["Pages"] = pages

	return c.Render("admin/pages", data)
}

// HandleAdminPageCreate renders the page creation form
func HandleAdminPageCreate(c *fiber.Ctx) error {
	data := viewData(c, "New page")
	data["Flash"] = flash.Get(c)
	data["Page"] = models.Page{}
	data["IsEdit"] = false

	return c.Render("admin/page_edit", data)
}

// HandleAdminPageStore handles page creation
func HandleAdminPageStore(c *fiber.Ctx) error {
	apc := adminPageController

	page := &models.Page{
		Title:    c.FormValue("title"),
		Slug:     c.FormValue("slug"),
		Content:  c.FormValue("content"),
		IsActive: c.FormValue("is_active") == "on",
	}
	if err := page.Validate(); err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Title, slug and content are required"}).Redirect("/admin/pages/create")
	}

	if err := apc.pageRepo.Create(page); err != nil {
		return apc.handleError(c, "Failed to create page", err)
	}

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Page created"}).Redirect("/admin/pages")
}

// HandleAdminPageEdit renders the page edit form
func HandleAdminPageEdit(c *fiber.Ctx) error {
	apc := adminPageController

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return apc.handleError(c, "Invalid page id", err)
	}

	page, err := apc.pageRepo.GetByID(uint(id))
	if err != nil {
		return apc.handleError(c, "Page not found", err)
	}

	data := viewData(c, "Edit page")
	data["Flash"] = flash.Get(c)
	data["Page"] = page
	data["IsEdit"] = true

	return c.Render("admin/page_edit", data)
}

// HandleAdminPageUpdate handles page updates
func HandleAdminPageUpdate(c *fiber.Ctx) error {
	apc := adminPageController

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return apc.handleError(c, "Invalid page id", err)
	}

	page, err := apc.pageRepo.GetByID(uint(id))
	if err != nil {
		return apc.handleError(c, "Page not found", err)
	}

	page.Title = c.FormValue("title")
	page.Slug = c.FormValue("slug")
	page.Content = c.FormValue("content")
	page.IsActive = c.FormValue("is_active") == "on"
	if err := page.Validate(); err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Title, slug and content are required"}).Redirect("/admin/pages")
	}

	if err := apc.pageRepo.Update(page); err != nil {
		return apc.handleError(c, "Failed to update page", err)
	}

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Page updated"}).Redirect("/admin/pages")
}

// HandleAdminPageDelete handles page deletion
func HandleAdminPageDelete(c *fiber.Ctx) error {
	apc := adminPageController

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return apc.handleError(c, "Invalid page id", err)
	}

	if err := apc.pageRepo.Delete(uint(id)); err != nil {
		return apc.handleError(c, "Failed to delete page", err)
	}

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Page deleted"}).Redirect("/admin/pages")
}
