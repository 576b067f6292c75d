package projects

import (
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts project endpoints; only owners open projects.
func RegisterRoutes(r fiber.Router, d Deps) {
	r.Post("/projects", auth.RequireRole(models.RoleOwner), CreateProjectHandler(d))
	r.Get("/projects/:id", GetProjectHandler(d))
}
