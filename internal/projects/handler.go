package projects

import (
	"context"
	"errors"
	"time"

	"sitestock-backend/internal/audit"
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type Deps struct {
	Ledger  *ledger.Service
	Audit   *audit.Writer
	Timeout time.Duration
}

type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ProjectSummary is a project without its material collections.
type ProjectSummary struct {
	ID             string          `json:"projectId"`
	ClientID       string          `json:"clientId"`
	Name           string          `json:"name"`
	Spent          decimal.Decimal `json:"spent"`
	AvailableCount int             `json:"availableCount"`
	UsedCount      int             `json:"usedCount"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func summarize(p ledger.Project) ProjectSummary {
	return ProjectSummary{
		ID:             p.ID,
		ClientID:       p.ClientID,
		Name:           p.Name,
		Spent:          p.Spent,
		AvailableCount: len(p.Available),
		UsedCount:      len(p.Used),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// POST /api/projects
func CreateProjectHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateProjectRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), d.timeout())
		defer cancel()

		clientID := auth.ClientID(c)
		p, err := d.Ledger.CreateProject(ctx, clientID, body.Name)
		if err != nil {
			return toFiberError(err)
		}

		d.Audit.Record(ctx, audit.LogOptions{
			ClientID:    clientID,
			ProjectID:   p.ID,
			UserID:      auth.UserID(c),
			EntityType:  audit.EntityProject,
			EntityID:    p.ID,
			Action:      models.AuditActionCreate,
			Description: "project created: " + p.Name,
			After:       summarize(p),
		})

		return c.Status(fiber.StatusCreated).JSON(summarize(p))
	}
}

// GET /api/projects/:id
// ?full=true also returns the available and used collections.
func GetProjectHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d.timeout())
		defer cancel()

		p, err := d.Ledger.GetProject(ctx, c.Params("id"), auth.ClientID(c))
		if err != nil {
			return toFiberError(err)
		}
		if c.QueryBool("full") {
			return c.JSON(p)
		}
		return c.JSON(summarize(p))
	}
}

func (d Deps) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 10 * time.Second
	}
	return d.Timeout
}

func toFiberError(err error) error {
	var le *ledger.Error
	if !errors.As(err, &le) {
		return fiber.NewError(fiber.StatusInternalServerError, "Internal server error")
	}
	switch le.Code {
	case ledger.CodeInvalidArgument:
		return fiber.NewError(fiber.StatusBadRequest, le.Message)
	case ledger.CodeNotFound:
		return fiber.NewError(fiber.StatusNotFound, le.Message)
	case ledger.CodeConflict:
		return fiber.NewError(fiber.StatusConflict, "The project was modified concurrently, please retry")
	case ledger.CodeUnavailable:
		return fiber.NewError(fiber.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "Internal server error")
}
