package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sitestock-backend/internal/audit"
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deps is what the material handlers need from the server.
type Deps struct {
	Ledger  *ledger.Service
	Audit   *audit.Writer
	Log     *zap.Logger
	Timeout time.Duration
}

func (d Deps) context(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if d.Timeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), d.Timeout)
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

const msgIDsRequired = "Project ID and Client ID are required"

// GET /api/material-used?projectId=...&clientId=...&sectionId=...
func ListUsedMaterialsHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID := strings.TrimSpace(c.Query("projectId"))
		clientID := strings.TrimSpace(c.Query("clientId"))
		if projectID == "" || clientID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": msgIDsRequired})
		}
		if clientID != auth.ClientID(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Client ID does not match the signed-in account"})
		}

		ctx, cancel := d.context(c)
		defer cancel()

		used, err := d.Ledger.ListUsedMaterials(ctx, projectID, clientID, c.Query("sectionId"))
		if err != nil {
			var le *ledger.Error
			errors.As(err, &le)
			switch ledger.CodeOf(err) {
			case ledger.CodeInvalidArgument:
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": le.Message})
			case ledger.CodeNotFound:
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Project not found"})
			}
			return c.Status(statusOf(err)).JSON(fiber.Map{
				"success": false,
				"message": "Failed to fetch used materials",
				"error":   publicMessage(err),
			})
		}

		return c.JSON(fiber.Map{
			"success":       true,
			"message":       "Used materials fetched successfully",
			"usedMaterials": used,
		})
	}
}

type AllocateUsageRequest struct {
	ProjectID     string          `json:"projectId"`
	MaterialID    string          `json:"materialId"`
	Qnt           json.RawMessage `json:"qnt"`
	SectionID     string          `json:"sectionId"`
	MiniSectionID string          `json:"miniSectionId"`
}

// POST /api/material-usage
func AllocateUsageHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body AllocateUsageRequest
		if err := c.BodyParser(&body); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if strings.TrimSpace(body.ProjectID) == "" || strings.TrimSpace(body.MaterialID) == "" || strings.TrimSpace(body.SectionID) == "" {
			return errorJSON(c, fiber.StatusBadRequest, "projectId, materialId, qnt and sectionId are required")
		}
		qnt, err := parseQuantity(body.Qnt)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := d.context(c)
		defer cancel()

		cmd := ledger.AllocateCommand{
			ProjectID:     body.ProjectID,
			ClientID:      auth.ClientID(c),
			MaterialID:    body.MaterialID,
			SectionID:     body.SectionID,
			MiniSectionID: body.MiniSectionID,
			Qnt:           qnt,
		}
		userID := auth.UserID(c)
		usedBy := ""
		if userID != 0 {
			usedBy = strconv.FormatUint(uint64(userID), 10)
		}

		res, err := d.Ledger.AllocateUsage(ctx, cmd, usedBy)
		if err != nil {
			var le *ledger.Error
			if errors.As(err, &le) && le.Resource == ledger.ResourceMaterial && le.Debug != nil {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"success": false,
					"error":   le.Message,
					"debug":   le.Debug,
				})
			}
			return errorJSON(c, statusOf(err), publicMessage(err))
		}

		d.Audit.Record(ctx, audit.LogOptions{
			ClientID:    cmd.ClientID,
			ProjectID:   cmd.ProjectID,
			UserID:      userID,
			EntityType:  audit.EntityUsedMaterial,
			EntityID:    res.Record.ID,
			Action:      models.AuditActionAllocate,
			Description: fmt.Sprintf("allocated %s %s of %s to section %s", res.Record.Qnt, res.Record.Unit, res.Record.Name, res.Record.SectionID),
			After:       res.Record,
		})

		return c.JSON(fiber.Map{
			"success": true,
			"message": "Material usage recorded successfully",
			"data": fiber.Map{
				"projectId":         cmd.ProjectID,
				"sectionId":         res.Record.SectionID,
				"miniSectionId":     res.Record.MiniSectionID,
				"materialAvailable": res.Available,
				"materialUsed":      res.Used,
				"usedMaterial":      res.Record,
				"spent":             res.Spent,
			},
		})
	}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

type AddStockRequest struct {
	ProjectID     string          `json:"projectId"`
	MaterialName  string          `json:"materialName"`
	Unit          string          `json:"unit"`
	Specs         ledger.Specs    `json:"specs"`
	Qnt           json.RawMessage `json:"qnt"`
	Cost          json.RawMessage `json:"cost"`
	MergeIfExists bool            `json:"mergeIfExists"`
	SectionID     string          `json:"sectionId"`
}

// POST /api/material-available
// cost is the price paid for the whole delivered quantity.
func AddStockHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body AddStockRequest
		if err := c.BodyParser(&body); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
		}
		qnt, err := parseQuantity(body.Qnt)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		cost, err := parseCost(body.Cost)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := d.context(c)
		defer cancel()

		cmd := ledger.AddStockCommand{
			ProjectID:     body.ProjectID,
			ClientID:      auth.ClientID(c),
			Name:          body.MaterialName,
			Unit:          body.Unit,
			Specs:         body.Specs,
			Qnt:           qnt,
			Cost:          cost,
			MergeIfExists: body.MergeIfExists,
			SectionID:     body.SectionID,
		}
		res, err := d.Ledger.AddStock(ctx, cmd)
		if err != nil {
			return errorJSON(c, statusOf(err), publicMessage(err))
		}

		action := models.AuditActionCreate
		status := fiber.StatusCreated
		message := "Material added successfully"
		if res.Merged {
			action = models.AuditActionMerge
			status = fiber.StatusOK
			message = "Material merged into existing stock"
		}
		d.Audit.Record(ctx, audit.LogOptions{
			ClientID:    cmd.ClientID,
			ProjectID:   cmd.ProjectID,
			UserID:      auth.UserID(c),
			EntityType:  audit.EntityBatch,
			EntityID:    res.Batch.ID,
			Action:      action,
			Description: fmt.Sprintf("received %s %s of %s", qnt, res.Batch.Unit, res.Batch.Name),
			After:       res.Batch,
		})

		return c.Status(status).JSON(fiber.Map{
			"success": true,
			"message": message,
			"data": fiber.Map{
				"projectId":         cmd.ProjectID,
				"material":          res.Batch,
				"merged":            res.Merged,
				"materialAvailable": res.Available,
			},
		})
	}
}

// GET /api/material-available?projectId=...&sectionId=...
func ListAvailableMaterialsHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID := strings.TrimSpace(c.Query("projectId"))
		if projectID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": msgIDsRequired})
		}

		ctx, cancel := d.context(c)
		defer cancel()

		batches, err := d.Ledger.ListAvailableMaterials(ctx, projectID, auth.ClientID(c), c.Query("sectionId"))
		if err != nil {
			return c.Status(statusOf(err)).JSON(fiber.Map{
				"success": false,
				"message": publicMessage(err),
			})
		}

		return c.JSON(fiber.Map{
			"success":           true,
			"message":           "Available materials fetched successfully",
			"materialAvailable": batches,
		})
	}
}

func parseQuantity(raw json.RawMessage) (decimal.Decimal, error) {
	d, err := parseDecimal(raw, "qnt")
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New("qnt must be a positive number")
	}
	return d, nil
}

func parseCost(raw json.RawMessage) (decimal.Decimal, error) {
	d, err := parseDecimal(raw, "cost")
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("cost cannot be negative")
	}
	return d, nil
}

// parseDecimal accepts a JSON number or a numeric string.
func parseDecimal(raw json.RawMessage, field string) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return decimal.Zero, errors.New(field + " is required")
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON([]byte(s)); err != nil {
		return decimal.Zero, errors.New(field + " must be a number")
	}
	return d, nil
}

// statusOf maps a ledger error code to an HTTP status.
func statusOf(err error) int {
	switch ledger.CodeOf(err) {
	case ledger.CodeInvalidArgument, ledger.CodeInsufficientQuantity:
		return fiber.StatusBadRequest
	case ledger.CodeNotFound:
		return fiber.StatusNotFound
	case ledger.CodeConflict:
		return fiber.StatusConflict
	case ledger.CodeUnavailable:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// publicMessage is the caller-facing text; infrastructure details stay in the logs.
func publicMessage(err error) string {
	var le *ledger.Error
	if !errors.As(err, &le) {
		return "Internal server error"
	}
	switch le.Code {
	case ledger.CodeInternal:
		return "Internal server error"
	case ledger.CodeUnavailable:
		return "Service temporarily unavailable, please retry"
	case ledger.CodeConflict:
		return "The project was modified concurrently, please retry"
	}
	return le.Message
}
