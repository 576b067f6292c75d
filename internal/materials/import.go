package materials

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"sitestock-backend/internal/audit"
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const maxImportRows = 1000

// Columns of a delivery sheet, first row is the header:
// name | unit | qnt | cost | section_id | specs (JSON object) | merge (yes/no)
const (
	colName = iota
	colUnit
	colQnt
	colCost
	colSection
	colSpecs
	colMerge
)

type deliveryRow struct {
	Line      int
	Name      string
	Unit      string
	Qnt       decimal.Decimal
	Cost      decimal.Decimal
	SectionID string
	Specs     ledger.Specs
	Merge     *bool
}

type importedRow struct {
	Line    int    `json:"row"`
	BatchID string `json:"materialId"`
	Merged  bool   `json:"merged"`
}

// POST /api/material-available/import  (multipart: projectId, file, mergeIfExists)
// Rows are ingested in sheet order, each as its own AddStock. A failing row
// stops the import; rows before it stay ingested and are reported.
func ImportDeliveriesHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID := strings.TrimSpace(c.FormValue("projectId"))
		if projectID == "" {
			return errorJSON(c, fiber.StatusBadRequest, "projectId is required")
		}
		defaultMerge := parseBool(c.FormValue("mergeIfExists"))

		fh, err := c.FormFile("file")
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "file is required")
		}
		file, err := fh.Open()
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Could not read uploaded file")
		}
		defer file.Close()

		rows, err := parseDeliverySheet(file)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := d.context(c)
		defer cancel()

		clientID := auth.ClientID(c)
		done := make([]importedRow, 0, len(rows))
		for _, r := range rows {
			merge := defaultMerge
			if r.Merge != nil {
				merge = *r.Merge
			}
			res, err := d.Ledger.AddStock(ctx, ledger.AddStockCommand{
				ProjectID:     projectID,
				ClientID:      clientID,
				Name:          r.Name,
				Unit:          r.Unit,
				Specs:         r.Specs,
				Qnt:           r.Qnt,
				Cost:          r.Cost,
				MergeIfExists: merge,
				SectionID:     r.SectionID,
			})
			if err != nil {
				d.logger().Warn("delivery import stopped",
					zap.String("project_id", projectID), zap.Int("row", r.Line), zap.Error(err))
				return c.Status(statusOf(err)).JSON(fiber.Map{
					"success":  false,
					"error":    fmt.Sprintf("row %d: %s", r.Line, publicMessage(err)),
					"imported": done,
				})
			}
			done = append(done, importedRow{Line: r.Line, BatchID: res.Batch.ID, Merged: res.Merged})

			action := models.AuditActionCreate
			if res.Merged {
				action = models.AuditActionMerge
			}
			d.Audit.Record(ctx, audit.LogOptions{
				ClientID:    clientID,
				ProjectID:   projectID,
				UserID:      auth.UserID(c),
				EntityType:  audit.EntityBatch,
				EntityID:    res.Batch.ID,
				Action:      action,
				Description: fmt.Sprintf("imported %s %s of %s (row %d)", r.Qnt, res.Batch.Unit, res.Batch.Name, r.Line),
				After:       res.Batch,
			})
		}

		return c.JSON(fiber.Map{
			"success":  true,
			"message":  fmt.Sprintf("%d deliveries imported", len(done)),
			"imported": done,
		})
	}
}

// parseDeliverySheet reads the active sheet. Blank lines are skipped; any
// malformed cell rejects the whole file.
func parseDeliverySheet(r io.Reader) ([]deliveryRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("file is not a valid .xlsx workbook")
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet has no delivery rows")
	}
	if len(rows)-1 > maxImportRows {
		return nil, fmt.Errorf("sheet has more than %d rows", maxImportRows)
	}

	out := make([]deliveryRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		cell := func(col int) string {
			if col < len(row) {
				return strings.TrimSpace(row[col])
			}
			return ""
		}
		if cell(colName) == "" && cell(colQnt) == "" {
			continue
		}

		dr := deliveryRow{
			Line:      line,
			Name:      cell(colName),
			Unit:      cell(colUnit),
			SectionID: cell(colSection),
		}
		if dr.Name == "" || dr.Unit == "" {
			return nil, fmt.Errorf("row %d: name and unit are required", line)
		}
		if dr.Qnt, err = sheetDecimal(cell(colQnt)); err != nil || !dr.Qnt.IsPositive() {
			return nil, fmt.Errorf("row %d: qnt must be a positive number (%q)", line, cell(colQnt))
		}
		if dr.Cost, err = sheetDecimal(cell(colCost)); err != nil || dr.Cost.IsNegative() {
			return nil, fmt.Errorf("row %d: cost must be a non-negative number (%q)", line, cell(colCost))
		}
		if s := cell(colSpecs); s != "" {
			if err := json.Unmarshal([]byte(s), &dr.Specs); err != nil {
				return nil, fmt.Errorf("row %d: specs must be a JSON object", line)
			}
		}
		if s := cell(colMerge); s != "" {
			m := parseBool(s)
			dr.Merge = &m
		}
		out = append(out, dr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sheet has no delivery rows")
	}
	return out, nil
}

// sheetDecimal accepts "12.5" and "12,5".
func sheetDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty")
	}
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
