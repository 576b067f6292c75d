package materials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/ledger"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	usedSheet       = "Used materials"
)

var usedHeader = []interface{}{
	"used_at",
	"material_id",
	"name",
	"unit",
	"specs",
	"qnt",
	"unit_cost",
	"total_cost",
	"section_id",
	"mini_section_id",
	"used_by",
}

// GET /api/material-used/export?projectId=...&sectionId=...
func ExportUsedMaterialsHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID := strings.TrimSpace(c.Query("projectId"))
		if projectID == "" {
			return fiber.NewError(fiber.StatusBadRequest, msgIDsRequired)
		}

		ctx, cancel := d.context(c)
		defer cancel()

		used, err := d.Ledger.ListUsedMaterials(ctx, projectID, auth.ClientID(c), c.Query("sectionId"))
		if err != nil {
			return fiber.NewError(statusOf(err), publicMessage(err))
		}

		buf, err := usedWorkbook(used)
		if err != nil {
			d.logger().Error("build used materials workbook", zap.String("project_id", projectID), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Could not build export file")
		}

		c.Set(fiber.HeaderContentType, xlsxContentType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="used-materials-%s.xlsx"`, projectID))
		return c.Send(buf.Bytes())
	}
}

// usedWorkbook renders one row per used record, in ledger order.
func usedWorkbook(used []ledger.UsedRecord) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), usedSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(usedSheet, "A1", &usedHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, r := range used {
		specs := ""
		if len(r.Specs) > 0 {
			b, err := json.Marshal(r.Specs)
			if err != nil {
				return nil, fmt.Errorf("encode specs of %s: %w", r.ID, err)
			}
			specs = string(b)
		}
		row := []interface{}{
			r.UsedAt.Format("2006-01-02 15:04:05"),
			r.BatchID,
			r.Name,
			r.Unit,
			specs,
			r.Qnt.InexactFloat64(),
			r.Cost.InexactFloat64(),
			r.TotalCost().InexactFloat64(),
			r.SectionID,
			r.MiniSectionID,
			r.UsedBy,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(usedSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}
