package materials

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"sitestock-backend/internal/audit"
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMain(m *testing.M) {
	decimal.MarshalJSONWithoutQuotes = true
	os.Exit(m.Run())
}

type fixture struct {
	app     *fiber.App
	svc     *ledger.Service
	project ledger.Project
	token   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryStore())
	p, err := svc.CreateProject(context.Background(), "c1", "Tower A")
	require.NoError(t, err)

	app := fiber.New()
	api := app.Group("/api", auth.JWTMiddleware(testSecret))
	RegisterRoutes(api, Deps{Ledger: svc, Audit: audit.NewWriter(nil, nil), Timeout: time.Second})

	token, err := auth.GenerateToken(testSecret, &models.User{ID: 9, ClientID: "c1", Role: models.RoleStaff}, time.Hour)
	require.NoError(t, err)

	return &fixture{app: app, svc: svc, project: p, token: token}
}

func (f *fixture) seed(t *testing.T, qnt, totalCost int64, section string) ledger.Batch {
	t.Helper()
	res, err := f.svc.AddStock(context.Background(), ledger.AddStockCommand{
		ProjectID: f.project.ID,
		ClientID:  "c1",
		Name:      "Cement",
		Unit:      "bags",
		Specs:     ledger.Specs{"grade": "OPC53"},
		Qnt:       decimal.NewFromInt(qnt),
		Cost:      decimal.NewFromInt(totalCost),
		SectionID: section,
	})
	require.NoError(t, err)
	return res.Batch
}

func (f *fixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *fixture) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	resp := f.request(t, method, path, body)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAllocateUsageSuccess(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 100, 5000, "")

	status, body := f.call(t, "POST", "/api/material-usage", fiber.Map{
		"projectId":     f.project.ID,
		"materialId":    b.ID,
		"qnt":           30,
		"sectionId":     "S1",
		"miniSectionId": "M1",
	})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, f.project.ID, data["projectId"])
	assert.Equal(t, "S1", data["sectionId"])
	assert.Equal(t, "M1", data["miniSectionId"])
	assert.Equal(t, float64(1500), data["spent"])

	avail := data["materialAvailable"].([]any)
	require.Len(t, avail, 1)
	assert.Equal(t, float64(70), avail[0].(map[string]any)["qnt"])

	used := data["usedMaterial"].(map[string]any)
	assert.Equal(t, float64(30), used["qnt"])
	assert.Equal(t, float64(50), used["cost"])
	assert.Equal(t, "S1", used["sectionId"])
	assert.Equal(t, "9", used["usedBy"])
	assert.Len(t, data["materialUsed"].([]any), 1)
}

func TestAllocateUsageDepletesBatch(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 100, 5000, "")

	status, body := f.call(t, "POST", "/api/material-usage", fiber.Map{
		"projectId": f.project.ID, "materialId": b.ID, "qnt": "100", "sectionId": "S1",
	})
	require.Equal(t, fiber.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.Empty(t, data["materialAvailable"])
	assert.Equal(t, float64(5000), data["spent"])
}

func TestAllocateUsageFailures(t *testing.T) {
	tests := []struct {
		name      string
		body      func(p ledger.Project, b ledger.Batch) fiber.Map
		status    int
		wantErr   string
		wantDebug bool
	}{
		{
			name: "negative qnt",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": p.ID, "materialId": b.ID, "qnt": -5, "sectionId": "S1"}
			},
			status:  fiber.StatusBadRequest,
			wantErr: "qnt must be a positive number",
		},
		{
			name: "non numeric qnt",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": p.ID, "materialId": b.ID, "qnt": "lots", "sectionId": "S1"}
			},
			status:  fiber.StatusBadRequest,
			wantErr: "qnt must be a number",
		},
		{
			name: "missing qnt",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": p.ID, "materialId": b.ID, "sectionId": "S1"}
			},
			status:  fiber.StatusBadRequest,
			wantErr: "qnt is required",
		},
		{
			name: "missing section",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": p.ID, "materialId": b.ID, "qnt": 1}
			},
			status:  fiber.StatusBadRequest,
			wantErr: "projectId, materialId, qnt and sectionId are required",
		},
		{
			name: "unknown project",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": "nope", "materialId": b.ID, "qnt": 1, "sectionId": "S1"}
			},
			status:  fiber.StatusNotFound,
			wantErr: "Project not found",
		},
		{
			name: "unknown material",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": p.ID, "materialId": "m-missing", "qnt": 1, "sectionId": "S1"}
			},
			status:    fiber.StatusNotFound,
			wantErr:   "Material not found in MaterialAvailable",
			wantDebug: true,
		},
		{
			name: "insufficient quantity",
			body: func(p ledger.Project, b ledger.Batch) fiber.Map {
				return fiber.Map{"projectId": p.ID, "materialId": b.ID, "qnt": 200, "sectionId": "S1"}
			},
			status:  fiber.StatusBadRequest,
			wantErr: "Insufficient quantity available. Available: 100, Requested: 200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.seed(t, 100, 5000, "")

			status, body := f.call(t, "POST", "/api/material-usage", tt.body(f.project, b))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["error"])

			if tt.wantDebug {
				debug := body["debug"].(map[string]any)
				assert.Equal(t, "m-missing", debug["requestedMaterialId"])
				assert.Equal(t, "S1", debug["requestedSectionId"])
				listed := debug["availableMaterials"].([]any)
				require.Len(t, listed, 1)
				assert.Equal(t, b.ID, listed[0].(map[string]any)["_id"])
			} else {
				assert.NotContains(t, body, "debug")
			}

			// Nothing moved on failure.
			p, err := f.svc.GetProject(context.Background(), f.project.ID, "c1")
			require.NoError(t, err)
			require.Len(t, p.Available, 1)
			assert.True(t, decimal.NewFromInt(100).Equal(p.Available[0].Qnt))
			assert.Empty(t, p.Used)
		})
	}
}

func TestAllocateUsageRespectsSectionScope(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 10, 100, "S1")

	status, body := f.call(t, "POST", "/api/material-usage", fiber.Map{
		"projectId": f.project.ID, "materialId": b.ID, "qnt": 1, "sectionId": "S2",
	})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Material not found in MaterialAvailable", body["error"])

	status, _ = f.call(t, "POST", "/api/material-usage", fiber.Map{
		"projectId": f.project.ID, "materialId": b.ID, "qnt": 1, "sectionId": "S1",
	})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestListUsedMaterials(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 100, 5000, "")
	for _, section := range []string{"S1", "S2", "S1"} {
		_, err := f.svc.AllocateUsage(context.Background(), ledger.AllocateCommand{
			ProjectID: f.project.ID, ClientID: "c1", MaterialID: b.ID, SectionID: section, Qnt: decimal.NewFromInt(5),
		}, "")
		require.NoError(t, err)
	}

	status, body := f.call(t, "GET", "/api/material-used?projectId="+f.project.ID+"&clientId=c1", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["message"])
	assert.Len(t, body["usedMaterials"].([]any), 3)

	status, body = f.call(t, "GET", "/api/material-used?projectId="+f.project.ID+"&clientId=c1&sectionId=S1", nil)
	require.Equal(t, fiber.StatusOK, status)
	used := body["usedMaterials"].([]any)
	require.Len(t, used, 2)
	for _, u := range used {
		assert.Equal(t, "S1", u.(map[string]any)["sectionId"])
	}
}

func TestListUsedMaterialsErrors(t *testing.T) {
	f := newFixture(t)

	status, body := f.call(t, "GET", "/api/material-used?projectId="+f.project.ID, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, map[string]any{"message": "Project ID and Client ID are required"}, body)

	status, body = f.call(t, "GET", "/api/material-used?projectId=missing&clientId=c1", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, map[string]any{"message": "Project not found"}, body)

	status, _ = f.call(t, "GET", "/api/material-used?projectId="+f.project.ID+"&clientId=c2", nil)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestAddStockMergesMatchingDelivery(t *testing.T) {
	f := newFixture(t)
	delivery := func(qnt, cost int) fiber.Map {
		return fiber.Map{
			"projectId":     f.project.ID,
			"materialName":  "Cement",
			"unit":          "bags",
			"specs":         fiber.Map{"grade": "OPC53"},
			"qnt":           qnt,
			"cost":          cost,
			"mergeIfExists": true,
		}
	}

	status, body := f.call(t, "POST", "/api/material-available", delivery(10, 300))
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, false, body["data"].(map[string]any)["merged"])

	status, body = f.call(t, "POST", "/api/material-available", delivery(5, 150))
	require.Equal(t, fiber.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["merged"])
	material := data["material"].(map[string]any)
	assert.Equal(t, float64(15), material["qnt"])
	assert.Equal(t, float64(450), material["totalCost"])
	assert.Equal(t, float64(30), material["cost"])
	assert.Len(t, data["materialAvailable"].([]any), 1)
}

func TestAddStockValidation(t *testing.T) {
	f := newFixture(t)

	status, body := f.call(t, "POST", "/api/material-available", fiber.Map{
		"projectId": f.project.ID, "materialName": "Cement", "unit": "bags", "qnt": 0, "cost": 10,
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "qnt must be a positive number", body["error"])

	status, body = f.call(t, "POST", "/api/material-available", fiber.Map{
		"projectId": f.project.ID, "materialName": "Cement", "unit": "bags", "qnt": 1, "cost": -1,
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "cost cannot be negative", body["error"])

	status, body = f.call(t, "POST", "/api/material-available", fiber.Map{
		"projectId": f.project.ID, "unit": "bags", "qnt": 1, "cost": 1,
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "material name is required", body["error"])
}

func TestListAvailableMaterialsBySection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 10, 100, "")
	f.seed(t, 10, 100, "S1")
	f.seed(t, 10, 100, "S2")

	status, body := f.call(t, "GET", "/api/material-available?projectId="+f.project.ID+"&sectionId=S1", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["materialAvailable"].([]any), 2)

	status, body = f.call(t, "GET", "/api/material-available?projectId="+f.project.ID, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["materialAvailable"].([]any), 3)
}

func TestExportUsedMaterials(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 100, 5000, "")
	_, err := f.svc.AllocateUsage(context.Background(), ledger.AllocateCommand{
		ProjectID: f.project.ID, ClientID: "c1", MaterialID: b.ID, SectionID: "S1", Qnt: decimal.NewFromInt(4),
	}, "9")
	require.NoError(t, err)

	resp := f.request(t, "GET", "/api/material-used/export?projectId="+f.project.ID, nil)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))

	wb, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(usedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "name", rows[0][2])
	assert.Equal(t, "Cement", rows[1][2])
	assert.Equal(t, "4", rows[1][5])
	assert.Equal(t, "200", rows[1][7])
	assert.Equal(t, "S1", rows[1][8])
}
