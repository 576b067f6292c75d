package projects

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sitestock-backend/internal/audit"
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	api := app.Group("/api", auth.JWTMiddleware(testSecret))
	RegisterRoutes(api, Deps{
		Ledger:  ledger.NewService(ledger.NewMemoryStore()),
		Audit:   audit.NewWriter(nil, nil),
		Timeout: time.Second,
	})
	return app
}

func tokenFor(t *testing.T, clientID string, role models.UserRole) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, &models.User{ID: 1, ClientID: clientID, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func send(t *testing.T, app *fiber.App, method, path, body, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestCreateAndGetProject(t *testing.T) {
	app := newApp(t)
	owner := tokenFor(t, "c1", models.RoleOwner)

	status, created := send(t, app, "POST", "/api/projects", `{"name":"  Tower A "}`, owner)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "Tower A", created["name"])
	assert.Equal(t, "c1", created["clientId"])
	id := created["projectId"].(string)
	require.NotEmpty(t, id)

	status, got := send(t, app, "GET", "/api/projects/"+id, "", owner)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, id, got["projectId"])
	assert.Equal(t, float64(0), got["availableCount"])

	status, full := send(t, app, "GET", "/api/projects/"+id+"?full=true", "", owner)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, full, "materialAvailable")
	assert.Contains(t, full, "materialUsed")
}

func TestProjectIsScopedToClient(t *testing.T) {
	app := newApp(t)

	status, created := send(t, app, "POST", "/api/projects", `{"name":"Tower A"}`, tokenFor(t, "c1", models.RoleOwner))
	require.Equal(t, fiber.StatusCreated, status)

	status, _ = send(t, app, "GET", "/api/projects/"+created["projectId"].(string), "", tokenFor(t, "c2", models.RoleOwner))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestCreateProjectRules(t *testing.T) {
	app := newApp(t)

	status, _ := send(t, app, "POST", "/api/projects", `{"name":"Tower A"}`, tokenFor(t, "c1", models.RoleStaff))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = send(t, app, "POST", "/api/projects", `{"name":"   "}`, tokenFor(t, "c1", models.RoleOwner))
	assert.Equal(t, fiber.StatusBadRequest, status)
}
