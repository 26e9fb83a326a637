package students

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	studentsvc "certify-backend/internal/application/students"
	"certify-backend/internal/infrastructure/database"
	"certify-backend/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStudentsTest(t *testing.T) *fiber.App {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	h := &Handlers{Service: &studentsvc.Service{DB: db}}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", map[string]interface{}{"user_id": uuid.NewString(), "role": c.Get("X-Test-Role")})
		return c.Next()
	})
	app.Get("/students", h.List)
	app.Post("/students", h.Create)
	return app
}

func post(t *testing.T, app *fiber.App, role string, body interface{}) (int, map[string]interface{}) {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/students", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", role)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCreateAndList(t *testing.T) {
	app := setupStudentsTest(t)

	code, out := post(t, app, constants.Admin, map[string]string{
		"email":      "Asha.Verma@amity.edu",
		"name":       "asha verma",
		"student_id": "A123",
		"department": "CSE",
	})
	require.Equal(t, fiber.StatusCreated, code)
	data := out["data"].(map[string]interface{})
	assert.NotEmpty(t, data["temporary_password"])
	user := data["user"].(map[string]interface{})
	assert.Equal(t, "asha.verma@amity.edu", user["email"])
	assert.NotContains(t, user, "password_hash")

	code, _ = post(t, app, constants.Admin, map[string]string{
		"email": "asha.verma@amity.edu", "name": "Asha Two", "department": "CSE",
	})
	assert.Equal(t, fiber.StatusConflict, code)

	req := httptest.NewRequest("GET", "/students?search=asha", nil)
	req.Header.Set("X-Test-Role", constants.Faculty)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	var list map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list["data"].([]interface{}), 1)
	pagination := list["metadata"].(map[string]interface{})["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["total"])
}

func TestCreate_ForbiddenAndInvalid(t *testing.T) {
	app := setupStudentsTest(t)

	code, _ := post(t, app, constants.Faculty, map[string]string{"email": "a@amity.edu", "name": "A B", "department": "CSE"})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, out := post(t, app, constants.Admin, map[string]string{"email": "not-an-email", "name": "A B"})
	assert.Equal(t, fiber.StatusBadRequest, code)
	details := out["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "department")
}
