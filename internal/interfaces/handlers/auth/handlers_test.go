package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	authsvc "certify-backend/internal/application/auth"
	"certify-backend/internal/domain"
	"certify-backend/internal/middleware"
	"certify-backend/internal/pkg/constants"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUserFinder for tests: returns configured user or error.
type fakeUserFinder struct {
	user *domain.User
	err  error
}

func (f *fakeUserFinder) FindByEmailAndPassword(email, password string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user != nil && f.user.Email == email && password == "password123" {
		return f.user, nil
	}
	if f.user != nil && f.user.Email == email {
		return nil, authsvc.ErrIncorrectPassword
	}
	return nil, authsvc.ErrInvalidEmail
}

func setupAuthHandlers(t *testing.T, finder authsvc.UserFinder) (*Handlers, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	h := &Handlers{
		UserFinder: finder,
		Tokens:     authsvc.NewTokens("test-secret", 60),
		Rdb:        rdb,
		Config: middleware.SessionConfig{
			Secret: "session-secret",
		},
	}
	return h, rdb
}

func postLogin(t *testing.T, app *fiber.App, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest("POST", "/login", r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestLogin_Rejections(t *testing.T) {
	finder := &fakeUserFinder{user: &domain.User{UserID: uuid.New(), Email: "asha@amity.edu", Role: constants.Student}}
	cases := []struct {
		name string
		body interface{}
		want int
	}{
		{"empty body", nil, fiber.StatusBadRequest},
		{"missing password", map[string]string{"email": "asha@amity.edu"}, fiber.StatusBadRequest},
		{"unknown email", map[string]string{"email": "nobody@amity.edu", "password": "any"}, fiber.StatusUnauthorized},
		{"wrong password", map[string]string{"email": "asha@amity.edu", "password": "wrong"}, fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, rdb := setupAuthHandlers(t, finder)
			app := fiber.New()
			app.Post("/login", h.Login)

			resp := postLogin(t, app, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
			assert.Empty(t, resp.Header.Values("Set-Cookie"))
			keys, err := rdb.Keys(context.Background(), "user_sessions:*").Result()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestLogin_Success(t *testing.T) {
	uid := uuid.New()
	h, rdb := setupAuthHandlers(t, &fakeUserFinder{user: &domain.User{
		UserID: uid, Email: "anil@amity.edu", Fullname: "Anil Kapoor", Role: constants.Faculty, Department: "ECE",
	}})
	fixed := time.Date(2024, 1, 13, 9, 0, 0, 0, time.UTC)
	h.Tokens.Now = func() time.Time { return fixed }
	app := fiber.New()
	app.Use(middleware.SessionWithClient(rdb, h.Config.Secret))
	app.Post("/login", h.Login)
	app.Get("/me", h.Me)

	resp := postLogin(t, app, map[string]string{"email": "anil@amity.edu", "password": "password123"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Login successful", out["message"])
	data, _ := out["data"].(map[string]interface{})
	require.NotNil(t, data)
	user, _ := data["user"].(map[string]interface{})
	require.NotNil(t, user)
	assert.Equal(t, uid.String(), user["user_id"])
	assert.Equal(t, constants.Faculty, user["role"])
	assert.Equal(t, "ECE", user["department"])

	// The bearer token names the same caller and expires after the configured TTL.
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	caller, err := h.Tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uid, caller.UserID)
	assert.Equal(t, constants.Faculty, caller.Role)
	assert.Equal(t, fixed.Add(60*time.Minute).Format(time.RFC3339), data["expires_at"])

	// The cookie is signed and loads the stored session on the next request.
	var sessionCookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == middleware.SessionCookieName {
			sessionCookie = ck
		}
	}
	require.NotNil(t, sessionCookie)
	sid := middleware.UnsignSessionID(h.Config.Secret, sessionCookie.Value)
	require.NotEmpty(t, sid)
	members, err := rdb.SMembers(context.Background(), userSessionsPrefix+uid.String()).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{sid}, members)

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionCookie.Value})
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var me map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	meUser := me["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "ECE", meUser["department"])
	assert.Equal(t, constants.Faculty, meUser["role"])
}

func TestLogin_WithoutJWTSecretOmitsToken(t *testing.T) {
	h, _ := setupAuthHandlers(t, &fakeUserFinder{user: &domain.User{UserID: uuid.New(), Email: "asha@amity.edu", Role: constants.Student}})
	h.Tokens = authsvc.NewTokens("", 60)
	app := fiber.New()
	app.Post("/login", h.Login)

	resp := postLogin(t, app, map[string]string{"email": "asha@amity.edu", "password": "password123"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	data := out["data"].(map[string]interface{})
	assert.NotContains(t, data, "token")
	assert.NotContains(t, data, "expires_at")
}

func TestLogin_NilUserFinder(t *testing.T) {
	h, _ := setupAuthHandlers(t, nil)
	app := fiber.New()
	app.Post("/login", h.Login)

	resp := postLogin(t, app, map[string]string{"email": "a@b.com", "password": "pass"})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestMe_NoSession(t *testing.T) {
	h, _ := setupAuthHandlers(t, &fakeUserFinder{})
	app := fiber.New()
	app.Get("/me", h.Me)

	req := httptest.NewRequest("GET", "/me", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMe_WithSessionUserInLocals(t *testing.T) {
	h, _ := setupAuthHandlers(t, &fakeUserFinder{})
	app := fiber.New()
	app.Get("/me", func(c *fiber.Ctx) error {
		c.Locals("user", map[string]interface{}{
			"user_id":  "550e8400-e29b-41d4-a716-446655440000",
			"fullname": "Test",
			"email":    "test@example.com",
			"role":     "student",
		})
		return h.Me(c)
	})

	req := httptest.NewRequest("GET", "/me", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "Authenticated", out["message"])
	data, _ := out["data"].(map[string]interface{})
	user, _ := data["user"].(map[string]interface{})
	assert.Equal(t, "test@example.com", user["email"])
}

func TestLogout_NoSession(t *testing.T) {
	h, _ := setupAuthHandlers(t, &fakeUserFinder{})
	app := fiber.New()
	app.Delete("/logout", h.Logout)

	req := httptest.NewRequest("DELETE", "/logout", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	cookies := resp.Header.Values("Set-Cookie")
	assert.NotEmpty(t, cookies)
}

func TestLogout_WithSession(t *testing.T) {
	h, rdb := setupAuthHandlers(t, &fakeUserFinder{})
	ctx := context.Background()
	uid := "550e8400-e29b-41d4-a716-446655440000"
	require.NoError(t, rdb.Set(ctx, middleware.SessionRedisPrefix+"sid-1", "{}", 0).Err())
	require.NoError(t, rdb.SAdd(ctx, userSessionsPrefix+uid, "sid-1").Err())

	app := fiber.New()
	app.Delete("/logout", func(c *fiber.Ctx) error {
		c.Locals("session_id", "sid-1")
		c.Locals("user", map[string]interface{}{"user_id": uid, "role": "student"})
		return h.Logout(c)
	})

	resp, err := app.Test(httptest.NewRequest("DELETE", "/logout", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	n, err := rdb.Exists(ctx, middleware.SessionRedisPrefix+"sid-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	members, err := rdb.SMembers(ctx, userSessionsPrefix+uid).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}
