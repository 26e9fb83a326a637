package middleware

import (
	"strings"

	"certify-backend/internal/application/auth"
	"certify-backend/internal/application/authz"
	"certify-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const (
	userLocal   = "user"
	callerLocal = "caller"
)

// RequireAuth ensures a user is in the session or a bearer token was accepted.
// Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals(userLocal)
		if user == nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		c.Locals("auth", user)
		return c.Next()
	}
}

// GetUser returns the session user from Locals (nil if not logged in).
func GetUser(c *fiber.Ctx) interface{} {
	return c.Locals(userLocal)
}

// BearerAuth accepts "Authorization: Bearer <jwt>" as an alternative to the
// session cookie. Requests without the header pass through untouched.
func BearerAuth(tokens *auth.Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" || tokens == nil {
			return c.Next()
		}
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return c.Next()
		}
		caller, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		c.Locals(callerLocal, caller)
		c.Locals(userLocal, map[string]interface{}{
			"user_id": caller.UserID.String(),
			"role":    caller.Role,
		})
		return c.Next()
	}
}

// CallerFrom resolves the verified caller for the request; Anonymous when no
// valid credential was presented.
func CallerFrom(c *fiber.Ctx) authz.Caller {
	if caller, ok := c.Locals(callerLocal).(authz.Caller); ok {
		return caller
	}
	caller, err := auth.CallerFromSession(GetUser(c))
	if err != nil {
		return authz.Anonymous
	}
	return caller
}
