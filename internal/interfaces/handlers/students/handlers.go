package students

import (
	studentsvc "certify-backend/internal/application/students"
	"certify-backend/internal/domain"
	"certify-backend/internal/middleware"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *studentsvc.Service
}

// List GET /api/v1/students?search=&department=&page=&limit=
func (h *Handlers) List(c *fiber.Ctx) error {
	users, pagination, err := h.Service.List(c.UserContext(), middleware.CallerFrom(c), studentsvc.ListInput{
		Search:     c.Query("search"),
		Department: c.Query("department"),
		Page:       c.QueryInt("page", 1),
		Limit:      c.QueryInt("limit", 0),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return response.Success(c, "Students retrieved", users, fiber.Map{"pagination": pagination})
}

// Create POST /api/v1/students
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in studentsvc.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return response.FromError(c, apperr.Validation("Invalid request body", nil))
	}
	created, err := h.Service.Create(c.UserContext(), middleware.CallerFrom(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	data := fiber.Map{"user": created.User}
	if created.TemporaryPassword != "" {
		data["temporary_password"] = created.TemporaryPassword
	}
	return response.SuccessCreated(c, "Student created", data, nil)
}
