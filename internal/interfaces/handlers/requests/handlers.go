package requests

import (
	"strings"

	reqsvc "certify-backend/internal/application/requests"
	"certify-backend/internal/domain"
	"certify-backend/internal/middleware"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *reqsvc.Service
}

var errInvalidBody = apperr.Validation("Invalid request body", nil)

func requestID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Params("id")))
	if err != nil {
		// Malformed ids cannot name a request.
		return uuid.Nil, apperr.NotFound("Request not found")
	}
	return id, nil
}

// Submit POST /api/v1/requests
func (h *Handlers) Submit(c *fiber.Ctx) error {
	var in reqsvc.SubmitInput
	if err := c.BodyParser(&in); err != nil {
		return response.FromError(c, errInvalidBody)
	}
	req, err := h.Service.Submit(c.UserContext(), middleware.CallerFrom(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Request submitted", req, nil)
}

// List GET /api/v1/requests?status=&category=&page=&limit=
func (h *Handlers) List(c *fiber.Ctx) error {
	page, err := h.Service.List(c.UserContext(), middleware.CallerFrom(c), reqsvc.ListFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Page:     c.QueryInt("page", 1),
		Limit:    c.QueryInt("limit", 0),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	items := page.Items
	if items == nil {
		items = []domain.CertificateRequest{}
	}
	return response.Success(c, "Requests retrieved", items, fiber.Map{
		"page":  page.Page,
		"limit": page.Limit,
		"total": page.Total,
	})
}

// Get GET /api/v1/requests/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	req, err := h.Service.Get(c.UserContext(), middleware.CallerFrom(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Request retrieved", req, nil)
}

// History GET /api/v1/requests/:id/history
func (h *Handlers) History(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	events, err := h.Service.History(c.UserContext(), middleware.CallerFrom(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	if events == nil {
		events = []domain.RequestEvent{}
	}
	return response.Success(c, "Request history retrieved", events, nil)
}

// Certificate GET /api/v1/requests/:id/certificate
func (h *Handlers) Certificate(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	cert, err := h.Service.CertificateFor(c.UserContext(), middleware.CallerFrom(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Certificate retrieved", cert, nil)
}

// Decide POST /api/v1/requests/:id/decision
func (h *Handlers) Decide(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var in reqsvc.DecideInput
	if err := c.BodyParser(&in); err != nil {
		return response.FromError(c, errInvalidBody)
	}
	out, err := h.Service.Decide(c.UserContext(), middleware.CallerFrom(c), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	data := fiber.Map{
		"request_id": out.Request.RequestID,
		"status":     out.Request.Status,
	}
	message := "Request rejected"
	if out.Certificate != nil {
		data["certificate_id"] = out.Certificate.CertificateID
		message = "Request approved and certificate issued"
	}
	return response.Success(c, message, data, nil)
}
