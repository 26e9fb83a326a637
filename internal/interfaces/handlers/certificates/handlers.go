package certificates

import (
	certsvc "certify-backend/internal/application/certificates"
	"certify-backend/internal/application/verification"
	"certify-backend/internal/domain"
	"certify-backend/internal/middleware"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type Handlers struct {
	Service      *certsvc.Service
	Verification *verification.Service
}

// Verify GET /api/v1/certificates/verify/:id. Unknown, malformed and revoked
// identifiers all answer 200 {valid:false}.
func (h *Handlers) Verify(c *fiber.Ctx) error {
	result, err := h.Verification.Verify(c.UserContext(), c.Params("id"))
	if err != nil {
		log.Error().Err(err).Str("trace_id", middleware.GetTraceID(c)).Msg("certificates/verify: store unavailable")
		return response.FromError(c, err)
	}
	message := "Certificate is valid"
	if !result.Valid {
		message = "Certificate could not be verified"
	}
	return response.Success(c, message, result, nil)
}

// Download GET /api/v1/certificates/:id/download
func (h *Handlers) Download(c *fiber.Ctx) error {
	doc, err := h.Service.Artifact(c.UserContext(), c.Params("id"))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return response.Error(c, "Certificate not found", fiber.StatusNotFound, nil)
		}
		return response.FromError(c, err)
	}
	c.Set(fiber.HeaderContentType, doc.ContentType)
	c.Attachment(doc.FileName)
	return c.Send(doc.Body)
}

// List GET /api/v1/certificates?include_revoked=&page=&limit=
func (h *Handlers) List(c *fiber.Ctx) error {
	page, err := h.Service.List(c.UserContext(), middleware.CallerFrom(c), certsvc.ListFilter{
		IncludeRevoked: c.QueryBool("include_revoked", false),
		Page:           c.QueryInt("page", 1),
		Limit:          c.QueryInt("limit", 0),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	items := page.Items
	if items == nil {
		items = []domain.Certificate{}
	}
	return response.Success(c, "Certificates retrieved", items, fiber.Map{
		"page":  page.Page,
		"limit": page.Limit,
		"total": page.Total,
	})
}

// Get GET /api/v1/certificates/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	cert, err := h.Service.Get(c.UserContext(), middleware.CallerFrom(c), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Certificate retrieved", cert, nil)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// Revoke PATCH /api/v1/certificates/:id/revoke
func (h *Handlers) Revoke(c *fiber.Ctx) error {
	var body revokeRequest
	if err := c.BodyParser(&body); err != nil {
		return response.FromError(c, apperr.Validation("Invalid request body", nil))
	}
	cert, err := h.Service.Revoke(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), body.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Certificate revoked", cert, nil)
}
