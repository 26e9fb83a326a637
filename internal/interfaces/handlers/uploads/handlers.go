package uploads

import (
	uploadsvc "certify-backend/internal/application/uploads"
	"certify-backend/internal/middleware"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Handlers bundles upload handlers with the service.
type Handlers struct {
	Service *uploadsvc.Service
}

type uploadRequest struct {
	FileName string `json:"file_name"`
}

// UploadProof POST /api/v1/uploads/proof
func (h *Handlers) UploadProof(c *fiber.Ctx) error {
	var req uploadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "file_name is required", 400, nil)
	}
	caller := middleware.CallerFrom(c)
	res, err := h.Service.GetProofUploadURL(c.UserContext(), caller, req.FileName)
	if err != nil {
		if apperr.KindOf(err) != "" {
			return response.FromError(c, err)
		}
		log.Error().Err(err).Str("user_id", caller.UserID.String()).Msg("upload: failed to generate signed URL")
		return response.Error(c, "Failed to generate upload URL", 500, nil)
	}
	return response.Success(c, "Upload URL generated", res, nil)
}
