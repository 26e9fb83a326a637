package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const errorLogSize = 50

// ErrorHandler returns the global error handler. Service errors are mapped by
// kind; anything unexpected becomes a 500 and is appended to the health error
// log when rdb is set.
func ErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return response.Error(c, fe.Message, fe.Code, nil)
		}
		if apperr.KindOf(err) != "" {
			return response.FromError(c, err)
		}

		log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
		if rdb != nil {
			entry, _ := json.Marshal(map[string]interface{}{
				"time":    time.Now().UTC(),
				"method":  c.Method(),
				"path":    c.OriginalURL(),
				"message": err.Error(),
			})
			ctx := context.Background()
			_ = rdb.LPush(ctx, KeyErrorLog, entry).Err()
			_ = rdb.LTrim(ctx, KeyErrorLog, 0, errorLogSize-1).Err()
		}
		return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, map[string]interface{}{})
	}
}
