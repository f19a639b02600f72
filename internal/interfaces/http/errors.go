package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/domain/apperr"
)

// userHeader carries the caller identity set by the upstream gateway
const userHeader = "X-User-ID"

const userKey = "user_id"

// requireUser rejects requests without a caller identity
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + userHeader + " header",
			})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userKey)
}

// statusFor maps a business error kind to its HTTP status
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError renders err with the status of its kind. Unclassified errors
// are logged and hidden from the caller.
func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	message := err.Error()

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "error", err)
		message = "internal error"
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
		Code:    string(apperr.KindOf(err)),
	})
}
