package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"udmportal/internal/attachment"
	"udmportal/internal/conversation"
	"udmportal/internal/feed"
	"udmportal/internal/kv"
	"udmportal/internal/modules"
	"udmportal/internal/tab"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyText),
		errors.Is(err, conversation.ErrInvalidKind),
		errors.Is(err, feed.ErrEmptyComment),
		errors.Is(err, feed.ErrEmptyDraft),
		errors.Is(err, attachment.ErrInvalidDataURI):
		return http.StatusBadRequest
	case errors.Is(err, attachment.ErrNotImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, attachment.ErrPermissionDenied),
		errors.Is(err, feed.ErrWrongPasskey):
		return http.StatusForbidden
	case errors.Is(err, attachment.ErrNoDevice):
		return http.StatusServiceUnavailable
	case errors.Is(err, feed.ErrPostNotFound),
		errors.Is(err, modules.ErrUnknownModule):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrNotComposing),
		errors.Is(err, feed.ErrTransition),
		errors.Is(err, conversation.ErrNotOpen),
		errors.Is(err, modules.ErrNotOpen):
		return http.StatusConflict
	case errors.Is(err, kv.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, tab.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
