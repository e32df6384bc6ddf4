package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/urlpolicy"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{Error: message, Code: code})
}

// sendPoolError maps pool and policy errors to HTTP statuses.
func sendPoolError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, browser.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, browser.ErrPageNotFound):
		sendError(c, http.StatusNotFound, "PAGE_NOT_FOUND", err.Error())
	case errors.Is(err, browser.ErrNotInitialized):
		sendError(c, http.StatusServiceUnavailable, "NOT_INITIALIZED", err.Error())
	case errors.Is(err, browser.ErrCapacityExhausted):
		sendError(c, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, urlpolicy.ErrInvalidURL), errors.Is(err, urlpolicy.ErrHostNotAllowed):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message+": "+err.Error())
	}
}
