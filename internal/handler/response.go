package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"annotator/internal/audio"
	"annotator/internal/query"
	"annotator/internal/questdb"
	"annotator/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	respond(c, http.StatusOK, data, meta)
}

// Accepted acknowledges work that continues in the background.
func Accepted(c *gin.Context, data any) {
	respond(c, http.StatusAccepted, data, nil)
}

func Created(c *gin.Context, data any) {
	respond(c, http.StatusCreated, data, nil)
}

func respond(c *gin.Context, status int, data any, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps domain errors to a status; anything unknown is treated as a
// backing store failure.
func Fail(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, questdb.ErrInvalidCollection),
		errors.Is(err, query.ErrInvalidInstant),
		errors.Is(err, query.ErrClipTooLong),
		errors.Is(err, audio.ErrUnparsableFilename),
		errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrExtensionNotAllowed),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrEventNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
