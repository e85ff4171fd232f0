package handler

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"annotator/internal/models"
	"annotator/internal/query"
	"annotator/internal/repository"
	"annotator/internal/service"
)

type eventService interface {
	Create(ctx context.Context, in service.EventInput) (*models.Event, error)
	List(ctx context.Context, params repository.ListEventsParams) ([]models.Event, int64, error)
	Get(ctx context.Context, id string) (*models.Event, error)
	UpdateStatus(ctx context.Context, id, status string) (*models.Event, error)
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, status *string) ([]models.Event, error)
}

type EventHandler struct {
	Events eventService
}

func (h *EventHandler) Register(r *gin.Engine) {
	group := r.Group("/api/events")
	group.GET("", h.list)
	group.POST("", h.create)
	group.GET("/export", h.export)
	group.GET("/:id", h.get)
	group.PATCH("/:id/status", h.updateStatus)
	group.DELETE("/:id", h.delete)
}

type eventResponse struct {
	ID                string  `json:"id"`
	StartTimestamp    string  `json:"start_timestamp"`
	EndTimestamp      string  `json:"end_timestamp"`
	VehicleType       string  `json:"vehicle_type"`
	VehicleIdentifier *string `json:"vehicle_identifier"`
	Direction         *string `json:"direction"`
	AnnotatorNotes    *string `json:"annotator_notes"`
	Status            string  `json:"status"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func toEventResponse(e models.Event) eventResponse {
	return eventResponse{
		ID:                e.ID,
		StartTimestamp:    query.FormatInstant(e.StartTimestamp),
		EndTimestamp:      query.FormatInstant(e.EndTimestamp),
		VehicleType:       e.VehicleType,
		VehicleIdentifier: e.VehicleIdentifier,
		Direction:         e.Direction,
		AnnotatorNotes:    e.AnnotatorNotes,
		Status:            e.Status,
		CreatedAt:         query.FormatInstant(e.CreatedAt),
		UpdatedAt:         query.FormatInstant(e.UpdatedAt),
	}
}

func toEventResponses(items []models.Event) []eventResponse {
	out := make([]eventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toEventResponse(e))
	}
	return out
}

// @Summary List annotation events
// @Tags events
// @Param status query string false "manual|refined|reviewed"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/events [get]
func (h *EventHandler) list(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Events.List(c.Request.Context(), repository.ListEventsParams{
		Limit:   limit,
		Offset:  offset,
		Status:  stringQueryPtr(c, "status"),
		OrderBy: "start_timestamp",
		Asc:     boolPtr(false),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toEventResponses(items), paginationMeta(limit, offset, total))
}

type createEventRequest struct {
	StartTimestamp    string  `json:"start_timestamp"`
	EndTimestamp      string  `json:"end_timestamp"`
	VehicleType       string  `json:"vehicle_type"`
	VehicleIdentifier *string `json:"vehicle_identifier"`
	Direction         *string `json:"direction"`
	AnnotatorNotes    *string `json:"annotator_notes"`
	Status            string  `json:"status"`
}

// @Summary Create an annotation event
// @Tags events
// @Accept json
// @Param body body createEventRequest true "event"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/events [post]
func (h *EventHandler) create(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event service unavailable", nil)
		return
	}
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	start, err := query.ParseInstant(req.StartTimestamp)
	if err != nil {
		Error(c, http.StatusBadRequest, "start_timestamp: "+err.Error(), nil)
		return
	}
	end, err := query.ParseInstant(req.EndTimestamp)
	if err != nil {
		Error(c, http.StatusBadRequest, "end_timestamp: "+err.Error(), nil)
		return
	}
	item, err := h.Events.Create(c.Request.Context(), service.EventInput{
		StartTimestamp:    start,
		EndTimestamp:      end,
		VehicleType:       req.VehicleType,
		VehicleIdentifier: req.VehicleIdentifier,
		Direction:         req.Direction,
		AnnotatorNotes:    req.AnnotatorNotes,
		Status:            req.Status,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, toEventResponse(*item))
}

// @Summary Get an annotation event
// @Tags events
// @Param id path string true "event id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/events/{id} [get]
func (h *EventHandler) get(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event service unavailable", nil)
		return
	}
	item, err := h.Events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toEventResponse(*item), nil)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// @Summary Change an event's review status
// @Tags events
// @Accept json
// @Param id path string true "event id"
// @Param body body updateStatusRequest true "new status"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/events/{id}/status [patch]
func (h *EventHandler) updateStatus(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event service unavailable", nil)
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Events.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toEventResponse(*item), nil)
}

// @Summary Delete an annotation event
// @Tags events
// @Param id path string true "event id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/events/{id} [delete]
func (h *EventHandler) delete(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event service unavailable", nil)
		return
	}
	id := c.Param("id")
	if err := h.Events.Delete(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"id": id, "deleted": true}, nil)
}

// @Summary Export the labelled dataset
// @Tags events
// @Param format query string false "csv (default) or json"
// @Param status query string false "manual|refined|reviewed"
// @Success 200 {file} file
// @Router /api/events/export [get]
func (h *EventHandler) export(c *gin.Context) {
	if h.Events == nil {
		Error(c, http.StatusInternalServerError, "event service unavailable", nil)
		return
	}
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "csv")))
	if format != "csv" && format != "json" {
		Error(c, http.StatusBadRequest, "format must be csv or json", nil)
		return
	}
	items, err := h.Events.Export(c.Request.Context(), stringQueryPtr(c, "status"))
	if err != nil {
		Fail(c, err)
		return
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	if format == "json" {
		c.Header("Content-Disposition", `attachment; filename="events_`+stamp+`.json"`)
		c.JSON(http.StatusOK, toEventResponses(items))
		return
	}
	var buf bytes.Buffer
	if err := service.WriteEventsCSV(&buf, items); err != nil {
		Error(c, http.StatusInternalServerError, "csv export: "+err.Error(), nil)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="events_`+stamp+`.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
