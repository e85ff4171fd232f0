package handler

import (
	"context"
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"annotator/internal/config"
	"annotator/internal/query"
)

type collectionQuerier interface {
	ListCollections(ctx context.Context) ([]string, error)
	GetTimeRange(ctx context.Context, collection string) (*query.TimeRange, error)
	GetWaveform(ctx context.Context, collection string, start, end time.Time, points int) ([]query.WaveformPoint, error)
	GetRawClip(ctx context.Context, collection string, start, end time.Time) ([]int16, error)
}

type CollectionHandler struct {
	Query  collectionQuerier
	Config config.QueryConfig
}

func (h *CollectionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/collections")
	group.GET("", h.list)
	group.GET("/:name/range", h.timeRange)
	group.GET("/:name/waveform", h.waveform)
	group.GET("/:name/raw", h.raw)
}

// @Summary List collections
// @Tags collections
// @Success 200 {object} apiResponse
// @Router /api/collections [get]
func (h *CollectionHandler) list(c *gin.Context) {
	if h.Query == nil {
		Error(c, http.StatusInternalServerError, "query service unavailable", nil)
		return
	}
	names, err := h.Query.ListCollections(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, names, map[string]any{"total": len(names)})
}

// @Summary First and last timestamp of a collection
// @Tags collections
// @Param name path string true "collection"
// @Success 200 {object} apiResponse
// @Router /api/collections/{name}/range [get]
func (h *CollectionHandler) timeRange(c *gin.Context) {
	if h.Query == nil {
		Error(c, http.StatusInternalServerError, "query service unavailable", nil)
		return
	}
	rng, err := h.Query.GetTimeRange(c.Request.Context(), c.Param("name"))
	if err != nil {
		Fail(c, err)
		return
	}
	if rng == nil {
		Ok(c, nil, map[string]any{"empty": true})
		return
	}
	Ok(c, rng, nil)
}

// @Summary Min/max waveform summary
// @Tags collections
// @Param name path string true "collection"
// @Param start query string true "ISO-8601 instant"
// @Param end query string true "ISO-8601 instant"
// @Param points query int false "target bucket count"
// @Success 200 {object} apiResponse
// @Router /api/collections/{name}/waveform [get]
func (h *CollectionHandler) waveform(c *gin.Context) {
	if h.Query == nil {
		Error(c, http.StatusInternalServerError, "query service unavailable", nil)
		return
	}
	start, end, err := windowQuery(c)
	if err != nil {
		Fail(c, err)
		return
	}
	points := intQuery(c, "points", h.Config.DefaultPoints)
	items, err := h.Query.GetWaveform(c.Request.Context(), c.Param("name"), start, end, points)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{
		"start":  query.FormatInstant(start),
		"end":    query.FormatInstant(end),
		"points": points,
		"count":  len(items),
	})
}

// @Summary Exact samples for playback
// @Tags collections
// @Param name path string true "collection"
// @Param start query string true "ISO-8601 instant"
// @Param end query string true "ISO-8601 instant"
// @Param format query string false "json (default) or pcm"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/collections/{name}/raw [get]
func (h *CollectionHandler) raw(c *gin.Context) {
	if h.Query == nil {
		Error(c, http.StatusInternalServerError, "query service unavailable", nil)
		return
	}
	start, end, err := windowQuery(c)
	if err != nil {
		Fail(c, err)
		return
	}
	if err := query.AdmitRawClip(start, end, h.Config.RawMaxDuration); err != nil {
		Fail(c, err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "json")))
	if format != "json" && format != "pcm" {
		Error(c, http.StatusBadRequest, "format must be json or pcm", nil)
		return
	}
	samples, err := h.Query.GetRawClip(c.Request.Context(), c.Param("name"), start, end)
	if err != nil {
		Fail(c, err)
		return
	}
	if format == "pcm" {
		c.Header("X-Sample-Count", strconv.Itoa(len(samples)))
		c.Data(http.StatusOK, "application/octet-stream", encodePCM(samples))
		return
	}
	Ok(c, samples, map[string]any{
		"start": query.FormatInstant(start),
		"end":   query.FormatInstant(end),
		"count": len(samples),
	})
}

// encodePCM lays samples out as signed 16-bit little-endian.
func encodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
