package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"annotator/internal/models"
	"annotator/internal/repository"
	"annotator/internal/service"
)

type jobService interface {
	StartIngestion(ctx context.Context, req service.StartIngestionRequest) (*models.IngestJob, error)
	GetJob(ctx context.Context, id string) (*models.IngestJob, error)
	ListJobs(ctx context.Context, params repository.ListIngestJobsParams) ([]models.IngestJob, int64, error)
}

type IngestHandler struct {
	Jobs           jobService
	UploadDir      string
	MaxUploadBytes int64
	// OriginPatterns are the hosts allowed to open the progress websocket.
	OriginPatterns []string
	PollInterval   time.Duration
	Logger         *zap.Logger
}

func (h *IngestHandler) Register(r *gin.Engine) {
	group := r.Group("/api/ingest")
	group.POST("", h.start)
	group.POST("/upload", h.upload)
	group.GET("/jobs", h.listJobs)
	group.GET("/jobs/:id", h.getJob)
	group.GET("/jobs/:id/ws", h.watchJob)
}

type startIngestRequest struct {
	Collection string   `json:"collection"`
	Files      []string `json:"files"`
}

// @Summary Ingest server-side WAV files
// @Tags ingest
// @Accept json
// @Param body body startIngestRequest true "collection and file paths"
// @Success 202 {object} apiResponse
// @Router /api/ingest [post]
func (h *IngestHandler) start(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "ingest service unavailable", nil)
		return
	}
	var req startIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	job, err := h.Jobs.StartIngestion(c.Request.Context(), service.StartIngestionRequest{
		Collection: req.Collection,
		Files:      req.Files,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Accepted(c, job)
}

// @Summary Upload WAV files and ingest them
// @Tags ingest
// @Accept multipart/form-data
// @Param collection formData string true "collection name"
// @Param files formData file true "one or more WAV files"
// @Success 202 {object} apiResponse
// @Router /api/ingest/upload [post]
func (h *IngestHandler) upload(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "ingest service unavailable", nil)
		return
	}
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid multipart form: "+err.Error(), nil)
		return
	}
	collection := strings.TrimSpace(c.PostForm("collection"))
	headers := form.File["files"]
	if len(headers) == 0 {
		Fail(c, service.ErrNoFiles)
		return
	}

	jobID := service.NewJobID()
	dir := filepath.Join(h.UploadDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		Error(c, http.StatusInternalServerError, "prepare upload dir: "+err.Error(), nil)
		return
	}
	paths := make([]string, 0, len(headers))
	for _, fh := range headers {
		// The base name carries the acquisition timestamp, keep it intact.
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			_ = os.RemoveAll(dir)
			Error(c, http.StatusInternalServerError, fmt.Sprintf("store %s: %v", name, err), nil)
			return
		}
		paths = append(paths, dst)
	}

	job, err := h.Jobs.StartIngestion(c.Request.Context(), service.StartIngestionRequest{
		JobID:      jobID,
		Collection: collection,
		Files:      paths,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		Fail(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("upload accepted", zap.String("job_id", job.ID), zap.Int("files", len(paths)))
	}
	Accepted(c, job)
}

// @Summary List ingest jobs
// @Tags ingest
// @Param status query string false "queued|running|completed|failed|abandoned"
// @Param collection query string false "collection"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/ingest/jobs [get]
func (h *IngestHandler) listJobs(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "ingest service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Jobs.ListJobs(c.Request.Context(), repository.ListIngestJobsParams{
		Limit:      limit,
		Offset:     offset,
		Status:     stringQueryPtr(c, "status"),
		Collection: stringQueryPtr(c, "collection"),
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get one ingest job
// @Tags ingest
// @Param id path string true "job id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/ingest/jobs/{id} [get]
func (h *IngestHandler) getJob(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "ingest service unavailable", nil)
		return
	}
	job, err := h.Jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, job, nil)
}

// watchJob pushes the job record over a websocket until it is terminal.
func (h *IngestHandler) watchJob(c *gin.Context) {
	if h.Jobs == nil {
		Error(c, http.StatusInternalServerError, "ingest service unavailable", nil)
		return
	}
	id := c.Param("id")
	if _, err := h.Jobs.GetJob(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("job websocket accept failed", zap.String("job_id", id), zap.Error(err))
		}
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	ctx := conn.CloseRead(c.Request.Context())
	interval := h.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := h.Jobs.GetJob(ctx, id)
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "job lookup failed")
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson.Write(writeCtx, conn, job)
		cancel()
		if err != nil {
			return
		}
		if models.IngestJobTerminal(job.Status) {
			_ = conn.Close(websocket.StatusNormalClosure, job.Status)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
