package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anime-shed/omr-inspector-go/internal/config"
	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/internal/export"
	"github.com/anime-shed/omr-inspector-go/internal/logger"
	"github.com/anime-shed/omr-inspector-go/internal/observer"
	"github.com/anime-shed/omr-inspector-go/internal/repository"
	"github.com/anime-shed/omr-inspector-go/internal/service"
	"github.com/anime-shed/omr-inspector-go/internal/storage"
	"github.com/anime-shed/omr-inspector-go/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWait caps how long GET /scans/:id?wait= holds a request open
const maxWait = 60 * time.Second

// EventsResponse is one page of progress events
type EventsResponse struct {
	Events  []observer.ScanEvent `json:"events"`
	LastSeq int64                `json:"last_seq"`
}

type handler struct {
	svc service.ScanService
	cfg *config.Config
}

func NewHandler(svc service.ScanService, cfg *config.Config) http.Handler {
	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	h := &handler{svc: svc, cfg: cfg}

	// Configure routes
	r.GET("/health", h.healthCheck)

	scans := r.Group("/scans")
	scans.POST("", h.submitUploads)
	scans.POST("/url", h.submitURL)
	scans.GET("", h.listScans)
	scans.GET("/:id", h.getScan)
	scans.DELETE("/:id", h.cancelScan)
	scans.POST("/:id/retry", h.retryScan)
	scans.POST("/:id/overrides", h.overrideAnswer)
	scans.GET("/:id/export", h.exportScan)

	r.GET("/export", h.exportAll)
	r.GET("/events", h.events)
	r.GET("/stats", h.stats)
	r.GET("/settings", h.getSettings)
	r.PUT("/settings", h.updateSettings)

	return r
}

func (h *handler) healthCheck(c *gin.Context) {
	stats := h.svc.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"workers": stats.Pool.Workers,
		"queued":  stats.Pool.QueuedJobs,
	})
}

// submitUploads accepts one or more multipart "file" fields
func (h *handler) submitUploads(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid multipart form", err)
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		respondError(c, http.StatusBadRequest, "invalid request format",
			apperrors.NewValidationError("at least one file field is required", nil))
		return
	}

	// read everything first so a bad file rejects the whole request
	uploads := make([][]byte, len(files))
	for i, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "failed to read upload "+fh.Filename, err)
			return
		}
		uploads[i] = data
	}

	jobs := make([]models.ScanJob, 0, len(files))
	for i, fh := range files {
		job, err := h.svc.SubmitSheet(c.Request.Context(), uploads[i], fh.Filename)
		if err != nil {
			// the client never learns the earlier ids, so withdraw them
			for _, queued := range jobs {
				if _, cerr := h.svc.CancelJob(context.Background(), queued.ID); cerr != nil {
					logger.WithError(cerr).WithField("job_id", queued.ID).Warn("Failed to withdraw upload")
				}
			}
			respondError(c, apperrors.GetStatusCode(err), "failed to submit "+fh.Filename, err)
			return
		}
		jobs = append(jobs, job)
	}

	c.JSON(http.StatusAccepted, models.NewJobListResponse(jobs))
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("cannot open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, storage.MaxSheetBytes+1))
	if err != nil {
		return nil, apperrors.NewValidationError("cannot read upload", err)
	}
	switch {
	case len(data) == 0:
		return nil, apperrors.NewValidationError("sheet is empty", nil)
	case len(data) > storage.MaxSheetBytes:
		return nil, apperrors.NewValidationError(fmt.Sprintf("sheet exceeds %d bytes", storage.MaxSheetBytes), nil)
	}
	return data, nil
}

func (h *handler) submitURL(c *gin.Context) {
	var req models.SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.SheetFetchTimeout)
	defer cancel()

	job, err := h.svc.SubmitURL(ctx, req.URL)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to submit sheet", err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *handler) listScans(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid query", err)
		return
	}
	jobs, err := h.svc.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to list scans", err)
		return
	}
	c.JSON(http.StatusOK, models.NewJobListResponse(jobs))
}

// getScan returns the job. With ?wait=<duration> it first waits, up to
// maxWait, for the job to finish.
func (h *handler) getScan(c *gin.Context) {
	id := c.Param("id")
	if wait := c.Query("wait"); wait != "" {
		d, err := time.ParseDuration(wait)
		if err != nil || d <= 0 {
			respondError(c, http.StatusBadRequest, "invalid wait duration",
				apperrors.NewValidationError("wait must be a positive duration such as 10s", err))
			return
		}
		if d > maxWait {
			d = maxWait
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		job, err := h.svc.AwaitJob(ctx, id)
		if err == nil {
			c.JSON(http.StatusOK, job)
			return
		}
		if !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
			respondError(c, apperrors.GetStatusCode(err), "failed to get scan", err)
			return
		}
	}

	job, err := h.svc.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to get scan", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) cancelScan(c *gin.Context) {
	job, err := h.svc.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to cancel scan", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) retryScan(c *gin.Context) {
	job, err := h.svc.RetryJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to retry scan", err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *handler) overrideAnswer(c *gin.Context) {
	var req service.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	job, err := h.svc.OverrideAnswer(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to apply override", err)
		return
	}

	logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"question": req.Question,
		"reviewer": req.Reviewer,
		"ip":       c.ClientIP(),
	}).Info("Override recorded")
	c.JSON(http.StatusOK, job)
}

func (h *handler) exportScan(c *gin.Context) {
	id := c.Param("id")
	h.writeExport(c, "scan-"+id, id)
}

// exportAll exports every job, or the comma separated ?ids= subset
func (h *handler) exportAll(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	h.writeExport(c, "scans", ids...)
}

func (h *handler) writeExport(c *gin.Context, name string, ids ...string) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "invalid export format", err)
		return
	}

	var buf bytes.Buffer
	if err := h.svc.Export(c.Request.Context(), &buf, format, ids...); err != nil {
		respondError(c, apperrors.GetStatusCode(err), "export failed", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+format.Extension()))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (h *handler) events(c *gin.Context) {
	var since int64
	if s := c.Query("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			respondError(c, http.StatusBadRequest, "invalid query",
				apperrors.NewValidationError("since must be a non-negative integer", err))
			return
		}
		since = v
	}

	events := h.svc.Events(since)
	if events == nil {
		events = []observer.ScanEvent{}
	}
	last := since
	if len(events) > 0 {
		last = events[len(events)-1].Seq
	}
	c.JSON(http.StatusOK, EventsResponse{Events: events, LastSeq: last})
}

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

func (h *handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Settings())
}

// updateSettings applies a partial JSON document over the current settings
func (h *handler) updateSettings(c *gin.Context) {
	settings := h.svc.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	if err := h.svc.UpdateSettings(settings); err != nil {
		respondError(c, apperrors.GetStatusCode(err), "invalid settings", err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Settings())
}

func parseFilter(c *gin.Context) (repository.JobFilter, error) {
	var filter repository.JobFilter
	if s := c.Query("status"); s != "" {
		status := models.JobStatus(strings.ToLower(s))
		switch status {
		case models.StatusPending, models.StatusProcessing, models.StatusCompleted,
			models.StatusFlagged, models.StatusError, models.StatusCancelled:
		default:
			return filter, apperrors.NewValidationError("unknown status "+s, nil)
		}
		filter.Status = status
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, apperrors.NewValidationError("limit must be a non-negative integer", err)
		}
		filter.Limit = n
	}
	return filter, nil
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
