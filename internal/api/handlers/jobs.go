package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
)

type CreateJobRequest struct {
	PrinterID string `json:"printerId" binding:"required"`
	FileID    string `json:"fileId" binding:"required"`
}

type CreateJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type JobResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	DeviceID  string    `json:"deviceId"`
	Error     string    `json:"error,omitempty"`
}

type StatusRequest struct {
	JobID  string `json:"job_id" binding:"required"`
	Status string `json:"status" binding:"required"`
	Error  string `json:"error"`
}

type JobHandler struct {
	dispatcher *core.Dispatcher
	publicURL  string
	logger     logrus.FieldLogger
}

func NewJobHandler(dispatcher *core.Dispatcher, publicURL string, logger logrus.FieldLogger) *JobHandler {
	return &JobHandler{
		dispatcher: dispatcher,
		publicURL:  strings.TrimRight(publicURL, "/"),
		logger:     logger,
	}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	job, err := h.dispatcher.CreateJob(c.Request.Context(), core.CreateJobRequest{
		AccountKey: middleware.AccountKey(c),
		DeviceID:   req.PrinterID,
		FileRef:    req.FileID,
		Origin:     h.origin(c),
	})
	switch {
	case err == nil:
	case errors.Is(err, core.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, core.ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	default:
		h.logger.WithError(err).Error("create job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	c.JSON(http.StatusOK, CreateJobResponse{JobID: job.ID, Status: string(job.Status)})
}

// GetJob only shows a job to its owner. Other callers get 404.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.dispatcher.Jobs().Get(c.Param("jobId"))
	if err != nil || job.AccountKey != middleware.AccountKey(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs := h.dispatcher.Jobs().ListByAccount(middleware.AccountKey(c))

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, jobToResponse(job))
	}
	c.JSON(http.StatusOK, resp)
}

// ReportStatus accepts a printer status report over HTTP. It applies the
// same rules as reports arriving on the broker.
func (h *JobHandler) ReportStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id and status are required"})
		return
	}

	job, err := h.dispatcher.ApplyStatus(c.Request.Context(), core.StatusEvent{
		JobID:  req.JobID,
		Status: req.Status,
		Error:  req.Error,
	})
	switch {
	case err == nil:
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	case errors.Is(err, core.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, core.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": string(job.Status)})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": string(job.Status)})
}

func (h *JobHandler) origin(c *gin.Context) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func jobToResponse(job core.Job) JobResponse {
	return JobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		DeviceID:  job.DeviceID,
		Error:     job.Error,
	}
}

// RegisterRoutes mounts the caller facing routes on an authenticated group.
func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/job", h.CreateJob)
	r.GET("/job/:jobId", h.GetJob)
	r.GET("/jobs", h.ListJobs)
}

// RegisterDeviceRoutes mounts the routes printers call.
func (h *JobHandler) RegisterDeviceRoutes(r *gin.RouterGroup) {
	r.POST("/status", h.ReportStatus)
}
