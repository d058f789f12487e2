package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/ledger"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type AuditLister interface {
	ListAuditLogs(ctx context.Context, filter db.AuditFilter, limit, offset int) ([]*db.AuditLog, error)
}

type AdjustWalletRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
}

type AdminJobResponse struct {
	JobResponse
	Account   string    `json:"account"`
	FileID    string    `json:"fileId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type AdminHandler struct {
	printers *core.PrinterManager
	jobs     *core.JobStore
	ledger   *ledger.Ledger
	audit    AuditLister
	logger   logrus.FieldLogger
}

func NewAdminHandler(printers *core.PrinterManager, jobs *core.JobStore, l *ledger.Ledger, audit AuditLister, logger logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{printers: printers, jobs: jobs, ledger: l, audit: audit, logger: logger}
}

func (h *AdminHandler) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"printers": h.printers.ListPrinters()})
}

func (h *AdminHandler) ListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	status := c.Query("status")

	resp := make([]AdminJobResponse, 0, len(jobs))
	for _, job := range jobs {
		if status != "" && string(job.Status) != status {
			continue
		}
		resp = append(resp, AdminJobResponse{
			JobResponse: jobToResponse(job),
			Account:     job.AccountKey,
			FileID:      job.FileRef,
			UpdatedAt:   job.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"jobs": resp, "stats": h.jobs.Stats()})
}

// AdjustWallet credits a positive amount and debits a negative one.
func (h *AdminHandler) AdjustWallet(c *gin.Context) {
	var req AdjustWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account and non-zero amount are required"})
		return
	}

	ctx := c.Request.Context()
	if req.Amount > 0 {
		balance, err := h.ledger.Credit(ctx, req.Account, req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, LedgerResponse{Balance: balance, Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, LedgerResponse{Success: true, Balance: balance})
		return
	}

	balance, ok, err := h.ledger.Debit(ctx, req.Account, -req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, LedgerResponse{Balance: balance, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, debitResponse(balance, ok))
}

func (h *AdminHandler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditLimit)))
	if err != nil || limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	filter := db.AuditFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
	}

	logs, err := h.audit.ListAuditLogs(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("list audit logs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit logs"})
		return
	}
	if logs == nil {
		logs = []*db.AuditLog{}
	}

	c.JSON(http.StatusOK, gin.H{"entries": logs, "limit": limit, "offset": offset})
}

func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.GET("/jobs", h.ListJobs)
	r.POST("/wallet/adjust", h.AdjustWallet)
	r.GET("/audit", h.ListAudit)
}
