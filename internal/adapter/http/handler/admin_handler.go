package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles backup, reset and the read-only admin views.
type AdminHandler struct {
	resetSvc     ports.ResetService
	reportingSvc ports.ReportingService
	auditSvc     ports.AuditService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(resetSvc ports.ResetService, reportingSvc ports.ReportingService, auditSvc ports.AuditService) *AdminHandler {
	return &AdminHandler{resetSvc: resetSvc, reportingSvc: reportingSvc, auditSvc: auditSvc}
}

// Backup handles POST /api/v1/admin/wallet-backup.
func (h *AdminHandler) Backup(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req dto.BackupRequest
	if !bind(c, &req) {
		return
	}

	snap, err := h.resetSvc.Backup(c.Request.Context(), caller, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, snap)
}

// GetBackup handles GET /api/v1/admin/wallet-backup/:id.
func (h *AdminHandler) GetBackup(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	snap, err := h.resetSvc.GetBackup(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Reset handles POST /api/v1/admin/wallet-reset.
func (h *AdminHandler) Reset(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req dto.ResetRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.resetSvc.ResetAll(c.Request.Context(), caller, req.ConfirmationToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// ListWithdrawals handles GET /api/v1/admin/withdrawals.
func (h *AdminHandler) ListWithdrawals(c *gin.Context) {
	page, pageSize := pageParams(c)
	params := ports.WithdrawalListParams{Page: page, PageSize: pageSize}

	var err error
	if params.UserID, err = queryUUID(c, "user_id"); err != nil {
		response.Error(c, err)
		return
	}
	if params.From, params.To, err = timeRange(c); err != nil {
		response.Error(c, err)
		return
	}
	if s := c.Query("status"); s != "" {
		status := domain.WithdrawalStatus(s)
		params.Status = &status
	}

	records, total, err := h.reportingSvc.ListWithdrawals(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	if records == nil {
		records = []ports.WithdrawalRecord{}
	}
	response.Page(c, records, pageTotal(total), "")
}

// ListAuditLogs handles GET /api/v1/admin/audit-logs.
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	page, pageSize := pageParams(c)
	params := ports.AuditListParams{
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Page:         page,
		PageSize:     pageSize,
	}

	var err error
	if params.ActorID, err = queryUUID(c, "actor_id"); err != nil {
		response.Error(c, err)
		return
	}
	if params.From, params.To, err = timeRange(c); err != nil {
		response.Error(c, err)
		return
	}
	if a := c.Query("action"); a != "" {
		action := domain.AuditAction(a)
		params.Action = &action
	}

	logs, total, err := h.auditSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	response.Page(c, logs, pageTotal(total), "")
}

// LedgerStats handles GET /api/v1/admin/ledger/stats.
func (h *AdminHandler) LedgerStats(c *gin.Context) {
	from, to, err := timeRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.reportingSvc.LedgerStats(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	if stats == nil {
		stats = []ports.TransactionTypeStat{}
	}
	response.OK(c, stats)
}
