package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WithdrawalHandler handles the withdrawal workflow endpoints.
type WithdrawalHandler struct {
	withdrawalSvc ports.WithdrawalService
}

// NewWithdrawalHandler creates a new WithdrawalHandler.
func NewWithdrawalHandler(withdrawalSvc ports.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawalSvc: withdrawalSvc}
}

// Submit handles POST /api/v1/withdrawals.
func (h *WithdrawalHandler) Submit(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req dto.SubmitWithdrawalRequest
	if !bind(c, &req) {
		return
	}
	amount, err := dto.ParseMoney(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	w, err := h.withdrawalSvc.Submit(c.Request.Context(), ports.SubmitWithdrawalRequest{
		UserID:        caller.ID,
		BankAccountID: uuid.MustParse(req.BankAccountID),
		Amount:        amount,
		Currency:      req.Currency,
		Note:          req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, w)
}

// ListMine handles GET /api/v1/withdrawals.
func (h *WithdrawalHandler) ListMine(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	params := ports.WithdrawalListParams{UserID: &caller.ID, Page: page, PageSize: pageSize}
	if s := c.Query("status"); s != "" {
		status := domain.WithdrawalStatus(s)
		params.Status = &status
	}

	items, total, err := h.withdrawalSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	if items == nil {
		items = []domain.WithdrawalRequest{}
	}
	response.Page(c, items, pageTotal(total), "")
}

// Get handles GET /api/v1/withdrawals/:id. Owners and reviewers only.
func (h *WithdrawalHandler) Get(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	w, err := h.withdrawalSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if w.UserID != caller.ID && !caller.Role.Can(domain.CapWithdrawalReview) {
		response.Error(c, apperror.ErrForbidden())
		return
	}
	response.OK(c, w)
}

// Approve handles POST /api/v1/withdrawals/:id/approve.
func (h *WithdrawalHandler) Approve(c *gin.Context) {
	h.act(c, func(caller domain.Actor, id uuid.UUID, req dto.WithdrawalActionRequest) (*domain.WithdrawalRequest, error) {
		var version int64
		if req.Version != nil {
			version = *req.Version
		}
		return h.withdrawalSvc.Approve(c.Request.Context(), id, caller, version, req.Note)
	})
}

// Reject handles POST /api/v1/withdrawals/:id/reject.
func (h *WithdrawalHandler) Reject(c *gin.Context) {
	h.act(c, func(caller domain.Actor, id uuid.UUID, req dto.WithdrawalActionRequest) (*domain.WithdrawalRequest, error) {
		return h.withdrawalSvc.Reject(c.Request.Context(), id, caller, req.Reason, req.Version)
	})
}

// MarkProcessing handles POST /api/v1/withdrawals/:id/processing.
func (h *WithdrawalHandler) MarkProcessing(c *gin.Context) {
	h.act(c, func(caller domain.Actor, id uuid.UUID, req dto.WithdrawalActionRequest) (*domain.WithdrawalRequest, error) {
		return h.withdrawalSvc.MarkProcessing(c.Request.Context(), id, caller, req.Version)
	})
}

// Complete handles POST /api/v1/withdrawals/:id/complete.
func (h *WithdrawalHandler) Complete(c *gin.Context) {
	h.act(c, func(caller domain.Actor, id uuid.UUID, req dto.WithdrawalActionRequest) (*domain.WithdrawalRequest, error) {
		return h.withdrawalSvc.Complete(c.Request.Context(), id, caller, req.Note, req.Version)
	})
}

// Cancel handles POST /api/v1/withdrawals/:id/cancel. The service checks ownership.
func (h *WithdrawalHandler) Cancel(c *gin.Context) {
	h.act(c, func(caller domain.Actor, id uuid.UUID, req dto.WithdrawalActionRequest) (*domain.WithdrawalRequest, error) {
		return h.withdrawalSvc.Cancel(c.Request.Context(), id, caller, req.Version)
	})
}

// act runs one state change. The body is optional.
func (h *WithdrawalHandler) act(
	c *gin.Context,
	fn func(caller domain.Actor, id uuid.UUID, req dto.WithdrawalActionRequest) (*domain.WithdrawalRequest, error),
) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.WithdrawalActionRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	w, err := fn(caller, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, w)
}
