package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// BankAccountHandler handles the withdrawal destination registry.
type BankAccountHandler struct {
	bankSvc ports.BankAccountService
}

// NewBankAccountHandler creates a new BankAccountHandler.
func NewBankAccountHandler(bankSvc ports.BankAccountService) *BankAccountHandler {
	return &BankAccountHandler{bankSvc: bankSvc}
}

// Register handles POST /api/v1/bank-accounts.
func (h *BankAccountHandler) Register(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req dto.RegisterBankAccountRequest
	if !bind(c, &req) {
		return
	}

	acct, err := h.bankSvc.Register(c.Request.Context(), ports.RegisterBankAccountRequest{
		UserID:        caller.ID,
		Type:          domain.BankAccountType(req.Type),
		BankName:      req.BankName,
		AccountHolder: req.AccountHolder,
		AccountNumber: req.AccountNumber,
		SwiftCode:     req.SwiftCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewBankAccountResponse(acct))
}

// ListMine handles GET /api/v1/bank-accounts.
func (h *BankAccountHandler) ListMine(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}

	accts, err := h.bankSvc.ListForUser(c.Request.Context(), caller.ID, c.Query("include_deleted") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.BankAccountResponse, 0, len(accts))
	for i := range accts {
		out = append(out, dto.NewBankAccountResponse(&accts[i]))
	}
	response.OK(c, out)
}

// Verify handles POST /api/v1/admin/bank-accounts/:id/verify.
func (h *BankAccountHandler) Verify(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.VerifyBankAccountRequest
	if !bind(c, &req) {
		return
	}

	acct, err := h.bankSvc.Verify(c.Request.Context(), id, *req.Verified, req.Note, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBankAccountResponse(acct))
}

// Flag handles POST /api/v1/admin/bank-accounts/:id/flag.
func (h *BankAccountHandler) Flag(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.FlagBankAccountRequest
	if !bind(c, &req) {
		return
	}

	acct, err := h.bankSvc.Flag(c.Request.Context(), id, *req.Flagged, req.Reason, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBankAccountResponse(acct))
}

// Delete handles DELETE /api/v1/admin/bank-accounts/:id?reason=...
func (h *BankAccountHandler) Delete(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.bankSvc.Delete(c.Request.Context(), id, c.Query("reason"), caller); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "deleted": true})
}
