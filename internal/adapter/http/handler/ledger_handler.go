package handler

import (
	"strconv"
	"strings"

	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey carries the client's retry key for ledger posts.
const HeaderIdempotencyKey = "Idempotency-Key"

// LedgerHandler handles wallet balance, history and direct posts.
type LedgerHandler struct {
	ledgerSvc ports.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerSvc ports.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc}
}

// GetBalance handles GET /api/v1/wallet/balance.
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	userID, err := targetUser(c, caller)
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.ledgerSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, balance)
}

// ListTransactions handles GET /api/v1/wallet/transactions.
// Results are cursor paged in (created_at, id) order.
func (h *LedgerHandler) ListTransactions(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	userID, err := targetUser(c, caller)
	if err != nil {
		response.Error(c, err)
		return
	}

	from, to, err := timeRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := ports.HistoryFilter{
		From:      from,
		To:        to,
		Ascending: c.Query("order") == "asc",
	}
	if raw := c.Query("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			txType := domain.TransactionType(strings.TrimSpace(t))
			if !txType.Valid() {
				response.Error(c, apperror.ErrValidation("type", "unknown transaction type "+string(txType)))
				return
			}
			filter.Types = append(filter.Types, txType)
		}
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	txns, next, err := h.ledgerSvc.TransactionPage(c.Request.Context(), userID, filter, c.Query("cursor"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	response.Page(c, txns, nil, next)
}

// GetTransaction handles GET /api/v1/wallet/transactions/:id.
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	txn, err := h.ledgerSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if txn.UserID != caller.ID && !caller.Role.Can(domain.CapReportRead) {
		response.Error(c, apperror.ErrForbidden())
		return
	}
	response.OK(c, txn)
}

// Post handles POST /api/v1/ledger/transactions.
func (h *LedgerHandler) Post(c *gin.Context) {
	var req dto.PostTransactionRequest
	if !bind(c, &req) {
		return
	}
	amount, err := dto.ParseMoney(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	post := ports.PostRequest{
		UserID:      uuid.MustParse(req.UserID),
		Type:        domain.TransactionType(req.Type),
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
	}
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		post.IdempotencyKey = &key
	}

	txn, err := h.ledgerSvc.Post(c.Request.Context(), post)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, txn)
}
