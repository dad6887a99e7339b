package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IntegrationHandler receives events from the payment gateway.
type IntegrationHandler struct {
	confirmSvc ports.PaymentConfirmationService
}

// NewIntegrationHandler creates a new IntegrationHandler.
func NewIntegrationHandler(confirmSvc ports.PaymentConfirmationService) *IntegrationHandler {
	return &IntegrationHandler{confirmSvc: confirmSvc}
}

// ConfirmPayment handles POST /api/v1/integrations/payments/confirm.
// Retries of the same reference return the original result.
func (h *IntegrationHandler) ConfirmPayment(c *gin.Context) {
	var req dto.PaymentConfirmRequest
	if !bind(c, &req) {
		return
	}
	amount, err := dto.ParseMoney(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.confirmSvc.Confirm(c.Request.Context(), ports.PaymentConfirmation{
		ReferenceID:  req.ReferenceID,
		UserID:       uuid.MustParse(req.UserID),
		Kind:         ports.PaymentKind(req.Kind),
		Amount:       amount,
		Currency:     req.Currency,
		Description:  req.Description,
		IssueInvoice: req.IssueInvoice,
		Buyer:        toBuyer(req.Buyer),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
