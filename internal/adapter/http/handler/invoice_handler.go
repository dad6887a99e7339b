package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// InvoiceHandler handles sequence configuration, issuance and void.
type InvoiceHandler struct {
	sequencer  ports.InvoiceSequencer
	invoiceSvc ports.InvoiceService
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(sequencer ports.InvoiceSequencer, invoiceSvc ports.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{sequencer: sequencer, invoiceSvc: invoiceSvc}
}

// SetPrefix handles POST /api/v1/admin/invoices/set-prefix.
func (h *InvoiceHandler) SetPrefix(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req dto.SetInvoicePrefixRequest
	if !bind(c, &req) {
		return
	}

	seq, err := h.sequencer.SetPrefix(c.Request.Context(), req.YearMonth, req.Prefix, req.NumberStart, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, seq)
}

// GetSequence handles GET /api/v1/admin/invoices/sequences/:year_month.
func (h *InvoiceHandler) GetSequence(c *gin.Context) {
	seq, err := h.sequencer.Get(c.Request.Context(), c.Param("year_month"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, seq)
}

// Create handles POST /api/v1/invoices/create.
func (h *InvoiceHandler) Create(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req dto.IssueInvoiceRequest
	if !bind(c, &req) {
		return
	}

	items := make([]domain.InvoiceItem, 0, len(req.Items))
	for _, it := range req.Items {
		qty, err := dto.ParseMoney(it.Quantity)
		if err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		price, err := dto.ParseMoney(it.UnitPrice)
		if err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		items = append(items, domain.InvoiceItem{Description: it.Description, Quantity: qty, UnitPrice: price})
	}

	inv, err := h.invoiceSvc.Issue(c.Request.Context(), ports.IssueInvoiceRequest{
		Buyer:       toBuyer(&req.Buyer),
		Items:       items,
		Currency:    req.Currency,
		ReferenceID: req.ReferenceID,
		IssuedBy:    caller,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// Get handles GET /api/v1/invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inv, err := h.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

// List handles GET /api/v1/admin/invoices.
func (h *InvoiceHandler) List(c *gin.Context) {
	var q dto.InvoiceListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.ErrValidation("query", err.Error()))
		return
	}
	page, pageSize := pageParams(c)
	params := ports.InvoiceListParams{YearMonth: q.YearMonth, Page: page, PageSize: pageSize}
	if q.Status != "" {
		status := domain.InvoiceStatus(q.Status)
		params.Status = &status
	}

	invoices, total, err := h.invoiceSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	if invoices == nil {
		invoices = []domain.Invoice{}
	}
	response.Page(c, invoices, pageTotal(total), "")
}

// Void handles POST /api/v1/invoices/:id/void.
func (h *InvoiceHandler) Void(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.VoidInvoiceRequest
	if !bind(c, &req) {
		return
	}

	inv, err := h.invoiceSvc.Void(c.Request.Context(), id, caller, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inv)
}

func toBuyer(b *dto.BuyerRequest) domain.Buyer {
	if b == nil {
		return domain.Buyer{}
	}
	return domain.Buyer{TaxID: b.TaxID, Name: b.Name, Email: b.Email}
}
