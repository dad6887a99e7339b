package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvoiceServiceImpl implements ports.InvoiceService.
type InvoiceServiceImpl struct {
	invoiceRepo ports.InvoiceRepository
	txRepo      ports.TransactionRepository
	sequencer   ports.InvoiceSequencer
	audit       ports.AuditService
	transactor  ports.DBTransactor
	sellerTaxID string
	loc         *time.Location
	now         func() time.Time
	log         zerolog.Logger
}

// NewInvoiceService creates a new InvoiceServiceImpl. loc decides which
// month an invoice belongs to.
func NewInvoiceService(
	invoiceRepo ports.InvoiceRepository,
	txRepo ports.TransactionRepository,
	sequencer ports.InvoiceSequencer,
	audit ports.AuditService,
	transactor ports.DBTransactor,
	sellerTaxID string,
	loc *time.Location,
	log zerolog.Logger,
) *InvoiceServiceImpl {
	if loc == nil {
		loc = time.UTC
	}
	return &InvoiceServiceImpl{
		invoiceRepo: invoiceRepo,
		txRepo:      txRepo,
		sequencer:   sequencer,
		audit:       audit,
		transactor:  transactor,
		sellerTaxID: sellerTaxID,
		loc:         loc,
		now:         utcNow,
		log:         log,
	}
}

// Issue prices the items, allocates a track number and stores the invoice
// in one transaction. Issuing twice for the same reference returns the
// first invoice.
func (s *InvoiceServiceImpl) Issue(ctx context.Context, req ports.IssueInvoiceRequest) (*domain.Invoice, error) {
	if err := validateIssue(req); err != nil {
		return nil, err
	}

	if req.ReferenceID != nil {
		existing, err := s.invoiceRepo.GetByReference(ctx, *req.ReferenceID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get invoice by reference: %w", err))
		}
		if existing != nil {
			return existing, nil
		}
		if err := s.checkReference(ctx, *req.ReferenceID, req.Currency); err != nil {
			return nil, err
		}
	}

	inv, err := s.issue(ctx, req)
	if err == nil {
		return inv, nil
	}
	// A concurrent issue for the same reference won the unique index.
	if req.ReferenceID != nil && errors.Is(err, ports.ErrDuplicate) {
		existing, getErr := s.invoiceRepo.GetByReference(ctx, *req.ReferenceID)
		if getErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, internalErr("issue invoice", err)
}

func (s *InvoiceServiceImpl) issue(ctx context.Context, req ports.IssueInvoiceRequest) (*domain.Invoice, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	yearMonth := domain.YearMonthOf(now, s.loc)
	number, err := s.sequencer.Next(ctx, dbTx, yearMonth)
	if err != nil {
		return nil, err
	}

	lines, subtotal, tax, total := domain.PriceItems(req.Items)
	inv := &domain.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: number,
		YearMonth:     yearMonth,
		InvoiceDate:   now,
		Buyer:         req.Buyer,
		SellerTaxID:   s.sellerTaxID,
		Items:         lines,
		Subtotal:      subtotal,
		TaxRate:       domain.TaxRate,
		TaxAmount:     tax,
		Total:         total,
		Currency:      req.Currency,
		Status:        domain.InvoiceIssued,
		ReferenceID:   req.ReferenceID,
		IssuedBy:      req.IssuedBy.IDRef(),
		CreatedAt:     now,
	}
	if err := s.invoiceRepo.Create(ctx, dbTx, inv); err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	entry := domain.NewAuditLog(req.IssuedBy, domain.AuditInvoiceIssued, domain.ResourceInvoice, inv.ID.String(), number)
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	s.audit.Announce(ctx, entry)

	s.log.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", number).
		Str("total", total.String()).
		Msg("invoice issued")

	return inv, nil
}

// checkReference makes sure an invoice for a ledger transaction bills in its currency.
func (s *InvoiceServiceImpl) checkReference(ctx context.Context, referenceID, currency string) error {
	txnID, err := uuid.Parse(referenceID)
	if err != nil {
		return nil
	}
	txn, err := s.txRepo.GetByID(ctx, txnID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get referenced transaction: %w", err))
	}
	if txn != nil && txn.Currency != currency {
		return apperror.ErrCurrencyMismatch(txn.Currency, currency)
	}
	return nil
}

// Void marks an issued invoice voided. Its number is never reused.
func (s *InvoiceServiceImpl) Void(ctx context.Context, id uuid.UUID, admin domain.Actor, reason string) (*domain.Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.ErrValidation("reason_required", "a void reason is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	inv, err := s.invoiceRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock invoice: %w", err))
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if inv.Status != domain.InvoiceIssued {
		return nil, apperror.ErrInvalidTransition(string(inv.Status), string(domain.InvoiceVoided))
	}

	now := s.now()
	inv.Status = domain.InvoiceVoided
	inv.VoidReason = reason
	inv.VoidedBy = admin.IDRef()
	inv.VoidedAt = &now
	if err := s.invoiceRepo.UpdateStatus(ctx, dbTx, inv); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update invoice: %w", err))
	}

	entry := domain.NewAuditLog(admin, domain.AuditInvoiceVoided, domain.ResourceInvoice, id.String(), reason)
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.audit.Announce(ctx, entry)

	s.log.Info().Str("invoice_id", id.String()).Str("invoice_number", inv.InvoiceNumber).Msg("invoice voided")
	return inv, nil
}

// Get fetches an invoice.
func (s *InvoiceServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get invoice: %w", err))
	}
	if inv == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	return inv, nil
}

// List returns invoices ordered by number.
func (s *InvoiceServiceImpl) List(ctx context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
	if params.YearMonth != "" && !domain.ValidYearMonth(params.YearMonth) {
		return nil, 0, apperror.ErrValidation("year_month_format", "year_month must be YYYY-MM")
	}
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	items, total, err := s.invoiceRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list invoices: %w", err))
	}
	return items, total, nil
}

func validateIssue(req ports.IssueInvoiceRequest) error {
	if len(req.Items) == 0 {
		return apperror.ErrValidation("items_required", "an invoice needs at least one item")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.Description) == "" {
			return apperror.ErrValidation("item_description_required", fmt.Sprintf("item %d needs a description", i+1))
		}
		if !it.Quantity.IsPositive() {
			return apperror.ErrValidation("item_quantity_positive", fmt.Sprintf("item %d quantity must be positive", i+1))
		}
		if it.UnitPrice.IsNegative() {
			return apperror.ErrValidation("item_unit_price_non_negative", fmt.Sprintf("item %d unit price must not be negative", i+1))
		}
	}
	if req.Buyer.TaxID != "" && !domain.ValidBuyerTaxID(req.Buyer.TaxID) {
		return apperror.ErrValidation("buyer_tax_id_format", "buyer tax id must be 8 digits")
	}
	if !domain.IsValidCurrency(req.Currency) {
		return apperror.ErrValidation("currency_format", "currency must be a 3-letter ISO code")
	}
	if req.ReferenceID != nil && *req.ReferenceID == "" {
		return apperror.ErrValidation("reference_id", "reference_id must not be empty")
	}
	return nil
}
