package service

import (
	"context"
	"fmt"
	"strings"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentConfirmationServiceImpl implements ports.PaymentConfirmationService.
// The ledger post and the invoice are separate atomic steps, each idempotent
// on the payment reference, so a redelivered confirmation resumes where the
// previous attempt stopped.
type PaymentConfirmationServiceImpl struct {
	ledger         ports.LedgerService
	invoices       ports.InvoiceService
	platformUserID uuid.UUID
	log            zerolog.Logger
}

// NewPaymentConfirmationService creates a new PaymentConfirmationServiceImpl.
// Subscription revenue is credited to platformUserID's wallet.
func NewPaymentConfirmationService(
	ledger ports.LedgerService,
	invoices ports.InvoiceService,
	platformUserID uuid.UUID,
	log zerolog.Logger,
) *PaymentConfirmationServiceImpl {
	return &PaymentConfirmationServiceImpl{
		ledger:         ledger,
		invoices:       invoices,
		platformUserID: platformUserID,
		log:            log,
	}
}

// Confirm credits the payment and optionally issues its invoice.
func (s *PaymentConfirmationServiceImpl) Confirm(ctx context.Context, evt ports.PaymentConfirmation) (*ports.PaymentConfirmationResult, error) {
	if strings.TrimSpace(evt.ReferenceID) == "" {
		return nil, apperror.ErrValidation("reference_id", "reference_id is required")
	}
	if !evt.Amount.IsPositive() {
		return nil, apperror.ErrValidation("amount_positive", "amount must be greater than zero")
	}

	req := ports.PostRequest{
		Amount:      evt.Amount,
		Currency:    evt.Currency,
		Description: evt.Description,
		ReferenceID: &evt.ReferenceID,
	}
	key := domain.BuildPaymentIdempotencyKey(evt.ReferenceID)
	req.IdempotencyKey = &key

	switch evt.Kind {
	case ports.PaymentWalletTopup:
		req.UserID = evt.UserID
		req.Type = domain.TransactionTypeDeposit
		if req.Description == "" {
			req.Description = "wallet top-up"
		}
	case ports.PaymentSubscription:
		if s.platformUserID == uuid.Nil {
			return nil, apperror.InternalError(fmt.Errorf("platform wallet is not configured"))
		}
		req.UserID = s.platformUserID
		req.Type = domain.TransactionTypeSubscriptionRevenue
		if req.Description == "" {
			req.Description = "subscription payment from " + evt.UserID.String()
		}
	default:
		return nil, apperror.ErrValidation("payment_kind", fmt.Sprintf("unknown payment kind %q", evt.Kind))
	}

	txn, err := s.ledger.Post(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &ports.PaymentConfirmationResult{Transaction: txn}

	if evt.IssueInvoice {
		inv, err := s.issueInvoice(ctx, evt, txn)
		if err != nil {
			s.log.Warn().Err(err).
				Str("reference_id", evt.ReferenceID).
				Str("txn_id", txn.ID.String()).
				Msg("payment credited but invoice issuance failed")
			return nil, err
		}
		result.Invoice = inv
	}

	s.log.Info().
		Str("reference_id", evt.ReferenceID).
		Str("kind", string(evt.Kind)).
		Str("txn_id", txn.ID.String()).
		Bool("invoiced", result.Invoice != nil).
		Msg("payment confirmed")

	return result, nil
}

// issueInvoice bills the payment as one line. The ledger transaction id is
// the invoice reference, so a retry finds the invoice already issued.
func (s *PaymentConfirmationServiceImpl) issueInvoice(ctx context.Context, evt ports.PaymentConfirmation, txn *domain.Transaction) (*domain.Invoice, error) {
	ref := txn.ID.String()
	return s.invoices.Issue(ctx, ports.IssueInvoiceRequest{
		Buyer: evt.Buyer,
		Items: []domain.InvoiceItem{{
			Description: txn.Description,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   evt.Amount,
		}},
		Currency:    txn.Currency,
		ReferenceID: &ref,
		IssuedBy:    domain.SystemActor,
	})
}
