package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WithdrawalServiceImpl implements ports.WithdrawalService.
// Locks are taken in the order withdrawal row, bank account, wallet.
type WithdrawalServiceImpl struct {
	withdrawalRepo ports.WithdrawalRepository
	bankRepo       ports.BankAccountRepository
	ledger         ports.LedgerPoster
	audit          ports.AuditService
	notifier       ports.WithdrawalNotifier
	transactor     ports.DBTransactor
	now            func() time.Time
	log            zerolog.Logger
}

// NewWithdrawalService creates a new WithdrawalServiceImpl. notifier may be nil.
func NewWithdrawalService(
	withdrawalRepo ports.WithdrawalRepository,
	bankRepo ports.BankAccountRepository,
	ledger ports.LedgerPoster,
	audit ports.AuditService,
	notifier ports.WithdrawalNotifier,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *WithdrawalServiceImpl {
	return &WithdrawalServiceImpl{
		withdrawalRepo: withdrawalRepo,
		bankRepo:       bankRepo,
		ledger:         ledger,
		audit:          audit,
		notifier:       notifier,
		transactor:     transactor,
		now:            utcNow,
		log:            log,
	}
}

// Submit holds the amount and opens a pending request.
func (s *WithdrawalServiceImpl) Submit(ctx context.Context, req ports.SubmitWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	switch {
	case !req.Amount.IsPositive():
		return nil, apperror.ErrValidation("amount_positive", "amount must be greater than zero")
	case !domain.HasMoneyScale(req.Amount):
		return nil, apperror.ErrValidation("amount_scale", "amount must have at most 2 decimal places")
	case req.Currency != "" && !domain.IsValidCurrency(req.Currency):
		return nil, apperror.ErrValidation("currency_format", "currency must be a 3-letter ISO code")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.checkDestination(ctx, dbTx, req.BankAccountID, req.UserID); err != nil {
		return nil, err
	}

	id := uuid.New()
	ref := id.String()
	hold, err := s.ledger.PostInTx(ctx, dbTx, ports.PostRequest{
		UserID:      req.UserID,
		Type:        domain.TransactionTypeWithdrawal,
		Effect:      domain.EffectHold,
		Amount:      req.Amount.Neg(),
		Currency:    req.Currency,
		Description: "withdrawal hold",
		ReferenceID: &ref,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	w := &domain.WithdrawalRequest{
		ID:                id,
		UserID:            req.UserID,
		BankAccountID:     req.BankAccountID,
		Amount:            req.Amount,
		Currency:          hold.Currency,
		Status:            domain.WithdrawalPending,
		Note:              req.Note,
		HoldTransactionID: hold.ID,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.withdrawalRepo.Create(ctx, dbTx, w); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("insert withdrawal: %w", err))
	}

	entry := domain.NewAuditLog(domain.Actor{ID: req.UserID, Role: domain.RoleUser},
		domain.AuditWithdrawalSubmitted, domain.ResourceWithdrawal, id.String(), req.Note)
	entry.Details = transitionDetails("", domain.WithdrawalPending, w)
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Announce(ctx, entry)
	s.notify(ctx, w)

	s.log.Info().
		Str("withdrawal_id", id.String()).
		Str("user_id", req.UserID.String()).
		Str("amount", req.Amount.String()).
		Msg("withdrawal submitted")

	return w, nil
}

// Approve moves a pending request to approved. The caller must present the
// version it reviewed.
func (s *WithdrawalServiceImpl) Approve(ctx context.Context, id uuid.UUID, admin domain.Actor, version int64, note string) (*domain.WithdrawalRequest, error) {
	if version <= 0 {
		return nil, apperror.ErrValidation("version_required", "version is required to approve a withdrawal")
	}
	return s.transition(ctx, id, transition{
		to:      domain.WithdrawalApproved,
		action:  domain.AuditWithdrawalApproved,
		actor:   admin,
		note:    note,
		version: &version,
		apply: func(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
			// The account may have been flagged or deleted since submission.
			if err := s.checkDestination(ctx, tx, w.BankAccountID, w.UserID); err != nil {
				return err
			}
			w.AdminNote = note
			w.ProcessedBy = admin.IDRef()
			return nil
		},
	})
}

// Reject refuses a pending request and releases its hold.
func (s *WithdrawalServiceImpl) Reject(ctx context.Context, id uuid.UUID, admin domain.Actor, reason string, version *int64) (*domain.WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.ErrValidation("reason_required", "a rejection reason is required")
	}
	return s.transition(ctx, id, transition{
		to:      domain.WithdrawalRejected,
		action:  domain.AuditWithdrawalRejected,
		actor:   admin,
		note:    reason,
		version: version,
		apply: func(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
			if err := s.release(ctx, tx, w, "withdrawal rejected"); err != nil {
				return err
			}
			w.AdminNote = reason
			w.ProcessedBy = admin.IDRef()
			return nil
		},
	})
}

// MarkProcessing records that the payout was handed to the bank.
func (s *WithdrawalServiceImpl) MarkProcessing(ctx context.Context, id uuid.UUID, admin domain.Actor, version *int64) (*domain.WithdrawalRequest, error) {
	return s.transition(ctx, id, transition{
		to:      domain.WithdrawalProcessing,
		action:  domain.AuditWithdrawalProcessing,
		actor:   admin,
		version: version,
		apply: func(_ context.Context, _ pgx.Tx, w *domain.WithdrawalRequest) error {
			w.ProcessedBy = admin.IDRef()
			return nil
		},
	})
}

// Complete settles the hold once the bank confirmed the payout.
func (s *WithdrawalServiceImpl) Complete(ctx context.Context, id uuid.UUID, admin domain.Actor, note string, version *int64) (*domain.WithdrawalRequest, error) {
	return s.transition(ctx, id, transition{
		to:      domain.WithdrawalCompleted,
		action:  domain.AuditWithdrawalCompleted,
		actor:   admin,
		note:    note,
		version: version,
		apply: func(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
			if err := s.ledger.SettleHoldInTx(ctx, tx, w.UserID, w.Amount); err != nil {
				return err
			}
			now := s.now()
			w.CompletedAt = &now
			w.ProcessedBy = admin.IDRef()
			if note != "" {
				w.AdminNote = note
			}
			return nil
		},
	})
}

// Cancel lets the owner withdraw a pending request and releases its hold.
func (s *WithdrawalServiceImpl) Cancel(ctx context.Context, id uuid.UUID, user domain.Actor, version *int64) (*domain.WithdrawalRequest, error) {
	return s.transition(ctx, id, transition{
		to:        domain.WithdrawalCancelled,
		action:    domain.AuditWithdrawalCancelled,
		actor:     user,
		version:   version,
		ownerOnly: true,
		apply: func(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
			return s.release(ctx, tx, w, "withdrawal cancelled")
		},
	})
}

// Get fetches a withdrawal request.
func (s *WithdrawalServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	w, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get withdrawal: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("withdrawal request")
	}
	return w, nil
}

// List returns withdrawal requests newest first.
func (s *WithdrawalServiceImpl) List(ctx context.Context, params ports.WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	items, total, err := s.withdrawalRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list withdrawals: %w", err))
	}
	return items, total, nil
}

type transition struct {
	to        domain.WithdrawalStatus
	action    domain.AuditAction
	actor     domain.Actor
	note      string
	version   *int64
	ownerOnly bool
	apply     func(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error
}

// transition runs one state change: lock, guard, apply money effects,
// persist with the version check and audit, all in one database transaction.
func (s *WithdrawalServiceImpl) transition(ctx context.Context, id uuid.UUID, t transition) (*domain.WithdrawalRequest, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	w, err := s.withdrawalRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock withdrawal: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("withdrawal request")
	}
	if t.ownerOnly && w.UserID != t.actor.ID {
		return nil, apperror.ErrForbidden()
	}
	if t.version != nil && *t.version != w.Version {
		return nil, apperror.ErrConcurrentModification()
	}
	from := w.Status
	if !domain.CanTransitionWithdrawal(from, t.to) {
		return nil, apperror.ErrInvalidTransition(string(from), string(t.to))
	}

	expected := w.Version
	if t.apply != nil {
		if err := t.apply(ctx, dbTx, w); err != nil {
			return nil, err
		}
	}
	w.Status = t.to
	w.UpdatedAt = s.now()

	if err := s.withdrawalRepo.UpdateStatus(ctx, dbTx, w, expected); err != nil {
		if errors.Is(err, ports.ErrStaleVersion) {
			return nil, apperror.ErrConcurrentModification()
		}
		return nil, apperror.InternalError(fmt.Errorf("update withdrawal: %w", err))
	}

	entry := domain.NewAuditLog(t.actor, t.action, domain.ResourceWithdrawal, id.String(), t.note)
	entry.Details = transitionDetails(from, t.to, w)
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Announce(ctx, entry)
	s.notify(ctx, w)

	s.log.Info().
		Str("withdrawal_id", id.String()).
		Str("from", string(from)).
		Str("to", string(t.to)).
		Int64("version", w.Version).
		Msg("withdrawal status changed")

	return w, nil
}

// checkDestination locks the bank account and verifies the user may withdraw to it.
func (s *WithdrawalServiceImpl) checkDestination(ctx context.Context, tx pgx.Tx, accountID, userID uuid.UUID) error {
	acct, err := s.bankRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock bank account: %w", err))
	}
	if acct == nil {
		return apperror.ErrNotFound("bank account")
	}
	if acct.UserID != userID {
		return apperror.ErrBankAccountNotEligible("account belongs to another user")
	}
	if reason := acct.WithdrawalIneligibility(); reason != "" {
		return apperror.ErrBankAccountNotEligible(reason)
	}
	return nil
}

// release returns the held amount to available_balance.
func (s *WithdrawalServiceImpl) release(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest, description string) error {
	ref := w.ID.String()
	txn, err := s.ledger.PostInTx(ctx, tx, ports.PostRequest{
		UserID:      w.UserID,
		Type:        domain.TransactionTypeWithdrawal,
		Effect:      domain.EffectRelease,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Description: description,
		ReferenceID: &ref,
	})
	if err != nil {
		return err
	}
	w.ReleaseTransactionID = &txn.ID
	return nil
}

func (s *WithdrawalServiceImpl) notify(ctx context.Context, w *domain.WithdrawalRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyStatusChange(ctx, w); err != nil {
		s.log.Warn().Err(err).Str("withdrawal_id", w.ID.String()).Msg("failed to notify withdrawal status change")
	}
}

func transitionDetails(from, to domain.WithdrawalStatus, w *domain.WithdrawalRequest) string {
	data, _ := json.Marshal(struct {
		From    domain.WithdrawalStatus `json:"from,omitempty"`
		To      domain.WithdrawalStatus `json:"to"`
		Amount  decimal.Decimal         `json:"amount"`
		Version int64                   `json:"version"`
	}{from, to, w.Amount, w.Version})
	return string(data)
}
