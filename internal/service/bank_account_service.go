package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

var (
	accountNumberRe = regexp.MustCompile(`^[0-9A-Z]{6,34}$`)
	swiftCodeRe     = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
)

// BankAccountServiceImpl implements ports.BankAccountService.
type BankAccountServiceImpl struct {
	bankRepo   ports.BankAccountRepository
	encSvc     ports.EncryptionService
	audit      ports.AuditService
	transactor ports.DBTransactor
	now        func() time.Time
	log        zerolog.Logger
}

// NewBankAccountService creates a new BankAccountServiceImpl.
func NewBankAccountService(
	bankRepo ports.BankAccountRepository,
	encSvc ports.EncryptionService,
	audit ports.AuditService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *BankAccountServiceImpl {
	return &BankAccountServiceImpl{
		bankRepo:   bankRepo,
		encSvc:     encSvc,
		audit:      audit,
		transactor: transactor,
		now:        utcNow,
		log:        log,
	}
}

// Register stores a new unverified destination. Only the last four digits
// of the number stay readable.
func (s *BankAccountServiceImpl) Register(ctx context.Context, req ports.RegisterBankAccountRequest) (*domain.BankAccount, error) {
	number := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(req.AccountNumber), " ", ""))
	swift := strings.ToUpper(strings.TrimSpace(req.SwiftCode))
	switch {
	case !req.Type.Valid():
		return nil, apperror.ErrValidation("account_type", "type must be bank_account or international_bank")
	case strings.TrimSpace(req.BankName) == "":
		return nil, apperror.ErrValidation("bank_name_required", "bank_name is required")
	case strings.TrimSpace(req.AccountHolder) == "":
		return nil, apperror.ErrValidation("account_holder_required", "account_holder is required")
	case !accountNumberRe.MatchString(number):
		return nil, apperror.ErrValidation("account_number_format", "account_number must be 6 to 34 letters or digits")
	case req.Type == domain.BankAccountInternational && !swiftCodeRe.MatchString(swift):
		return nil, apperror.ErrValidation("swift_code_format", "international accounts need a valid SWIFT code")
	}

	enc, err := s.encSvc.Encrypt(number)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt account number: %w", err))
	}

	now := s.now()
	acct := &domain.BankAccount{
		ID:               uuid.New(),
		UserID:           req.UserID,
		Type:             req.Type,
		BankName:         strings.TrimSpace(req.BankName),
		AccountHolder:    strings.TrimSpace(req.AccountHolder),
		SwiftCode:        swift,
		AccountNumberEnc: enc,
		AccountLast4:     domain.Last4(number),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.bankRepo.Create(ctx, dbTx, acct); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("insert bank account: %w", err))
	}

	entry := domain.NewAuditLog(domain.Actor{ID: req.UserID, Role: domain.RoleUser},
		domain.AuditBankAccountRegistered, domain.ResourceBankAccount, acct.ID.String(), acct.MaskedNumber())
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.audit.Announce(ctx, entry)

	s.log.Info().
		Str("bank_account_id", acct.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("type", string(req.Type)).
		Msg("bank account registered")

	return acct, nil
}

// Verify sets or clears the verified flag.
func (s *BankAccountServiceImpl) Verify(ctx context.Context, id uuid.UUID, verified bool, note string, admin domain.Actor) (*domain.BankAccount, error) {
	return s.mutate(ctx, id, admin, domain.AuditBankAccountVerified, note, map[string]any{"verified": verified},
		func(a *domain.BankAccount) {
			a.Verified = verified
			a.VerificationNote = note
			a.VerifiedBy = admin.IDRef()
		})
}

// Flag marks an account suspicious. Flagged accounts cannot receive withdrawals.
func (s *BankAccountServiceImpl) Flag(ctx context.Context, id uuid.UUID, flagged bool, reason string, admin domain.Actor) (*domain.BankAccount, error) {
	reason = strings.TrimSpace(reason)
	if flagged && reason == "" {
		return nil, apperror.ErrValidation("reason_required", "a reason is required to flag an account")
	}
	return s.mutate(ctx, id, admin, domain.AuditBankAccountFlagged, reason, map[string]any{"flagged": flagged},
		func(a *domain.BankAccount) {
			a.Flagged = flagged
			a.FlagReason = reason
		})
}

// Delete soft-deletes an account. Its history stays readable.
func (s *BankAccountServiceImpl) Delete(ctx context.Context, id uuid.UUID, reason string, admin domain.Actor) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperror.ErrValidation("reason_required", "a reason is required to delete an account")
	}
	_, err := s.mutate(ctx, id, admin, domain.AuditBankAccountDeleted, reason, nil,
		func(a *domain.BankAccount) {
			if a.DeletedAt == nil {
				now := s.now()
				a.DeletedAt = &now
			}
			a.DeleteReason = reason
		})
	return err
}

// Get fetches an account, deleted ones included.
func (s *BankAccountServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	acct, err := s.bankRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get bank account: %w", err))
	}
	if acct == nil {
		return nil, apperror.ErrNotFound("bank account")
	}
	return acct, nil
}

// ListForUser returns a user's accounts, oldest first.
func (s *BankAccountServiceImpl) ListForUser(ctx context.Context, userID uuid.UUID, includeDeleted bool) ([]domain.BankAccount, error) {
	accts, err := s.bankRepo.ListByUser(ctx, userID, includeDeleted)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list bank accounts: %w", err))
	}
	return accts, nil
}

// mutate is the locked read-modify-write shared by the admin actions.
func (s *BankAccountServiceImpl) mutate(
	ctx context.Context, id uuid.UUID, admin domain.Actor, action domain.AuditAction,
	note string, details map[string]any, change func(*domain.BankAccount),
) (*domain.BankAccount, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	acct, err := s.lock(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	change(acct)
	acct.UpdatedAt = s.now()
	if err := s.bankRepo.Update(ctx, dbTx, acct); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update bank account: %w", err))
	}

	entry := domain.NewAuditLog(admin, action, domain.ResourceBankAccount, id.String(), note)
	if details != nil {
		data, _ := json.Marshal(details)
		entry.Details = string(data)
	}
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.audit.Announce(ctx, entry)

	s.log.Info().Str("bank_account_id", id.String()).Str("action", string(action)).Msg("bank account updated")
	return acct, nil
}

func (s *BankAccountServiceImpl) lock(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.BankAccount, error) {
	acct, err := s.bankRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock bank account: %w", err))
	}
	if acct == nil {
		return nil, apperror.ErrNotFound("bank account")
	}
	return acct, nil
}
