package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

const defaultResetLockTTL = 5 * time.Minute

// ResetServiceImpl implements ports.ResetService.
type ResetServiceImpl struct {
	walletRepo     ports.WalletRepository
	withdrawalRepo ports.WithdrawalRepository
	backupRepo     ports.BackupRepository
	ledger         ports.LedgerPoster
	audit          ports.AuditService
	resetLock      ports.ResetLock
	transactor     ports.DBTransactor
	confirmToken   string
	lockTTL        time.Duration
	running        sync.Mutex
	now            func() time.Time
	log            zerolog.Logger
}

// NewResetService creates a new ResetServiceImpl. resetLock may be nil for a
// single instance; resets are then single-flight within the process only.
func NewResetService(
	walletRepo ports.WalletRepository,
	withdrawalRepo ports.WithdrawalRepository,
	backupRepo ports.BackupRepository,
	ledger ports.LedgerPoster,
	audit ports.AuditService,
	resetLock ports.ResetLock,
	transactor ports.DBTransactor,
	confirmToken string,
	lockTTL time.Duration,
	log zerolog.Logger,
) *ResetServiceImpl {
	if confirmToken == "" {
		confirmToken = domain.DefaultResetToken
	}
	if lockTTL <= 0 {
		lockTTL = defaultResetLockTTL
	}
	return &ResetServiceImpl{
		walletRepo:     walletRepo,
		withdrawalRepo: withdrawalRepo,
		backupRepo:     backupRepo,
		ledger:         ledger,
		audit:          audit,
		resetLock:      resetLock,
		transactor:     transactor,
		confirmToken:   confirmToken,
		lockTTL:        lockTTL,
		now:            utcNow,
		log:            log,
	}
}

// Backup persists a snapshot of every wallet and open withdrawal.
func (s *ResetServiceImpl) Backup(ctx context.Context, admin domain.Actor, reason string) (*domain.BackupSnapshot, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.ErrValidation("reason_required", "a backup reason is required")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	snap, _, err := s.snapshot(ctx, dbTx, admin, reason)
	if err != nil {
		return nil, err
	}

	entry := domain.NewAuditLog(admin, domain.AuditWalletBackup, domain.ResourceWalletBackup, snap.ID.String(), reason)
	entry.Details = backupDetails(snap)
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrBackupFailed(fmt.Errorf("commit tx: %w", err))
	}
	s.audit.Announce(ctx, entry)

	s.log.Info().
		Str("backup_id", snap.ID.String()).
		Int("wallets", len(snap.Wallets)).
		Int("open_withdrawals", len(snap.OpenWithdrawals)).
		Msg("wallet backup created")

	return snap, nil
}

// ResetAll backs up and then zeroes every wallet in one database transaction.
// When the backup cannot be written nothing is touched.
func (s *ResetServiceImpl) ResetAll(ctx context.Context, admin domain.Actor, confirmationToken string) (*domain.ResetResult, error) {
	if confirmationToken != s.confirmToken {
		return nil, apperror.ErrValidation("confirmation_token", fmt.Sprintf("confirmation token must be exactly %q", s.confirmToken))
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	snap, open, err := s.snapshot(ctx, dbTx, admin, "wallet reset")
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.AuditLog, 0, len(open)+2)
	backupEntry := domain.NewAuditLog(admin, domain.AuditWalletBackup, domain.ResourceWalletBackup, snap.ID.String(), "wallet reset")
	backupEntry.Details = backupDetails(snap)
	entries = append(entries, backupEntry)

	note := "cancelled by wallet reset, backup " + snap.ID.String()
	for i := range open {
		w := &open[i]
		if !domain.CanForceCancelWithdrawal(w.Status) {
			continue
		}
		entry, err := s.forceCancel(ctx, dbTx, w, admin, note)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	ref := snap.ID.String()
	for _, ws := range snap.Wallets {
		if err := s.zero(ctx, dbTx, ws.UserID, ref); err != nil {
			return nil, err
		}
	}

	result := &domain.ResetResult{
		BackupID:             snap.ID,
		WalletsReset:         len(snap.Wallets),
		WithdrawalsCancelled: len(entries) - 1,
		Cleared:              snap.Totals,
	}
	resetEntry := domain.NewAuditLog(admin, domain.AuditWalletReset, domain.ResourceWalletBackup, snap.ID.String(), "all wallets reset")
	if data, err := json.Marshal(result); err == nil {
		resetEntry.Details = string(data)
	}
	entries = append(entries, resetEntry)

	for _, e := range entries {
		if err := s.audit.Record(ctx, dbTx, e); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.audit.Announce(ctx, entries...)

	s.log.Warn().
		Str("backup_id", snap.ID.String()).
		Str("admin_id", admin.ID.String()).
		Int("wallets_reset", result.WalletsReset).
		Int("withdrawals_cancelled", result.WithdrawalsCancelled).
		Msg("all wallets reset")

	return result, nil
}

// GetBackup fetches a stored snapshot.
func (s *ResetServiceImpl) GetBackup(ctx context.Context, id uuid.UUID) (*domain.BackupSnapshot, error) {
	snap, err := s.backupRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get backup: %w", err))
	}
	if snap == nil {
		return nil, apperror.ErrNotFound("backup")
	}
	return snap, nil
}

// acquire takes the process mutex and, when configured, the shared Redis lock.
func (s *ResetServiceImpl) acquire(ctx context.Context) (func(), error) {
	if !s.running.TryLock() {
		return nil, apperror.ErrResetInProgress()
	}
	if s.resetLock == nil {
		return s.running.Unlock, nil
	}

	owner := uuid.NewString()
	ok, err := s.resetLock.Acquire(ctx, owner, s.lockTTL)
	if err != nil {
		s.running.Unlock()
		return nil, apperror.ErrLockTimeout(fmt.Errorf("acquire reset lock: %w", err))
	}
	if !ok {
		s.running.Unlock()
		return nil, apperror.ErrResetInProgress()
	}
	return func() {
		if err := s.resetLock.Release(context.WithoutCancel(ctx), owner); err != nil {
			s.log.Warn().Err(err).Msg("failed to release reset lock")
		}
		s.running.Unlock()
	}, nil
}

// snapshot locks open withdrawals then wallets, and persists their copy.
// Open requests are listed again once the wallets are locked: a Submit that
// committed between the two statements is only visible to the second list,
// and no new request can appear after it because Submit needs the wallet lock.
func (s *ResetServiceImpl) snapshot(ctx context.Context, tx pgx.Tx, admin domain.Actor, reason string) (*domain.BackupSnapshot, []domain.WithdrawalRequest, error) {
	if _, err := s.withdrawalRepo.ListOpenForUpdate(ctx, tx); err != nil {
		return nil, nil, apperror.ErrBackupFailed(fmt.Errorf("lock open withdrawals: %w", err))
	}
	wallets, err := s.walletRepo.ListForUpdate(ctx, tx)
	if err != nil {
		return nil, nil, apperror.ErrBackupFailed(fmt.Errorf("lock wallets: %w", err))
	}
	open, err := s.withdrawalRepo.ListOpenForUpdate(ctx, tx)
	if err != nil {
		return nil, nil, apperror.ErrBackupFailed(fmt.Errorf("relist open withdrawals: %w", err))
	}

	snap := &domain.BackupSnapshot{
		ID:              uuid.New(),
		CreatedBy:       admin.IDRef(),
		Reason:          reason,
		Wallets:         make([]domain.WalletSnapshot, 0, len(wallets)),
		OpenWithdrawals: make([]domain.WithdrawalRequest, len(open)),
		CreatedAt:       s.now(),
	}
	// The caller mutates open while cancelling; the snapshot keeps its own copy.
	copy(snap.OpenWithdrawals, open)
	for _, w := range wallets {
		snap.Wallets = append(snap.Wallets, domain.WalletSnapshot{
			WalletID:  w.ID,
			UserID:    w.UserID,
			Available: w.AvailableBalance,
			Pending:   w.PendingBalance,
			Currency:  w.Currency,
			Version:   w.Version,
		})
	}
	snap.Totals = domain.TotalsByCurrency(snap.Wallets)

	sum, err := checksum(snap)
	if err != nil {
		return nil, nil, apperror.ErrBackupFailed(err)
	}
	snap.Checksum = sum

	if err := s.backupRepo.Create(ctx, tx, snap); err != nil {
		return nil, nil, apperror.ErrBackupFailed(fmt.Errorf("persist backup: %w", err))
	}
	return snap, open, nil
}

// forceCancel releases an open request's hold and cancels it regardless of its state.
func (s *ResetServiceImpl) forceCancel(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest, admin domain.Actor, note string) (*domain.AuditLog, error) {
	from := w.Status
	ref := w.ID.String()
	txn, err := s.ledger.PostInTx(ctx, tx, ports.PostRequest{
		UserID:      w.UserID,
		Type:        domain.TransactionTypeWithdrawal,
		Effect:      domain.EffectRelease,
		Amount:      w.Amount,
		Currency:    w.Currency,
		Description: "withdrawal cancelled by wallet reset",
		ReferenceID: &ref,
	})
	if err != nil {
		return nil, err
	}

	expected := w.Version
	w.Status = domain.WithdrawalCancelled
	w.AdminNote = note
	w.ProcessedBy = admin.IDRef()
	w.ReleaseTransactionID = &txn.ID
	w.UpdatedAt = s.now()
	if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w, expected); err != nil {
		if errors.Is(err, ports.ErrStaleVersion) {
			return nil, apperror.ErrConcurrentModification()
		}
		return nil, apperror.InternalError(fmt.Errorf("cancel withdrawal %s: %w", w.ID, err))
	}

	entry := domain.NewAuditLog(admin, domain.AuditWithdrawalCancelled, domain.ResourceWithdrawal, w.ID.String(), note)
	entry.Details = transitionDetails(from, domain.WithdrawalCancelled, w)
	return entry, nil
}

// zero posts an adjustment for the remaining available balance. Every open
// request has been cancelled by now, so a pending balance left over has no
// request behind it and aborts the reset.
func (s *ResetServiceImpl) zero(ctx context.Context, tx pgx.Tx, userID uuid.UUID, backupRef string) error {
	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil
	}
	if wallet.AvailableBalance.IsPositive() {
		if _, err := s.ledger.PostInTx(ctx, tx, ports.PostRequest{
			UserID:      userID,
			Type:        domain.TransactionTypeAdjustment,
			Amount:      wallet.AvailableBalance.Neg(),
			Currency:    wallet.Currency,
			Description: "wallet reset",
			ReferenceID: &backupRef,
		}); err != nil {
			return err
		}
	}
	if !wallet.PendingBalance.IsZero() {
		return apperror.InternalError(fmt.Errorf(
			"wallet of user %s holds %s pending with no open withdrawal", userID, wallet.PendingBalance))
	}
	return nil
}

// checksum is the BLAKE2b-256 of the snapshot's canonical JSON.
func checksum(snap *domain.BackupSnapshot) (string, error) {
	data, err := json.Marshal(struct {
		ID              uuid.UUID                  `json:"id"`
		Wallets         []domain.WalletSnapshot    `json:"wallets"`
		OpenWithdrawals []domain.WithdrawalRequest `json:"open_withdrawals"`
		Totals          []domain.CurrencyTotal     `json:"totals"`
		CreatedAt       time.Time                  `json:"created_at"`
	}{snap.ID, snap.Wallets, snap.OpenWithdrawals, snap.Totals, snap.CreatedAt})
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func backupDetails(snap *domain.BackupSnapshot) string {
	data, _ := json.Marshal(map[string]any{
		"checksum":         snap.Checksum,
		"wallets":          len(snap.Wallets),
		"open_withdrawals": len(snap.OpenWithdrawals),
		"totals":           snap.Totals,
	})
	return string(data)
}
