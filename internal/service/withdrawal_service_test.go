package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func submitWithdrawal(t *testing.T, h *harness, userID uuid.UUID, acct *domain.BankAccount, amount string) *domain.WithdrawalRequest {
	t.Helper()
	w, err := h.withdrawal.Submit(context.Background(), ports.SubmitWithdrawalRequest{
		UserID:        userID,
		BankAccountID: acct.ID,
		Amount:        dec(amount),
		Note:          "payout",
	})
	require.NoError(t, err)
	return w
}

func TestWithdrawalService_SubmitApproveComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")
	acct := h.verifiedAccount(t, userID)

	w := submitWithdrawal(t, h, userID, acct, "40")
	assert.Equal(t, domain.WithdrawalPending, w.Status)
	assert.Equal(t, int64(1), w.Version)
	assert.Equal(t, "USD", w.Currency)
	b := h.balance(t, userID)
	assert.True(t, b.Available.Equal(dec("60")))
	assert.True(t, b.Pending.Equal(dec("40")))

	hold, err := h.ledger.GetTransaction(ctx, w.HoldTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.EffectHold, hold.Effect)
	assert.True(t, hold.Amount.Equal(dec("-40")))

	w, err = h.withdrawal.Approve(ctx, w.ID, h.admin, 1, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalApproved, w.Status)
	assert.Equal(t, int64(2), w.Version)
	assert.Equal(t, h.admin.ID, *w.ProcessedBy)

	w, err = h.withdrawal.MarkProcessing(ctx, w.ID, h.admin, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalProcessing, w.Status)

	w, err = h.withdrawal.Complete(ctx, w.ID, h.admin, "paid", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, w.Status)
	assert.NotNil(t, w.CompletedAt)

	b = h.balance(t, userID)
	assert.True(t, b.Available.Equal(dec("60")))
	assert.True(t, b.Pending.IsZero())

	logs, total, err := h.audit.List(ctx, ports.AuditListParams{ResourceType: domain.ResourceWithdrawal, ResourceID: w.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, domain.AuditWithdrawalCompleted, logs[0].Action)
}

func TestWithdrawalService_RejectRestoresBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")
	acct := h.verifiedAccount(t, userID)
	w := submitWithdrawal(t, h, userID, acct, "40")

	_, err := h.withdrawal.Reject(ctx, w.ID, h.admin, "  ", nil)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "reason_required", appErr.Invariant)

	w, err = h.withdrawal.Reject(ctx, w.ID, h.admin, "bad account", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, w.Status)
	assert.Equal(t, "bad account", w.AdminNote)
	require.NotNil(t, w.ReleaseTransactionID)

	b := h.balance(t, userID)
	assert.True(t, b.Available.Equal(dec("100")))
	assert.True(t, b.Pending.IsZero())

	available, pending := h.ledgerSum(t, userID)
	assert.True(t, available.Equal(dec("100")))
	assert.True(t, pending.IsZero())
}

func TestWithdrawalService_CancelOwnerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")
	acct := h.verifiedAccount(t, userID)
	w := submitWithdrawal(t, h, userID, acct, "25")

	_, err := h.withdrawal.Cancel(ctx, w.ID, domain.Actor{ID: uuid.New(), Role: domain.RoleUser}, nil)
	assert.ErrorIs(t, err, apperror.ErrForbidden())

	w, err = h.withdrawal.Cancel(ctx, w.ID, domain.Actor{ID: userID, Role: domain.RoleUser}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCancelled, w.Status)
	assert.True(t, h.balance(t, userID).Available.Equal(dec("100")))

	// Terminal states accept no further transitions.
	_, err = h.withdrawal.Approve(ctx, w.ID, h.admin, w.Version, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition("cancelled", "approved"))
}

func TestWithdrawalService_IllegalEdges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")
	acct := h.verifiedAccount(t, userID)
	w := submitWithdrawal(t, h, userID, acct, "10")

	_, err := h.withdrawal.Complete(ctx, w.ID, h.admin, "", nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition("pending", "completed"))
	_, err = h.withdrawal.MarkProcessing(ctx, w.ID, h.admin, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition("pending", "processing"))

	w, err = h.withdrawal.Approve(ctx, w.ID, h.admin, 1, "")
	require.NoError(t, err)
	_, err = h.withdrawal.Cancel(ctx, w.ID, domain.Actor{ID: userID, Role: domain.RoleUser}, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition("approved", "cancelled"))
	_, err = h.withdrawal.Reject(ctx, w.ID, h.admin, "late", nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition("approved", "rejected"))

	b := h.balance(t, userID)
	assert.True(t, b.Pending.Equal(dec("10")))
}

func TestWithdrawalService_VersionChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")
	acct := h.verifiedAccount(t, userID)
	w := submitWithdrawal(t, h, userID, acct, "10")

	_, err := h.withdrawal.Approve(ctx, w.ID, h.admin, 0, "")
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "version_required", appErr.Invariant)

	_, err = h.withdrawal.Approve(ctx, w.ID, h.admin, 2, "")
	assert.ErrorIs(t, err, apperror.ErrConcurrentModification())

	stale := int64(1)
	_, err = h.withdrawal.Approve(ctx, w.ID, h.admin, 1, "")
	require.NoError(t, err)
	_, err = h.withdrawal.MarkProcessing(ctx, w.ID, h.admin, &stale)
	assert.ErrorIs(t, err, apperror.ErrConcurrentModification())
}

func TestWithdrawalService_ConcurrentApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")
	acct := h.verifiedAccount(t, userID)
	w := submitWithdrawal(t, h, userID, acct, "40")

	admins := []domain.Actor{
		{ID: uuid.New(), Role: domain.RoleAdmin},
		{ID: uuid.New(), Role: domain.RoleSuperAdmin},
	}
	errs := make([]error, len(admins))
	var wg sync.WaitGroup
	for i, a := range admins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.withdrawal.Approve(ctx, w.ID, a, 1, "")
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrConcurrentModification()):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	got, err := h.withdrawal.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestWithdrawalService_BankAccountEligibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "100")

	unverified, err := h.bank.Register(ctx, ports.RegisterBankAccountRequest{
		UserID: userID, Type: domain.BankAccountDomestic, BankName: "B", AccountHolder: "H", AccountNumber: "99887766",
	})
	require.NoError(t, err)
	_, err = h.withdrawal.Submit(ctx, ports.SubmitWithdrawalRequest{UserID: userID, BankAccountID: unverified.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, apperror.ErrBankAccountNotEligible("account not verified"))

	other := h.verifiedAccount(t, uuid.New())
	_, err = h.withdrawal.Submit(ctx, ports.SubmitWithdrawalRequest{UserID: userID, BankAccountID: other.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, apperror.ErrBankAccountNotEligible("account belongs to another user"))

	_, err = h.withdrawal.Submit(ctx, ports.SubmitWithdrawalRequest{UserID: userID, BankAccountID: uuid.New(), Amount: dec("1")})
	assert.ErrorIs(t, err, apperror.ErrNotFound("bank account"))

	// Flagged between submission and approval.
	acct := h.verifiedAccount(t, userID)
	w := submitWithdrawal(t, h, userID, acct, "5")
	_, err = h.bank.Flag(ctx, acct.ID, true, "chargeback", h.admin)
	require.NoError(t, err)
	_, err = h.withdrawal.Approve(ctx, w.ID, h.admin, 1, "")
	assert.ErrorIs(t, err, apperror.ErrBankAccountNotEligible("account flagged"))

	got, err := h.withdrawal.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, got.Status)
	assert.Equal(t, int64(1), got.Version)

	assert.True(t, h.balance(t, userID).Available.Equal(dec("95")))
}

func TestWithdrawalService_SubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.deposit(t, userID, "10")
	acct := h.verifiedAccount(t, userID)

	_, err := h.withdrawal.Submit(ctx, ports.SubmitWithdrawalRequest{UserID: userID, BankAccountID: acct.ID, Amount: dec("0")})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "amount_positive", appErr.Invariant)

	_, err = h.withdrawal.Submit(ctx, ports.SubmitWithdrawalRequest{UserID: userID, BankAccountID: acct.ID, Amount: dec("10.01")})
	assert.ErrorIs(t, err, apperror.ErrInsufficientFunds())

	_, err = h.withdrawal.Submit(ctx, ports.SubmitWithdrawalRequest{UserID: userID, BankAccountID: acct.ID, Amount: dec("1"), Currency: "EUR"})
	assert.ErrorIs(t, err, apperror.ErrCurrencyMismatch("USD", "EUR"))

	_, total, err := h.withdrawal.List(ctx, ports.WithdrawalListParams{UserID: &userID})
	require.NoError(t, err)
	assert.Zero(t, total)
}

// The sum of available, pending and completed payouts only changes by
// deposits, whatever path each request takes.
func TestWithdrawalService_Conservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	owner := domain.Actor{ID: userID, Role: domain.RoleUser}
	h.deposit(t, userID, "500")
	acct := h.verifiedAccount(t, userID)

	paidOut := dec("0")
	for i, path := range []string{"complete", "reject", "cancel", "complete", "open"} {
		w := submitWithdrawal(t, h, userID, acct, []string{"10", "20", "30", "40.50", "50"}[i])
		var err error
		switch path {
		case "complete":
			_, err = h.withdrawal.Approve(ctx, w.ID, h.admin, w.Version, "")
			require.NoError(t, err)
			_, err = h.withdrawal.MarkProcessing(ctx, w.ID, h.admin, nil)
			require.NoError(t, err)
			_, err = h.withdrawal.Complete(ctx, w.ID, h.admin, "", nil)
			paidOut = paidOut.Add(w.Amount)
		case "reject":
			_, err = h.withdrawal.Reject(ctx, w.ID, h.admin, "no", nil)
		case "cancel":
			_, err = h.withdrawal.Cancel(ctx, w.ID, owner, nil)
		}
		require.NoError(t, err)

		b := h.balance(t, userID)
		assert.True(t, b.Available.Add(b.Pending).Add(paidOut).Equal(dec("500")))
	}

	b := h.balance(t, userID)
	assert.True(t, b.Pending.Equal(dec("50")))
	available, _ := h.ledgerSum(t, userID)
	assert.True(t, b.Available.Equal(available))
}

// ==================== mocks ====================

func TestWithdrawalService_StaleUpdateMapsToConcurrentModification(t *testing.T) {
	ctrl := gomock.NewController(t)
	withdrawalRepo := mocks.NewMockWithdrawalRepository(ctrl)
	ledger := mocks.NewMockLedgerPoster(ctrl)
	audit := mocks.NewMockAuditService(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewWithdrawalService(withdrawalRepo, mocks.NewMockBankAccountRepository(ctrl), ledger, audit, nil, transactor, newTestLogger())

	ctx := context.Background()
	tx := &mockTx{}
	w := &domain.WithdrawalRequest{ID: uuid.New(), UserID: uuid.New(), Amount: dec("5"), Status: domain.WithdrawalApproved, Version: 2}

	transactor.EXPECT().Begin(ctx).Return(tx, nil)
	withdrawalRepo.EXPECT().GetByIDForUpdate(ctx, tx, w.ID).Return(w, nil)
	withdrawalRepo.EXPECT().UpdateStatus(ctx, tx, w, int64(2)).Return(ports.ErrStaleVersion)

	_, err := svc.MarkProcessing(ctx, w.ID, domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}, nil)
	assert.ErrorIs(t, err, apperror.ErrConcurrentModification())
}

func TestWithdrawalService_NotifiesAfterCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	withdrawalRepo := mocks.NewMockWithdrawalRepository(ctrl)
	ledger := mocks.NewMockLedgerPoster(ctrl)
	audit := mocks.NewMockAuditService(ctrl)
	notifier := mocks.NewMockWithdrawalNotifier(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewWithdrawalService(withdrawalRepo, mocks.NewMockBankAccountRepository(ctrl), ledger, audit, notifier, transactor, newTestLogger())

	ctx := context.Background()
	tx := &mockTx{}
	user := domain.Actor{ID: uuid.New(), Role: domain.RoleUser}
	w := &domain.WithdrawalRequest{ID: uuid.New(), UserID: user.ID, Amount: dec("5"), Currency: "USD", Status: domain.WithdrawalPending, Version: 1}
	releaseID := uuid.New()

	gomock.InOrder(
		transactor.EXPECT().Begin(ctx).Return(tx, nil),
		withdrawalRepo.EXPECT().GetByIDForUpdate(ctx, tx, w.ID).Return(w, nil),
		ledger.EXPECT().PostInTx(ctx, tx, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ pgx.Tx, req ports.PostRequest) (*domain.Transaction, error) {
				assert.Equal(t, domain.EffectRelease, req.Effect)
				assert.True(t, req.Amount.Equal(dec("5")))
				return &domain.Transaction{ID: releaseID}, nil
			}),
		withdrawalRepo.EXPECT().UpdateStatus(ctx, tx, w, int64(1)).Return(nil),
		audit.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil),
		audit.EXPECT().Announce(ctx, gomock.Any()),
		notifier.EXPECT().NotifyStatusChange(ctx, w).Return(errors.New("webhook down")),
	)

	got, err := svc.Cancel(ctx, w.ID, user, nil)
	require.NoError(t, err, "notification failures are best-effort")
	assert.Equal(t, domain.WithdrawalCancelled, got.Status)
	assert.Equal(t, releaseID, *got.ReleaseTransactionID)
}
