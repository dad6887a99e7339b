package memory

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CommitPublishesWork(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewWalletRepo(store)
	userID := uuid.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.CreateIfAbsent(ctx, tx, domain.NewWallet(userID, "USD", time.Now())))

	// Uncommitted writes are invisible to readers.
	w, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, w)

	require.NoError(t, tx.Commit(ctx))

	w, err = repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "USD", w.Currency)
}

func TestStore_RollbackDiscardsWork(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewWalletRepo(store)
	userID := uuid.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.CreateIfAbsent(ctx, tx, domain.NewWallet(userID, "USD", time.Now())))
	require.NoError(t, tx.Rollback(ctx))

	w, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, w)

	assert.ErrorIs(t, tx.Commit(ctx), pgx.ErrTxClosed)
}

func TestStore_BeginWaitsForRunningTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = store.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Rollback(ctx))
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestStore_ForeignTransactionRejected(t *testing.T) {
	ctx := context.Background()
	a, b := NewStore(), NewStore()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = NewWalletRepo(b).GetByUserIDForUpdate(ctx, tx, uuid.New())
	assert.Error(t, err)
}

func TestWalletRepo_CreateIfAbsentKeepsFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewWalletRepo(store)
	userID := uuid.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	first := domain.NewWallet(userID, "USD", time.Now())
	require.NoError(t, repo.CreateIfAbsent(ctx, tx, first))
	require.NoError(t, repo.CreateIfAbsent(ctx, tx, domain.NewWallet(userID, "TWD", time.Now())))

	got, err := repo.GetByUserIDForUpdate(ctx, tx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got.AvailableBalance = decimal.NewFromInt(5)
	require.NoError(t, repo.UpdateBalances(ctx, tx, got))
	assert.Equal(t, int64(2), got.Version)
	require.NoError(t, tx.Commit(ctx))
}

func TestTransactionRepo_KeysetPagination(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewTransactionRepo(store)
	userID := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, repo.Create(ctx, tx, &domain.Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      domain.TransactionTypeDeposit,
			Amount:    decimal.NewFromInt(int64(i + 1)),
			Currency:  "USD",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, tx.Commit(ctx))

	page1, err := repo.List(ctx, ports.TransactionListParams{UserID: userID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].Amount.Equal(decimal.NewFromInt(5)))

	cursor := domain.CursorOf(page1[1])
	page2, err := repo.List(ctx, ports.TransactionListParams{UserID: userID, Limit: 2, After: &cursor})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, page2[0].Amount.Equal(decimal.NewFromInt(3)))

	asc, err := repo.List(ctx, ports.TransactionListParams{UserID: userID, Ascending: true})
	require.NoError(t, err)
	require.Len(t, asc, 5)
	assert.True(t, asc[0].Amount.Equal(decimal.NewFromInt(1)))
}

func TestTransactionRepo_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewTransactionRepo(store)
	key := "k-1"

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	require.NoError(t, repo.Create(ctx, tx, &domain.Transaction{ID: uuid.New(), IdempotencyKey: &key}))
	err = repo.Create(ctx, tx, &domain.Transaction{ID: uuid.New(), IdempotencyKey: &key})
	assert.ErrorIs(t, err, ports.ErrDuplicate)

	found, err := repo.GetByIdempotencyKey(ctx, tx, key)
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestWithdrawalRepo_UpdateStatusChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewWithdrawalRepo(store)
	w := &domain.WithdrawalRequest{ID: uuid.New(), Status: domain.WithdrawalPending, Version: 1}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck
	require.NoError(t, repo.Create(ctx, tx, w))

	w.Status = domain.WithdrawalApproved
	require.NoError(t, repo.UpdateStatus(ctx, tx, w, 1))
	assert.Equal(t, int64(2), w.Version)

	w.Status = domain.WithdrawalProcessing
	assert.ErrorIs(t, repo.UpdateStatus(ctx, tx, w, 1), ports.ErrStaleVersion)

	open, err := repo.ListOpenForUpdate(ctx, tx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.WithdrawalApproved, open[0].Status)
}

func TestInvoiceRepo_UniqueNumberAndReference(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewInvoiceRepo(store)
	ref := "pay-1"

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	require.NoError(t, repo.Create(ctx, tx, &domain.Invoice{ID: uuid.New(), InvoiceNumber: "AB00000001", YearMonth: "2025-01", ReferenceID: &ref}))
	assert.ErrorIs(t, repo.Create(ctx, tx, &domain.Invoice{ID: uuid.New(), InvoiceNumber: "AB00000001", YearMonth: "2025-01"}), ports.ErrDuplicate)
	assert.ErrorIs(t, repo.Create(ctx, tx, &domain.Invoice{ID: uuid.New(), InvoiceNumber: "AB00000002", YearMonth: "2025-01", ReferenceID: &ref}), ports.ErrDuplicate)

	n, err := repo.CountByYearMonth(ctx, tx, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{3, 4}, paginate(items, 2, 2))
	assert.Equal(t, []int{5}, paginate(items, 3, 2))
	assert.Nil(t, paginate(items, 4, 2))
	assert.Equal(t, items, paginate(items, 1, 0))
}
