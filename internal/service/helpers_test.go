package service

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"marketplace-ledger/internal/adapter/storage/memory"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// harness wires every service against one in-memory store.
type harness struct {
	store       *memory.Store
	wallets     *memory.WalletRepo
	txns        *memory.TransactionRepo
	withdrawals *memory.WithdrawalRepo
	banks       *memory.BankAccountRepo
	sequences   *memory.InvoiceSequenceRepo
	invoiceRepo *memory.InvoiceRepo
	auditRepo   *memory.AuditRepo
	backups     ports.BackupRepository

	audit      ports.AuditService
	ledger     *LedgerServiceImpl
	withdrawal *WithdrawalServiceImpl
	sequencer  *InvoiceSequencerImpl
	invoices   *InvoiceServiceImpl
	bank       *BankAccountServiceImpl
	reset      *ResetServiceImpl
	payments   *PaymentConfirmationServiceImpl

	platformID uuid.UUID
	admin      domain.Actor
}

type harnessOption func(*harness)

// withBackupRepo swaps the backup repository before the reset service is built.
func withBackupRepo(fn func(ports.BackupRepository) ports.BackupRepository) harnessOption {
	return func(h *harness) { h.backups = fn(h.backups) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store := memory.NewStore()
	h := &harness{
		store:       store,
		wallets:     memory.NewWalletRepo(store),
		txns:        memory.NewTransactionRepo(store),
		withdrawals: memory.NewWithdrawalRepo(store),
		banks:       memory.NewBankAccountRepo(store),
		sequences:   memory.NewInvoiceSequenceRepo(store),
		invoiceRepo: memory.NewInvoiceRepo(store),
		auditRepo:   memory.NewAuditRepo(store),
		backups:     memory.NewBackupRepo(store),
		platformID:  uuid.New(),
		admin:       domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
	}
	for _, opt := range opts {
		opt(h)
	}

	log := newTestLogger()
	enc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	h.audit = NewAuditService(h.auditRepo, store, nil, log)
	h.ledger = NewLedgerService(h.wallets, h.txns, nil, store, 3, time.Hour, log)
	h.withdrawal = NewWithdrawalService(h.withdrawals, h.banks, h.ledger, h.audit, nil, store, log)
	h.sequencer = NewInvoiceSequencer(h.sequences, h.invoiceRepo, h.audit, store, "AA", "00000001", log)
	h.invoices = NewInvoiceService(h.invoiceRepo, h.txns, h.sequencer, h.audit, store, "12345678", time.UTC, log)
	h.bank = NewBankAccountService(h.banks, enc, h.audit, store, log)
	h.reset = NewResetService(h.wallets, h.withdrawals, h.backups, h.ledger, h.audit, nil, store, "", 0, log)
	h.payments = NewPaymentConfirmationService(h.ledger, h.invoices, h.platformID, log)
	return h
}

// deposit credits userID through the public post path.
func (h *harness) deposit(t *testing.T, userID uuid.UUID, amount string) {
	t.Helper()
	_, err := h.ledger.Post(context.Background(), ports.PostRequest{
		UserID:   userID,
		Type:     domain.TransactionTypeDeposit,
		Amount:   dec(amount),
		Currency: "USD",
	})
	require.NoError(t, err)
}

// verifiedAccount registers and verifies a destination for userID.
func (h *harness) verifiedAccount(t *testing.T, userID uuid.UUID) *domain.BankAccount {
	t.Helper()
	ctx := context.Background()
	acct, err := h.bank.Register(ctx, ports.RegisterBankAccountRequest{
		UserID:        userID,
		Type:          domain.BankAccountDomestic,
		BankName:      "First Bank",
		AccountHolder: "Lin",
		AccountNumber: "0012345678",
	})
	require.NoError(t, err)
	acct, err = h.bank.Verify(ctx, acct.ID, true, "docs checked", h.admin)
	require.NoError(t, err)
	return acct
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) *domain.Balance {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

// ledgerSum returns the signed sum of the user's available-effect and
// hold/release rows, which must equal available_balance.
func (h *harness) ledgerSum(t *testing.T, userID uuid.UUID) (available, pending decimal.Decimal) {
	t.Helper()
	available, pending = decimal.Zero, decimal.Zero
	for txn, err := range h.ledger.History(context.Background(), userID, ports.HistoryFilter{Ascending: true}) {
		require.NoError(t, err)
		available = available.Add(txn.Amount)
		switch txn.Effect {
		case domain.EffectHold, domain.EffectRelease:
			pending = pending.Sub(txn.Amount)
		}
	}
	return available, pending
}
