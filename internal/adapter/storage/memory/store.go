// Package memory is a process-local storage adapter implementing the same
// repository ports as the postgres adapter. Write transactions run one at a
// time against a private copy of the state that replaces the committed state
// on Commit, so rollback and serializability hold without row locks.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errForeignTx = errors.New("memory: transaction was not started by this store")

type state struct {
	wallets      map[uuid.UUID]domain.Wallet
	walletByUser map[uuid.UUID]uuid.UUID
	transactions map[uuid.UUID]domain.Transaction
	txnByKey     map[string]uuid.UUID
	withdrawals  map[uuid.UUID]domain.WithdrawalRequest
	bankAccounts map[uuid.UUID]domain.BankAccount
	sequences    map[string]domain.InvoiceSequence
	invoices     map[uuid.UUID]domain.Invoice
	invoiceByNum map[string]uuid.UUID
	invoiceByRef map[string]uuid.UUID
	auditLogs    []domain.AuditLog
	backups      map[uuid.UUID]domain.BackupSnapshot
}

func newState() *state {
	return &state{
		wallets:      make(map[uuid.UUID]domain.Wallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		transactions: make(map[uuid.UUID]domain.Transaction),
		txnByKey:     make(map[string]uuid.UUID),
		withdrawals:  make(map[uuid.UUID]domain.WithdrawalRequest),
		bankAccounts: make(map[uuid.UUID]domain.BankAccount),
		sequences:    make(map[string]domain.InvoiceSequence),
		invoices:     make(map[uuid.UUID]domain.Invoice),
		invoiceByNum: make(map[string]uuid.UUID),
		invoiceByRef: make(map[string]uuid.UUID),
		backups:      make(map[uuid.UUID]domain.BackupSnapshot),
	}
}

func (st *state) clone() *state {
	return &state{
		wallets:      maps.Clone(st.wallets),
		walletByUser: maps.Clone(st.walletByUser),
		transactions: maps.Clone(st.transactions),
		txnByKey:     maps.Clone(st.txnByKey),
		withdrawals:  maps.Clone(st.withdrawals),
		bankAccounts: maps.Clone(st.bankAccounts),
		sequences:    maps.Clone(st.sequences),
		invoices:     maps.Clone(st.invoices),
		invoiceByNum: maps.Clone(st.invoiceByNum),
		invoiceByRef: maps.Clone(st.invoiceByRef),
		auditLogs:    slices.Clone(st.auditLogs),
		backups:      maps.Clone(st.backups),
	}
}

// Store holds the committed state. It implements ports.DBTransactor.
type Store struct {
	writer    chan struct{} // capacity 1, held from Begin until Commit or Rollback
	mu        sync.RWMutex  // guards committed
	committed *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		writer:    make(chan struct{}, 1),
		committed: newState(),
	}
}

// Begin waits for the running write transaction, if any, and starts a new one.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()
	return &memTx{store: s, work: work}, nil
}

// read runs fn against the committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.committed)
}

func (s *Store) work(tx pgx.Tx) (*state, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.store != s {
		return nil, errForeignTx
	}
	if mt.done {
		return nil, pgx.ErrTxClosed
	}
	return mt.work, nil
}

// memTx satisfies pgx.Tx for the repositories of this package. Only Commit
// and Rollback are meaningful; the embedded interface is never called.
type memTx struct {
	pgx.Tx
	store *Store
	work  *state
	done  bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	t.store.committed = t.work
	t.store.mu.Unlock()
	<-t.store.writer
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	<-t.store.writer
	return nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(_ context.Context) error { return nil }

// Name returns the dependency name.
func (s *Store) Name() string { return "memory" }
