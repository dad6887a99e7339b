package ports

import (
	"context"
	"errors"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

var (
	// ErrStaleVersion is returned by conditional updates whose expected version no longer matches.
	ErrStaleVersion = errors.New("stale version")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate key")
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// CreateIfAbsent inserts w unless the user already has a wallet.
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	// ListForUpdate locks every wallet in id order.
	ListForUpdate(ctx context.Context, tx pgx.Tx) ([]domain.Wallet, error)
	// UpdateBalances writes both balances and bumps the version.
	UpdateBalances(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error
}

// TransactionRepository defines persistence operations for ledger rows.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*domain.Transaction, error)
	// List returns one keyset page.
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, error)
	GetStats(ctx context.Context, from, to *time.Time) ([]TransactionTypeStat, error)
}

// TransactionListParams holds filter + keyset position for listing a user's transactions.
type TransactionListParams struct {
	UserID    uuid.UUID
	Types     []domain.TransactionType
	From      *time.Time
	To        *time.Time
	Ascending bool
	After     *domain.TransactionCursor // exclusive
	Limit     int
}

// TransactionTypeStat aggregates one transaction type per currency.
type TransactionTypeStat struct {
	Type     domain.TransactionType `json:"type"`
	Currency string                 `json:"currency"`
	Count    int64                  `json:"count"`
	Total    decimal.Decimal        `json:"total"`
}

// WithdrawalRepository defines persistence operations for withdrawal requests.
type WithdrawalRepository interface {
	Create(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error)
	// ListOpenForUpdate locks every pending, approved or processing request in id order.
	ListOpenForUpdate(ctx context.Context, tx pgx.Tx) ([]domain.WithdrawalRequest, error)
	// UpdateStatus persists w when the stored version still equals expectedVersion,
	// otherwise it returns ErrStaleVersion.
	UpdateStatus(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest, expectedVersion int64) error
	List(ctx context.Context, params WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error)
}

// WithdrawalListParams holds filter + pagination for the admin withdrawal view.
type WithdrawalListParams struct {
	UserID   *uuid.UUID
	Status   *domain.WithdrawalStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// BankAccountRepository defines persistence operations for withdrawal destinations.
type BankAccountRepository interface {
	Create(ctx context.Context, tx pgx.Tx, a *domain.BankAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.BankAccount, error)
	Update(ctx context.Context, tx pgx.Tx, a *domain.BankAccount) error
	ListByUser(ctx context.Context, userID uuid.UUID, includeDeleted bool) ([]domain.BankAccount, error)
}

// InvoiceSequenceRepository defines persistence for per-month track number counters.
type InvoiceSequenceRepository interface {
	Get(ctx context.Context, yearMonth string) (*domain.InvoiceSequence, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, yearMonth string) (*domain.InvoiceSequence, error)
	// InsertIfAbsent creates the row unless another writer already did.
	InsertIfAbsent(ctx context.Context, tx pgx.Tx, s *domain.InvoiceSequence) error
	// Save upserts prefix, number start and next number.
	Save(ctx context.Context, tx pgx.Tx, s *domain.InvoiceSequence) error
	UpdateNext(ctx context.Context, tx pgx.Tx, yearMonth string, next int64) error
}

// InvoiceRepository defines persistence operations for invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error)
	GetByReference(ctx context.Context, referenceID string) (*domain.Invoice, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error
	CountByYearMonth(ctx context.Context, tx pgx.Tx, yearMonth string) (int64, error)
	List(ctx context.Context, params InvoiceListParams) ([]domain.Invoice, int64, error)
}

// InvoiceListParams holds filter + pagination for listing invoices.
type InvoiceListParams struct {
	YearMonth string
	Status    *domain.InvoiceStatus
	Page      int
	PageSize  int
}

// AuditRepository persists audit entries inside the caller's transaction.
type AuditRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.AuditLog) error
	List(ctx context.Context, params AuditListParams) ([]domain.AuditLog, int64, error)
}

// AuditListParams holds filter + pagination for the audit view.
type AuditListParams struct {
	ActorID      *uuid.UUID
	Action       *domain.AuditAction
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// BackupRepository persists wallet snapshots.
type BackupRepository interface {
	Create(ctx context.Context, tx pgx.Tx, b *domain.BackupSnapshot) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BackupSnapshot, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
