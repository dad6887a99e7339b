package ports

import (
	"context"
	"iter"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, role domain.Role) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   domain.Role
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	// Get returns the cached transaction JSON, or nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, accessKey string, nonce string, ttl time.Duration) (bool, error)
}

// ResetLock makes wallet resets single-flight across instances.
type ResetLock interface {
	// Acquire returns false when another holder owns the lock.
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

// AuditPublisher ships committed audit entries to the event stream.
type AuditPublisher interface {
	Publish(ctx context.Context, entries []domain.AuditLog) error
}

// WithdrawalNotifier tells the notification collaborator about a status change.
type WithdrawalNotifier interface {
	NotifyStatusChange(ctx context.Context, w *domain.WithdrawalRequest) error
}

// --- Service Ports (Business Logic) ---

// PostRequest holds validated input for a ledger post.
type PostRequest struct {
	UserID         uuid.UUID
	Type           domain.TransactionType
	Effect         domain.BalanceEffect // zero value means available
	Amount         decimal.Decimal
	Currency       string // empty = the wallet's currency
	Description    string
	ReferenceID    *string
	IdempotencyKey *string
}

// LedgerPoster is the balance primitive other services use inside their own transaction.
type LedgerPoster interface {
	PostInTx(ctx context.Context, tx pgx.Tx, req PostRequest) (*domain.Transaction, error)
	// SettleHoldInTx removes amount from pending_balance without a ledger row.
	SettleHoldInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Types     []domain.TransactionType
	From      *time.Time
	To        *time.Time
	Ascending bool
}

// LedgerService defines the ledger store business logic.
type LedgerService interface {
	LedgerPoster
	Post(ctx context.Context, req PostRequest) (*domain.Transaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error)
	History(ctx context.Context, userID uuid.UUID, filter HistoryFilter) iter.Seq2[domain.Transaction, error]
	TransactionPage(ctx context.Context, userID uuid.UUID, filter HistoryFilter, cursor string, limit int) ([]domain.Transaction, string, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// SubmitWithdrawalRequest holds validated input for a new withdrawal.
type SubmitWithdrawalRequest struct {
	UserID        uuid.UUID
	BankAccountID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Note          string
}

// WithdrawalService defines the withdrawal workflow.
// A nil version skips the caller-side check; the stored version is always enforced.
type WithdrawalService interface {
	Submit(ctx context.Context, req SubmitWithdrawalRequest) (*domain.WithdrawalRequest, error)
	Approve(ctx context.Context, id uuid.UUID, admin domain.Actor, version int64, note string) (*domain.WithdrawalRequest, error)
	Reject(ctx context.Context, id uuid.UUID, admin domain.Actor, reason string, version *int64) (*domain.WithdrawalRequest, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, admin domain.Actor, version *int64) (*domain.WithdrawalRequest, error)
	Complete(ctx context.Context, id uuid.UUID, admin domain.Actor, note string, version *int64) (*domain.WithdrawalRequest, error)
	Cancel(ctx context.Context, id uuid.UUID, user domain.Actor, version *int64) (*domain.WithdrawalRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	List(ctx context.Context, params WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error)
}

// InvoiceSequencer allocates track numbers.
type InvoiceSequencer interface {
	SetPrefix(ctx context.Context, yearMonth, prefix, numberStart string, admin domain.Actor) (*domain.InvoiceSequence, error)
	// Next allocates inside the caller's transaction.
	Next(ctx context.Context, tx pgx.Tx, yearMonth string) (string, error)
	Get(ctx context.Context, yearMonth string) (*domain.InvoiceSequence, error)
}

// IssueInvoiceRequest holds validated input for issuing an invoice.
type IssueInvoiceRequest struct {
	Buyer       domain.Buyer
	Items       []domain.InvoiceItem
	Currency    string
	ReferenceID *string
	IssuedBy    domain.Actor
}

// InvoiceService defines invoice issuance and void.
type InvoiceService interface {
	Issue(ctx context.Context, req IssueInvoiceRequest) (*domain.Invoice, error)
	Void(ctx context.Context, id uuid.UUID, admin domain.Actor, reason string) (*domain.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	List(ctx context.Context, params InvoiceListParams) ([]domain.Invoice, int64, error)
}

// RegisterBankAccountRequest holds validated input for a new withdrawal destination.
type RegisterBankAccountRequest struct {
	UserID        uuid.UUID
	Type          domain.BankAccountType
	BankName      string
	AccountHolder string
	AccountNumber string
	SwiftCode     string
}

// BankAccountService defines the bank account registry.
type BankAccountService interface {
	Register(ctx context.Context, req RegisterBankAccountRequest) (*domain.BankAccount, error)
	Verify(ctx context.Context, id uuid.UUID, verified bool, note string, admin domain.Actor) (*domain.BankAccount, error)
	Flag(ctx context.Context, id uuid.UUID, flagged bool, reason string, admin domain.Actor) (*domain.BankAccount, error)
	Delete(ctx context.Context, id uuid.UUID, reason string, admin domain.Actor) error
	Get(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	ListForUser(ctx context.Context, userID uuid.UUID, includeDeleted bool) ([]domain.BankAccount, error)
}

// ResetService defines the backup and bulk wallet reset operations.
type ResetService interface {
	Backup(ctx context.Context, admin domain.Actor, reason string) (*domain.BackupSnapshot, error)
	ResetAll(ctx context.Context, admin domain.Actor, confirmationToken string) (*domain.ResetResult, error)
	GetBackup(ctx context.Context, id uuid.UUID) (*domain.BackupSnapshot, error)
}

// AuditService records admin actions.
type AuditService interface {
	// Record persists entry inside tx.
	Record(ctx context.Context, tx pgx.Tx, entry *domain.AuditLog) error
	// Announce logs and publishes already committed entries (best-effort).
	Announce(ctx context.Context, entries ...*domain.AuditLog)
	// Log persists a standalone entry asynchronously (fire-and-forget).
	Log(ctx context.Context, entry *domain.AuditLog)
	List(ctx context.Context, params AuditListParams) ([]domain.AuditLog, int64, error)
}

// PaymentKind names what a confirmed payment was for.
type PaymentKind string

const (
	PaymentWalletTopup  PaymentKind = "wallet_topup"
	PaymentSubscription PaymentKind = "subscription"
)

// PaymentConfirmation is the opaque "payment confirmed" event of the gateway collaborator.
type PaymentConfirmation struct {
	ReferenceID  string
	UserID       uuid.UUID
	Kind         PaymentKind
	Amount       decimal.Decimal
	Currency     string
	Description  string
	IssueInvoice bool
	Buyer        domain.Buyer
}

// PaymentConfirmationResult reports what each saga step produced.
type PaymentConfirmationResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	Invoice     *domain.Invoice     `json:"invoice,omitempty"`
}

// PaymentConfirmationService turns a confirmed payment into ledger and invoice effects.
type PaymentConfirmationService interface {
	Confirm(ctx context.Context, evt PaymentConfirmation) (*PaymentConfirmationResult, error)
}

// WithdrawalRecord is a withdrawal joined with its masked destination, the export row shape.
type WithdrawalRecord struct {
	ID            uuid.UUID               `json:"id"`
	Date          time.Time               `json:"date"`
	UserID        uuid.UUID               `json:"user_id"`
	BankName      string                  `json:"bank"`
	AccountMasked string                  `json:"account"`
	Amount        decimal.Decimal         `json:"amount"`
	Currency      string                  `json:"currency"`
	Status        domain.WithdrawalStatus `json:"status"`
	Note          string                  `json:"note"`
	Version       int64                   `json:"version"`
}

// ReportingService defines the read-only admin views.
type ReportingService interface {
	ListWithdrawals(ctx context.Context, params WithdrawalListParams) ([]WithdrawalRecord, int64, error)
	LedgerStats(ctx context.Context, from, to *time.Time) ([]TransactionTypeStat, error)
}
