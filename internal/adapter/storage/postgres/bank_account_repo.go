package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bankAccountColumns = `id, user_id, type, bank_name, account_holder, swift_code, account_number_enc,
		account_last4, verified, verification_note, verified_by, flagged, flag_reason,
		deleted_at, delete_reason, created_at, updated_at`

// BankAccountRepo implements ports.BankAccountRepository.
type BankAccountRepo struct {
	pool Pool
}

// NewBankAccountRepo creates a new BankAccountRepo.
func NewBankAccountRepo(pool Pool) *BankAccountRepo {
	return &BankAccountRepo{pool: pool}
}

// Create inserts a bank account within a transaction.
func (r *BankAccountRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.BankAccount) error {
	query := `INSERT INTO bank_accounts (` + bankAccountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := tx.Exec(ctx, query, bankAccountArgs(a)...)
	if err != nil {
		return fmt.Errorf("insert bank account: %w", err)
	}
	return nil
}

// GetByID fetches a bank account, soft-deleted ones included.
func (r *BankAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	query := `SELECT ` + bankAccountColumns + ` FROM bank_accounts WHERE id = $1`

	a, err := scanBankAccount(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get bank account by id: %w", err)
	}
	return a, nil
}

// GetByIDForUpdate fetches a bank account with pessimistic locking.
func (r *BankAccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.BankAccount, error) {
	query := `SELECT ` + bankAccountColumns + ` FROM bank_accounts WHERE id = $1 FOR UPDATE`

	a, err := scanBankAccount(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get bank account for update: %w", err)
	}
	return a, nil
}

// Update writes the review and deletion fields of a.
func (r *BankAccountRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.BankAccount) error {
	query := `UPDATE bank_accounts
		SET verified = $1, verification_note = $2, verified_by = $3, flagged = $4, flag_reason = $5,
			deleted_at = $6, delete_reason = $7, updated_at = $8
		WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		a.Verified, a.VerificationNote, a.VerifiedBy, a.Flagged, a.FlagReason,
		a.DeletedAt, a.DeleteReason, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update bank account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bank account not found: %s", a.ID)
	}
	return nil
}

// ListByUser returns a user's accounts, oldest first.
func (r *BankAccountRepo) ListByUser(ctx context.Context, userID uuid.UUID, includeDeleted bool) ([]domain.BankAccount, error) {
	query := `SELECT ` + bankAccountColumns + ` FROM bank_accounts
		WHERE user_id = $1 AND ($2 OR deleted_at IS NULL)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		var a domain.BankAccount
		if err := rows.Scan(bankAccountDest(&a)...); err != nil {
			return nil, fmt.Errorf("scan bank account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank account rows: %w", err)
	}
	return accounts, nil
}

func bankAccountArgs(a *domain.BankAccount) []any {
	return []any{
		a.ID, a.UserID, a.Type, a.BankName, a.AccountHolder, a.SwiftCode, a.AccountNumberEnc,
		a.AccountLast4, a.Verified, a.VerificationNote, a.VerifiedBy, a.Flagged, a.FlagReason,
		a.DeletedAt, a.DeleteReason, a.CreatedAt, a.UpdatedAt,
	}
}

func bankAccountDest(a *domain.BankAccount) []any {
	return []any{
		&a.ID, &a.UserID, &a.Type, &a.BankName, &a.AccountHolder, &a.SwiftCode, &a.AccountNumberEnc,
		&a.AccountLast4, &a.Verified, &a.VerificationNote, &a.VerifiedBy, &a.Flagged, &a.FlagReason,
		&a.DeletedAt, &a.DeleteReason, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanBankAccount(row pgx.Row) (*domain.BankAccount, error) {
	a := &domain.BankAccount{}
	if err := row.Scan(bankAccountDest(a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}
