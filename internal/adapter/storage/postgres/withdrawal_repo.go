package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const withdrawalColumns = `id, user_id, bank_account_id, amount, currency, status, note, admin_note,
		processed_by, hold_transaction_id, release_transaction_id, version, created_at, updated_at, completed_at`

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	pool Pool
}

// NewWithdrawalRepo creates a new WithdrawalRepo.
func NewWithdrawalRepo(pool Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

// Create inserts a withdrawal request within a transaction.
func (r *WithdrawalRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	query := `INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := tx.Exec(ctx, query,
		w.ID, w.UserID, w.BankAccountID, w.Amount, w.Currency, w.Status, w.Note, w.AdminNote,
		w.ProcessedBy, w.HoldTransactionID, w.ReleaseTransactionID, w.Version,
		w.CreatedAt, w.UpdatedAt, w.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

// GetByID fetches a withdrawal request (non-locking read).
func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

	w, err := scanWithdrawal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get withdrawal by id: %w", err)
	}
	return w, nil
}

// GetByIDForUpdate fetches a withdrawal request with pessimistic locking.
func (r *WithdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`

	w, err := scanWithdrawal(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get withdrawal for update: %w", err)
	}
	return w, nil
}

// ListOpenForUpdate locks every open request in id order.
func (r *WithdrawalRepo) ListOpenForUpdate(ctx context.Context, tx pgx.Tx) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests
		WHERE status IN ('pending', 'approved', 'processing')
		ORDER BY id FOR UPDATE`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}

// UpdateStatus persists the mutable fields of w when the stored version equals
// expectedVersion and bumps it.
func (r *WithdrawalRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest, expectedVersion int64) error {
	query := `UPDATE withdrawal_requests
		SET status = $1, admin_note = $2, processed_by = $3, release_transaction_id = $4,
			updated_at = $5, completed_at = $6, version = version + 1
		WHERE id = $7 AND version = $8`

	tag, err := tx.Exec(ctx, query,
		w.Status, w.AdminNote, w.ProcessedBy, w.ReleaseTransactionID,
		w.UpdatedAt, w.CompletedAt, w.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update withdrawal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrStaleVersion
	}
	w.Version = expectedVersion + 1
	return nil
}

// List fetches withdrawal requests with filtering and pagination.
func (r *WithdrawalRepo) List(ctx context.Context, params ports.WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if params.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *params.UserID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM withdrawal_requests "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count withdrawals: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM withdrawal_requests %s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, withdrawalColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list withdrawals: %w", err)
	}
	items, err := collectWithdrawals(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collectWithdrawals(rows pgx.Rows) ([]domain.WithdrawalRequest, error) {
	defer rows.Close()

	var items []domain.WithdrawalRequest
	for rows.Next() {
		var w domain.WithdrawalRequest
		if err := rows.Scan(withdrawalDest(&w)...); err != nil {
			return nil, fmt.Errorf("scan withdrawal row: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawal rows: %w", err)
	}
	return items, nil
}

func withdrawalDest(w *domain.WithdrawalRequest) []any {
	return []any{
		&w.ID, &w.UserID, &w.BankAccountID, &w.Amount, &w.Currency, &w.Status, &w.Note, &w.AdminNote,
		&w.ProcessedBy, &w.HoldTransactionID, &w.ReleaseTransactionID, &w.Version,
		&w.CreatedAt, &w.UpdatedAt, &w.CompletedAt,
	}
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	w := &domain.WithdrawalRequest{}
	if err := row.Scan(withdrawalDest(w)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}
