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

const auditColumns = `id, actor_id, actor_role, action, resource_type, resource_id, note,
		COALESCE(details::text, ''), ip_address, created_at`

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create inserts an audit entry in the same transaction as the change it records.
func (r *AuditRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.AuditLog) error {
	query := `INSERT INTO audit_logs (id, actor_id, actor_role, action, resource_type, resource_id, note, details, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::jsonb, $9, $10)`

	_, err := tx.Exec(ctx, query,
		log.ID, log.ActorID, string(log.ActorRole), string(log.Action), log.ResourceType,
		log.ResourceID, log.Note, log.Details, log.IPAddress, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List fetches audit entries with filtering and pagination, newest first.
func (r *AuditRepo) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, v)
		argIdx++
	}
	if params.ActorID != nil {
		add("actor_id = $%d", *params.ActorID)
	}
	if params.Action != nil {
		add("action = $%d", string(*params.Action))
	}
	if params.ResourceType != "" {
		add("resource_type = $%d", params.ResourceType)
	}
	if params.ResourceID != "" {
		add("resource_id = $%d", params.ResourceID)
	}
	if params.From != nil {
		add("created_at >= $%d", *params.From)
	}
	if params.To != nil {
		add("created_at <= $%d", *params.To)
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM audit_logs %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		auditColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(&l.ID, &l.ActorID, &l.ActorRole, &l.Action, &l.ResourceType,
			&l.ResourceID, &l.Note, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit log row: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit log rows: %w", err)
	}
	return logs, total, nil
}

// BackupRepo implements ports.BackupRepository.
type BackupRepo struct {
	pool Pool
}

// NewBackupRepo creates a new BackupRepo.
func NewBackupRepo(pool Pool) *BackupRepo {
	return &BackupRepo{pool: pool}
}

// backupPayload is the JSONB body of a wallet_backups row.
type backupPayload struct {
	Wallets         []domain.WalletSnapshot    `json:"wallets"`
	OpenWithdrawals []domain.WithdrawalRequest `json:"open_withdrawals"`
	Totals          []domain.CurrencyTotal     `json:"totals"`
}

// Create persists a snapshot within the reset transaction.
func (r *BackupRepo) Create(ctx context.Context, tx pgx.Tx, b *domain.BackupSnapshot) error {
	query := `INSERT INTO wallet_backups (id, created_by, reason, payload, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	payload := backupPayload{Wallets: b.Wallets, OpenWithdrawals: b.OpenWithdrawals, Totals: b.Totals}
	if _, err := tx.Exec(ctx, query, b.ID, b.CreatedBy, b.Reason, payload, b.Checksum, b.CreatedAt); err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

// GetByID fetches a snapshot.
func (r *BackupRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BackupSnapshot, error) {
	query := `SELECT id, created_by, reason, payload, checksum, created_at FROM wallet_backups WHERE id = $1`

	b := &domain.BackupSnapshot{}
	var payload backupPayload
	err := r.pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.CreatedBy, &b.Reason, &payload, &b.Checksum, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get backup by id: %w", err)
	}
	b.Wallets = payload.Wallets
	b.OpenWithdrawals = payload.OpenWithdrawals
	b.Totals = payload.Totals
	return b, nil
}
