package memory

import (
	"context"
	"fmt"
	"slices"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(store *Store) *AuditRepo {
	return &AuditRepo{store: store}
}

// Create appends an audit entry inside tx.
func (r *AuditRepo) Create(_ context.Context, tx pgx.Tx, log *domain.AuditLog) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	st.auditLogs = append(st.auditLogs, *log)
	return nil
}

// List fetches entries newest first.
func (r *AuditRepo) List(_ context.Context, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	var all []domain.AuditLog
	r.store.read(func(st *state) {
		for _, l := range st.auditLogs {
			if matchesAudit(l, params) {
				all = append(all, l)
			}
		}
	})
	slices.Reverse(all)
	return paginate(all, params.Page, params.PageSize), int64(len(all)), nil
}

func matchesAudit(l domain.AuditLog, p ports.AuditListParams) bool {
	switch {
	case p.ActorID != nil && (l.ActorID == nil || *l.ActorID != *p.ActorID):
		return false
	case p.Action != nil && l.Action != *p.Action:
		return false
	case p.ResourceType != "" && l.ResourceType != p.ResourceType:
		return false
	case p.ResourceID != "" && l.ResourceID != p.ResourceID:
		return false
	case p.From != nil && l.CreatedAt.Before(*p.From):
		return false
	case p.To != nil && l.CreatedAt.After(*p.To):
		return false
	}
	return true
}

// BackupRepo implements ports.BackupRepository.
type BackupRepo struct {
	store *Store
}

// NewBackupRepo creates a new BackupRepo.
func NewBackupRepo(store *Store) *BackupRepo {
	return &BackupRepo{store: store}
}

// Create stores a snapshot inside tx.
func (r *BackupRepo) Create(_ context.Context, tx pgx.Tx, b *domain.BackupSnapshot) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	st.backups[b.ID] = *b
	return nil
}

// GetByID fetches a committed snapshot.
func (r *BackupRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.BackupSnapshot, error) {
	var out *domain.BackupSnapshot
	r.store.read(func(st *state) {
		if b, ok := st.backups[id]; ok {
			out = &b
		}
	})
	return out, nil
}
