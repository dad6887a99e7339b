package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type auditService struct {
	repo       ports.AuditRepository
	transactor ports.DBTransactor
	publisher  ports.AuditPublisher
	now        func() time.Time
	log        zerolog.Logger
}

// NewAuditService creates a new audit service.
// If publisher is nil, committed entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, transactor ports.DBTransactor, publisher ports.AuditPublisher, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, transactor: transactor, publisher: publisher, now: utcNow, log: log}
}

// Record persists entry in the caller's transaction so the action and its
// audit row commit or roll back together.
func (s *auditService) Record(ctx context.Context, tx pgx.Tx, entry *domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.repo.Create(ctx, tx, entry); err != nil {
		return apperror.InternalError(fmt.Errorf("insert audit log: %w", err))
	}
	return nil
}

// Announce logs committed entries and ships them to the event stream.
func (s *auditService) Announce(ctx context.Context, entries ...*domain.AuditLog) {
	if len(entries) == 0 {
		return
	}
	batch := make([]domain.AuditLog, 0, len(entries))
	for _, e := range entries {
		ev := s.log.Info().
			Str("action", string(e.Action)).
			Str("actor_role", string(e.ActorRole)).
			Str("resource_type", e.ResourceType).
			Str("resource_id", e.ResourceID)
		if e.ActorID != nil {
			ev = ev.Str("actor_id", e.ActorID.String())
		}
		if e.IPAddress != "" {
			ev = ev.Str("ip", e.IPAddress)
		}
		ev.Msg("audit")
		batch = append(batch, *e)
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, batch); err != nil {
		s.log.Warn().Err(err).Int("entries", len(batch)).Msg("failed to publish audit entries")
	}
}

// Log records a standalone audit entry asynchronously (fire-and-forget).
func (s *auditService) Log(ctx context.Context, entry *domain.AuditLog) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.persist(ctx, entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			return
		}
		s.Announce(ctx, entry)
	}()
}

func (s *auditService) persist(ctx context.Context, entry *domain.AuditLog) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.Record(ctx, dbTx, entry); err != nil {
		return err
	}
	return dbTx.Commit(ctx)
}

// List returns audit entries newest first.
func (s *auditService) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	logs, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list audit logs: %w", err))
	}
	return logs, total, nil
}
