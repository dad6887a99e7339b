package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// InvoiceSequencerImpl implements ports.InvoiceSequencer. Each month owns one
// counter row and numbers are handed out under its row lock, so they are
// unique and gap-free per month.
type InvoiceSequencerImpl struct {
	seqRepo       ports.InvoiceSequenceRepository
	invoiceRepo   ports.InvoiceRepository
	audit         ports.AuditService
	transactor    ports.DBTransactor
	defaultPrefix string
	defaultStart  string // empty picks a random 8-digit start per month
	now           func() time.Time
	log           zerolog.Logger
}

// NewInvoiceSequencer creates a new InvoiceSequencerImpl.
func NewInvoiceSequencer(
	seqRepo ports.InvoiceSequenceRepository,
	invoiceRepo ports.InvoiceRepository,
	audit ports.AuditService,
	transactor ports.DBTransactor,
	defaultPrefix string,
	defaultStart string,
	log zerolog.Logger,
) *InvoiceSequencerImpl {
	if !domain.ValidPrefix(defaultPrefix) {
		defaultPrefix = "AA"
	}
	return &InvoiceSequencerImpl{
		seqRepo:       seqRepo,
		invoiceRepo:   invoiceRepo,
		audit:         audit,
		transactor:    transactor,
		defaultPrefix: defaultPrefix,
		defaultStart:  defaultStart,
		now:           utcNow,
		log:           log,
	}
}

// SetPrefix configures a month's prefix and number start. Once an invoice
// was issued for the month the setting is frozen; re-sending the current
// setting is a no-op.
func (s *InvoiceSequencerImpl) SetPrefix(ctx context.Context, yearMonth, prefix, numberStart string, admin domain.Actor) (*domain.InvoiceSequence, error) {
	if !domain.ValidYearMonth(yearMonth) {
		return nil, apperror.ErrValidation("year_month_format", "year_month must be YYYY-MM")
	}
	if !domain.ValidPrefix(prefix) {
		return nil, apperror.ErrValidation("prefix_format", "prefix must be two uppercase letters")
	}
	start, ok := domain.ParseNumberStart(numberStart)
	if !ok {
		return nil, apperror.ErrValidation("number_start_format", "number_start must be exactly 8 digits")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	candidate := &domain.InvoiceSequence{
		YearMonth:   yearMonth,
		Prefix:      prefix,
		NumberStart: start,
		NextNumber:  start,
		UpdatedAt:   s.now(),
	}

	seq, err := s.seqRepo.GetForUpdate(ctx, dbTx, yearMonth)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock invoice sequence: %w", err))
	}
	if seq == nil {
		// Create the row first so the month is locked before counting invoices.
		if err := s.seqRepo.InsertIfAbsent(ctx, dbTx, candidate); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("insert invoice sequence: %w", err))
		}
		if seq, err = s.seqRepo.GetForUpdate(ctx, dbTx, yearMonth); err != nil || seq == nil {
			return nil, apperror.InternalError(fmt.Errorf("relock invoice sequence: %w", err))
		}
	} else if seq.SameSetting(prefix, start) {
		return seq, nil
	}

	issued, err := s.invoiceRepo.CountByYearMonth(ctx, dbTx, yearMonth)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count invoices: %w", err))
	}
	if issued > 0 {
		if seq.SameSetting(prefix, start) {
			return seq, nil
		}
		return nil, apperror.ErrSequenceAlreadyInUse(yearMonth)
	}

	if err := s.seqRepo.Save(ctx, dbTx, candidate); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save invoice sequence: %w", err))
	}

	details, _ := json.Marshal(map[string]any{"prefix": prefix, "number_start": numberStart})
	entry := domain.NewAuditLog(admin, domain.AuditInvoiceSequenceSet, domain.ResourceInvoiceSequence, yearMonth, "")
	entry.Details = string(details)
	if err := s.audit.Record(ctx, dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.audit.Announce(ctx, entry)

	s.log.Info().
		Str("year_month", yearMonth).
		Str("prefix", prefix).
		Str("number_start", numberStart).
		Msg("invoice sequence configured")

	return candidate, nil
}

// Next allocates the month's next track number inside tx. The allocation
// rolls back with tx, so a failed issuance does not burn a number.
func (s *InvoiceSequencerImpl) Next(ctx context.Context, tx pgx.Tx, yearMonth string) (string, error) {
	if !domain.ValidYearMonth(yearMonth) {
		return "", apperror.ErrValidation("year_month_format", "year_month must be YYYY-MM")
	}

	seq, err := s.seqRepo.GetForUpdate(ctx, tx, yearMonth)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("lock invoice sequence: %w", err))
	}
	if seq == nil {
		if err := s.seqRepo.InsertIfAbsent(ctx, tx, s.defaultSequence(yearMonth)); err != nil {
			return "", apperror.InternalError(fmt.Errorf("insert invoice sequence: %w", err))
		}
		if seq, err = s.seqRepo.GetForUpdate(ctx, tx, yearMonth); err != nil || seq == nil {
			return "", apperror.InternalError(fmt.Errorf("relock invoice sequence: %w", err))
		}
	}

	if seq.NextNumber > domain.MaxTrackNumber {
		return "", apperror.ErrSequenceExhausted(yearMonth)
	}
	n := seq.NextNumber
	if err := s.seqRepo.UpdateNext(ctx, tx, yearMonth, n+1); err != nil {
		return "", apperror.InternalError(fmt.Errorf("advance invoice sequence: %w", err))
	}
	return domain.FormatTrackNumber(seq.Prefix, n), nil
}

// Get returns a month's sequence.
func (s *InvoiceSequencerImpl) Get(ctx context.Context, yearMonth string) (*domain.InvoiceSequence, error) {
	if !domain.ValidYearMonth(yearMonth) {
		return nil, apperror.ErrValidation("year_month_format", "year_month must be YYYY-MM")
	}
	seq, err := s.seqRepo.Get(ctx, yearMonth)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get invoice sequence: %w", err))
	}
	if seq == nil {
		return nil, apperror.ErrNotFound("invoice sequence")
	}
	return seq, nil
}

func (s *InvoiceSequencerImpl) defaultSequence(yearMonth string) *domain.InvoiceSequence {
	start, ok := domain.ParseNumberStart(s.defaultStart)
	if !ok {
		// Leaves at least 9,999,999 numbers in the month.
		start = 10_000_000 + rand.Int64N(80_000_000)
	}
	return &domain.InvoiceSequence{
		YearMonth:   yearMonth,
		Prefix:      s.defaultPrefix,
		NumberStart: start,
		NextNumber:  start,
		UpdatedAt:   s.now(),
	}
}
