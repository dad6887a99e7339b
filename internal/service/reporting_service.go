package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	withdrawalRepo ports.WithdrawalRepository
	bankRepo       ports.BankAccountRepository
	txRepo         ports.TransactionRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	withdrawalRepo ports.WithdrawalRepository,
	bankRepo ports.BankAccountRepository,
	txRepo ports.TransactionRepository,
) ports.ReportingService {
	return &reportingService{
		withdrawalRepo: withdrawalRepo,
		bankRepo:       bankRepo,
		txRepo:         txRepo,
	}
}

// ListWithdrawals returns withdrawal requests joined with their masked destination.
func (s *reportingService) ListWithdrawals(ctx context.Context, params ports.WithdrawalListParams) ([]ports.WithdrawalRecord, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	items, total, err := s.withdrawalRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list withdrawals: %w", err))
	}

	accounts := make(map[uuid.UUID]*domain.BankAccount)
	records := make([]ports.WithdrawalRecord, 0, len(items))
	for _, w := range items {
		acct, ok := accounts[w.BankAccountID]
		if !ok {
			acct, err = s.bankRepo.GetByID(ctx, w.BankAccountID)
			if err != nil {
				return nil, 0, apperror.InternalError(fmt.Errorf("get bank account: %w", err))
			}
			accounts[w.BankAccountID] = acct
		}

		rec := ports.WithdrawalRecord{
			ID:       w.ID,
			Date:     w.CreatedAt,
			UserID:   w.UserID,
			Amount:   w.Amount,
			Currency: w.Currency,
			Status:   w.Status,
			Note:     w.Note,
			Version:  w.Version,
		}
		if acct != nil {
			rec.BankName = acct.BankName
			rec.AccountMasked = acct.MaskedNumber()
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// LedgerStats returns transaction counts and totals per type and currency.
func (s *reportingService) LedgerStats(ctx context.Context, from, to *time.Time) ([]ports.TransactionTypeStat, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperror.ErrValidation("time_range", "to must not be before from")
	}
	stats, err := s.txRepo.GetStats(ctx, from, to)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("ledger stats: %w", err))
	}
	return stats, nil
}
