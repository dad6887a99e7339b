package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	store *Store
}

// NewWithdrawalRepo creates a new WithdrawalRepo.
func NewWithdrawalRepo(store *Store) *WithdrawalRepo {
	return &WithdrawalRepo{store: store}
}

// Create inserts a withdrawal request.
func (r *WithdrawalRepo) Create(_ context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	if _, ok := st.withdrawals[w.ID]; ok {
		return fmt.Errorf("insert withdrawal: %w", ports.ErrDuplicate)
	}
	st.withdrawals[w.ID] = *w
	return nil
}

// GetByID fetches a committed withdrawal request.
func (r *WithdrawalRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	var out *domain.WithdrawalRequest
	r.store.read(func(st *state) {
		if w, ok := st.withdrawals[id]; ok {
			out = &w
		}
	})
	return out, nil
}

// GetByIDForUpdate fetches a withdrawal request inside tx.
func (r *WithdrawalRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("get withdrawal for update: %w", err)
	}
	w, ok := st.withdrawals[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// ListOpenForUpdate returns every open request ordered by id.
func (r *WithdrawalRepo) ListOpenForUpdate(_ context.Context, tx pgx.Tx) ([]domain.WithdrawalRequest, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("list open withdrawals for update: %w", err)
	}
	var out []domain.WithdrawalRequest
	for _, w := range st.withdrawals {
		if w.Status.IsOpen() {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b domain.WithdrawalRequest) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out, nil
}

// UpdateStatus replaces the stored request when its version still matches.
func (r *WithdrawalRepo) UpdateStatus(_ context.Context, tx pgx.Tx, w *domain.WithdrawalRequest, expectedVersion int64) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("update withdrawal status: %w", err)
	}
	cur, ok := st.withdrawals[w.ID]
	if !ok || cur.Version != expectedVersion {
		return ports.ErrStaleVersion
	}
	w.Version = expectedVersion + 1
	st.withdrawals[w.ID] = *w
	return nil
}

// List fetches requests with filtering and pagination, newest first.
func (r *WithdrawalRepo) List(_ context.Context, params ports.WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error) {
	var all []domain.WithdrawalRequest
	r.store.read(func(st *state) {
		for _, w := range st.withdrawals {
			if params.UserID != nil && w.UserID != *params.UserID {
				continue
			}
			if params.Status != nil && w.Status != *params.Status {
				continue
			}
			if params.From != nil && w.CreatedAt.Before(*params.From) {
				continue
			}
			if params.To != nil && w.CreatedAt.After(*params.To) {
				continue
			}
			all = append(all, w)
		}
	})
	slices.SortFunc(all, func(a, b domain.WithdrawalRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return paginate(all, params.Page, params.PageSize), int64(len(all)), nil
}

// paginate returns the 1-based page of items.
func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}
