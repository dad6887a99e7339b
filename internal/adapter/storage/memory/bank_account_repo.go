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

// BankAccountRepo implements ports.BankAccountRepository.
type BankAccountRepo struct {
	store *Store
}

// NewBankAccountRepo creates a new BankAccountRepo.
func NewBankAccountRepo(store *Store) *BankAccountRepo {
	return &BankAccountRepo{store: store}
}

// Create inserts a bank account.
func (r *BankAccountRepo) Create(_ context.Context, tx pgx.Tx, a *domain.BankAccount) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert bank account: %w", err)
	}
	if _, ok := st.bankAccounts[a.ID]; ok {
		return fmt.Errorf("insert bank account: %w", ports.ErrDuplicate)
	}
	st.bankAccounts[a.ID] = *a
	return nil
}

// GetByID fetches a committed bank account, deleted ones included.
func (r *BankAccountRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.BankAccount, error) {
	var out *domain.BankAccount
	r.store.read(func(st *state) {
		if a, ok := st.bankAccounts[id]; ok {
			out = &a
		}
	})
	return out, nil
}

// GetByIDForUpdate fetches a bank account inside tx.
func (r *BankAccountRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.BankAccount, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("get bank account for update: %w", err)
	}
	a, ok := st.bankAccounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// Update replaces the stored account.
func (r *BankAccountRepo) Update(_ context.Context, tx pgx.Tx, a *domain.BankAccount) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("update bank account: %w", err)
	}
	if _, ok := st.bankAccounts[a.ID]; !ok {
		return fmt.Errorf("bank account not found: %s", a.ID)
	}
	st.bankAccounts[a.ID] = *a
	return nil
}

// ListByUser returns a user's accounts, oldest first.
func (r *BankAccountRepo) ListByUser(_ context.Context, userID uuid.UUID, includeDeleted bool) ([]domain.BankAccount, error) {
	var out []domain.BankAccount
	r.store.read(func(st *state) {
		for _, a := range st.bankAccounts {
			if a.UserID != userID || (a.IsDeleted() && !includeDeleted) {
				continue
			}
			out = append(out, a)
		}
	})
	slices.SortFunc(out, func(a, b domain.BankAccount) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}
