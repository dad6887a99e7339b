package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	store *Store
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(store *Store) *TransactionRepo {
	return &TransactionRepo{store: store}
}

// Create appends t. The idempotency key is unique.
func (r *TransactionRepo) Create(_ context.Context, tx pgx.Tx, t *domain.Transaction) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if t.IdempotencyKey != nil {
		if _, ok := st.txnByKey[*t.IdempotencyKey]; ok {
			return fmt.Errorf("insert transaction: %w", ports.ErrDuplicate)
		}
		st.txnByKey[*t.IdempotencyKey] = t.ID
	}
	st.transactions[t.ID] = *t
	return nil
}

// GetByID fetches a committed transaction.
func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	r.store.read(func(st *state) {
		if t, ok := st.transactions[id]; ok {
			out = &t
		}
	})
	return out, nil
}

// GetByIdempotencyKey looks the key up inside tx.
func (r *TransactionRepo) GetByIdempotencyKey(_ context.Context, tx pgx.Tx, key string) (*domain.Transaction, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("get transaction by idempotency key: %w", err)
	}
	id, ok := st.txnByKey[key]
	if !ok {
		return nil, nil
	}
	t := st.transactions[id]
	return &t, nil
}

// List returns one keyset page of a user's transactions.
func (r *TransactionRepo) List(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, error) {
	var all []domain.Transaction
	r.store.read(func(st *state) {
		for _, t := range st.transactions {
			if matchesTxn(t, params) {
				all = append(all, t)
			}
		}
	})

	order := domain.CompareTransactions
	if !params.Ascending {
		order = func(a, b domain.Transaction) int { return domain.CompareTransactions(b, a) }
	}
	slices.SortFunc(all, order)

	if params.After != nil {
		pos := domain.Transaction{CreatedAt: params.After.CreatedAt, ID: params.After.ID}
		all = slices.DeleteFunc(all, func(t domain.Transaction) bool { return order(t, pos) <= 0 })
	}
	if params.Limit > 0 && len(all) > params.Limit {
		all = all[:params.Limit]
	}
	return all, nil
}

func matchesTxn(t domain.Transaction, p ports.TransactionListParams) bool {
	if t.UserID != p.UserID {
		return false
	}
	if len(p.Types) > 0 && !slices.Contains(p.Types, t.Type) {
		return false
	}
	if p.From != nil && t.CreatedAt.Before(*p.From) {
		return false
	}
	if p.To != nil && t.CreatedAt.After(*p.To) {
		return false
	}
	return true
}

// GetStats aggregates transactions per type and currency.
func (r *TransactionRepo) GetStats(_ context.Context, from, to *time.Time) ([]ports.TransactionTypeStat, error) {
	type key struct {
		typ      domain.TransactionType
		currency string
	}
	agg := make(map[key]*ports.TransactionTypeStat)
	r.store.read(func(st *state) {
		for _, t := range st.transactions {
			if from != nil && t.CreatedAt.Before(*from) {
				continue
			}
			if to != nil && t.CreatedAt.After(*to) {
				continue
			}
			k := key{t.Type, t.Currency}
			s, ok := agg[k]
			if !ok {
				s = &ports.TransactionTypeStat{Type: t.Type, Currency: t.Currency, Total: decimal.Zero}
				agg[k] = s
			}
			s.Count++
			s.Total = s.Total.Add(t.Amount)
		}
	})

	out := make([]ports.TransactionTypeStat, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ports.TransactionTypeStat) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Currency, b.Currency))
	})
	return out, nil
}
