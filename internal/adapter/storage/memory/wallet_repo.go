package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(store *Store) *WalletRepo {
	return &WalletRepo{store: store}
}

// CreateIfAbsent inserts w unless the user already owns a wallet.
func (r *WalletRepo) CreateIfAbsent(_ context.Context, tx pgx.Tx, w *domain.Wallet) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	if _, ok := st.walletByUser[w.UserID]; ok {
		return nil
	}
	st.wallets[w.ID] = *w
	st.walletByUser[w.UserID] = w.ID
	return nil
}

// GetByUserID fetches the committed wallet of a user.
func (r *WalletRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var out *domain.Wallet
	r.store.read(func(st *state) {
		out = walletOf(st, userID)
	})
	return out, nil
}

// GetByUserIDForUpdate fetches a user's wallet inside tx.
func (r *WalletRepo) GetByUserIDForUpdate(_ context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("get wallet for update: %w", err)
	}
	return walletOf(st, userID), nil
}

// ListForUpdate returns every wallet ordered by id.
func (r *WalletRepo) ListForUpdate(_ context.Context, tx pgx.Tx) ([]domain.Wallet, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("list wallets for update: %w", err)
	}
	out := make([]domain.Wallet, 0, len(st.wallets))
	for _, w := range st.wallets {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b domain.Wallet) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out, nil
}

// UpdateBalances writes both balances and bumps the version.
func (r *WalletRepo) UpdateBalances(_ context.Context, tx pgx.Tx, w *domain.Wallet) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}
	cur, ok := st.wallets[w.ID]
	if !ok {
		return fmt.Errorf("wallet not found: %s", w.ID)
	}
	cur.AvailableBalance = w.AvailableBalance
	cur.PendingBalance = w.PendingBalance
	cur.Version++
	cur.UpdatedAt = w.UpdatedAt
	st.wallets[w.ID] = cur
	w.Version = cur.Version
	return nil
}

func walletOf(st *state, userID uuid.UUID) *domain.Wallet {
	id, ok := st.walletByUser[userID]
	if !ok {
		return nil
	}
	w := st.wallets[id]
	return &w
}
