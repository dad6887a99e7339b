package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultHistoryPage    = 100
	defaultTransactionLim = 50
	maxTransactionLimit   = 200
)

// LedgerServiceImpl implements ports.LedgerService. Every balance change is
// one immutable transaction row written in the same database transaction
// as the wallet update.
type LedgerServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	idempCache ports.IdempotencyCache
	transactor ports.DBTransactor
	pageSize   int
	idempTTL   time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl. idempCache may be nil.
func NewLedgerService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	historyPageSize int,
	idempTTL time.Duration,
	log zerolog.Logger,
) *LedgerServiceImpl {
	if historyPageSize <= 0 {
		historyPageSize = defaultHistoryPage
	}
	if idempTTL <= 0 {
		idempTTL = defaultIdempotencyTTL
	}
	return &LedgerServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		idempCache: idempCache,
		transactor: transactor,
		pageSize:   historyPageSize,
		idempTTL:   idempTTL,
		now:        utcNow,
		log:        log,
	}
}

// Post records one externally requested ledger entry in its own transaction.
func (s *LedgerServiceImpl) Post(ctx context.Context, req ports.PostRequest) (*domain.Transaction, error) {
	if !req.Type.Postable() {
		return nil, apperror.ErrValidation("transaction_type", fmt.Sprintf("transaction type %q cannot be posted directly", req.Type))
	}
	if req.Effect != "" && req.Effect != domain.EffectAvailable {
		return nil, apperror.ErrValidation("balance_effect", "direct posts only move the available balance")
	}
	if err := validatePost(req); err != nil {
		return nil, err
	}

	// Layer 1: Redis replay check. A mismatch falls through so the DB reports the conflict.
	if req.IdempotencyKey != nil {
		if cached := s.cachedTransaction(ctx, *req.IdempotencyKey); cached != nil && samePost(cached, req) {
			return cached, nil
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.PostInTx(ctx, dbTx, req)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if req.IdempotencyKey != nil && s.idempCache != nil {
		if data, err := json.Marshal(cachedTransaction{Transaction: txn, IdempotencyKey: *req.IdempotencyKey}); err == nil {
			if err := s.idempCache.Set(ctx, *req.IdempotencyKey, data, s.idempTTL); err != nil {
				s.log.Warn().Err(err).Str("key", *req.IdempotencyKey).Msg("failed to cache ledger post in redis")
			}
		}
	}

	s.log.Info().
		Str("txn_id", txn.ID.String()).
		Str("user_id", txn.UserID.String()).
		Str("type", string(txn.Type)).
		Str("amount", txn.Amount.String()).
		Str("currency", txn.Currency).
		Msg("ledger post recorded")

	return txn, nil
}

// PostInTx applies req inside the caller's transaction. The wallet row lock
// serialises concurrent posts for the same user, so the idempotency lookup
// and the balance check both see committed state.
func (s *LedgerServiceImpl) PostInTx(ctx context.Context, tx pgx.Tx, req ports.PostRequest) (*domain.Transaction, error) {
	if err := validatePost(req); err != nil {
		return nil, err
	}
	effect := req.Effect
	if effect == "" {
		effect = domain.EffectAvailable
	}
	req.Effect = effect

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}

	if existing, err := s.replay(ctx, tx, req); existing != nil || err != nil {
		return existing, err
	}

	if wallet == nil {
		if req.Amount.IsNegative() || effect != domain.EffectAvailable {
			return nil, apperror.ErrInsufficientFunds()
		}
		if req.Currency == "" {
			return nil, apperror.ErrValidation("currency_required", "currency is required for a user without a wallet")
		}
		if err := s.walletRepo.CreateIfAbsent(ctx, tx, domain.NewWallet(req.UserID, req.Currency, s.now())); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
		}
		wallet, err = s.walletRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock new wallet: %w", err))
		}
		if wallet == nil {
			return nil, apperror.InternalError(fmt.Errorf("wallet missing after create for user %s", req.UserID))
		}
		// The first lookup ran without a wallet lock; a concurrent first post
		// with the same key may have committed since.
		if existing, err := s.replay(ctx, tx, req); existing != nil || err != nil {
			return existing, err
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = wallet.Currency
	}
	if currency != wallet.Currency {
		return nil, apperror.ErrCurrencyMismatch(wallet.Currency, currency)
	}

	if err := wallet.Apply(effect, req.Amount); err != nil {
		if errors.Is(err, domain.ErrNegativeBalance) {
			return nil, apperror.ErrInsufficientFunds()
		}
		return nil, apperror.ErrValidation("balance_effect", err.Error())
	}

	now := s.now()
	wallet.UpdatedAt = now
	if err := s.walletRepo.UpdateBalances(ctx, tx, wallet); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update wallet: %w", err))
	}

	txn := &domain.Transaction{
		ID:             uuid.New(),
		WalletID:       wallet.ID,
		UserID:         req.UserID,
		Type:           req.Type,
		Effect:         effect,
		Amount:         req.Amount,
		Currency:       currency,
		Description:    req.Description,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := s.txRepo.Create(ctx, tx, txn); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return nil, apperror.ErrIdempotencyConflict()
		}
		return nil, apperror.InternalError(fmt.Errorf("insert transaction: %w", err))
	}

	return txn, nil
}

// SettleHoldInTx removes a paid-out hold from the user's pending balance.
func (s *LedgerServiceImpl) SettleHoldInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return apperror.ErrNotFound("wallet")
	}
	if err := wallet.Settle(amount); err != nil {
		return apperror.InternalError(fmt.Errorf("settle hold of %s for user %s: %w", amount, userID, err))
	}
	wallet.UpdatedAt = s.now()
	if err := s.walletRepo.UpdateBalances(ctx, tx, wallet); err != nil {
		return apperror.InternalError(fmt.Errorf("update wallet: %w", err))
	}
	return nil
}

// Balance returns the user's balances. A user without a wallet has zero balances.
func (s *LedgerServiceImpl) Balance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return &domain.Balance{UserID: userID, Available: decimal.Zero, Pending: decimal.Zero}, nil
	}
	b := wallet.Balance()
	return &b, nil
}

// History streams the user's transactions page by page in (created_at, id) order.
func (s *LedgerServiceImpl) History(ctx context.Context, userID uuid.UUID, filter ports.HistoryFilter) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		var after *domain.TransactionCursor
		for {
			page, err := s.txRepo.List(ctx, listParams(userID, filter, after, s.pageSize))
			if err != nil {
				yield(domain.Transaction{}, apperror.InternalError(fmt.Errorf("list transactions: %w", err)))
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			c := domain.CursorOf(page[len(page)-1])
			after = &c
		}
	}
}

// TransactionPage returns one page plus the cursor of the next, "" on the last page.
func (s *LedgerServiceImpl) TransactionPage(
	ctx context.Context, userID uuid.UUID, filter ports.HistoryFilter, cursor string, limit int,
) ([]domain.Transaction, string, error) {
	if limit <= 0 {
		limit = defaultTransactionLim
	}
	limit = min(limit, maxTransactionLimit)

	var after *domain.TransactionCursor
	if cursor != "" {
		c, err := domain.DecodeTransactionCursor(cursor)
		if err != nil {
			return nil, "", apperror.ErrValidation("cursor", "invalid cursor")
		}
		after = &c
	}

	rows, err := s.txRepo.List(ctx, listParams(userID, filter, after, limit+1))
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	if len(rows) <= limit {
		return rows, "", nil
	}
	rows = rows[:limit]
	return rows, domain.CursorOf(rows[limit-1]).Encode(), nil
}

// GetTransaction fetches a single ledger row.
func (s *LedgerServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// cachedTransaction is the Redis payload. Transaction hides its key from JSON.
type cachedTransaction struct {
	Transaction    *domain.Transaction `json:"transaction"`
	IdempotencyKey string              `json:"idempotency_key"`
}

func (s *LedgerServiceImpl) cachedTransaction(ctx context.Context, key string) *domain.Transaction {
	if s.idempCache == nil {
		return nil
	}
	data, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		return nil
	}
	if data == nil {
		return nil
	}
	var c cachedTransaction
	if err := json.Unmarshal(data, &c); err != nil || c.Transaction == nil {
		s.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable cached ledger post")
		return nil
	}
	c.Transaction.IdempotencyKey = &c.IdempotencyKey
	return c.Transaction
}

func validatePost(req ports.PostRequest) error {
	switch {
	case req.UserID == uuid.Nil:
		return apperror.ErrValidation("user_id_required", "user_id is required")
	case !req.Type.Valid():
		return apperror.ErrValidation("transaction_type", fmt.Sprintf("unknown transaction type %q", req.Type))
	case req.Amount.IsZero():
		return apperror.ErrValidation("amount_non_zero", "amount must not be zero")
	case !domain.HasMoneyScale(req.Amount):
		return apperror.ErrValidation("amount_scale", "amount must have at most 2 decimal places")
	case req.Currency != "" && !domain.IsValidCurrency(req.Currency):
		return apperror.ErrValidation("currency_format", "currency must be a 3-letter ISO code")
	case req.IdempotencyKey != nil && *req.IdempotencyKey == "":
		return apperror.ErrValidation("idempotency_key", "idempotency key must not be empty")
	}
	return nil
}

// replay returns the transaction already posted under req's idempotency key,
// or IdempotencyConflict when the key was used for a different post.
func (s *LedgerServiceImpl) replay(ctx context.Context, tx pgx.Tx, req ports.PostRequest) (*domain.Transaction, error) {
	if req.IdempotencyKey == nil {
		return nil, nil
	}
	existing, err := s.txRepo.GetByIdempotencyKey(ctx, tx, *req.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency lookup: %w", err))
	}
	if existing != nil && !samePost(existing, req) {
		return nil, apperror.ErrIdempotencyConflict()
	}
	return existing, nil
}

// samePost reports whether existing was produced by an identical request.
func samePost(existing *domain.Transaction, req ports.PostRequest) bool {
	effect := req.Effect
	if effect == "" {
		effect = domain.EffectAvailable
	}
	return existing.UserID == req.UserID &&
		existing.Type == req.Type &&
		existing.Effect == effect &&
		existing.Amount.Equal(req.Amount) &&
		(req.Currency == "" || existing.Currency == req.Currency)
}

func listParams(userID uuid.UUID, f ports.HistoryFilter, after *domain.TransactionCursor, limit int) ports.TransactionListParams {
	return ports.TransactionListParams{
		UserID:    userID,
		Types:     f.Types,
		From:      f.From,
		To:        f.To,
		Ascending: f.Ascending,
		After:     after,
		Limit:     limit,
	}
}
