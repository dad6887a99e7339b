package domain

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit             TransactionType = "deposit"
	TransactionTypeEscrow              TransactionType = "escrow"
	TransactionTypePayment             TransactionType = "payment"
	TransactionTypeWithdrawal          TransactionType = "withdrawal"
	TransactionTypeRefund              TransactionType = "refund"
	TransactionTypeSubscriptionRevenue TransactionType = "subscription_revenue"
	TransactionTypeServiceFee          TransactionType = "service_fee"
	TransactionTypeAdjustment          TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeEscrow, TransactionTypePayment,
		TransactionTypeWithdrawal, TransactionTypeRefund, TransactionTypeSubscriptionRevenue,
		TransactionTypeServiceFee, TransactionTypeAdjustment:
		return true
	}
	return false
}

// Postable reports whether callers outside the core may post this type directly.
// Withdrawal holds and adjustments are produced only by the workflow and reset.
func (t TransactionType) Postable() bool {
	return t.Valid() && t != TransactionTypeWithdrawal && t != TransactionTypeAdjustment
}

// BalanceEffect says which wallet balances a transaction moves.
type BalanceEffect string

const (
	// EffectAvailable adds the signed amount to available_balance.
	EffectAvailable BalanceEffect = "available"
	// EffectHold moves -amount from available_balance to pending_balance (amount < 0).
	EffectHold BalanceEffect = "hold"
	// EffectRelease moves amount from pending_balance back to available_balance (amount > 0).
	EffectRelease BalanceEffect = "release"
)

// Transaction is an immutable ledger entry. Corrections are new offsetting rows.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Type           TransactionType `json:"type"`
	Effect         BalanceEffect   `json:"balance_effect"`
	Amount         decimal.Decimal `json:"amount"` // Signed, never zero
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	ReferenceID    *string         `json:"reference_id,omitempty"`
	IdempotencyKey *string         `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CompareTransactions orders transactions by (created_at, id).
func CompareTransactions(a, b Transaction) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// TransactionCursor is a keyset position in a history listing.
type TransactionCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf returns the position right at t.
func CursorOf(t Transaction) TransactionCursor {
	return TransactionCursor{CreatedAt: t.CreatedAt, ID: t.ID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c TransactionCursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeTransactionCursor parses a token produced by Encode.
func DecodeTransactionCursor(token string) (TransactionCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return TransactionCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return TransactionCursor{}, fmt.Errorf("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return TransactionCursor{}, fmt.Errorf("cursor time: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return TransactionCursor{}, fmt.Errorf("cursor id: %w", err)
	}
	return TransactionCursor{CreatedAt: time.Unix(0, n).UTC(), ID: uid}, nil
}
