package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds one user's balances. Balances only change through ledger posts.
type Wallet struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"` // Sum of open withdrawal holds
	Currency         string          `json:"currency"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewWallet builds an empty wallet for a user's first transaction.
func NewWallet(userID uuid.UUID, currency string, now time.Time) *Wallet {
	return &Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		AvailableBalance: decimal.Zero,
		PendingBalance:   decimal.Zero,
		Currency:         currency,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Balance is the read-only view of a wallet.
type Balance struct {
	UserID    uuid.UUID       `json:"user_id"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
	Currency  string          `json:"currency"`
}

// Balance returns the wallet's current balances.
func (w *Wallet) Balance() Balance {
	return Balance{
		UserID:    w.UserID,
		Available: w.AvailableBalance,
		Pending:   w.PendingBalance,
		Currency:  w.Currency,
	}
}

// ErrNegativeBalance is returned when an effect would drive a balance below zero.
var ErrNegativeBalance = errors.New("balance would become negative")

// Apply moves amount between the wallet's balances according to effect.
// On error the wallet is left unchanged.
func (w *Wallet) Apply(effect BalanceEffect, amount decimal.Decimal) error {
	avail, pend := w.AvailableBalance, w.PendingBalance
	switch effect {
	case EffectAvailable:
		avail = avail.Add(amount)
	case EffectHold:
		if !amount.IsNegative() {
			return fmt.Errorf("hold amount must be negative, got %s", amount)
		}
		avail = avail.Add(amount)
		pend = pend.Sub(amount)
	case EffectRelease:
		if !amount.IsPositive() {
			return fmt.Errorf("release amount must be positive, got %s", amount)
		}
		pend = pend.Sub(amount)
		avail = avail.Add(amount)
	default:
		return fmt.Errorf("unknown balance effect %q", effect)
	}
	if avail.IsNegative() || pend.IsNegative() {
		return ErrNegativeBalance
	}
	w.AvailableBalance, w.PendingBalance = avail, pend
	return nil
}

// Settle removes a paid-out hold from pending_balance.
func (w *Wallet) Settle(amount decimal.Decimal) error {
	pend := w.PendingBalance.Sub(amount)
	if pend.IsNegative() {
		return ErrNegativeBalance
	}
	w.PendingBalance = pend
	return nil
}
