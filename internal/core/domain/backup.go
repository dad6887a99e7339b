package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultResetToken is the confirmation phrase a wallet reset requires unless configured otherwise.
const DefaultResetToken = "RESET ALL WALLETS"

// WalletSnapshot is a wallet's state captured by a backup.
type WalletSnapshot struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Available decimal.Decimal `json:"available_balance"`
	Pending   decimal.Decimal `json:"pending_balance"`
	Currency  string          `json:"currency"`
	Version   int64           `json:"version"`
}

// BackupSnapshot is an immutable point-in-time copy of every wallet and
// every open withdrawal request.
type BackupSnapshot struct {
	ID              uuid.UUID           `json:"id"`
	CreatedBy       *uuid.UUID          `json:"created_by,omitempty"`
	Reason          string              `json:"reason"`
	Wallets         []WalletSnapshot    `json:"wallets"`
	OpenWithdrawals []WithdrawalRequest `json:"open_withdrawals"`
	Totals          []CurrencyTotal     `json:"totals"`
	Checksum        string              `json:"checksum"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ResetResult summarises a completed wallet reset.
type ResetResult struct {
	BackupID             uuid.UUID       `json:"backup_id"`
	WalletsReset         int             `json:"wallets_reset"`
	WithdrawalsCancelled int             `json:"withdrawals_cancelled"`
	Cleared              []CurrencyTotal `json:"cleared"`
}

// TotalsByCurrency sums snapshot balances per currency, sorted by currency.
func TotalsByCurrency(wallets []WalletSnapshot) []CurrencyTotal {
	byCur := make(map[string]*CurrencyTotal)
	for _, w := range wallets {
		t, ok := byCur[w.Currency]
		if !ok {
			t = &CurrencyTotal{Currency: w.Currency, Available: decimal.Zero, Pending: decimal.Zero}
			byCur[w.Currency] = t
		}
		t.Available = t.Available.Add(w.Available)
		t.Pending = t.Pending.Add(w.Pending)
	}
	out := make([]CurrencyTotal, 0, len(byCur))
	for _, t := range byCur {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
