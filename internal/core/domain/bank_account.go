package domain

import (
	"time"

	"github.com/google/uuid"
)

// BankAccountType distinguishes domestic and international destinations.
type BankAccountType string

const (
	BankAccountDomestic      BankAccountType = "bank_account"
	BankAccountInternational BankAccountType = "international_bank"
)

// Valid reports whether t is a known account type.
func (t BankAccountType) Valid() bool {
	return t == BankAccountDomestic || t == BankAccountInternational
}

// BankAccount is a withdrawal destination. The full number is stored
// encrypted and only ever exposed masked.
type BankAccount struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Type             BankAccountType `json:"type"`
	BankName         string          `json:"bank_name"`
	AccountHolder    string          `json:"account_holder"`
	SwiftCode        string          `json:"swift_code,omitempty"`
	AccountNumberEnc string          `json:"-"`
	AccountLast4     string          `json:"-"`
	Verified         bool            `json:"verified"`
	VerificationNote string          `json:"verification_note,omitempty"`
	VerifiedBy       *uuid.UUID      `json:"verified_by,omitempty"`
	Flagged          bool            `json:"flagged"`
	FlagReason       string          `json:"flag_reason,omitempty"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
	DeleteReason     string          `json:"delete_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsDeleted returns true once the account was soft-deleted.
func (a *BankAccount) IsDeleted() bool {
	return a.DeletedAt != nil
}

// WithdrawalIneligibility returns why a withdrawal may not target the
// account right now, or "" when it may.
func (a *BankAccount) WithdrawalIneligibility() string {
	switch {
	case a.IsDeleted():
		return "account deleted"
	case a.Flagged:
		return "account flagged"
	case !a.Verified:
		return "account not verified"
	}
	return ""
}

// MaskedNumber renders the account number for display.
func (a *BankAccount) MaskedNumber() string {
	return "****" + a.AccountLast4
}

// Last4 returns the trailing four characters of an account number.
func Last4(number string) string {
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}
