package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the closed set of withdrawal request states.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalApproved, WithdrawalProcessing,
		WithdrawalCompleted, WithdrawalRejected, WithdrawalCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for completed, rejected and cancelled.
func (s WithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalCompleted, WithdrawalRejected, WithdrawalCancelled:
		return true
	}
	return false
}

// IsOpen returns true while the request still holds funds in pending_balance.
func (s WithdrawalStatus) IsOpen() bool {
	return s.Valid() && !s.IsTerminal()
}

// OpenWithdrawalStatuses lists the states that hold funds.
func OpenWithdrawalStatuses() []WithdrawalStatus {
	return []WithdrawalStatus{WithdrawalPending, WithdrawalApproved, WithdrawalProcessing}
}

// CanTransitionWithdrawal is the transition table of the withdrawal workflow.
func CanTransitionWithdrawal(from, to WithdrawalStatus) bool {
	switch from {
	case WithdrawalPending:
		return to == WithdrawalApproved || to == WithdrawalRejected || to == WithdrawalCancelled
	case WithdrawalApproved:
		return to == WithdrawalProcessing
	case WithdrawalProcessing:
		return to == WithdrawalCompleted
	case WithdrawalCompleted, WithdrawalRejected, WithdrawalCancelled:
		return false
	}
	return false
}

// CanForceCancelWithdrawal reports whether a wallet reset may cancel a request
// in state s. Reset overrides the workflow for every open request.
func CanForceCancelWithdrawal(s WithdrawalStatus) bool {
	return s.IsOpen()
}

// WithdrawalRequest is one withdrawal attempt. Version increments on every
// status change and guards admin actions against stale reads.
type WithdrawalRequest struct {
	ID                   uuid.UUID        `json:"id"`
	UserID               uuid.UUID        `json:"user_id"`
	BankAccountID        uuid.UUID        `json:"bank_account_id"`
	Amount               decimal.Decimal  `json:"amount"`
	Currency             string           `json:"currency"`
	Status               WithdrawalStatus `json:"status"`
	Note                 string           `json:"note"`
	AdminNote            string           `json:"admin_note"`
	ProcessedBy          *uuid.UUID       `json:"processed_by,omitempty"`
	HoldTransactionID    uuid.UUID        `json:"hold_transaction_id"`
	ReleaseTransactionID *uuid.UUID       `json:"release_transaction_id,omitempty"`
	Version              int64            `json:"version"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}
