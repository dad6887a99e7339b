package domain

import "github.com/google/uuid"

// Role is the caller's administrative level.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleModerator  Role = "MODERATOR"
	RoleUser       Role = "USER"
	RoleService    Role = "SERVICE" // Trusted internal callers such as payment handlers
	RoleSystem     Role = "SYSTEM"  // Actions the core takes on its own behalf
)

// Capability is a permission checked at the API boundary.
type Capability string

const (
	CapLedgerPost        Capability = "ledger:post"
	CapWithdrawalReview  Capability = "withdrawal:review"
	CapInvoiceIssue      Capability = "invoice:issue"
	CapInvoiceManage     Capability = "invoice:manage"
	CapBankAccountReview Capability = "bank_account:review"
	CapBankAccountDelete Capability = "bank_account:delete"
	CapWalletBackup      Capability = "wallet:backup"
	CapWalletReset       Capability = "wallet:reset"
	CapAuditRead         Capability = "audit:read"
	CapReportRead        Capability = "report:read"
)

var roleCapabilities = map[Role][]Capability{
	RoleSuperAdmin: {
		CapLedgerPost, CapWithdrawalReview, CapInvoiceIssue, CapInvoiceManage,
		CapBankAccountReview, CapBankAccountDelete, CapWalletBackup, CapWalletReset,
		CapAuditRead, CapReportRead,
	},
	RoleAdmin: {
		CapLedgerPost, CapWithdrawalReview, CapInvoiceIssue, CapInvoiceManage,
		CapBankAccountReview, CapBankAccountDelete, CapWalletBackup,
		CapAuditRead, CapReportRead,
	},
	RoleModerator: {CapBankAccountReview, CapAuditRead, CapReportRead},
	RoleService:   {CapLedgerPost, CapInvoiceIssue},
	RoleUser:      nil,
}

// Valid reports whether r is a role tokens may carry.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Can reports whether the role holds capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// Actor is whoever performs an action.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor attributes actions the core performs without a human caller.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

// IDRef returns a pointer to the actor id, nil for the system actor.
func (a Actor) IDRef() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}
