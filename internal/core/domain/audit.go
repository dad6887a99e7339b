package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditWithdrawalSubmitted   AuditAction = "WITHDRAWAL_SUBMITTED"
	AuditWithdrawalApproved    AuditAction = "WITHDRAWAL_APPROVED"
	AuditWithdrawalRejected    AuditAction = "WITHDRAWAL_REJECTED"
	AuditWithdrawalProcessing  AuditAction = "WITHDRAWAL_PROCESSING"
	AuditWithdrawalCompleted   AuditAction = "WITHDRAWAL_COMPLETED"
	AuditWithdrawalCancelled   AuditAction = "WITHDRAWAL_CANCELLED"
	AuditInvoiceSequenceSet    AuditAction = "INVOICE_SEQUENCE_SET"
	AuditInvoiceIssued         AuditAction = "INVOICE_ISSUED"
	AuditInvoiceVoided         AuditAction = "INVOICE_VOIDED"
	AuditBankAccountRegistered AuditAction = "BANK_ACCOUNT_REGISTERED"
	AuditBankAccountVerified   AuditAction = "BANK_ACCOUNT_VERIFIED"
	AuditBankAccountFlagged    AuditAction = "BANK_ACCOUNT_FLAGGED"
	AuditBankAccountDeleted    AuditAction = "BANK_ACCOUNT_DELETED"
	AuditWalletBackup          AuditAction = "WALLET_BACKUP"
	AuditWalletReset           AuditAction = "WALLET_RESET"
	AuditAccessDenied          AuditAction = "ACCESS_DENIED"
)

// Resource types referenced by audit entries.
const (
	ResourceWithdrawal      = "withdrawal_request"
	ResourceInvoice         = "invoice"
	ResourceInvoiceSequence = "invoice_sequence"
	ResourceBankAccount     = "bank_account"
	ResourceWalletBackup    = "wallet_backup"
	ResourceEndpoint        = "endpoint"
)

// AuditLog records who did what, when, and why.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	ActorRole    Role        `json:"actor_role"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Note         string      `json:"note,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewAuditLog starts an entry attributed to actor.
func NewAuditLog(actor Actor, action AuditAction, resourceType, resourceID, note string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		ActorID:      actor.IDRef(),
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Note:         note,
	}
}
