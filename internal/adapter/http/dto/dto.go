package dto

import "marketplace-ledger/internal/core/domain"

// PostTransactionRequest is the request body for a direct ledger post.
type PostTransactionRequest struct {
	UserID      string  `json:"user_id" binding:"required,uuid"`
	Type        string  `json:"type" binding:"required"`
	Amount      string  `json:"amount" binding:"required,money"`
	Currency    string  `json:"currency" binding:"omitempty,iso4217"`
	Description string  `json:"description" binding:"max=255"`
	ReferenceID *string `json:"reference_id,omitempty" binding:"omitempty,max=100,safe_id"`
}

// SubmitWithdrawalRequest is the request body for a new withdrawal.
type SubmitWithdrawalRequest struct {
	BankAccountID string `json:"bank_account_id" binding:"required,uuid"`
	Amount        string `json:"amount" binding:"required,money"`
	Currency      string `json:"currency" binding:"omitempty,iso4217"`
	Note          string `json:"note" binding:"max=500"`
}

// WithdrawalActionRequest is the body shared by the review and cancel endpoints.
// Version carries the state the caller last saw.
type WithdrawalActionRequest struct {
	Version *int64 `json:"version,omitempty" binding:"omitempty,gt=0"`
	Note    string `json:"note" binding:"max=500"`
	Reason  string `json:"reason" binding:"max=500"`
}

// SetInvoicePrefixRequest configures the track-number sequence of one month.
// Formats are checked by the sequencer so the error names the violated rule.
type SetInvoicePrefixRequest struct {
	YearMonth   string `json:"year_month" binding:"required"`
	Prefix      string `json:"prefix" binding:"required"`
	NumberStart string `json:"number_start"`
}

// InvoiceListQuery filters the admin invoice listing.
type InvoiceListQuery struct {
	YearMonth string `form:"year_month" binding:"omitempty,year_month"`
	Status    string `form:"status" binding:"omitempty,oneof=issued voided cancelled"`
}

// BuyerRequest identifies the invoice recipient.
type BuyerRequest struct {
	TaxID string `json:"tax_id" binding:"omitempty,len=8,numeric"`
	Name  string `json:"name" binding:"max=100"`
	Email string `json:"email" binding:"omitempty,email"`
}

// InvoiceItemRequest is one billed line.
type InvoiceItemRequest struct {
	Description string `json:"description" binding:"required,max=200"`
	Quantity    string `json:"quantity" binding:"required,money"`
	UnitPrice   string `json:"unit_price" binding:"required,money"`
}

// IssueInvoiceRequest is the request body for issuing an invoice.
type IssueInvoiceRequest struct {
	Buyer       BuyerRequest         `json:"buyer"`
	Items       []InvoiceItemRequest `json:"items" binding:"required,min=1,max=100,dive"`
	Currency    string               `json:"currency" binding:"required,iso4217"`
	ReferenceID *string              `json:"reference_id,omitempty" binding:"omitempty,max=100,safe_id"`
}

// VoidInvoiceRequest is the request body for voiding an invoice.
type VoidInvoiceRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// RegisterBankAccountRequest is the request body for a new withdrawal destination.
type RegisterBankAccountRequest struct {
	Type          string `json:"type" binding:"required,oneof=bank_account international_bank"`
	BankName      string `json:"bank_name" binding:"required,max=100"`
	AccountHolder string `json:"account_holder" binding:"required,max=100"`
	AccountNumber string `json:"account_number" binding:"required,min=4,max=40"`
	SwiftCode     string `json:"swift_code" binding:"omitempty,alphanum,min=8,max=11"`
}

// VerifyBankAccountRequest sets or clears the verified flag.
type VerifyBankAccountRequest struct {
	Verified *bool  `json:"verified" binding:"required"`
	Note     string `json:"note" binding:"max=500"`
}

// FlagBankAccountRequest sets or clears the flagged flag.
type FlagBankAccountRequest struct {
	Flagged *bool  `json:"flagged" binding:"required"`
	Reason  string `json:"reason" binding:"max=500"`
}

// BackupRequest is the request body for a manual wallet backup.
type BackupRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// ResetRequest is the request body for the bulk wallet reset.
type ResetRequest struct {
	ConfirmationToken string `json:"confirmation_token" binding:"required"`
}

// PaymentConfirmRequest is the payment gateway's "payment confirmed" event.
type PaymentConfirmRequest struct {
	ReferenceID  string        `json:"reference_id" binding:"required,max=100,safe_id"`
	UserID       string        `json:"user_id" binding:"required,uuid"`
	Kind         string        `json:"kind" binding:"required,oneof=wallet_topup subscription"`
	Amount       string        `json:"amount" binding:"required,money"`
	Currency     string        `json:"currency" binding:"required,iso4217"`
	Description  string        `json:"description" binding:"max=255"`
	IssueInvoice bool          `json:"issue_invoice"`
	Buyer        *BuyerRequest `json:"buyer,omitempty"`
}

// BankAccountResponse exposes an account with only its masked number.
type BankAccountResponse struct {
	*domain.BankAccount
	AccountNumber string `json:"account_number"`
}

// NewBankAccountResponse masks a for output.
func NewBankAccountResponse(a *domain.BankAccount) BankAccountResponse {
	return BankAccountResponse{BankAccount: a, AccountNumber: a.MaskedNumber()}
}
