package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	Invariant  string `json:"invariant,omitempty"` // Name of the violated rule, set on validation errors
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError carrying the same code,
// so errors.Is(err, apperror.ErrInsufficientFunds()) works across wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New("LED_001", "Insufficient available balance", http.StatusPaymentRequired)
}

func ErrCurrencyMismatch(walletCurrency, requested string) *AppError {
	return New("LED_002",
		fmt.Sprintf("Currency %s does not match wallet currency %s", requested, walletCurrency),
		http.StatusUnprocessableEntity)
}

func ErrIdempotencyConflict() *AppError {
	return New("LED_003", "Idempotency key was already used for a different request", http.StatusConflict)
}

// ---- Withdrawals (WDR) ----

func ErrInvalidTransition(from, to string) *AppError {
	return New("WDR_001", fmt.Sprintf("Transition from %s to %s is not allowed", from, to), http.StatusConflict)
}

func ErrConcurrentModification() *AppError {
	return New("WDR_002", "Record was modified by another request, reload and retry", http.StatusConflict)
}

func ErrBankAccountNotEligible(reason string) *AppError {
	return New("WDR_003", "Bank account is not eligible for withdrawal: "+reason, http.StatusUnprocessableEntity)
}

// ---- Invoices (INV) ----

func ErrSequenceAlreadyInUse(yearMonth string) *AppError {
	return New("INV_001",
		fmt.Sprintf("Invoices already issued for %s, sequence cannot be changed", yearMonth),
		http.StatusConflict)
}

func ErrSequenceExhausted(yearMonth string) *AppError {
	return New("INV_002", fmt.Sprintf("Invoice number range exhausted for %s", yearMonth), http.StatusConflict)
}

// ---- Validation (VAL) ----

// ErrValidation reports a violated input rule by name.
func ErrValidation(invariant, message string) *AppError {
	return &AppError{
		Code:       "VAL_001",
		Message:    message,
		Invariant:  invariant,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation returns a VAL_001 error for malformed request bodies.
func Validation(message string) *AppError {
	return ErrValidation("request_body", message)
}

// ---- Backup & Reset (BKP) ----

func ErrBackupFailed(err error) *AppError {
	return Wrap("BKP_001", "Backup failed, reset aborted", http.StatusInternalServerError, err)
}

func ErrResetInProgress() *AppError {
	return New("BKP_002", "Another wallet reset is in progress", http.StatusConflict)
}

// ---- Resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrForbidden() *AppError {
	return New("AUTH_002", "Insufficient permissions for this action", http.StatusForbidden)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
