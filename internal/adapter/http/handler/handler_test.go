package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	gatewayAccessKey = "ak_gateway"
	gatewaySecret    = "gateway-secret"
)

type testRouter struct {
	t           *testing.T
	router      *gin.Engine
	ledger      *mocks.MockLedgerService
	withdrawals *mocks.MockWithdrawalService
	sequencer   *mocks.MockInvoiceSequencer
	invoices    *mocks.MockInvoiceService
	banks       *mocks.MockBankAccountService
	reset       *mocks.MockResetService
	reporting   *mocks.MockReportingService
	confirm     *mocks.MockPaymentConfirmationService
	audit       *mocks.MockAuditService
}

// newTestRouter wires the real router to service mocks. Bearer tokens have
// the form "ROLE:user-uuid".
func newTestRouter(t *testing.T, checkers ...ports.HealthChecker) *testRouter {
	t.Helper()
	ctrl := gomock.NewController(t)

	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate(gomock.Any()).DoAndReturn(func(tok string) (*ports.TokenClaims, error) {
		role, id, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, errors.New("malformed token")
		}
		userID, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		return &ports.TokenClaims{UserID: userID, Role: domain.Role(role)}, nil
	}).AnyTimes()

	tr := &testRouter{
		t:           t,
		ledger:      mocks.NewMockLedgerService(ctrl),
		withdrawals: mocks.NewMockWithdrawalService(ctrl),
		sequencer:   mocks.NewMockInvoiceSequencer(ctrl),
		invoices:    mocks.NewMockInvoiceService(ctrl),
		banks:       mocks.NewMockBankAccountService(ctrl),
		reset:       mocks.NewMockResetService(ctrl),
		reporting:   mocks.NewMockReportingService(ctrl),
		confirm:     mocks.NewMockPaymentConfirmationService(ctrl),
		audit:       mocks.NewMockAuditService(ctrl),
	}
	tr.router = SetupRouter(RouterDeps{
		LedgerSvc:      tr.ledger,
		WithdrawalSvc:  tr.withdrawals,
		Sequencer:      tr.sequencer,
		InvoiceSvc:     tr.invoices,
		BankAccountSvc: tr.banks,
		ResetSvc:       tr.reset,
		ReportingSvc:   tr.reporting,
		ConfirmSvc:     tr.confirm,
		AuditSvc:       tr.audit,
		TokenSvc:       tokenSvc,
		SigSvc:         service.NewHMACSignatureService(),
		HealthCheckers: checkers,
		HMACAccessKey:  gatewayAccessKey,
		HMACSecret:     gatewaySecret,
		Logger:         zerolog.Nop(),
	})
	return tr
}

func token(role domain.Role, id uuid.UUID) string {
	return string(role) + ":" + id.String()
}

func (tr *testRouter) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, req)
	return w
}

func (tr *testRouter) expectDenial() {
	tr.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(tr.t, domain.AuditAccessDenied, entry.Action)
	})
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Data      map[string]any `json:"data"`
		RequestID string         `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	return resp.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// --- Ledger ---

func TestGetBalance_Own(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()

	tr.ledger.EXPECT().Balance(gomock.Any(), userID).Return(&domain.Balance{
		UserID: userID, Available: decimal.RequireFromString("70"), Pending: decimal.RequireFromString("30"), Currency: "USD",
	}, nil)

	w := tr.do(http.MethodGet, "/api/v1/wallet/balance", token(domain.RoleUser, userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "70", data["available"])
	assert.Equal(t, "30", data["pending"])
}

func TestGetBalance_OtherUser(t *testing.T) {
	tr := newTestRouter(t)
	other := uuid.New()

	tr.expectDenial()
	w := tr.do(http.MethodGet, "/api/v1/wallet/balance?user_id="+other.String(), token(domain.RoleUser, uuid.New()), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	tr.ledger.EXPECT().Balance(gomock.Any(), other).Return(&domain.Balance{UserID: other}, nil)
	w = tr.do(http.MethodGet, "/api/v1/wallet/balance?user_id="+other.String(), token(domain.RoleModerator, uuid.New()), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetBalance_Unauthenticated(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodGet, "/api/v1/wallet/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = tr.do(http.MethodGet, "/api/v1/wallet/balance", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListTransactions_Filters(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()

	tr.ledger.EXPECT().TransactionPage(gomock.Any(), userID, gomock.Any(), "abc", 2).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, f ports.HistoryFilter, _ string, _ int) ([]domain.Transaction, string, error) {
			assert.Equal(t, []domain.TransactionType{domain.TransactionTypeDeposit, domain.TransactionTypeRefund}, f.Types)
			assert.True(t, f.Ascending)
			require.NotNil(t, f.From)
			assert.Equal(t, 2025, f.From.Year())
			return []domain.Transaction{{ID: uuid.New(), UserID: userID}}, "next-cursor", nil
		},
	)

	w := tr.do(http.MethodGet,
		"/api/v1/wallet/transactions?type=deposit,refund&order=asc&from=2025-03-01T00:00:00Z&cursor=abc&limit=2",
		token(domain.RoleUser, userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "next-cursor", data["next_cursor"])
	assert.Len(t, data["items"], 1)
}

func TestListTransactions_BadType(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodGet, "/api/v1/wallet/transactions?type=bonus", token(domain.RoleUser, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "type", decodeError(t, w)["invariant"])
}

func TestGetTransaction_OwnerOnly(t *testing.T) {
	tr := newTestRouter(t)
	owner := uuid.New()
	txn := &domain.Transaction{ID: uuid.New(), UserID: owner}
	tr.ledger.EXPECT().GetTransaction(gomock.Any(), txn.ID).Return(txn, nil).Times(2)

	w := tr.do(http.MethodGet, "/api/v1/wallet/transactions/"+txn.ID.String(), token(domain.RoleUser, owner), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tr.expectDenial()
	w = tr.do(http.MethodGet, "/api/v1/wallet/transactions/"+txn.ID.String(), token(domain.RoleUser, uuid.New()), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPostTransaction_ServiceRole(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()

	tr.ledger.EXPECT().Post(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.PostRequest) (*domain.Transaction, error) {
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, domain.TransactionTypeDeposit, req.Type)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("100.50")))
			assert.Empty(t, req.Effect)
			require.NotNil(t, req.IdempotencyKey)
			assert.Equal(t, "retry-1", *req.IdempotencyKey)
			return &domain.Transaction{ID: uuid.New(), UserID: userID, Type: req.Type, Amount: req.Amount}, nil
		},
	)

	body, _ := json.Marshal(map[string]any{"user_id": userID, "type": "deposit", "amount": "100.50", "currency": "USD"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token(domain.RoleService, uuid.New()))
	req.Header.Set(HeaderIdempotencyKey, "retry-1")
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPostTransaction_UserForbidden(t *testing.T) {
	tr := newTestRouter(t)

	tr.expectDenial()
	w := tr.do(http.MethodPost, "/api/v1/ledger/transactions", token(domain.RoleUser, uuid.New()),
		map[string]any{"user_id": uuid.New(), "type": "deposit", "amount": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTH_002", decodeError(t, w)["error_code"])
}

func TestPostTransaction_Validation(t *testing.T) {
	tr := newTestRouter(t)
	tok := token(domain.RoleAdmin, uuid.New())

	w := tr.do(http.MethodPost, "/api/v1/ledger/transactions", tok,
		map[string]any{"user_id": uuid.New(), "type": "deposit", "amount": "1.001"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VAL_001", decodeError(t, w)["error_code"])

	w = tr.do(http.MethodPost, "/api/v1/ledger/transactions", tok,
		map[string]any{"user_id": "not-a-uuid", "type": "deposit", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostTransaction_InsufficientFunds(t *testing.T) {
	tr := newTestRouter(t)
	tr.ledger.EXPECT().Post(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInsufficientFunds())

	w := tr.do(http.MethodPost, "/api/v1/ledger/transactions", token(domain.RoleService, uuid.New()),
		map[string]any{"user_id": uuid.New(), "type": "payment", "amount": "-50"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "LED_001", decodeError(t, w)["error_code"])
}

func TestRequireJSONContentType(t *testing.T) {
	tr := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/withdrawals", strings.NewReader("amount=10"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token(domain.RoleUser, uuid.New()))
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Withdrawals ---

func TestSubmitWithdrawal(t *testing.T) {
	tr := newTestRouter(t)
	userID, acctID := uuid.New(), uuid.New()

	tr.withdrawals.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.SubmitWithdrawalRequest) (*domain.WithdrawalRequest, error) {
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, acctID, req.BankAccountID)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("30")))
			return &domain.WithdrawalRequest{ID: uuid.New(), UserID: userID, Status: domain.WithdrawalPending, Version: 1}, nil
		},
	)

	w := tr.do(http.MethodPost, "/api/v1/withdrawals", token(domain.RoleUser, userID),
		map[string]any{"bank_account_id": acctID, "amount": "30.00", "currency": "USD"})
	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "pending", data["status"])
	assert.EqualValues(t, 1, data["version"])
}

func TestSubmitWithdrawal_NotEligible(t *testing.T) {
	tr := newTestRouter(t)
	tr.withdrawals.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrBankAccountNotEligible("account is not verified"))

	w := tr.do(http.MethodPost, "/api/v1/withdrawals", token(domain.RoleUser, uuid.New()),
		map[string]any{"bank_account_id": uuid.New(), "amount": "30"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetWithdrawal_OwnerOrReviewer(t *testing.T) {
	tr := newTestRouter(t)
	owner := uuid.New()
	wr := &domain.WithdrawalRequest{ID: uuid.New(), UserID: owner}
	tr.withdrawals.EXPECT().Get(gomock.Any(), wr.ID).Return(wr, nil).Times(3)
	path := "/api/v1/withdrawals/" + wr.ID.String()

	assert.Equal(t, http.StatusOK, tr.do(http.MethodGet, path, token(domain.RoleUser, owner), nil).Code)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodGet, path, token(domain.RoleAdmin, uuid.New()), nil).Code)

	tr.expectDenial()
	assert.Equal(t, http.StatusForbidden, tr.do(http.MethodGet, path, token(domain.RoleUser, uuid.New()), nil).Code)
}

func TestGetWithdrawal_BadID(t *testing.T) {
	tr := newTestRouter(t)
	w := tr.do(http.MethodGet, "/api/v1/withdrawals/123", token(domain.RoleUser, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "id", decodeError(t, w)["invariant"])
}

func TestApproveWithdrawal(t *testing.T) {
	tr := newTestRouter(t)
	adminID := uuid.New()
	id := uuid.New()
	admin := domain.Actor{ID: adminID, Role: domain.RoleAdmin}

	tr.withdrawals.EXPECT().Approve(gomock.Any(), id, admin, int64(1), "looks good").
		Return(&domain.WithdrawalRequest{ID: id, Status: domain.WithdrawalApproved, Version: 2}, nil)

	w := tr.do(http.MethodPost, "/api/v1/withdrawals/"+id.String()+"/approve", token(domain.RoleAdmin, adminID),
		map[string]any{"version": 1, "note": "looks good"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", decodeData(t, w)["status"])
}

func TestApproveWithdrawal_MissingVersion(t *testing.T) {
	tr := newTestRouter(t)
	id := uuid.New()

	tr.withdrawals.EXPECT().Approve(gomock.Any(), id, gomock.Any(), int64(0), "").
		Return(nil, apperror.ErrValidation("version_required", "version is required to approve a withdrawal"))

	w := tr.do(http.MethodPost, "/api/v1/withdrawals/"+id.String()+"/approve", token(domain.RoleSuperAdmin, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "version_required", decodeError(t, w)["invariant"])
}

func TestApproveWithdrawal_Conflict(t *testing.T) {
	tr := newTestRouter(t)
	tr.withdrawals.EXPECT().Approve(gomock.Any(), gomock.Any(), gomock.Any(), int64(1), gomock.Any()).
		Return(nil, apperror.ErrConcurrentModification())

	w := tr.do(http.MethodPost, "/api/v1/withdrawals/"+uuid.NewString()+"/approve", token(domain.RoleAdmin, uuid.New()),
		map[string]any{"version": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "WDR_002", decodeError(t, w)["error_code"])
}

func TestReviewActions_RequireCapability(t *testing.T) {
	tr := newTestRouter(t)
	id := uuid.NewString()

	for _, action := range []string{"approve", "reject", "processing", "complete"} {
		tr.expectDenial()
		w := tr.do(http.MethodPost, "/api/v1/withdrawals/"+id+"/"+action, token(domain.RoleModerator, uuid.New()), nil)
		assert.Equal(t, http.StatusForbidden, w.Code, action)
	}
}

func TestRejectCompleteProcessing(t *testing.T) {
	tr := newTestRouter(t)
	adminID, id := uuid.New(), uuid.New()
	admin := domain.Actor{ID: adminID, Role: domain.RoleAdmin}
	version := int64(3)
	path := "/api/v1/withdrawals/" + id.String()

	tr.withdrawals.EXPECT().Reject(gomock.Any(), id, admin, "bad account", &version).
		Return(&domain.WithdrawalRequest{ID: id, Status: domain.WithdrawalRejected}, nil)
	tr.withdrawals.EXPECT().MarkProcessing(gomock.Any(), id, admin, nil).
		Return(&domain.WithdrawalRequest{ID: id, Status: domain.WithdrawalProcessing}, nil)
	tr.withdrawals.EXPECT().Complete(gomock.Any(), id, admin, "wired", nil).
		Return(&domain.WithdrawalRequest{ID: id, Status: domain.WithdrawalCompleted}, nil)

	tok := token(domain.RoleAdmin, adminID)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, path+"/reject", tok, map[string]any{"reason": "bad account", "version": 3}).Code)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, path+"/processing", tok, nil).Code)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, path+"/complete", tok, map[string]any{"note": "wired"}).Code)
}

func TestCancelWithdrawal(t *testing.T) {
	tr := newTestRouter(t)
	userID, id := uuid.New(), uuid.New()

	tr.withdrawals.EXPECT().Cancel(gomock.Any(), id, domain.Actor{ID: userID, Role: domain.RoleUser}, nil).
		Return(&domain.WithdrawalRequest{ID: id, Status: domain.WithdrawalCancelled, Version: 2}, nil)

	w := tr.do(http.MethodPost, "/api/v1/withdrawals/"+id.String()+"/cancel", token(domain.RoleUser, userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decodeData(t, w)["status"])
}

func TestListMyWithdrawals(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()
	status := domain.WithdrawalPending

	tr.withdrawals.EXPECT().List(gomock.Any(), ports.WithdrawalListParams{UserID: &userID, Status: &status, Page: 2, PageSize: 20}).
		Return(nil, int64(21), nil)

	w := tr.do(http.MethodGet, "/api/v1/withdrawals?status=pending&page=2", token(domain.RoleUser, userID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 21, data["total"])
	assert.Empty(t, data["items"])
}

// --- Invoices ---

func TestSetInvoicePrefix(t *testing.T) {
	tr := newTestRouter(t)
	adminID := uuid.New()

	tr.sequencer.EXPECT().SetPrefix(gomock.Any(), "2025-03", "AB", "00000001", domain.Actor{ID: adminID, Role: domain.RoleAdmin}).
		Return(&domain.InvoiceSequence{YearMonth: "2025-03", Prefix: "AB", NumberStart: 1, NextNumber: 1}, nil)

	w := tr.do(http.MethodPost, "/api/v1/admin/invoices/set-prefix", token(domain.RoleAdmin, adminID),
		map[string]any{"year_month": "2025-03", "prefix": "AB", "number_start": "00000001"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AB", decodeData(t, w)["prefix"])
}

func TestSetInvoicePrefix_InUse(t *testing.T) {
	tr := newTestRouter(t)
	tr.sequencer.EXPECT().SetPrefix(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrSequenceAlreadyInUse("2025-03"))

	w := tr.do(http.MethodPost, "/api/v1/admin/invoices/set-prefix", token(domain.RoleAdmin, uuid.New()),
		map[string]any{"year_month": "2025-03", "prefix": "CD"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INV_001", decodeError(t, w)["error_code"])
}

func TestCreateInvoice(t *testing.T) {
	tr := newTestRouter(t)
	serviceID := uuid.New()
	ref := "txn-1"

	tr.invoices.EXPECT().Issue(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.IssueInvoiceRequest) (*domain.Invoice, error) {
			require.Len(t, req.Items, 1)
			assert.True(t, req.Items[0].Quantity.Equal(decimal.NewFromInt(2)))
			assert.True(t, req.Items[0].UnitPrice.Equal(decimal.RequireFromString("14.99")))
			assert.Equal(t, "12345678", req.Buyer.TaxID)
			assert.Equal(t, "USD", req.Currency)
			assert.Equal(t, ref, *req.ReferenceID)
			assert.Equal(t, domain.RoleService, req.IssuedBy.Role)
			return &domain.Invoice{ID: uuid.New(), InvoiceNumber: "AB00000001", Status: domain.InvoiceIssued}, nil
		},
	)

	w := tr.do(http.MethodPost, "/api/v1/invoices/create", token(domain.RoleService, serviceID), map[string]any{
		"buyer":        map[string]any{"tax_id": "12345678", "name": "Acme"},
		"items":        []map[string]any{{"description": "Pro plan", "quantity": "2", "unit_price": "14.99"}},
		"currency":     "USD",
		"reference_id": ref,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "AB00000001", decodeData(t, w)["invoice_number"])
}

func TestCreateInvoice_NoItems(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodPost, "/api/v1/invoices/create", token(domain.RoleAdmin, uuid.New()),
		map[string]any{"currency": "USD", "items": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoidInvoice(t *testing.T) {
	tr := newTestRouter(t)
	id := uuid.New()

	tr.expectDenial()
	w := tr.do(http.MethodPost, "/api/v1/invoices/"+id.String()+"/void", token(domain.RoleService, uuid.New()),
		map[string]any{"reason": "duplicate"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	tr.invoices.EXPECT().Void(gomock.Any(), id, gomock.Any(), "duplicate").
		Return(&domain.Invoice{ID: id, Status: domain.InvoiceVoided}, nil)
	w = tr.do(http.MethodPost, "/api/v1/invoices/"+id.String()+"/void", token(domain.RoleAdmin, uuid.New()),
		map[string]any{"reason": "duplicate"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListInvoices(t *testing.T) {
	tr := newTestRouter(t)
	status := domain.InvoiceIssued

	tr.invoices.EXPECT().List(gomock.Any(), ports.InvoiceListParams{YearMonth: "2025-03", Status: &status, Page: 1, PageSize: 20}).
		Return([]domain.Invoice{{ID: uuid.New()}}, int64(1), nil)

	w := tr.do(http.MethodGet, "/api/v1/admin/invoices?year_month=2025-03&status=issued", token(domain.RoleAdmin, uuid.New()), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = tr.do(http.MethodGet, "/api/v1/admin/invoices?year_month=2025-3", token(domain.RoleAdmin, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Bank accounts ---

func TestRegisterBankAccount_MasksNumber(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()

	tr.banks.EXPECT().Register(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.RegisterBankAccountRequest) (*domain.BankAccount, error) {
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, domain.BankAccountDomestic, req.Type)
			assert.Equal(t, "12345678", req.AccountNumber)
			return &domain.BankAccount{
				ID: uuid.New(), UserID: userID, Type: req.Type, BankName: req.BankName,
				AccountNumberEnc: "ciphertext", AccountLast4: "5678",
			}, nil
		},
	)

	w := tr.do(http.MethodPost, "/api/v1/bank-accounts", token(domain.RoleUser, userID), map[string]any{
		"type": "bank_account", "bank_name": "First Bank", "account_holder": "Alice", "account_number": "12345678",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "ciphertext")
	assert.NotContains(t, w.Body.String(), "12345678")
	assert.Equal(t, "****5678", decodeData(t, w)["account_number"])
}

func TestVerifyFlagDeleteBankAccount(t *testing.T) {
	tr := newTestRouter(t)
	id := uuid.New()
	modID := uuid.New()
	moderator := domain.Actor{ID: modID, Role: domain.RoleModerator}
	path := "/api/v1/admin/bank-accounts/" + id.String()

	tr.banks.EXPECT().Verify(gomock.Any(), id, true, "docs ok", moderator).
		Return(&domain.BankAccount{ID: id, Verified: true, AccountLast4: "0001"}, nil)
	tr.banks.EXPECT().Flag(gomock.Any(), id, false, "", moderator).
		Return(&domain.BankAccount{ID: id, AccountLast4: "0001"}, nil)

	tok := token(domain.RoleModerator, modID)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, path+"/verify", tok, map[string]any{"verified": true, "note": "docs ok"}).Code)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodPost, path+"/flag", tok, map[string]any{"flagged": false}).Code)
	// The flag is required.
	assert.Equal(t, http.StatusBadRequest, tr.do(http.MethodPost, path+"/verify", tok, map[string]any{"note": "x"}).Code)

	// Moderators may not delete.
	tr.expectDenial()
	assert.Equal(t, http.StatusForbidden, tr.do(http.MethodDelete, path, tok, nil).Code)

	adminID := uuid.New()
	tr.banks.EXPECT().Delete(gomock.Any(), id, "fraud", domain.Actor{ID: adminID, Role: domain.RoleAdmin}).Return(nil)
	assert.Equal(t, http.StatusOK, tr.do(http.MethodDelete, path+"?reason=fraud", token(domain.RoleAdmin, adminID), nil).Code)
}

// --- Admin ---

func TestWalletReset_SuperAdminOnly(t *testing.T) {
	tr := newTestRouter(t)

	tr.expectDenial()
	w := tr.do(http.MethodPost, "/api/v1/admin/wallet-reset", token(domain.RoleAdmin, uuid.New()),
		map[string]any{"confirmation_token": domain.DefaultResetToken})
	assert.Equal(t, http.StatusForbidden, w.Code)

	superID := uuid.New()
	backupID := uuid.New()
	tr.reset.EXPECT().ResetAll(gomock.Any(), domain.Actor{ID: superID, Role: domain.RoleSuperAdmin}, domain.DefaultResetToken).
		Return(&domain.ResetResult{
			BackupID:     backupID,
			WalletsReset: 2,
			Cleared: []domain.CurrencyTotal{
				{Currency: "EUR", Available: decimal.RequireFromString("5"), Pending: decimal.Zero},
				{Currency: "USD", Available: decimal.RequireFromString("12.5"), Pending: decimal.RequireFromString("3")},
			},
		}, nil)

	w = tr.do(http.MethodPost, "/api/v1/admin/wallet-reset", token(domain.RoleSuperAdmin, superID),
		map[string]any{"confirmation_token": domain.DefaultResetToken})
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, backupID.String(), data["backup_id"])
	assert.EqualValues(t, 2, data["wallets_reset"])
	cleared := data["cleared"].([]any)
	require.Len(t, cleared, 2)
	usd := cleared[1].(map[string]any)
	assert.Equal(t, "USD", usd["currency"])
	assert.Equal(t, "12.5", usd["available"])
	assert.Equal(t, "3", usd["pending"])
}

func TestWalletBackup(t *testing.T) {
	tr := newTestRouter(t)
	snap := &domain.BackupSnapshot{ID: uuid.New(), Reason: "month end", Checksum: "abc"}

	tr.reset.EXPECT().Backup(gomock.Any(), gomock.Any(), "month end").Return(snap, nil)
	tr.reset.EXPECT().GetBackup(gomock.Any(), snap.ID).Return(snap, nil)

	tok := token(domain.RoleAdmin, uuid.New())
	assert.Equal(t, http.StatusCreated, tr.do(http.MethodPost, "/api/v1/admin/wallet-backup", tok, map[string]any{"reason": "month end"}).Code)
	assert.Equal(t, http.StatusBadRequest, tr.do(http.MethodPost, "/api/v1/admin/wallet-backup", tok, map[string]any{}).Code)

	w := tr.do(http.MethodGet, "/api/v1/admin/wallet-backup/"+snap.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", decodeData(t, w)["checksum"])
}

func TestAdminWithdrawalRecords(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()

	tr.reporting.EXPECT().ListWithdrawals(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p ports.WithdrawalListParams) ([]ports.WithdrawalRecord, int64, error) {
			assert.Equal(t, userID, *p.UserID)
			assert.Equal(t, domain.WithdrawalCompleted, *p.Status)
			require.NotNil(t, p.To)
			return []ports.WithdrawalRecord{{ID: uuid.New(), BankName: "First Bank", AccountMasked: "****5678"}}, 1, nil
		},
	)

	w := tr.do(http.MethodGet,
		"/api/v1/admin/withdrawals?status=completed&user_id="+userID.String()+"&to="+time.Now().UTC().Format(time.RFC3339),
		token(domain.RoleModerator, uuid.New()), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "****5678")

	w = tr.do(http.MethodGet, "/api/v1/admin/withdrawals?from=yesterday", token(domain.RoleModerator, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "time_range", decodeError(t, w)["invariant"])
}

func TestAuditLogs(t *testing.T) {
	tr := newTestRouter(t)
	action := domain.AuditWalletReset

	tr.audit.EXPECT().List(gomock.Any(), ports.AuditListParams{Action: &action, ResourceType: "wallet_backup", Page: 1, PageSize: 50}).
		Return([]domain.AuditLog{{ID: uuid.New(), Action: action}}, int64(1), nil)

	w := tr.do(http.MethodGet, "/api/v1/admin/audit-logs?action=WALLET_RESET&resource_type=wallet_backup&page_size=50",
		token(domain.RoleModerator, uuid.New()), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tr.expectDenial()
	w = tr.do(http.MethodGet, "/api/v1/admin/audit-logs", token(domain.RoleUser, uuid.New()), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLedgerStats(t *testing.T) {
	tr := newTestRouter(t)
	tr.reporting.EXPECT().LedgerStats(gomock.Any(), nil, nil).Return([]ports.TransactionTypeStat{
		{Type: domain.TransactionTypeDeposit, Currency: "USD", Count: 2, Total: decimal.NewFromInt(25)},
	}, nil)

	w := tr.do(http.MethodGet, "/api/v1/admin/ledger/stats", token(domain.RoleAdmin, uuid.New()), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

// --- Integrations ---

func signedConfirm(t *testing.T, body string, ts int64, nonce string) *http.Request {
	t.Helper()
	const path = "/api/v1/integrations/payments/confirm"
	sig := service.NewHMACSignatureService()
	canonical := sig.BuildCanonicalString(http.MethodPost, path, ts, nonce, body)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAccessKey, gatewayAccessKey)
	req.Header.Set(middleware.HeaderSignature, sig.Sign(gatewaySecret, canonical))
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(middleware.HeaderNonce, nonce)
	return req
}

func TestConfirmPayment_Signed(t *testing.T) {
	tr := newTestRouter(t)
	userID := uuid.New()

	tr.confirm.EXPECT().Confirm(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, evt ports.PaymentConfirmation) (*ports.PaymentConfirmationResult, error) {
			assert.Equal(t, "pay_123", evt.ReferenceID)
			assert.Equal(t, userID, evt.UserID)
			assert.Equal(t, ports.PaymentSubscription, evt.Kind)
			assert.True(t, evt.Amount.Equal(decimal.NewFromInt(30)))
			assert.True(t, evt.IssueInvoice)
			assert.Equal(t, "12345678", evt.Buyer.TaxID)
			return &ports.PaymentConfirmationResult{
				Transaction: &domain.Transaction{ID: uuid.New()},
				Invoice:     &domain.Invoice{InvoiceNumber: "AB00000001"},
			}, nil
		},
	)

	body := `{"reference_id":"pay_123","user_id":"` + userID.String() +
		`","kind":"subscription","amount":"30.00","currency":"USD","issue_invoice":true,"buyer":{"tax_id":"12345678"}}`
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, signedConfirm(t, body, time.Now().Unix(), "n-1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AB00000001")
}

func TestConfirmPayment_BadSignature(t *testing.T) {
	tr := newTestRouter(t)

	req := signedConfirm(t, `{"reference_id":"pay_1"}`, time.Now().Unix(), "n-2")
	req.Header.Set(middleware.HeaderSignature, "deadbeef")
	w := httptest.NewRecorder()
	tr.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfirmPayment_BearerTokenNotAccepted(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodPost, "/api/v1/integrations/payments/confirm", token(domain.RoleSuperAdmin, uuid.New()),
		map[string]any{"reference_id": "pay_1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Health & docs ---

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck()(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockHealthChecker(ctrl)
	db.EXPECT().Name().Return("postgresql").AnyTimes()
	db.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))

	tr := newTestRouter(t, db)
	w := tr.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestSwaggerUI(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger", nil)

	SwaggerUI(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "swagger-ui")
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}

func TestSwaggerSpec(t *testing.T) {
	tr := newTestRouter(t)
	w := tr.do(http.MethodGet, "/swagger/spec", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Marketplace Ledger API")
	assert.Contains(t, w.Body.String(), "/admin/wallet-reset")
}
