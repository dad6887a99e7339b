package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testWithdrawal() *domain.WithdrawalRequest {
	return &domain.WithdrawalRequest{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    dec("40"),
		Currency:  "USD",
		Status:    domain.WithdrawalApproved,
		AdminNote: "ok",
		Version:   2,
	}
}

func TestWebhookNotifier_DeliversSignedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)

	bodies := make(chan []byte, 1)
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			body, _ := io.ReadAll(req.Body)
			bodies <- body
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}
	n := NewWebhookNotifier("https://notify.example.com/hook", "hook-secret", sigSvc, httpClient, newTestLogger())

	w := testWithdrawal()
	sigSvc.EXPECT().Sign("hook-secret", gomock.Any()).DoAndReturn(func(_, payload string) string {
		assert.Contains(t, payload, w.ID.String())
		return "signature-hash"
	})

	require.NoError(t, n.NotifyStatusChange(context.Background(), w))

	select {
	case body := <-bodies:
		var payload WebhookPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, EventWithdrawalStatus, payload.EventType)
		assert.Equal(t, "signature-hash", payload.Signature)
		assert.Equal(t, "approved", payload.Data.Status)
		assert.Equal(t, "40.00", payload.Data.Amount)
		assert.Equal(t, int64(2), payload.Data.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered in time")
	}
}

func TestWebhookNotifier_RetriesUntilSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")

	var calls atomic.Int32
	done := make(chan struct{})
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			switch calls.Add(1) {
			case 1:
				return nil, errors.New("connection refused")
			case 2:
				return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader(""))}, nil
			default:
				close(done)
				return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(strings.NewReader(""))}, nil
			}
		},
	}
	n := NewWebhookNotifier("https://notify.example.com/hook", "s", sigSvc, httpClient, newTestLogger())
	n.retries = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	require.NoError(t, n.NotifyStatusChange(context.Background(), testWithdrawal()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not retried")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_NoURL(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			t.Error("no request expected")
			return nil, errors.New("unexpected")
		},
	}
	n := NewWebhookNotifier("", "s", NewHMACSignatureService(), httpClient, newTestLogger())
	assert.NoError(t, n.NotifyStatusChange(context.Background(), testWithdrawal()))
}
