package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// webhookRetryIntervals are the waits between delivery attempts.
var webhookRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// EventWithdrawalStatus is the only event the notifier emits.
const EventWithdrawalStatus = "WITHDRAWAL_STATUS"

// WebhookPayload is the JSON body posted to the notification collaborator.
type WebhookPayload struct {
	EventType string             `json:"event_type"`
	Data      WebhookPayloadData `json:"data"`
	Signature string             `json:"signature"`
}

// WebhookPayloadData holds the withdrawal details in the webhook.
type WebhookPayloadData struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Version      int64  `json:"version"`
	AdminNote    string `json:"admin_note,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier implements ports.WithdrawalNotifier with signed HTTP callbacks.
type WebhookNotifier struct {
	url        string
	secret     string
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	retries    []time.Duration
	log        zerolog.Logger
}

// NewWebhookNotifier creates a new WebhookNotifier. An empty url disables delivery.
func NewWebhookNotifier(url, secret string, sigSvc ports.SignatureService, httpClient HTTPClient, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		retries:    webhookRetryIntervals,
		log:        log,
	}
}

// NotifyStatusChange signs the event and delivers it asynchronously with retries.
func (n *WebhookNotifier) NotifyStatusChange(_ context.Context, w *domain.WithdrawalRequest) error {
	if n.url == "" {
		n.log.Debug().Str("withdrawal_id", w.ID.String()).Msg("webhook: no URL configured, skipping")
		return nil
	}

	data := WebhookPayloadData{
		WithdrawalID: w.ID.String(),
		UserID:       w.UserID.String(),
		Status:       string(w.Status),
		Amount:       w.Amount.StringFixed(domain.MoneyScale),
		Currency:     w.Currency,
		Version:      w.Version,
		AdminNote:    w.AdminNote,
		Timestamp:    time.Now().Unix(),
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal webhook data: %w", err)
	}

	payload := WebhookPayload{
		EventType: EventWithdrawalStatus,
		Data:      data,
		Signature: n.sigSvc.Sign(n.secret, string(dataBytes)),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	go n.deliverWithRetries(body, w.ID.String())
	return nil
}

// deliverWithRetries posts body until a 2xx answer or the retries run out.
func (n *WebhookNotifier) deliverWithRetries(body []byte, withdrawalID string) {
	for attempt := 0; attempt <= len(n.retries); attempt++ {
		if attempt > 0 {
			time.Sleep(n.retries[attempt-1])
		}

		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.log.Error().Err(err).Str("withdrawal_id", withdrawalID).Msg("webhook: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.log.Warn().Err(err).Str("withdrawal_id", withdrawalID).Int("attempt", attempt+1).Msg("webhook: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Info().Str("withdrawal_id", withdrawalID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: delivered")
			return
		}

		n.log.Warn().Str("withdrawal_id", withdrawalID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: non-2xx response, retrying")
	}

	n.log.Error().Str("withdrawal_id", withdrawalID).Msg("webhook: all retry attempts exhausted")
}
