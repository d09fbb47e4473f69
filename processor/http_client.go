package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPClient talks to the processor's REST surface. Calls are synchronous and
// bounded by the configured timeout; callers must never hold a database
// transaction open across them.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error) {
	body := map[string]any{
		"amount_cents":       params.AmountCents,
		"currency":           params.Currency,
		"payment_method_ref": params.PaymentMethodRef,
	}
	var resp struct {
		IntentID string `json:"intent_id"`
	}
	if err := c.post(ctx, "/v1/payment_intents", params.IdempotencyKey, body, &resp); err != nil {
		return Intent{}, err
	}
	if resp.IntentID == "" {
		return Intent{}, fmt.Errorf("processor: create intent: empty intent id")
	}
	return Intent{IntentID: resp.IntentID}, nil
}

func (c *HTTPClient) CreateTransfer(ctx context.Context, params CreateTransferParams) (Transfer, error) {
	body := map[string]any{
		"destination_account": params.DestinationAccountID,
		"amount_cents":        params.AmountCents,
		"currency":            params.Currency,
	}
	var resp struct {
		TransferID string `json:"transfer_id"`
		FeeCents   int64  `json:"fee_cents"`
	}
	if err := c.post(ctx, "/v1/transfers", params.IdempotencyKey, body, &resp); err != nil {
		return Transfer{}, err
	}
	if resp.TransferID == "" {
		return Transfer{}, fmt.Errorf("processor: create transfer: empty transfer id")
	}
	return Transfer{TransferID: resp.TransferID, FeeCents: resp.FeeCents}, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, params CreateRefundParams) (Refund, error) {
	body := map[string]any{
		"payment_intent_id": params.PaymentIntentID,
		"amount_cents":      params.AmountCents,
	}
	var resp struct {
		RefundID string `json:"refund_id"`
	}
	if err := c.post(ctx, "/v1/refunds", params.IdempotencyKey, body, &resp); err != nil {
		return Refund{}, err
	}
	if resp.RefundID == "" {
		return Refund{}, fmt.Errorf("processor: create refund: empty refund id")
	}
	return Refund{RefundID: resp.RefundID}, nil
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	if idempotencyKey == "" {
		return fmt.Errorf("processor: missing idempotency key for %s", path)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("processor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("processor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("processor: %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("processor: decode response: %w", err)
	}
	return nil
}
