package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowflow/reconcile"
)

var testSecret = []byte("whsec_test")

type fakeApplier struct {
	err    error
	events []reconcile.Event
}

func (f *fakeApplier) Apply(ctx context.Context, ev reconcile.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(body))
	token, err := Sign(body, testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Header.Set(SignatureHeader, token)
	return req
}

func TestProcessorEvent_Applied(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, testSecret, testLogger())

	body := []byte(`{"id":"evt_1","type":"payment_succeeded","ref":"pi_1","amount_cents":10000}`)
	rec := httptest.NewRecorder()
	h.processorEvent(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(applier.events) != 1 {
		t.Fatalf("expected one dispatched event")
	}
	ev := applier.events[0]
	if ev.DeliveryID != "evt_1" || ev.Type != reconcile.EventPaymentSucceeded || ev.Ref != "pi_1" || ev.AmountCents != 10000 {
		t.Errorf("unexpected event %+v", ev)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["status"] != "ok" {
		t.Errorf("expected ok status, got %s", rec.Body.String())
	}
}

func TestProcessorEvent_BadSignature(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, testSecret, testLogger())

	body := []byte(`{"id":"evt_1","type":"payment_succeeded","ref":"pi_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "not-a-token")
	rec := httptest.NewRecorder()
	h.processorEvent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(applier.events) != 0 {
		t.Errorf("expected no dispatch for unsigned delivery")
	}
}

func TestProcessorEvent_TamperedBody(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, testSecret, testLogger())

	signed := []byte(`{"id":"evt_1","type":"payment_succeeded","ref":"pi_1","amount_cents":10000}`)
	tampered := []byte(`{"id":"evt_1","type":"payment_succeeded","ref":"pi_1","amount_cents":99999}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(tampered))
	token, err := Sign(signed, testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Header.Set(SignatureHeader, token)
	rec := httptest.NewRecorder()
	h.processorEvent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rec.Code)
	}
}

func TestProcessorEvent_InvalidJSON(t *testing.T) {
	h := NewHandler(&fakeApplier{}, testSecret, testLogger())

	rec := httptest.NewRecorder()
	h.processorEvent(rec, signedRequest(t, []byte(`{"id":`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProcessorEvent_QuarantinedStillAcks(t *testing.T) {
	applier := &fakeApplier{err: reconcile.ErrUnreconcilable}
	h := NewHandler(applier, testSecret, testLogger())

	body := []byte(`{"id":"evt_1","type":"payment_succeeded","ref":"pi_unknown"}`)
	rec := httptest.NewRecorder()
	h.processorEvent(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for quarantined event, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["status"] != "quarantined" {
		t.Errorf("expected quarantined status, got %s", rec.Body.String())
	}
}

func TestProcessorEvent_InfraErrorAsksForRedelivery(t *testing.T) {
	applier := &fakeApplier{err: errors.New("connection reset")}
	h := NewHandler(applier, testSecret, testLogger())

	body := []byte(`{"id":"evt_1","type":"payment_succeeded","ref":"pi_1"}`)
	rec := httptest.NewRecorder()
	h.processorEvent(rec, signedRequest(t, body))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the processor redelivers, got %d", rec.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	token, err := Sign(body, testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifySignature(token, body, testSecret); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifySignature(token, body, []byte("wrong-secret")); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for wrong secret, got %v", err)
	}
	if err := VerifySignature(token, []byte(`{"id":"evt_2"}`), testSecret); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for different body, got %v", err)
	}
	if err := VerifySignature("", body, testSecret); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for missing header, got %v", err)
	}
}
