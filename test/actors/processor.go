package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"escrowflow/processor"
)

// StubProcessor is an in-memory processor that honors idempotency keys the
// way the real one does: the same key always yields the same reference id.
// FailRate injects ErrUnavailable on a percentage of calls so the commit
// points around outbound calls get exercised.
type StubProcessor struct {
	mu        sync.Mutex
	seq       int
	intents   map[string]string
	transfers map[string]string
	refunds   map[string]string

	FailRate int
}

func NewStubProcessor(failRate int) *StubProcessor {
	return &StubProcessor{
		intents:   make(map[string]string),
		transfers: make(map[string]string),
		refunds:   make(map[string]string),
		FailRate:  failRate,
	}
}

func (s *StubProcessor) CreateIntent(ctx context.Context, params processor.CreateIntentParams) (processor.Intent, error) {
	id, err := s.idFor(s.intents, params.IdempotencyKey, "pi")
	if err != nil {
		return processor.Intent{}, err
	}
	return processor.Intent{IntentID: id}, nil
}

func (s *StubProcessor) CreateTransfer(ctx context.Context, params processor.CreateTransferParams) (processor.Transfer, error) {
	id, err := s.idFor(s.transfers, params.IdempotencyKey, "tr")
	if err != nil {
		return processor.Transfer{}, err
	}
	return processor.Transfer{TransferID: id, FeeCents: params.AmountCents / 50}, nil
}

func (s *StubProcessor) CreateRefund(ctx context.Context, params processor.CreateRefundParams) (processor.Refund, error) {
	id, err := s.idFor(s.refunds, params.IdempotencyKey, "re")
	if err != nil {
		return processor.Refund{}, err
	}
	return processor.Refund{RefundID: id}, nil
}

func (s *StubProcessor) idFor(m map[string]string, key, prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRate > 0 && rand.Intn(100) < s.FailRate {
		return "", fmt.Errorf("%w: injected", processor.ErrUnavailable)
	}
	if id, ok := m[key]; ok {
		return id, nil
	}
	s.seq++
	id := fmt.Sprintf("%s_stub_%d", prefix, s.seq)
	m[key] = id
	return id, nil
}
