package processor

import (
	"context"
	"errors"
)

// ErrUnavailable marks timeouts and transport failures on outbound processor
// calls. The underlying operation may or may not have happened; retrying with
// the same idempotency key is always safe.
var ErrUnavailable = errors.New("processor: unavailable")

type CreateIntentParams struct {
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
	IdempotencyKey   string
}

type CreateTransferParams struct {
	DestinationAccountID string
	AmountCents          int64
	Currency             string
	IdempotencyKey       string
}

type CreateRefundParams struct {
	PaymentIntentID string
	AmountCents     int64
	IdempotencyKey  string
}

type Intent struct {
	IntentID string
}

type Transfer struct {
	TransferID string
	FeeCents   int64
}

type Refund struct {
	RefundID string
}

// Client is the injected collaborator for the external payment processor.
// Every mutating call carries an idempotency key so a retry after a timeout
// cannot double-charge, double-transfer, or double-refund.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error)
	CreateTransfer(ctx context.Context, params CreateTransferParams) (Transfer, error)
	CreateRefund(ctx context.Context, params CreateRefundParams) (Refund, error)
}

// IdempotencyKey derives the stable token for one external operation from the
// operation name and the owning entity id. Deterministic: the same local
// entity always retries under the same key.
func IdempotencyKey(operation, entityID string) string {
	return operation + ":" + entityID
}
