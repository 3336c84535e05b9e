package pubsub

import (
	"errors"

	"github.com/protocol-kit/jrow/pkg/id"
)

// Push is one message delivery to a subscription. Durable pushes carry the
// per-topic sequence; ephemeral pushes have Seq 0 and identify the
// subscription by its pattern expression.
type Push struct {
	SubscriptionID string `json:"subscription_id"`
	Topic          string `json:"topic"`
	Seq            uint64 `json:"sequence_id,omitempty"`
	TimestampMs    int64  `json:"timestamp"`
	Payload        []byte `json:"payload"`
}

// Consumer is the delivery capability of one connection. The transport
// implements it; Deliver must not block indefinitely.
type Consumer interface {
	ID() id.ID
	Deliver(Push) error
}

// Batch limit errors.
var (
	ErrEmptyBatch    = errors.New("pubsub: batch must contain at least one item")
	ErrBatchTooLarge = errors.New("pubsub: batch exceeds the configured ceiling")
)
