package pubsub

import (
	"context"
	"fmt"

	"github.com/protocol-kit/jrow/internal/pattern"
	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/pkg/log"
)

// SubscribeItem is one durable subscription request in a batch.
type SubscribeItem struct {
	SubscriptionID string
	Pattern        string
}

// AckItem is one cursor advance in a batch.
type AckItem struct {
	SubscriptionID string
	Seq            uint64
}

// AckResult reports one item of an acknowledge batch.
type AckResult struct {
	SubscriptionID string
	Err            error
}

// UnsubscribeResult reports one item of an unsubscribe batch.
type UnsubscribeResult struct {
	SubscriptionID string
	Err            error
}

// PublishItem is one message of a publish batch.
type PublishItem struct {
	Topic   string
	Payload []byte
}

// PublishResult reports one appended message and how many live
// subscriptions were notified for it.
type PublishResult struct {
	Topic    string
	Seq      uint64
	Notified int
	Err      error
}

func (e *Engine) checkBatch(n int) error {
	if n == 0 {
		return ErrEmptyBatch
	}
	if n > e.maxBatch {
		return ErrBatchTooLarge
	}
	return nil
}

// SubscribeBatch binds every item or none. Patterns are validated up front;
// on a mid-batch failure every binding made by this call is released before
// the error is returned. Cursors of already-existing subscriptions are
// never touched by a rollback.
func (e *Engine) SubscribeBatch(ctx context.Context, items []SubscribeItem, c Consumer) ([]SubscribeResult, error) {
	if err := e.checkBatch(len(items)); err != nil {
		return nil, err
	}
	for i, it := range items {
		if err := pattern.Validate(it.Pattern); err != nil {
			return nil, fmt.Errorf("item %d (%s): %w: %w", i, it.SubscriptionID, subreg.ErrInvalidPattern, err)
		}
	}

	results := make([]SubscribeResult, 0, len(items))
	bound := make([]string, 0, len(items))
	for i, it := range items {
		res, err := e.Subscribe(ctx, it.SubscriptionID, it.Pattern, c)
		if err != nil {
			for _, subID := range bound {
				if uerr := e.Unsubscribe(subID); uerr != nil {
					e.logger.Warn("batch rollback release failed",
						log.Str("subscription", subID), log.Err(uerr))
				}
			}
			return nil, fmt.Errorf("item %d (%s): %w", i, it.SubscriptionID, err)
		}
		bound = append(bound, it.SubscriptionID)
		results = append(results, res)
	}
	return results, nil
}

// EphemeralItem is one ephemeral subscription request in a batch.
type EphemeralItem struct {
	Pattern string
	Filter  string
}

// SubscribeEphemeralBatch registers every item or none. Ephemeral
// subscriptions only fail on invalid input, so a mid-batch failure rolls
// back by dropping the expressions registered so far.
func (e *Engine) SubscribeEphemeralBatch(c Consumer, items []EphemeralItem) error {
	if err := e.checkBatch(len(items)); err != nil {
		return err
	}
	done := make([]string, 0, len(items))
	for _, it := range items {
		if err := e.eph.Subscribe(c, it.Pattern, it.Filter); err != nil {
			for _, expr := range done {
				_ = e.eph.Unsubscribe(c.ID(), expr)
			}
			return err
		}
		done = append(done, it.Pattern)
	}
	return nil
}

// UnsubscribeBatch releases each binding best-effort: one failure does not
// stop the rest, and every item gets its own result.
func (e *Engine) UnsubscribeBatch(subIDs []string) ([]UnsubscribeResult, error) {
	if err := e.checkBatch(len(subIDs)); err != nil {
		return nil, err
	}
	results := make([]UnsubscribeResult, len(subIDs))
	for i, subID := range subIDs {
		results[i] = UnsubscribeResult{SubscriptionID: subID, Err: e.Unsubscribe(subID)}
	}
	return results, nil
}

// AcknowledgeBatch advances each cursor independently and reports per item;
// a failed item never blocks the others.
func (e *Engine) AcknowledgeBatch(items []AckItem) ([]AckResult, error) {
	if err := e.checkBatch(len(items)); err != nil {
		return nil, err
	}
	results := make([]AckResult, len(items))
	for i, it := range items {
		results[i] = AckResult{
			SubscriptionID: it.SubscriptionID,
			Err:            e.Acknowledge(it.SubscriptionID, it.Seq),
		}
	}
	return results, nil
}

// PublishBatch appends the items in input order. It is not atomic: each
// appended message is durable and delivered even when a later item fails.
// Per item it reports the assigned sequence and how many subscriptions were
// notified.
func (e *Engine) PublishBatch(ctx context.Context, items []PublishItem) ([]PublishResult, error) {
	if err := e.checkBatch(len(items)); err != nil {
		return nil, err
	}
	// one subscription snapshot serves the whole batch
	targets := e.liveTargets()
	results := make([]PublishResult, len(items))
	for i, it := range items {
		m, err := e.append(ctx, it.Topic, it.Payload)
		if err != nil {
			results[i] = PublishResult{Topic: it.Topic, Err: err}
			continue
		}
		notified := e.notifyTargets(targets, m)
		notified += e.eph.Notify(m.Topic, m.TimestampMs, m.Payload)
		results[i] = PublishResult{Topic: it.Topic, Seq: m.Seq, Notified: notified}
	}
	return results, nil
}
