package client

import (
	"context"
	"encoding/json"

	"github.com/protocol-kit/jrow/internal/rpc"
)

// Push is one delivered message. Ephemeral pushes identify the subscription
// by its pattern and carry no sequence.
type Push struct {
	SubscriptionID string
	Topic          string
	SequenceID     uint64
	Timestamp      int64
	Payload        json.RawMessage
}

// SubscribeResult reports where a durable subscription resumed.
type SubscribeResult struct {
	ResumedFromSequence uint64
	UndeliveredCount    int
}

// Retention mirrors a topic retention policy. Zero fields are unset bounds.
type Retention struct {
	MaxAgeMs int64
	MaxCount uint64
	MaxBytes uint64
}

// ItemStatus reports one item of a best-effort batch.
type ItemStatus struct {
	SubscriptionID string
	OK             bool
	Error          string
}

// SubscribeItem names one durable subscription of a batch.
type SubscribeItem struct {
	SubscriptionID string
	Pattern        string
}

// AckItem advances one cursor of a batch.
type AckItem struct {
	SubscriptionID string
	SequenceID     uint64
}

// PublishItem is one message of a publish batch.
type PublishItem struct {
	Topic   string
	Payload json.RawMessage
}

// PublishStatus reports one item of a publish batch.
type PublishStatus struct {
	Topic      string
	SequenceID uint64
	Notified   int
	Error      string
}

// Subscribe opens an ephemeral subscription on pattern. Matching messages
// published while the connection lives are handed to h; nothing is stored
// or replayed. An optional CEL filter expression narrows matches.
func (c *Client) Subscribe(ctx context.Context, pattern, filter string, h Handler) error {
	c.setSub(pattern, subSpec{pattern: pattern, filter: filter, handler: h})
	err := c.call(ctx, rpc.MethodSubscribe, rpc.SubscribeParams{Pattern: pattern, Filter: filter}, nil)
	if err != nil {
		c.clearSub(pattern)
	}
	return err
}

// Unsubscribe drops an ephemeral subscription.
func (c *Client) Unsubscribe(ctx context.Context, pattern string) error {
	err := c.call(ctx, rpc.MethodUnsubscribe, rpc.UnsubscribeParams{Pattern: pattern}, nil)
	c.clearSub(pattern)
	return err
}

// SubscribePersistent claims the durable subscription subID on pattern.
// The handler is installed before the request goes out, so backlog pushes
// replayed ahead of the response are not lost.
func (c *Client) SubscribePersistent(ctx context.Context, subID, pattern string, h Handler) (SubscribeResult, error) {
	c.setSub(subID, subSpec{persistent: true, pattern: pattern, handler: h})
	var res rpc.SubscribeResult
	err := c.call(ctx, rpc.MethodSubscribePersistent, rpc.SubscribeParams{
		SubscriptionID: subID,
		Pattern:        pattern,
	}, &res)
	if err != nil {
		c.clearSub(subID)
		return SubscribeResult{}, err
	}
	return SubscribeResult{ResumedFromSequence: res.ResumedFromSequence, UndeliveredCount: res.UndeliveredCount}, nil
}

// UnsubscribePersistent releases the binding; the cursor survives for a
// later resume.
func (c *Client) UnsubscribePersistent(ctx context.Context, subID string) error {
	err := c.call(ctx, rpc.MethodUnsubscribePersistent, rpc.UnsubscribeParams{SubscriptionID: subID}, nil)
	c.clearSub(subID)
	return err
}

// Ack advances the cursor without waiting for confirmation. Delivery
// failures surface later as redelivery after resume.
func (c *Client) Ack(subID string, seq uint64) error {
	note, err := rpc.NewNotification(rpc.MethodAcknowledgePersistent, rpc.AckParams{
		SubscriptionID: subID,
		SequenceID:     seq,
	})
	if err != nil {
		return err
	}
	return c.write(note)
}

// AckWait advances the cursor and waits for the server to confirm.
func (c *Client) AckWait(ctx context.Context, subID string, seq uint64) error {
	return c.call(ctx, rpc.MethodAcknowledgePersistent, rpc.AckParams{
		SubscriptionID: subID,
		SequenceID:     seq,
	}, nil)
}

// Publish sends an ephemeral message and reports how many subscribers were
// notified. Nothing is stored.
func (c *Client) Publish(ctx context.Context, topic string, payload json.RawMessage) (int, error) {
	var res rpc.PublishResult
	err := c.call(ctx, rpc.MethodPublish, rpc.PublishParams{Topic: topic, Payload: payload}, &res)
	return res.Notified, err
}

// PublishPersistent appends a message durably and returns its sequence plus
// the number of notified subscribers.
func (c *Client) PublishPersistent(ctx context.Context, topic string, payload json.RawMessage) (uint64, int, error) {
	var res rpc.PublishPersistentResult
	err := c.call(ctx, rpc.MethodPublishPersistent, rpc.PublishParams{Topic: topic, Payload: payload}, &res)
	return res.SequenceID, res.Notified, err
}

// RegisterTopic declares a topic and its retention policy.
func (c *Client) RegisterTopic(ctx context.Context, topic string, r Retention) error {
	return c.call(ctx, rpc.MethodTopicsRegister, rpc.TopicsRegisterParams{
		Topic: topic,
		Retention: rpc.RetentionParams{
			MaxAgeMs: r.MaxAgeMs,
			MaxCount: r.MaxCount,
			MaxBytes: r.MaxBytes,
		},
	}, nil)
}

// SubscribePersistentBatch claims every subscription or none. The handler
// serves all of them.
func (c *Client) SubscribePersistentBatch(ctx context.Context, items []SubscribeItem, h Handler) ([]SubscribeResult, error) {
	params := rpc.SubscribeBatchParams{Items: make([]rpc.SubscribeParams, len(items))}
	for i, it := range items {
		params.Items[i] = rpc.SubscribeParams{SubscriptionID: it.SubscriptionID, Pattern: it.Pattern}
		c.setSub(it.SubscriptionID, subSpec{persistent: true, pattern: it.Pattern, handler: h})
	}
	var res rpc.SubscribeBatchResult
	if err := c.call(ctx, rpc.MethodSubscribePersistentBatch, params, &res); err != nil {
		for _, it := range items {
			c.clearSub(it.SubscriptionID)
		}
		return nil, err
	}
	out := make([]SubscribeResult, len(res.Items))
	for i, it := range res.Items {
		out[i] = SubscribeResult{ResumedFromSequence: it.ResumedFromSequence, UndeliveredCount: it.UndeliveredCount}
	}
	return out, nil
}

// UnsubscribePersistentBatch releases bindings best-effort, one status per
// id in input order.
func (c *Client) UnsubscribePersistentBatch(ctx context.Context, subIDs []string) ([]ItemStatus, error) {
	params := rpc.UnsubscribeBatchParams{Items: make([]rpc.UnsubscribeParams, len(subIDs))}
	for i, id := range subIDs {
		params.Items[i] = rpc.UnsubscribeParams{SubscriptionID: id}
	}
	var res rpc.UnsubscribeBatchResult
	if err := c.call(ctx, rpc.MethodUnsubscribePersistentBatch, params, &res); err != nil {
		return nil, err
	}
	for _, id := range subIDs {
		c.clearSub(id)
	}
	return statuses(res.Items), nil
}

// AckBatch advances several cursors, one status per item in input order.
func (c *Client) AckBatch(ctx context.Context, items []AckItem) ([]ItemStatus, error) {
	params := rpc.AckBatchParams{Items: make([]rpc.AckParams, len(items))}
	for i, it := range items {
		params.Items[i] = rpc.AckParams{SubscriptionID: it.SubscriptionID, SequenceID: it.SequenceID}
	}
	var res rpc.AckBatchResult
	if err := c.call(ctx, rpc.MethodAcknowledgePersistentBatch, params, &res); err != nil {
		return nil, err
	}
	return statuses(res.Items), nil
}

// PublishPersistentBatch appends messages in order. Items fail
// independently; earlier appends are never rolled back.
func (c *Client) PublishPersistentBatch(ctx context.Context, items []PublishItem) ([]PublishStatus, error) {
	params := rpc.PublishBatchParams{Items: make([]rpc.PublishParams, len(items))}
	for i, it := range items {
		params.Items[i] = rpc.PublishParams{Topic: it.Topic, Payload: it.Payload}
	}
	var res rpc.PublishBatchResult
	if err := c.call(ctx, rpc.MethodPublishPersistentBatch, params, &res); err != nil {
		return nil, err
	}
	out := make([]PublishStatus, len(res.Items))
	for i, it := range res.Items {
		out[i] = PublishStatus{Topic: it.Topic, SequenceID: it.SequenceID, Notified: it.Notified, Error: it.Error}
	}
	return out, nil
}

func statuses(items []rpc.BatchItemStatus) []ItemStatus {
	out := make([]ItemStatus, len(items))
	for i, it := range items {
		out[i] = ItemStatus{SubscriptionID: it.SubscriptionID, OK: it.OK, Error: it.Error}
	}
	return out
}
