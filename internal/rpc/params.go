package rpc

import "encoding/json"

// Parameter and result payloads for the wire methods. The client package
// reuses these types, so field names here are the protocol.

// SubscribeParams covers both tiers: ephemeral subscriptions identify
// themselves by pattern (with an optional CEL filter), persistent ones by
// subscription id plus pattern.
type SubscribeParams struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
	Pattern        string `json:"pattern"`
	Filter         string `json:"filter,omitempty"`
}

// SubscribeResult is returned by persistent subscribes.
type SubscribeResult struct {
	ResumedFromSequence uint64 `json:"resumed_from_sequence"`
	UndeliveredCount    int    `json:"undelivered_count"`
}

// UnsubscribeParams identifies what to release.
type UnsubscribeParams struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
}

// AckParams advances a persistent cursor.
type AckParams struct {
	SubscriptionID string `json:"subscription_id"`
	SequenceID     uint64 `json:"sequence_id"`
}

// PublishParams carries one message.
type PublishParams struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// PublishResult reports an ephemeral publish.
type PublishResult struct {
	Notified int `json:"notified"`
}

// PublishPersistentResult reports a durable publish.
type PublishPersistentResult struct {
	SequenceID uint64 `json:"sequence_id"`
	Notified   int    `json:"notified"`
}

// Batch frames. Every batch request wraps its items; every batch response
// reports per item in input order.

type SubscribeBatchParams struct {
	Items []SubscribeParams `json:"items"`
}

type SubscribeBatchResult struct {
	Items []SubscribeResult `json:"items"`
}

type UnsubscribeBatchParams struct {
	Items []UnsubscribeParams `json:"items"`
}

// BatchItemStatus reports one best-effort batch item.
type BatchItemStatus struct {
	SubscriptionID string `json:"subscription_id"`
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
}

type UnsubscribeBatchResult struct {
	Items []BatchItemStatus `json:"items"`
}

type AckBatchParams struct {
	Items []AckParams `json:"items"`
}

type AckBatchResult struct {
	Items []BatchItemStatus `json:"items"`
}

type PublishBatchParams struct {
	Items []PublishParams `json:"items"`
}

// PublishBatchItem reports one appended message of a publish batch.
type PublishBatchItem struct {
	Topic      string `json:"topic"`
	SequenceID uint64 `json:"sequence_id,omitempty"`
	Notified   int    `json:"notified"`
	Error      string `json:"error,omitempty"`
}

type PublishBatchResult struct {
	Items []PublishBatchItem `json:"items"`
}

// RetentionParams mirrors a topic retention policy on the wire.
type RetentionParams struct {
	MaxAgeMs int64  `json:"max_age_ms,omitempty"`
	MaxCount uint64 `json:"max_count,omitempty"`
	MaxBytes uint64 `json:"max_bytes,omitempty"`
}

// TopicsRegisterParams registers a topic with a retention policy.
type TopicsRegisterParams struct {
	Topic     string          `json:"topic"`
	Retention RetentionParams `json:"retention"`
}

// TopicsRegisterResult confirms a registration.
type TopicsRegisterResult struct {
	Topic string `json:"topic"`
}

// PushParams is the payload of an rpc.push notification. Ephemeral pushes
// identify the subscription by pattern and carry no sequence.
type PushParams struct {
	SubscriptionID string          `json:"subscription_id"`
	Topic          string          `json:"topic"`
	SequenceID     uint64          `json:"sequence_id,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}
