package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/protocol-kit/jrow/internal/subreg"
)

func TestSubscribeBatchAtomicRollback(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	holder, c := newTestConsumer(), newTestConsumer()
	e.AttachConsumer(holder)
	e.AttachConsumer(c)

	// "taken" is owned by another connection, so the batch must fail
	if _, err := e.Subscribe(ctx, "taken", "orders", holder); err != nil {
		t.Fatalf("subscribe holder: %v", err)
	}

	_, err := e.SubscribeBatch(ctx, []SubscribeItem{
		{SubscriptionID: "fresh-1", Pattern: "orders.*"},
		{SubscriptionID: "fresh-2", Pattern: "events.>"},
		{SubscriptionID: "taken", Pattern: "orders"},
	}, c)
	if !errors.Is(err, subreg.ErrAlreadyActive) {
		t.Fatalf("want ErrAlreadyActive, got %v", err)
	}

	// rollback released the bindings made by this call
	for _, subID := range []string{"fresh-1", "fresh-2"} {
		if _, live := e.Registry().Owner(subID); live {
			t.Fatalf("%s still bound after rollback", subID)
		}
	}
	// the foreign binding is untouched
	if owner, live := e.Registry().Owner("taken"); !live || owner != holder.ID() {
		t.Fatal("rollback disturbed the foreign binding")
	}
}

func TestSubscribeBatchInvalidPatternBindsNothing(t *testing.T) {
	e := newTestEngine(t)
	c := newTestConsumer()
	e.AttachConsumer(c)

	_, err := e.SubscribeBatch(context.Background(), []SubscribeItem{
		{SubscriptionID: "one", Pattern: "orders.*"},
		{SubscriptionID: "two", Pattern: "orders.*.x.>.y"},
		{SubscriptionID: "three", Pattern: "events.>"},
	}, c)
	if !errors.Is(err, subreg.ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}
	if !strings.Contains(err.Error(), "two") {
		t.Fatalf("error does not name the failing item: %v", err)
	}
	for _, subID := range []string{"one", "two", "three"} {
		if _, live := e.Registry().Owner(subID); live {
			t.Fatalf("%s still bound after rollback", subID)
		}
	}
}

func TestSubscribeBatchSuccess(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	c := newTestConsumer()
	e.AttachConsumer(c)

	results, err := e.SubscribeBatch(ctx, []SubscribeItem{
		{SubscriptionID: "a", Pattern: "orders.*"},
		{SubscriptionID: "b", Pattern: "events.>"},
	}, c)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	for _, subID := range []string{"a", "b"} {
		if _, live := e.Registry().Owner(subID); !live {
			t.Fatalf("%s not bound", subID)
		}
	}
}

func TestAcknowledgeBatchPerItem(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	c := newTestConsumer()
	e.AttachConsumer(c)
	if _, err := e.Subscribe(ctx, "known", "orders", c); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	results, err := e.AcknowledgeBatch([]AckItem{
		{SubscriptionID: "known", Seq: 5},
		{SubscriptionID: "ghost", Seq: 1},
		{SubscriptionID: "known", Seq: 2}, // stale, still fine
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("valid items errored: %+v", results)
	}
	if !errors.Is(results[1].Err, subreg.ErrUnknownSubscription) {
		t.Fatalf("results[1].Err = %v", results[1].Err)
	}

	rec, _, err := e.Registry().Get("known")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.LastAckSeq != 5 {
		t.Fatalf("cursor = %d, want 5", rec.LastAckSeq)
	}
}

func TestUnsubscribeBatchBestEffort(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	c := newTestConsumer()
	e.AttachConsumer(c)
	if _, err := e.Subscribe(ctx, "a", "orders", c); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	results, err := e.UnsubscribeBatch([]string{"a", "ghost"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("valid unsubscribe errored: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, subreg.ErrUnknownSubscription) {
		t.Fatalf("results[1].Err = %v", results[1].Err)
	}
	if _, live := e.Registry().Owner("a"); live {
		t.Fatal("binding survived batch unsubscribe")
	}
}

func TestPublishBatchCountsAndDurability(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	one, two := newTestConsumer(), newTestConsumer()
	e.AttachConsumer(one)
	e.AttachConsumer(two)

	// two subscriptions on "b", none on "a"
	if _, err := e.Subscribe(ctx, "sub-1", "b", one); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := e.Subscribe(ctx, "sub-2", "b", two); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	results, err := e.PublishBatch(ctx, []PublishItem{
		{Topic: "a", Payload: []byte("1")},
		{Topic: "b", Payload: []byte("2")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results[0].Notified != 0 || results[1].Notified != 2 {
		t.Fatalf("notified counts = [%d, %d], want [0, 2]", results[0].Notified, results[1].Notified)
	}

	// both messages are durably appended regardless of subscriber counts
	for _, topic := range []string{"a", "b"} {
		l, err := e.store.Open(topic)
		if err != nil {
			t.Fatalf("open %s: %v", topic, err)
		}
		msgs, err := l.ReadAfter(0, 0)
		if err != nil {
			t.Fatalf("read %s: %v", topic, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("topic %s has %d messages, want 1", topic, len(msgs))
		}
	}
}

func TestPublishBatchNonAtomic(t *testing.T) {
	e := newTestEngine(t)
	results, err := e.PublishBatch(context.Background(), []PublishItem{
		{Topic: "good", Payload: []byte("1")},
		{Topic: "bad..topic", Payload: []byte("2")},
		{Topic: "good", Payload: []byte("3")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("valid items errored: %+v", results)
	}
	if results[1].Err == nil {
		t.Fatal("invalid topic accepted")
	}
	if results[0].Seq != 1 || results[2].Seq != 2 {
		t.Fatalf("sequences = [%d, %d], want [1, 2]", results[0].Seq, results[2].Seq)
	}
}

func TestBatchCeilings(t *testing.T) {
	e := newTestEngine(t)
	e.maxBatch = 2
	c := newTestConsumer()
	e.AttachConsumer(c)

	if _, err := e.SubscribeBatch(context.Background(), nil, c); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("want ErrEmptyBatch, got %v", err)
	}
	big := []AckItem{{SubscriptionID: "a"}, {SubscriptionID: "b"}, {SubscriptionID: "c"}}
	if _, err := e.AcknowledgeBatch(big); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("want ErrBatchTooLarge, got %v", err)
	}
}
