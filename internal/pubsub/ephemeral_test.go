package pubsub

import (
	"errors"
	"testing"

	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/pkg/log"
)

func newTestEphemeral() *Ephemeral {
	return NewEphemeral(log.NewLogger(log.WithLevel(log.ErrorLevel)))
}

func TestEphemeralExactAndWildcard(t *testing.T) {
	eph := newTestEphemeral()
	exact, wild, other := newTestConsumer(), newTestConsumer(), newTestConsumer()

	if err := eph.Subscribe(exact, "orders.created", ""); err != nil {
		t.Fatalf("subscribe exact: %v", err)
	}
	if err := eph.Subscribe(wild, "orders.*", ""); err != nil {
		t.Fatalf("subscribe wildcard: %v", err)
	}
	if err := eph.Subscribe(other, "events.>", ""); err != nil {
		t.Fatalf("subscribe foreign: %v", err)
	}

	n := eph.Notify("orders.created", 42, []byte("x"))
	if n != 2 {
		t.Fatalf("notified = %d, want 2", n)
	}
	if got := exact.received(); len(got) != 1 || got[0].Seq != 0 || got[0].SubscriptionID != "orders.created" {
		t.Fatalf("exact push = %+v", got)
	}
	if got := wild.received(); len(got) != 1 || got[0].SubscriptionID != "orders.*" {
		t.Fatalf("wildcard push = %+v", got)
	}
	if got := other.received(); len(got) != 0 {
		t.Fatalf("foreign consumer got %+v", got)
	}
}

func TestEphemeralCELFilter(t *testing.T) {
	eph := newTestEphemeral()
	c := newTestConsumer()
	if err := eph.Subscribe(c, "orders.*", `json.amount > 10`); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if n := eph.Notify("orders.created", 1, []byte(`{"amount": 5}`)); n != 0 {
		t.Fatalf("filtered message notified %d consumers", n)
	}
	if n := eph.Notify("orders.created", 1, []byte(`{"amount": 25}`)); n != 1 {
		t.Fatalf("passing message notified %d consumers", n)
	}
	if n := eph.Notify("orders.created", 1, []byte(`not json`)); n != 0 {
		t.Fatalf("unparseable payload notified %d consumers", n)
	}
}

func TestEphemeralRejectsBadFilter(t *testing.T) {
	eph := newTestEphemeral()
	if err := eph.Subscribe(newTestConsumer(), "orders.*", `json.amount >`); err == nil {
		t.Fatal("accepted an unparseable filter")
	}
	if err := eph.Subscribe(newTestConsumer(), "orders..x", ""); !errors.Is(err, subreg.ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}
}

func TestEphemeralUnsubscribe(t *testing.T) {
	eph := newTestEphemeral()
	c := newTestConsumer()
	if err := eph.Subscribe(c, "orders.*", ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := eph.Unsubscribe(c.ID(), "orders.*"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n := eph.Notify("orders.created", 1, []byte("x")); n != 0 {
		t.Fatalf("notified = %d after unsubscribe", n)
	}
	if err := eph.Unsubscribe(c.ID(), "orders.*"); !errors.Is(err, subreg.ErrUnknownSubscription) {
		t.Fatalf("want ErrUnknownSubscription, got %v", err)
	}
}

func TestEphemeralRemoveConnection(t *testing.T) {
	eph := newTestEphemeral()
	c := newTestConsumer()
	for _, expr := range []string{"orders.created", "orders.*", "events.>"} {
		if err := eph.Subscribe(c, expr, ""); err != nil {
			t.Fatalf("subscribe %s: %v", expr, err)
		}
	}
	eph.RemoveConnection(c.ID())
	eph.RemoveConnection(c.ID()) // idempotent

	if n := eph.Notify("orders.created", 1, []byte("x")); n != 0 {
		t.Fatalf("notified = %d after removal", n)
	}
}

func TestEphemeralNothingSurvivesInEngine(t *testing.T) {
	e := newTestEngine(t)
	c := newTestConsumer()
	e.AttachConsumer(c)
	if err := e.Ephemeral().Subscribe(c, "orders.*", ""); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n, err := e.Publish("orders.created", []byte("x"))
	if err != nil || n != 1 {
		t.Fatalf("publish = (%d, %v)", n, err)
	}

	e.DetachConsumer(c.ID())
	n, err = e.Publish("orders.created", []byte("x"))
	if err != nil || n != 0 {
		t.Fatalf("publish after detach = (%d, %v)", n, err)
	}
}
