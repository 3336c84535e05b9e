package msglog

import (
	"context"
	"testing"

	"github.com/protocol-kit/jrow/internal/pattern"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestTopicsListsOpened(t *testing.T) {
	s := openTestStore(t)
	for _, topic := range []string{"orders.us", "events.login", "orders.eu"} {
		if _, err := s.Open(topic); err != nil {
			t.Fatalf("open %s: %v", topic, err)
		}
	}
	topics, err := s.Topics()
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	want := []string{"events.login", "orders.eu", "orders.us"}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}
}

func TestOpenReturnsSameLog(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Open("orders")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := s.Open("orders")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a != b {
		t.Fatal("Open returned distinct log instances for one topic")
	}
}

func TestTopicsMatching(t *testing.T) {
	s := openTestStore(t)
	for _, topic := range []string{"orders.eu", "orders.us", "events.login"} {
		if _, err := s.Open(topic); err != nil {
			t.Fatalf("open %s: %v", topic, err)
		}
	}

	got, err := s.TopicsMatching(pattern.MustCompile("orders.*"))
	if err != nil {
		t.Fatalf("topics matching: %v", err)
	}
	if len(got) != 2 || got[0] != "orders.eu" || got[1] != "orders.us" {
		t.Fatalf("matched = %v", got)
	}

	// exact expressions resolve without consulting the index
	exact, err := s.TopicsMatching(pattern.MustCompile("billing.new"))
	if err != nil {
		t.Fatalf("topics matching exact: %v", err)
	}
	if len(exact) != 1 || exact[0] != "billing.new" {
		t.Fatalf("exact = %v", exact)
	}
}

func TestReadMatchingOrdersByTopicThenSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	eu, err := s.Open("orders.eu")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	us, err := s.Open("orders.us")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	other, err := s.Open("events.login")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// interleave appends across topics
	for i := 0; i < 2; i++ {
		if _, err := us.Append(ctx, []byte("us")); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := eu.Append(ctx, []byte("eu")); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := other.Append(ctx, []byte("x")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.ReadMatching(pattern.MustCompile("orders.*"), 0, 0)
	if err != nil {
		t.Fatalf("read matching: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	wantTopics := []string{"orders.eu", "orders.eu", "orders.us", "orders.us"}
	wantSeqs := []uint64{1, 2, 1, 2}
	for i, m := range msgs {
		if m.Topic != wantTopics[i] || m.Seq != wantSeqs[i] {
			t.Fatalf("msgs[%d] = {%s %d}, want {%s %d}", i, m.Topic, m.Seq, wantTopics[i], wantSeqs[i])
		}
	}
}

func TestReadMatchingExact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	l, err := s.Open("orders.created")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, []byte("p")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := s.ReadMatching(pattern.MustCompile("orders.created"), 1, 0)
	if err != nil {
		t.Fatalf("read matching: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 2 {
		t.Fatalf("exact read wrong: %+v", msgs)
	}
}

func TestReadMatchingHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, topic := range []string{"orders.eu", "orders.us"} {
		l, err := s.Open(topic)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, err := l.Append(ctx, []byte("p")); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}
	msgs, err := s.ReadMatching(pattern.MustCompile("orders.>"), 0, 4)
	if err != nil {
		t.Fatalf("read matching: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[3].Topic != "orders.us" || msgs[3].Seq != 1 {
		t.Fatalf("limit window wrong: %+v", msgs[3])
	}
}
