package msglog

import (
	"context"
	"testing"
	"time"
)

func appendN(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := l.Append(context.Background(), []byte("payload")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestTrimToMaxCountLeavesHighest(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()
	appendN(t, l, 5)

	deleted, err := l.TrimToMaxCount(ctx, 3)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	msgs, err := l.ReadAfter(0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d survivors, want 3", len(msgs))
	}
	for i, m := range msgs {
		if want := uint64(3 + i); m.Seq != want {
			t.Fatalf("survivor[%d].Seq = %d, want %d", i, m.Seq, want)
		}
	}

	// the counter never rewinds after a trim
	m, err := l.Append(ctx, []byte("next"))
	if err != nil {
		t.Fatalf("append after trim: %v", err)
	}
	if m.Seq != 6 {
		t.Fatalf("seq after trim = %d, want 6", m.Seq)
	}
}

func TestTrimToMaxCountNoop(t *testing.T) {
	l := openTestLog(t, "orders")
	appendN(t, l, 3)
	deleted, err := l.TrimToMaxCount(context.Background(), 5)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

func TestTrimOlderThan(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return base }
	appendN(t, l, 2)
	l.clock = func() time.Time { return base.Add(time.Hour) }
	appendN(t, l, 3)

	deleted, err := l.TrimOlderThan(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	msgs, err := l.ReadAfter(0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Seq != 3 {
		t.Fatalf("survivors wrong: %+v", msgs)
	}
}

func TestTrimToMaxBytes(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()
	// 4 messages of 10 bytes each
	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, []byte("0123456789")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	deleted, err := l.TrimToMaxBytes(ctx, 25)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	s, err := l.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Count != 2 || s.Bytes != 20 || s.FirstSeq != 3 {
		t.Fatalf("stats after trim = %+v", s)
	}
}

func TestDeleteRange(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()
	appendN(t, l, 5)

	deleted, err := l.DeleteRange(ctx, 3)
	if err != nil {
		t.Fatalf("delete range: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}
	msgs, err := l.ReadAfter(0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 4 || msgs[1].Seq != 5 {
		t.Fatalf("survivors wrong: %+v", msgs)
	}
}

func TestTrimAllPreservesCounterAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := openTestDB(t, dir)
	l, err := OpenLog(db, "orders")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	appendN(t, l, 5)
	if _, err := l.DeleteRange(ctx, 5); err != nil {
		t.Fatalf("delete range: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db = openTestDB(t, dir)
	defer db.Close()
	l, err = OpenLog(db, "orders")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	m, err := l.Append(ctx, []byte("p"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if m.Seq != 6 {
		t.Fatalf("seq after full trim = %d, want 6", m.Seq)
	}
}
