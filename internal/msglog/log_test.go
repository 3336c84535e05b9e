package msglog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
)

func openTestDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func openTestLog(t *testing.T, topic string) *Log {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	l, err := OpenLog(db, topic)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func TestAppendAssignsSequentialSeqs(t *testing.T) {
	l := openTestLog(t, "orders.created")
	ctx := context.Background()
	for want := uint64(1); want <= 5; want++ {
		m, err := l.Append(ctx, []byte(fmt.Sprintf("p%d", want)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if m.Seq != want {
			t.Fatalf("seq = %d, want %d", m.Seq, want)
		}
	}
}

func TestAppendDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := openTestDB(t, dir)
	l, err := OpenLog(db, "orders")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, []byte("x")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db = openTestDB(t, dir)
	defer db.Close()
	l, err = OpenLog(db, "orders")
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	if got := l.LastSeq(); got != 3 {
		t.Fatalf("LastSeq after reopen = %d, want 3", got)
	}
	m, err := l.Append(ctx, []byte("y"))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if m.Seq != 4 {
		t.Fatalf("seq after reopen = %d, want 4", m.Seq)
	}
	msgs, err := l.ReadAfter(0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
}

func TestConcurrentAppendsUniqueSeqs(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	seqs := make(chan uint64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m, err := l.Append(ctx, []byte("p"))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				seqs <- m.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for s := range seqs {
		if seen[s] {
			t.Fatalf("sequence %d issued twice", s)
		}
		seen[s] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("issued %d sequences, want %d", len(seen), workers*perWorker)
	}
	if got := l.LastSeq(); got != workers*perWorker {
		t.Fatalf("LastSeq = %d, want %d", got, workers*perWorker)
	}
}

func TestReadAfter(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, []byte(fmt.Sprintf("p%d", i+1))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := l.ReadAfter(2, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages after seq 2, want 3", len(msgs))
	}
	for i, m := range msgs {
		if want := uint64(3 + i); m.Seq != want {
			t.Fatalf("msgs[%d].Seq = %d, want %d", i, m.Seq, want)
		}
	}

	msgs, err = l.ReadAfter(0, 2)
	if err != nil {
		t.Fatalf("read limited: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 1 || msgs[1].Seq != 2 {
		t.Fatalf("limited read returned wrong window: %+v", msgs)
	}

	msgs, err = l.ReadAfter(5, 0)
	if err != nil {
		t.Fatalf("read past end: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("read past end returned %d messages", len(msgs))
	}
}

func TestStatsTracksCountAndBytes(t *testing.T) {
	l := openTestLog(t, "orders")
	ctx := context.Background()
	if _, err := l.Append(ctx, []byte("abc")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, []byte("defgh")); err != nil {
		t.Fatalf("append: %v", err)
	}

	s, err := l.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.FirstSeq != 1 || s.LastSeq != 2 || s.Count != 2 || s.Bytes != 8 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestNotifyWakesOnAppend(t *testing.T) {
	l := openTestLog(t, "orders")
	ch := l.Notify()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := l.Append(context.Background(), []byte("p")); err != nil {
			t.Errorf("append: %v", err)
		}
	}()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("notify channel not closed after append")
	}
	<-done
}

func TestOpenLogRejectsInvalidTopic(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()
	for _, topic := range []string{"", "a/b"} {
		if _, err := OpenLog(db, topic); err == nil {
			t.Errorf("OpenLog(%q) accepted invalid topic", topic)
		}
	}
}
