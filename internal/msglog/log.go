package msglog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
	"github.com/protocol-kit/jrow/pkg/log"
)

// ErrInvalidTopic rejects topic names that would break the keyspace layout.
var ErrInvalidTopic = errors.New("msglog: invalid topic name")

// Message is a single stored record. Immutable once appended.
type Message struct {
	Topic       string
	Seq         uint64
	TimestampMs int64
	Payload     []byte
}

// SizeBytes is the payload size counted against the topic's byte total.
func (m Message) SizeBytes() int { return len(m.Payload) }

// Stats is a point-in-time snapshot of a topic's stored range.
type Stats struct {
	FirstSeq uint64 // 0 when the log holds no entries
	LastSeq  uint64 // highest sequence ever issued, survives trims
	Count    uint64
	Bytes    uint64
}

// Log provides append-only, sequence-numbered storage for one topic.
//
// Sequence assignment is serialized under the log mutex: each append gets
// lastSeq+1 and commits the record together with the updated metadata in a
// single batch. Sequences continue from the highest ever issued even after
// trims, so an id is never reused.
type Log struct {
	db     *pebblestore.DB
	topic  string
	clock  func() time.Time
	logger log.Logger

	mu       sync.Mutex
	lastSeq  uint64
	count    uint64
	bytes    uint64
	notifyCh chan struct{}
}

// OpenLog initializes a Log and loads its metadata (if any).
func OpenLog(db *pebblestore.DB, topic string) (*Log, error) {
	if topic == "" || strings.Contains(topic, "/") {
		return nil, ErrInvalidTopic
	}
	l := &Log{db: db, topic: topic, clock: time.Now, logger: log.NewLogger(), notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyTopicMeta(topic))
	if err != nil {
		if !pebblestore.IsNotFound(err) {
			return nil, err
		}
		return l, nil
	}
	if lastSeq, count, bytes, ok := decodeMeta(meta); ok {
		l.lastSeq, l.count, l.bytes = lastSeq, count, bytes
	}
	return l, nil
}

// Topic returns the topic this log stores.
func (l *Log) Topic() string { return l.topic }

// Append assigns the next sequence, stores the record and updated metadata
// atomically, and returns the stored message. The append is durable when
// this returns; delivery to subscribers happens after.
func (l *Log) Append(ctx context.Context, payload []byte) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	now := l.clock().UnixMilli()
	seq := l.lastSeq + 1
	if err := b.Set(KeyEntry(l.topic, seq), encodeRecord(now, payload), nil); err != nil {
		return Message{}, err
	}
	newCount := l.count + 1
	newBytes := l.bytes + uint64(len(payload))
	if err := b.Set(KeyTopicMeta(l.topic), encodeMeta(seq, newCount, newBytes), nil); err != nil {
		return Message{}, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return Message{}, err
	}
	l.lastSeq, l.count, l.bytes = seq, newCount, newBytes

	// wake waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return Message{Topic: l.topic, Seq: seq, TimestampMs: now, Payload: payload}, nil
}

// LastSeq returns the highest sequence issued so far.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Notify returns a channel closed on the next append. Callers snapshot the
// channel, check LastSeq, then wait; this closes the gap between a backlog
// read finishing and a live append arriving.
func (l *Log) Notify() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// Stats reports the current metadata plus the first surviving sequence.
func (l *Log) Stats() (Stats, error) {
	l.mu.Lock()
	s := Stats{LastSeq: l.lastSeq, Count: l.count, Bytes: l.bytes}
	l.mu.Unlock()

	if s.Count == 0 {
		return s, nil
	}
	first, err := l.firstSeq()
	if err != nil {
		return Stats{}, err
	}
	s.FirstSeq = first
	return s, nil
}

func (l *Log) firstSeq() (uint64, error) {
	low, high := entryBounds(l.topic)
	iter, err := l.db.NewIter(iterBounds(low, high))
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.First() {
		return 0, nil
	}
	return seqFromEntryKey(iter.Key()), nil
}
