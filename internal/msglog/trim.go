package msglog

import (
	"context"
	"time"
)

const trimBatchLimit = 1024

// DeleteRange deletes all entries with sequence <= upToSeq, oldest first.
// Returns the number of deleted entries.
func (l *Log) DeleteRange(ctx context.Context, upToSeq uint64) (int, error) {
	return l.trimOldest(ctx, func(m Message) bool { return m.Seq > upToSeq })
}

// TrimOlderThan deletes entries written before cutoff. Appends are serialized
// so timestamps are non-decreasing along the sequence; the scan stops at the
// first entry at or past the cutoff.
func (l *Log) TrimOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffMs := cutoff.UnixMilli()
	return l.trimOldest(ctx, func(m Message) bool { return m.TimestampMs >= cutoffMs })
}

// TrimToMaxCount deletes the oldest entries until at most maxCount remain.
func (l *Log) TrimToMaxCount(ctx context.Context, maxCount uint64) (int, error) {
	l.mu.Lock()
	cur := l.count
	l.mu.Unlock()
	if cur <= maxCount {
		return 0, nil
	}
	excess := cur - maxCount
	var removed uint64
	return l.trimOldest(ctx, func(Message) bool {
		if removed >= excess {
			return true
		}
		removed++
		return false
	})
}

// TrimToMaxBytes deletes the oldest entries until the payload byte total is
// at most maxBytes.
func (l *Log) TrimToMaxBytes(ctx context.Context, maxBytes uint64) (int, error) {
	l.mu.Lock()
	cur := l.bytes
	l.mu.Unlock()
	if cur <= maxBytes {
		return 0, nil
	}
	return l.trimOldest(ctx, func(m Message) bool {
		if cur <= maxBytes {
			return true
		}
		cur -= uint64(len(m.Payload))
		return false
	})
}

// trimOldest deletes entries oldest-first until stop returns true or the log
// is exhausted. Deletes are committed in batches; each batch rewrites the
// metadata under the log mutex so counts stay consistent with concurrent
// appends. The sequence counter is never rolled back.
func (l *Log) trimOldest(ctx context.Context, stop func(Message) bool) (int, error) {
	low, high := entryBounds(l.topic)
	iter, err := l.db.NewIter(iterBounds(low, high))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	ok := iter.First()
	for ok {
		l.mu.Lock()
		b := l.db.NewBatch()
		n := 0
		var freed uint64
		for ok && n < trimBatchLimit {
			seq := seqFromEntryKey(iter.Key())
			tsMs, payload, okDec := decodeRecord(iter.Value())
			if okDec && stop(Message{Topic: l.topic, Seq: seq, TimestampMs: tsMs, Payload: payload}) {
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				l.mu.Unlock()
				return deleted, err
			}
			if okDec {
				freed += uint64(len(payload))
			}
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			l.mu.Unlock()
			break
		}
		newCount := l.count - uint64(n)
		if uint64(n) > l.count {
			newCount = 0
		}
		newBytes := l.bytes - freed
		if freed > l.bytes {
			newBytes = 0
		}
		if err := b.Set(KeyTopicMeta(l.topic), encodeMeta(l.lastSeq, newCount, newBytes), nil); err != nil {
			b.Close()
			l.mu.Unlock()
			return deleted, err
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			l.mu.Unlock()
			return deleted, err
		}
		b.Close()
		l.count, l.bytes = newCount, newBytes
		l.mu.Unlock()
		deleted += n
	}
	return deleted, nil
}
