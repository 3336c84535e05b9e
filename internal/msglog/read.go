package msglog

import (
	"github.com/cockroachdb/pebble"

	"github.com/protocol-kit/jrow/pkg/log"
)

func iterBounds(low, high []byte) *pebble.IterOptions {
	return &pebble.IterOptions{LowerBound: low, UpperBound: high}
}

// ReadAfter returns up to limit messages with sequence > fromSeq, in
// ascending sequence order. limit <= 0 means no limit.
func (l *Log) ReadAfter(fromSeq uint64, limit int) ([]Message, error) {
	if fromSeq == ^uint64(0) {
		return nil, nil
	}
	low, high := entryBounds(l.topic)
	iter, err := l.db.NewIter(iterBounds(low, high))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Message
	startKey := KeyEntry(l.topic, fromSeq+1)
	for ok := iter.SeekGE(startKey); ok; ok = iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		seq := seqFromEntryKey(iter.Key())
		tsMs, payload, okDec := decodeRecord(iter.Value())
		if !okDec {
			// skip torn/corrupt records rather than failing the read, but
			// leave a trace of the sequence gap
			l.logger.Warn("skipping corrupt record",
				log.Str("topic", l.topic), log.Uint64("seq", seq))
			continue
		}
		out = append(out, Message{Topic: l.topic, Seq: seq, TimestampMs: tsMs, Payload: payload})
	}
	return out, nil
}
