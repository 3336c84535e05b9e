package msglog

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - t/{topic}/m               topic metadata (max seq, count, payload bytes)
// - t/{topic}/e/{seq_be8}     message record
// - i/{topic}                 topic index entry
//
// Topics are dot-delimited and never contain '/', so the segment separators
// are unambiguous.

var (
	topicPrefix = []byte("t/")
	metaSuffix  = []byte("/m")
	entrySeg    = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyTopicMeta builds the topic metadata key.
func KeyTopicMeta(topic string) []byte {
	k := make([]byte, 0, len(topic)+8)
	k = append(k, topicPrefix...)
	k = append(k, topic...)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyEntry(topic string, seq uint64) []byte {
	k := make([]byte, 0, len(topic)+16)
	k = append(k, topicPrefix...)
	k = append(k, topic...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// entryBounds returns the [low, high) iterator bounds covering every entry
// of a topic.
func entryBounds(topic string) (low, high []byte) {
	low = KeyEntry(topic, 0)
	high = append(KeyEntry(topic, ^uint64(0)), 0x00)
	return low, high
}

// seqFromEntryKey extracts the big-endian sequence from an entry key.
func seqFromEntryKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

var indexPrefix = []byte("i/")

// KeyTopicIndex builds the topic index key used to enumerate topics.
func KeyTopicIndex(topic string) []byte {
	k := make([]byte, 0, len(topic)+2)
	k = append(k, indexPrefix...)
	k = append(k, topic...)
	return k
}

// topicIndexBounds returns [low, high) bounds covering the whole topic index.
func topicIndexBounds() (low, high []byte) {
	low = indexPrefix
	high = []byte{'i', '/' + 1}
	return low, high
}
