package msglog

import (
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	enc := encodeRecord(1717243200123, []byte("hello"))
	ts, payload, ok := decodeRecord(enc)
	if !ok {
		t.Fatal("decode failed")
	}
	if ts != 1717243200123 || !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("decoded = (%d, %q)", ts, payload)
	}
}

func TestRecordRejectsCorruption(t *testing.T) {
	enc := encodeRecord(1, []byte("hello"))
	enc[len(enc)-6] ^= 0xff
	if _, _, ok := decodeRecord(enc); ok {
		t.Fatal("corrupt record decoded")
	}
	if _, _, ok := decodeRecord(enc[:3]); ok {
		t.Fatal("truncated record decoded")
	}
}
