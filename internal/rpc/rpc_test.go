package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/protocol-kit/jrow/internal/pubsub"
	"github.com/protocol-kit/jrow/internal/subreg"
)

func TestRequestNotification(t *testing.T) {
	req, err := NewNotification(MethodPush, PushParams{SubscriptionID: "s", Topic: "t"})
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if !req.IsNotification() {
		t.Fatal("notification carries an id")
	}

	withID, err := NewRequest(json.RawMessage(`1`), MethodSubscribe, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if withID.IsNotification() {
		t.Fatal("request with id reported as notification")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(json.RawMessage(`"abc"`), MethodAcknowledgePersistent, AckParams{
		SubscriptionID: "sub-1",
		SequenceID:     42,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	buf, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(buf, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.JSONRPC != Version || decoded.Method != MethodAcknowledgePersistent {
		t.Fatalf("frame = %+v", decoded)
	}
	var params AckParams
	if err := json.Unmarshal(decoded.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if diff := cmp.Diff(AckParams{SubscriptionID: "sub-1", SequenceID: 42}, params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestFromErrorMapping(t *testing.T) {
	cases := []struct {
		err   error
		code  int
		label string
	}{
		{subreg.ErrInvalidPattern, CodeInvalidParams, LabelInvalidPattern},
		{subreg.ErrAlreadyActive, CodeInvalidRequest, LabelAlreadyActive},
		{subreg.ErrUnknownSubscription, CodeInvalidRequest, LabelUnknownSubscription},
		{pubsub.ErrEmptyBatch, CodeInvalidParams, LabelEmptyBatch},
		{pubsub.ErrBatchTooLarge, CodeInvalidParams, LabelBatchTooLarge},
		{errors.New("disk on fire"), CodeInternalError, ""},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		if got.Code != tc.code {
			t.Errorf("FromError(%v).Code = %d, want %d", tc.err, got.Code, tc.code)
		}
		if tc.label != "" && got.Data != tc.label {
			t.Errorf("FromError(%v).Data = %v, want %s", tc.err, got.Data, tc.label)
		}
	}
}

func TestFromErrorPassesThrough(t *testing.T) {
	orig := &Error{Code: CodeMethodNotFound, Message: "no such method"}
	if got := FromError(orig); got != orig {
		t.Fatal("wrapped rpc error not passed through")
	}
}

func TestErrorResponseShape(t *testing.T) {
	resp := ErrorResponse(json.RawMessage(`7`), &Error{Code: CodeParseError, Message: "bad json"})
	buf, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(buf, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, hasResult := m["result"]; hasResult {
		t.Fatal("error response carries a result")
	}
	if string(m["id"]) != "7" {
		t.Fatalf("id = %s", m["id"])
	}
}
