package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/protocol-kit/jrow/internal/pubsub"
	"github.com/protocol-kit/jrow/internal/subreg"
	"github.com/protocol-kit/jrow/internal/topics"
)

// Version is the JSON-RPC protocol version on every frame.
const Version = "2.0"

// Wire method names.
const (
	MethodSubscribe   = "rpc.subscribe"
	MethodUnsubscribe = "rpc.unsubscribe"
	MethodPublish     = "rpc.publish"

	MethodSubscribePersistent   = "rpc.subscribe.persistent"
	MethodUnsubscribePersistent = "rpc.unsubscribe.persistent"
	MethodAcknowledgePersistent = "rpc.acknowledge.persistent"
	MethodPublishPersistent     = "rpc.publish.persistent"

	MethodSubscribeBatch             = "rpc.subscribe.batch"
	MethodSubscribePersistentBatch   = "rpc.subscribe.persistent.batch"
	MethodUnsubscribePersistentBatch = "rpc.unsubscribe.persistent.batch"
	MethodAcknowledgePersistentBatch = "rpc.acknowledge.persistent.batch"
	MethodPublishPersistentBatch     = "rpc.publish.persistent.batch"

	MethodTopicsRegister = "rpc.topics.register"

	// MethodPush is the server-to-client notification carrying a message.
	MethodPush = "rpc.push"
)

// Request is a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is a JSON-RPC 2.0 error object. Domain errors keep the standard
// codes and carry a machine-readable label in Data.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Domain error labels carried in Error.Data.
const (
	LabelInvalidPattern      = "invalid_pattern"
	LabelInvalidTopic        = "invalid_topic"
	LabelAlreadyActive       = "already_active"
	LabelUnknownSubscription = "unknown_subscription"
	LabelEmptyBatch          = "empty_batch"
	LabelBatchTooLarge       = "batch_too_large"
)

// NewRequest builds a request frame.
func NewRequest(id json.RawMessage, method string, params any) (Request, error) {
	var raw json.RawMessage
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return Request{}, err
		}
		raw = buf
	}
	return Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a request frame without an id.
func NewNotification(method string, params any) (Request, error) {
	return NewRequest(nil, method, params)
}

// IsNotification reports whether the request expects no response.
func (r Request) IsNotification() bool { return len(r.ID) == 0 }

// ResultResponse builds a success response for id.
func ResultResponse(id json.RawMessage, result any) (Response, error) {
	buf, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{JSONRPC: Version, Result: buf, ID: id}, nil
}

// ErrorResponse builds an error response for id.
func ErrorResponse(id json.RawMessage, rerr *Error) Response {
	return Response{JSONRPC: Version, Error: rerr, ID: id}
}

// FromError maps an engine error onto a JSON-RPC error object.
func FromError(err error) *Error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	switch {
	case errors.Is(err, subreg.ErrInvalidPattern):
		return &Error{Code: CodeInvalidParams, Message: err.Error(), Data: LabelInvalidPattern}
	case errors.Is(err, topics.ErrInvalidTopic):
		return &Error{Code: CodeInvalidParams, Message: err.Error(), Data: LabelInvalidTopic}
	case errors.Is(err, subreg.ErrAlreadyActive):
		return &Error{Code: CodeInvalidRequest, Message: err.Error(), Data: LabelAlreadyActive}
	case errors.Is(err, subreg.ErrUnknownSubscription):
		return &Error{Code: CodeInvalidRequest, Message: err.Error(), Data: LabelUnknownSubscription}
	case errors.Is(err, pubsub.ErrEmptyBatch):
		return &Error{Code: CodeInvalidParams, Message: err.Error(), Data: LabelEmptyBatch}
	case errors.Is(err, pubsub.ErrBatchTooLarge):
		return &Error{Code: CodeInvalidParams, Message: err.Error(), Data: LabelBatchTooLarge}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}
