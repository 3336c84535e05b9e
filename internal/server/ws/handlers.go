package ws

import (
	"context"
	"encoding/json"

	"github.com/protocol-kit/jrow/internal/pubsub"
	"github.com/protocol-kit/jrow/internal/rpc"
	"github.com/protocol-kit/jrow/internal/topics"
	"github.com/protocol-kit/jrow/pkg/log"
)

func (s *Server) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(s.maxMessage)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, c, data)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, data []byte) {
	var req rpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(rpc.ErrorResponse(nil, &rpc.Error{Code: rpc.CodeParseError, Message: "invalid JSON"}))
		return
	}
	if req.JSONRPC != rpc.Version || req.Method == "" {
		c.send(rpc.ErrorResponse(req.ID, &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "malformed request"}))
		return
	}

	result, err := s.handle(ctx, c, req)
	if req.IsNotification() {
		if err != nil {
			s.logger.Debug("notification failed", log.Str("method", req.Method), log.Err(err))
		}
		return
	}
	if err != nil {
		c.send(rpc.ErrorResponse(req.ID, rpc.FromError(err)))
		return
	}
	resp, merr := rpc.ResultResponse(req.ID, result)
	if merr != nil {
		c.send(rpc.ErrorResponse(req.ID, &rpc.Error{Code: rpc.CodeInternalError, Message: merr.Error()}))
		return
	}
	c.send(resp)
}

func (s *Server) handle(ctx context.Context, c *conn, req rpc.Request) (any, error) {
	switch req.Method {
	case rpc.MethodSubscribe:
		var p rpc.SubscribeParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.engine.Ephemeral().Subscribe(c, p.Pattern, p.Filter); err != nil {
			return nil, err
		}
		return true, nil

	case rpc.MethodUnsubscribe:
		var p rpc.UnsubscribeParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.engine.Ephemeral().Unsubscribe(c.ID(), p.Pattern); err != nil {
			return nil, err
		}
		return true, nil

	case rpc.MethodPublish:
		var p rpc.PublishParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		notified, err := s.engine.Publish(p.Topic, p.Payload)
		if err != nil {
			return nil, err
		}
		return rpc.PublishResult{Notified: notified}, nil

	case rpc.MethodSubscribePersistent:
		var p rpc.SubscribeParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		res, err := s.engine.Subscribe(ctx, p.SubscriptionID, p.Pattern, c)
		if err != nil {
			return nil, err
		}
		return rpc.SubscribeResult{
			ResumedFromSequence: res.ResumedFromSeq,
			UndeliveredCount:    res.Undelivered,
		}, nil

	case rpc.MethodUnsubscribePersistent:
		var p rpc.UnsubscribeParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.engine.Unsubscribe(p.SubscriptionID); err != nil {
			return nil, err
		}
		return true, nil

	case rpc.MethodAcknowledgePersistent:
		var p rpc.AckParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.engine.Acknowledge(p.SubscriptionID, p.SequenceID); err != nil {
			return nil, err
		}
		return true, nil

	case rpc.MethodPublishPersistent:
		var p rpc.PublishParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		m, notified, err := s.engine.PublishPersistent(ctx, p.Topic, p.Payload)
		if err != nil {
			return nil, err
		}
		return rpc.PublishPersistentResult{SequenceID: m.Seq, Notified: notified}, nil

	case rpc.MethodSubscribeBatch:
		var p rpc.SubscribeBatchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		items := make([]pubsub.EphemeralItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = pubsub.EphemeralItem{Pattern: it.Pattern, Filter: it.Filter}
		}
		if err := s.engine.SubscribeEphemeralBatch(c, items); err != nil {
			return nil, err
		}
		return true, nil

	case rpc.MethodSubscribePersistentBatch:
		var p rpc.SubscribeBatchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		items := make([]pubsub.SubscribeItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = pubsub.SubscribeItem{SubscriptionID: it.SubscriptionID, Pattern: it.Pattern}
		}
		results, err := s.engine.SubscribeBatch(ctx, items, c)
		if err != nil {
			return nil, err
		}
		out := rpc.SubscribeBatchResult{Items: make([]rpc.SubscribeResult, len(results))}
		for i, res := range results {
			out.Items[i] = rpc.SubscribeResult{
				ResumedFromSequence: res.ResumedFromSeq,
				UndeliveredCount:    res.Undelivered,
			}
		}
		return out, nil

	case rpc.MethodUnsubscribePersistentBatch:
		var p rpc.UnsubscribeBatchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		subIDs := make([]string, len(p.Items))
		for i, it := range p.Items {
			subIDs[i] = it.SubscriptionID
		}
		results, err := s.engine.UnsubscribeBatch(subIDs)
		if err != nil {
			return nil, err
		}
		out := rpc.UnsubscribeBatchResult{Items: make([]rpc.BatchItemStatus, len(results))}
		for i, res := range results {
			out.Items[i] = itemStatus(res.SubscriptionID, res.Err)
		}
		return out, nil

	case rpc.MethodAcknowledgePersistentBatch:
		var p rpc.AckBatchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		items := make([]pubsub.AckItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = pubsub.AckItem{SubscriptionID: it.SubscriptionID, Seq: it.SequenceID}
		}
		results, err := s.engine.AcknowledgeBatch(items)
		if err != nil {
			return nil, err
		}
		out := rpc.AckBatchResult{Items: make([]rpc.BatchItemStatus, len(results))}
		for i, res := range results {
			out.Items[i] = itemStatus(res.SubscriptionID, res.Err)
		}
		return out, nil

	case rpc.MethodPublishPersistentBatch:
		var p rpc.PublishBatchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		items := make([]pubsub.PublishItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = pubsub.PublishItem{Topic: it.Topic, Payload: it.Payload}
		}
		results, err := s.engine.PublishBatch(ctx, items)
		if err != nil {
			return nil, err
		}
		out := rpc.PublishBatchResult{Items: make([]rpc.PublishBatchItem, len(results))}
		for i, res := range results {
			item := rpc.PublishBatchItem{Topic: res.Topic, SequenceID: res.Seq, Notified: res.Notified}
			if res.Err != nil {
				item.Error = res.Err.Error()
			}
			out.Items[i] = item
		}
		return out, nil

	case rpc.MethodTopicsRegister:
		var p rpc.TopicsRegisterParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		meta, err := s.engine.RegisterTopic(p.Topic, topics.RetentionPolicy{
			MaxAgeMs: p.Retention.MaxAgeMs,
			MaxCount: p.Retention.MaxCount,
			MaxBytes: p.Retention.MaxBytes,
		})
		if err != nil {
			return nil, err
		}
		return rpc.TopicsRegisterResult{Topic: meta.Name}, nil

	default:
		return nil, &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}

func itemStatus(subID string, err error) rpc.BatchItemStatus {
	st := rpc.BatchItemStatus{SubscriptionID: subID, OK: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
