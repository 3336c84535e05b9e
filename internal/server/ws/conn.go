package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/protocol-kit/jrow/internal/pubsub"
	"github.com/protocol-kit/jrow/internal/rpc"
	"github.com/protocol-kit/jrow/pkg/id"
	"github.com/protocol-kit/jrow/pkg/log"
)

var errSendBufferFull = errors.New("ws: send buffer full")

// conn wraps one WebSocket connection. All outbound frames (responses and
// pushes) funnel through sendCh into a single writer goroutine, which keeps
// gorilla's one-writer rule and preserves per-connection ordering.
type conn struct {
	id           id.ID
	ws           *websocket.Conn
	logger       log.Logger
	writeTimeout time.Duration

	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(connID id.ID, wsc *websocket.Conn, logger log.Logger, writeTimeout time.Duration, sendBuffer int) *conn {
	return &conn{
		id:           connID,
		ws:           wsc,
		logger:       logger.With(log.Str("conn", connID.String())),
		writeTimeout: writeTimeout,
		sendCh:       make(chan []byte, sendBuffer),
		closed:       make(chan struct{}),
	}
}

// ID implements pubsub.Consumer.
func (c *conn) ID() id.ID { return c.id }

// Deliver implements pubsub.Consumer by enqueueing an rpc.push notification.
// A full send buffer fails the delivery instead of blocking the engine;
// durable messages come back from the log on resume.
func (c *conn) Deliver(p pubsub.Push) error {
	note, err := rpc.NewNotification(rpc.MethodPush, rpc.PushParams{
		SubscriptionID: p.SubscriptionID,
		Topic:          p.Topic,
		SequenceID:     p.Seq,
		Timestamp:      p.TimestampMs,
		Payload:        json.RawMessage(p.Payload),
	})
	if err != nil {
		return err
	}
	buf, err := json.Marshal(note)
	if err != nil {
		return err
	}
	return c.enqueue(buf)
}

func (c *conn) send(resp rpc.Response) {
	buf, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("marshaling response failed", log.Err(err))
		return
	}
	if err := c.enqueue(buf); err != nil {
		c.logger.Warn("dropping response", log.Err(err))
	}
}

func (c *conn) enqueue(buf []byte) error {
	select {
	case <-c.closed:
		return errors.New("ws: connection closed")
	default:
	}
	select {
	case c.sendCh <- buf:
		return nil
	default:
		return errSendBufferFull
	}
}

// writeLoop is the sole writer on the socket.
func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case buf := <-c.sendCh:
			if c.writeTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.logger.Debug("write failed", log.Err(err))
				c.close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}
