package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/protocol-kit/jrow/internal/rpc"
	"github.com/protocol-kit/jrow/pkg/log"
)

// ErrClosed is returned by calls made after the connection went away.
var ErrClosed = errors.New("client: connection closed")

// Error is a server-side rejection. Data carries the machine-readable
// label for domain errors (already_active, invalid_pattern, ...).
type Error struct {
	Code    int
	Message string
	Data    string
}

func (e *Error) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Handler receives pushes for a subscription. Handlers run on the client's
// read goroutine, so a slow handler delays every later frame; hand off to a
// channel if the work is not trivial.
type Handler func(Push)

// Options configures Dial.
type Options struct {
	// URL is the ws:// or wss:// endpoint.
	URL    string
	Logger log.Logger
	// CallTimeout bounds each call when the caller's context has no
	// deadline. Defaults to 10s.
	CallTimeout time.Duration
	// OnPush receives pushes with no registered handler.
	OnPush Handler
	// Reconnect redials after a broken connection and replays every
	// subscription; durable delivery then resumes from the last
	// acknowledged sequence. Calls in flight when the connection breaks
	// fail and are not retried.
	Reconnect bool
	// ReconnectWait is the fixed pause between redial attempts.
	// Defaults to 500ms.
	ReconnectWait time.Duration
}

// Client is a WebSocket connection to a jrow server. All methods are safe
// for concurrent use. With Options.Reconnect the client redials a broken
// connection and replays its subscriptions; durable delivery then resumes
// from the last acknowledged sequence. Without it the caller redials and
// subscribes again itself.
type Client struct {
	url           string
	logger        log.Logger
	callTimeout   time.Duration
	onPush        Handler
	reconnect     bool
	reconnectWait time.Duration

	writeMu sync.Mutex
	ws      *websocket.Conn
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[string]chan rpc.Response
	subs    map[string]subSpec
	readErr error

	closeOnce sync.Once
	done      chan struct{}
}

// subSpec is what it takes to replay one subscription after a redial.
// Persistent subscriptions key by id, ephemeral ones by pattern.
type subSpec struct {
	persistent bool
	pattern    string
	filter     string
	handler    Handler
}

// Dial connects and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	reconnectWait := opts.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 500 * time.Millisecond
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:           opts.URL,
		ws:            ws,
		logger:        logger.With(log.Component("client")),
		callTimeout:   callTimeout,
		onPush:        opts.OnPush,
		reconnect:     opts.Reconnect,
		reconnectWait: reconnectWait,
		pending:       make(map[string]chan rpc.Response),
		subs:          make(map[string]subSpec),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.readErr = err
		c.mu.Unlock()
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.Close()
		c.writeMu.Unlock()
	})
}

func (c *Client) readLoop() {
	c.writeMu.Lock()
	ws := c.ws
	c.writeMu.Unlock()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !c.reconnect {
				c.fail(fmt.Errorf("client: read: %w", err))
				return
			}
			next, rerr := c.redial()
			if rerr != nil {
				c.fail(rerr)
				return
			}
			ws = next
			continue
		}
		var probe struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			c.logger.Warn("dropping unparseable frame", log.Err(err))
			continue
		}
		if probe.Method == rpc.MethodPush {
			c.dispatchPush(data)
			continue
		}
		var resp rpc.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping malformed response", log.Err(err))
			continue
		}
		c.mu.Lock()
		ch := c.pending[string(resp.ID)]
		delete(c.pending, string(resp.ID))
		c.mu.Unlock()
		if ch == nil {
			c.logger.Debug("response for unknown id", log.Str("id", string(resp.ID)))
			continue
		}
		ch <- resp
	}
}

func (c *Client) dispatchPush(data []byte) {
	var note rpc.Request
	if err := json.Unmarshal(data, &note); err != nil {
		c.logger.Warn("dropping malformed push", log.Err(err))
		return
	}
	var p rpc.PushParams
	if err := json.Unmarshal(note.Params, &p); err != nil {
		c.logger.Warn("dropping malformed push params", log.Err(err))
		return
	}
	push := Push{
		SubscriptionID: p.SubscriptionID,
		Topic:          p.Topic,
		SequenceID:     p.SequenceID,
		Timestamp:      p.Timestamp,
		Payload:        p.Payload,
	}
	c.mu.Lock()
	h := c.subs[p.SubscriptionID].handler
	c.mu.Unlock()
	if h == nil {
		h = c.onPush
	}
	if h == nil {
		c.logger.Debug("push with no handler", log.Str("subscription", p.SubscriptionID))
		return
	}
	h(push)
}

func (c *Client) write(v any) error {
	select {
	case <-c.done:
		return c.err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

// call sends a request and waits for the matching response.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	idRaw := json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10))
	req, err := rpc.NewRequest(idRaw, method, params)
	if err != nil {
		return err
	}

	ch := make(chan rpc.Response, 1)
	c.mu.Lock()
	c.pending[string(idRaw)] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, string(idRaw))
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err()
	case resp := <-ch:
		if resp.Error != nil {
			return fromWire(resp.Error)
		}
		if result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

func fromWire(e *rpc.Error) error {
	out := &Error{Code: e.Code, Message: e.Message}
	if s, ok := e.Data.(string); ok {
		out.Data = s
	}
	return out
}

func (c *Client) setSub(key string, s subSpec) {
	c.mu.Lock()
	c.subs[key] = s
	c.mu.Unlock()
}

func (c *Client) clearSub(key string) {
	c.mu.Lock()
	delete(c.subs, key)
	c.mu.Unlock()
}

// redial reconnects and replays every tracked subscription. It runs on the
// read goroutine; pending calls from the broken connection are failed up
// front because their responses are gone.
func (c *Client) redial() (*websocket.Conn, error) {
	c.failPending()
	for {
		select {
		case <-c.done:
			return nil, c.err()
		case <-time.After(c.reconnectWait):
		}
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("redial failed", log.Err(err))
			continue
		}
		if err := c.replaySubs(ws); err != nil {
			// likely already_active while the server still holds the old
			// binding; drop the socket and try again after the wait
			c.logger.Warn("resubscribe failed", log.Err(err))
			_ = ws.Close()
			continue
		}
		c.writeMu.Lock()
		old := c.ws
		c.ws = ws
		c.writeMu.Unlock()
		_ = old.Close()
		c.logger.Info("reconnected")
		return ws, nil
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpc.Response{Error: &rpc.Error{Code: rpc.CodeInternalError, Message: "connection reset"}}
		delete(c.pending, id)
	}
}

// replaySubs re-subscribes everything on a fresh socket. The read loop is
// parked, so responses are consumed here; backlog pushes interleaved with
// them go straight to the handlers.
func (c *Client) replaySubs(ws *websocket.Conn) error {
	c.mu.Lock()
	specs := make(map[string]subSpec, len(c.subs))
	for k, s := range c.subs {
		specs[k] = s
	}
	c.mu.Unlock()

	for key, s := range specs {
		idRaw := json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10))
		var params rpc.SubscribeParams
		method := rpc.MethodSubscribe
		if s.persistent {
			method = rpc.MethodSubscribePersistent
			params = rpc.SubscribeParams{SubscriptionID: key, Pattern: s.pattern}
		} else {
			params = rpc.SubscribeParams{Pattern: s.pattern, Filter: s.filter}
		}
		req, err := rpc.NewRequest(idRaw, method, params)
		if err != nil {
			return err
		}
		if err := ws.WriteJSON(req); err != nil {
			return err
		}
		if err := c.awaitResponse(ws, idRaw); err != nil {
			return fmt.Errorf("client: resubscribe %q: %w", key, err)
		}
	}
	return nil
}

func (c *Client) awaitResponse(ws *websocket.Conn, id json.RawMessage) error {
	deadline := time.Now().Add(c.callTimeout)
	for {
		_ = ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var probe struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}
		if probe.Method == rpc.MethodPush {
			c.dispatchPush(data)
			continue
		}
		if string(probe.ID) != string(id) {
			continue
		}
		var resp rpc.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Time{})
		if resp.Error != nil {
			return fromWire(resp.Error)
		}
		return nil
	}
}
