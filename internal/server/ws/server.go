package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/protocol-kit/jrow/internal/pubsub"
	"github.com/protocol-kit/jrow/pkg/id"
	"github.com/protocol-kit/jrow/pkg/log"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultSendBuffer   = 256
	defaultMaxMessage   = 1 << 20 // 1 MiB
)

// Options configures the WebSocket server.
type Options struct {
	Engine          *pubsub.Engine
	Logger          log.Logger
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// Server upgrades HTTP requests to WebSocket connections and routes their
// JSON-RPC traffic into the engine. Each connection gets a generated id,
// one reader (the request goroutine) and one writer goroutine; a closed
// socket detaches the connection from the engine, which releases its
// durable bindings and drops its ephemeral subscriptions.
type Server struct {
	engine       *pubsub.Engine
	logger       log.Logger
	upgrader     websocket.Upgrader
	ids          *id.Generator
	writeTimeout time.Duration
	sendBuffer   int
	maxMessage   int64

	mu    sync.Mutex
	conns map[id.ID]*conn
}

// NewServer creates a Server over the engine.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	maxMessage := opts.MaxMessageBytes
	if maxMessage <= 0 {
		maxMessage = defaultMaxMessage
	}
	return &Server{
		engine: opts.Engine,
		logger: logger.With(log.Component("ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ids:          id.NewGenerator(),
		writeTimeout: writeTimeout,
		sendBuffer:   sendBuffer,
		maxMessage:   maxMessage,
		conns:        make(map[id.ID]*conn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", log.Err(err))
		return
	}

	connID := s.ids.Next()
	c := newConn(connID, wsc, s.logger, s.writeTimeout, s.sendBuffer)
	s.mu.Lock()
	s.conns[connID] = c
	s.mu.Unlock()
	s.engine.AttachConsumer(c)
	s.logger.Info("connection opened", log.Str("conn", connID.String()))

	go c.writeLoop()
	s.readLoop(r.Context(), c)

	s.engine.DetachConsumer(connID)
	c.close()
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
	s.logger.Info("connection closed", log.Str("conn", connID.String()))
}

// ListenAndServe serves WebSocket upgrades on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	hs := &http.Server{Handler: s}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(cctx)
		s.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close terminates every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
