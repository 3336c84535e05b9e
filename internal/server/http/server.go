package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/protocol-kit/jrow/internal/runtime"
	"github.com/protocol-kit/jrow/internal/topics"
	"github.com/protocol-kit/jrow/pkg/log"
)

// Server is the admin surface: health, metrics and topic inspection.
// The pub/sub surface itself lives on the WebSocket listener.
type Server struct {
	rt     *runtime.Runtime
	logger log.Logger
	srv    *http.Server
	lis    net.Listener
}

func New(rt *runtime.Runtime, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewLogger()
	}
	mux := http.NewServeMux()
	s := &Server{rt: rt, logger: logger.With(log.Component("http")), srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/topics", s.handleTopics)
	mux.HandleFunc("/v1/topics/register", s.handleTopicRegister)
	mux.Handle("/metrics", rt.Metrics().Handler())
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type topicInfo struct {
	Name      string                 `json:"name"`
	Retention topics.RetentionPolicy `json:"retention"`
	FirstSeq  uint64                 `json:"first_sequence"`
	LastSeq   uint64                 `json:"last_sequence"`
	Count     uint64                 `json:"count"`
	Bytes     uint64                 `json:"bytes"`
}

// handleTopics lists every topic that has a log or a registration, with its
// current stats.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names, err := s.rt.Store().Topics()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	metas, err := s.rt.Topics().List()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	byName := make(map[string]topics.Meta, len(metas))
	seen := make(map[string]bool, len(names))
	for _, m := range metas {
		byName[m.Name] = m
	}
	for _, n := range names {
		seen[n] = true
	}
	for _, m := range metas {
		if !seen[m.Name] {
			names = append(names, m.Name)
		}
	}
	sort.Strings(names)

	out := make([]topicInfo, 0, len(names))
	for _, name := range names {
		info := topicInfo{Name: name, Retention: byName[name].Retention}
		if seen[name] {
			l, err := s.rt.Store().Open(name)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			st, err := l.Stats()
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			info.FirstSeq, info.LastSeq, info.Count, info.Bytes = st.FirstSeq, st.LastSeq, st.Count, st.Bytes
		}
		out = append(out, info)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"topics": out})
}

type registerReq struct {
	Topic     string                 `json:"topic"`
	Retention topics.RetentionPolicy `json:"retention"`
}

func (s *Server) handleTopicRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := s.rt.Engine().RegisterTopic(req.Topic, req.Retention); err != nil {
		s.logger.Warn("topic register rejected", log.Str("topic", req.Topic), log.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
