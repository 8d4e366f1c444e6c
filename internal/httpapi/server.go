package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/mohamurshid/AutoRemoveAi/internal/service"
)

const (
	// maxUploadMemory bounds the multipart form kept in memory; the rest of
	// an upload spills to temporary files.
	maxUploadMemory = 32 << 20
	// DefaultMaxUploadBytes caps a whole upload request body.
	DefaultMaxUploadBytes = 256 << 20
)

type Server struct {
	session   *service.Session
	baseCtx   context.Context
	heartbeat time.Duration
	maxUpload int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithBaseContext sets the context background batch runs and requests
// inherit. Cancelling it stops a running batch from starting further items
// and closes open event streams.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithHeartbeat sets how often idle event streams are pinged.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithMaxUploadBytes caps the size of an upload request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func NewServer(session *service.Session, opts ...Option) *Server {
	s := &Server{
		session:   session,
		baseCtx:   context.Background(),
		heartbeat: 15 * time.Second,
		maxUpload: DefaultMaxUploadBytes,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/items", s.handleItems)
	s.mux.HandleFunc("/api/items/stream", s.handleItemStream)
	s.mux.HandleFunc("/api/items/", s.handleItem)
	s.mux.HandleFunc("/api/process", s.handleProcessAll)
	s.mux.HandleFunc("/api/batch", s.handleBatch)
	s.mux.HandleFunc("/api/archive", s.handleArchive)
	s.mux.HandleFunc("/api/blobs/", s.handleBlob)
}
