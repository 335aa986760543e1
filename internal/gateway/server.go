// Package gateway is the HTTP boundary of the backend: the chat endpoint the
// frontend talks to, the prospect file API (conversation, assets, uploads),
// the iframe preview, and the preview-reload WebSocket. Handlers stay thin;
// orchestration lives in brain and persistence in prospect/session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/brain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/preview"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/queue"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// TurnRunner runs one orchestrated chat turn. *brain.Brain satisfies it; tests
// substitute fakes.
type TurnRunner interface {
	RunTurn(ctx context.Context, prospectID string, messages []domain.Message) (*brain.TurnResult, error)
}

// Deps are the collaborators the handlers delegate to. Brain, Conversations
// and Prospects are required; the rest degrade gracefully when nil (no
// serialization, no audit rows, no preview pushes).
type Deps struct {
	Brain         TurnRunner
	Conversations domain.ConversationStore
	Prospects     *prospect.Store
	Images        prospect.ImageProcessor // nil means prospect.RealImageProcessor
	Hub           *preview.Hub            // nil disables /ws/preview
	Turns         *queue.TurnQueue        // nil runs turns unserialized
	Recorder      domain.TurnRecorder     // nil skips audit rows
	Logger        *slog.Logger
}

// Server is the HTTP server for the chat backend. Bearer auth, CORS and
// request logging wrap every route.
type Server struct {
	cfg         *domain.Config
	deps        Deps
	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
	listener    net.Listener
}

// NewServer builds a gateway server from config. Port 0 means pick a random
// port. Returns ErrInvalidPort if port is not in 0..65535, or an error when a
// required dependency is missing.
func NewServer(cfg *domain.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config must not be nil")
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if deps.Brain == nil {
		return nil, errors.New("gateway: brain must not be nil")
	}
	if deps.Conversations == nil {
		return nil, errors.New("gateway: conversation store must not be nil")
	}
	if deps.Prospects == nil {
		return nil, errors.New("gateway: prospect store must not be nil")
	}
	if deps.Images == nil {
		deps.Images = &prospect.RealImageProcessor{}
	}

	s := &Server{cfg: cfg, deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/conversation/{userId}", s.handleConversation)
	mux.HandleFunc("GET /api/assets/{userId}", s.handleListAssets)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("DELETE /api/assets/{userId}/{filename}", s.handleDeleteAsset)
	mux.HandleFunc("GET /preview/{userId}/{path...}", s.handlePreview)
	mux.HandleFunc("GET /ws/preview", s.handlePreviewWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if cfg.Gateway.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.Gateway.StaticDir)))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("NITYA backend"))
		})
	}

	handler := BearerAuth(cfg.Gateway.Auth.AuthToken)(mux)
	handler = RequestLog(s.log())(handler)
	handler = newCORS(cfg.Gateway.AllowedOrigins).Handler(handler)

	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) log() *slog.Logger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return slog.Default()
}

// defaultProspect resolves the prospect id for requests that omit userId.
func (s *Server) defaultProspect() string {
	if id := s.cfg.Prospects.DefaultID; id != "" {
		return id
	}
	return "default"
}

// maxUploadBytes is the per-file upload cap derived from config.
func (s *Server) maxUploadBytes() int64 {
	mb := s.cfg.Prospects.MaxUploadMB
	if mb <= 0 {
		mb = 10
	}
	return int64(mb) << 20
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has
// started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any. Used
// when Addr() is still empty after Run() has been started.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the HTTP handler used by the server (middleware chain +
// routes). For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force
// Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until shutdown is closed.
// Returns nil when shutdown.
func (s *Server) Run(shutdown <-chan struct{}) error {
	addr := ":" + strconv.Itoa(s.cfg.Gateway.Port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = serverShutdown(s.server, ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// serverShutdown is the function used to shut down the server; tests may
// replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}

// errorEnvelope is the uniform error body: {"error": "...", "details": "..."}.
// The orchestrator's internal taxonomy never reaches the client verbatim.
type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e errorEnvelope) String() string {
	if e.Details == "" {
		return e.Error
	}
	return fmt.Sprintf("%s: %s", e.Error, e.Details)
}
