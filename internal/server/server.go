package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/doc-encoder/internal/config"
	"github.com/raaihank/doc-encoder/internal/encoder"
	"github.com/raaihank/doc-encoder/internal/logger"
	"github.com/raaihank/doc-encoder/internal/store"
	"github.com/raaihank/doc-encoder/internal/websocket"
)

// Server exposes the encoder over HTTP
type Server struct {
	config      *config.Config
	logger      *logger.Logger
	encoder     *encoder.Encoder
	vectorStore *store.Store
	router      *mux.Router
	server      *http.Server
	wsHub       *websocket.Hub
	rateLimiter *rateLimiter
	startedAt   time.Time
}

// New creates a new server instance. The vector store is optional; when
// nil the /similar endpoint reports the store as unavailable.
func New(cfg *config.Config, enc *encoder.Encoder, vectorStore *store.Store, log *logger.Logger) (*Server, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoder is required")
	}

	// Create WebSocket hub
	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastEncodes:     true,
		BroadcastSystem:      true,
		BroadcastConnections: true,
	}, log.WithComponent("websocket").Logger)

	// Create router
	router := mux.NewRouter()

	server := &Server{
		config:      cfg,
		logger:      log.WithComponent("server"),
		encoder:     enc,
		vectorStore: vectorStore,
		router:      router,
		wsHub:       wsHub,
		startedAt:   time.Now(),
	}

	if cfg.Server.RateLimit.Enabled {
		server.rateLimiter = newRateLimiter(
			cfg.Server.RateLimit.RequestsPerSecond,
			cfg.Server.RateLimit.Burst,
		)
	}

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// WebSocket endpoint for event streaming
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	// Encoding endpoints
	api := s.router.NewRoute().Subrouter()
	api.Use(s.loggingMiddleware)
	if s.rateLimiter != nil {
		api.Use(s.rateLimitMiddleware)
	}
	api.HandleFunc("/encode", s.handleEncode).Methods("POST")
	api.HandleFunc("/similar", s.handleSimilar).Methods("POST")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting document encoder server",
		zap.Int("port", s.config.Server.Port),
		zap.String("model", s.config.Encoder.ModelName),
		zap.String("pooling", string(s.config.Encoder.Pooling)),
	)

	// Start WebSocket hub in a separate goroutine
	go s.wsHub.Run()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping document encoder server")
	return s.server.Shutdown(ctx)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

// Router returns the configured HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}
