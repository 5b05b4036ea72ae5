package web

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"pi-motion-recorder/config"
	"pi-motion-recorder/storage"

	"go.uber.org/zap"
)

// Server represents the main web server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	listener   net.Listener

	hub      *Hub
	handlers *Handlers
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, store *storage.Store, hub *Hub, logger *zap.Logger) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		hub:      hub,
		handlers: NewHandlers(cfg, store, hub, logger),
	}
}

// Handlers returns the request handlers, for registering status sources
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// routes builds the request multiplexer with middleware applied
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handlers.HandleHome)

	// API endpoints
	mux.HandleFunc("GET /api/status", s.handlers.HandleAPIStatus)
	mux.HandleFunc("GET /api/config", s.handlers.HandleAPIConfig)
	mux.HandleFunc("GET /api/captures", s.handlers.HandleAPICaptures)
	mux.HandleFunc("GET /api/captures/{name}", s.handlers.HandleAPICapture)
	mux.HandleFunc("GET /api/captures/{name}/stats", s.handlers.HandleAPICaptureStats)
	mux.HandleFunc("GET /api/captures/{name}/video", s.handlers.HandleAPICaptureVideo)

	// Live capture feed
	if s.hub != nil {
		mux.HandleFunc("/ws/captures", s.hub.HandleWebSocket)
	}

	// Health check
	mux.HandleFunc("/health", s.handlers.HandleHealth)

	return s.addMiddleware(mux)
}

// Start starts the web server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Server.WebPort)
	s.logger.Info("Starting web server", zap.String("address", addr))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// No write timeout: video downloads and the WebSocket feed are long lived.
	s.httpServer = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the address the server is listening on
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// addMiddleware adds middleware to the HTTP handler
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler.ServeHTTP(lw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Stop stops the web server
func (s *Server) Stop(timeout time.Duration) error {
	s.logger.Info("Stopping web server")

	if s.httpServer == nil {
		return nil
	}

	if s.hub != nil {
		s.hub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Web server stopped")
	return nil
}
