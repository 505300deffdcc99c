// Package api serves the dashboard HTTP surface: login, live stats, price
// and latency history, wallet administration, control actions, and grid
// simulations. Authentication is a bearer token issued against a bcrypt
// password verifier; CORS is restricted to the configured origin allow-list.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"openbook-mm/internal/config"
)

// Server runs the dashboard HTTP API.
type Server struct {
	cfg    config.DashboardConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer wires the router, CORS, and auth middleware.
func NewServer(cfg config.DashboardConfig, auth *Auth, handlers *Handlers, logger *slog.Logger) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/health", handlers.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/login", handlers.HandleLogin).Methods(http.MethodPost)

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(auth.Middleware)
	authed.HandleFunc("/stats", handlers.HandleStats).Methods(http.MethodGet)
	authed.HandleFunc("/history", handlers.HandleHistory).Methods(http.MethodGet)
	authed.HandleFunc("/latency", handlers.HandleLatency).Methods(http.MethodGet)
	authed.HandleFunc("/wallets", handlers.HandleWallets).Methods(http.MethodGet)
	authed.HandleFunc("/wallets/add", handlers.HandleWalletAdd).Methods(http.MethodPost)
	authed.HandleFunc("/control", handlers.HandleControl).Methods(http.MethodPost)
	authed.HandleFunc("/simulation", handlers.HandleSimulation).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:    cfg,
		server: server,
		logger: logger.With("component", "api-server"),
	}
}

// Start blocks serving the API.
func (s *Server) Start() error {
	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.server.Handler }
