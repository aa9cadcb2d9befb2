package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/service/capture"
)

// Server wires the handler, the capture middleware, and the process-level
// endpoints into one http.Server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	cfg        config.ServerConfig
}

func NewServer(cfg config.ServerConfig, handler *Handler, mw *capture.Middleware, logger *zap.Logger) *Server {
	mux := handler.Router()
	mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = mux
	if mw != nil {
		root = mw.Handler(mux)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
