// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           5000,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   17 << 20,
	}
}

// NewRouter 组装路由与中间件
func NewRouter(config ServerConfig, handler *Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(
		RecoveryMiddleware(logger),
		middleware.RealIP,
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	// WebSocket连接不经过压缩与请求体限制
	handler.RegisterStreams(r)

	r.Group(func(r chi.Router) {
		r.Use(
			RequestSizeMiddleware(config.MaxBodyBytes),
			middleware.Compress(5, "application/json"),
		)
		handler.RegisterRoutes(r)
	})

	return r
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, handler *Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewRouter(config, handler, logger),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("events", fmt.Sprintf("ws://localhost%s/api/ws/training", s.server.Addr)))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
