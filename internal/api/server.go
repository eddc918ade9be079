package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
	"github.com/dashclip/dashclip-agent/internal/worker"
)

// Submitter triggers processing of a registered video.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request, mode pipeline.Mode) (*pipeline.Result, error)
}

// ConfigStore holds agent settings such as the API token.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// WorkerStats reports background pool activity.
type WorkerStats interface {
	Stats() worker.Stats
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host        string
	Port        int
	Catalog     catalog.CatalogService
	Settings    ConfigStore
	Dispatcher  Submitter
	DefaultMode pipeline.Mode
	Workers     WorkerStats
	Doctor      *mediatools.CachedDoctor
	Logger      *slog.Logger
	StartTime   time.Time
	DeviceID    string
	Version     string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	return &Server{
		httpServer: &http.Server{
			Addr:        net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// sync processing holds the response open for the whole run
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
