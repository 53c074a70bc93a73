package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/glassflow/cassandra-dataset-etl/internal/api"
)

type Server struct {
	*http.Server
	log             *slog.Logger
	shutdownTimeout time.Duration
}

type Config struct {
	Addr            string        `default:":8080"`
	WriteTimeout    time.Duration `default:"15s" split_words:"true"`
	ReadTimeout     time.Duration `default:"15s" split_words:"true"`
	IdleTimeout     time.Duration `default:"5m" split_words:"true"`
	ShutdownTimeout time.Duration `default:"30s" split_words:"true"`
}

// NewHTTPServer serves health, metrics and ingest stats. stats may be nil.
func NewHTTPServer(cfg Config, stats api.StatsFunc, log *slog.Logger) *Server {
	handler := api.NewRouter(log, stats)

	//nolint: exhaustruct // optional server config
	return &Server{
		Server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log:             log,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

func (s *Server) Start() error {
	s.log.Info("HTTP server listening", slog.String("addr", s.Addr))

	err := s.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// configured shutdown timeout.
func (s *Server) Shutdown() error {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	err := s.Server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	return nil
}
