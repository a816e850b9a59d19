package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Server struct {
	HTTP *http.Server
	name string
	log  *zap.Logger
}

type Options struct {
	Addr        string
	ServiceName string
	Logger      *zap.Logger
	Router      chi.Router
}

func New(opts Options) *Server {
	if opts.Router == nil {
		r := chi.NewRouter()
		opts.Router = r
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	// No WriteTimeout: viewing sessions hold long-lived websocket connections.
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           opts.Router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{HTTP: srv, name: opts.ServiceName, log: opts.Logger}
}

func (s *Server) Start(log *zap.Logger) error {
	if log == nil {
		log = s.log
	}
	log.Info("http server starting", zap.String("service", s.name), zap.String("addr", s.HTTP.Addr))
	err := s.HTTP.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.HTTP.Shutdown(ctx)
}
