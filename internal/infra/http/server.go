package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/config"
)

// Server runs the public listener: gateway webhooks, checkout and admin routes.
type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.RequestTimeout,
			// handlers get RequestTimeout; leave room to write the 503
			WriteTimeout: cfg.RequestTimeout + 5*time.Second,
			IdleTimeout:  2 * time.Minute,
		},
		log: &l,
	}
}

// Start serves until Shutdown. http.ErrServerClosed is reported as nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight webhooks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("draining")
	return s.srv.Shutdown(ctx)
}
