package http

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

// Server serves one chi mux and stops when the run context ends
type Server struct {
	mux   *chi.Mux
	srv   *stdhttp.Server
	log   *logger.Logger
	grace time.Duration
}

// NewServer builds a server for addr; opts get the mux before any route is added
func NewServer(addr string, opts ...func(*chi.Mux)) *Server {
	m := chi.NewRouter()
	for _, o := range opts {
		o(m)
	}
	return &Server{
		mux:   m,
		log:   logger.Named("http"),
		grace: 5 * time.Second,
		srv: &stdhttp.Server{
			Addr:              addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Router returns a Router over the server mux
func (s *Server) Router() Router { return AdaptChi(s.mux) }

// Addr is the configured listen address
func (s *Server) Addr() string { return s.srv.Addr }

// Run listens on Addr and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "listen %s", s.srv.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down within the grace period
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown")
		}
	})
	defer stop()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("http listening")
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
