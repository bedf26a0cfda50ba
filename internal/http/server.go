// README: API gateway; builds the gin engine and owns the HTTP server lifecycle.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ridedispatch/internal/config"
	"ridedispatch/internal/infra"
	"ridedispatch/internal/logger"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/matching"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/notify"
)

type ServerDeps struct {
	Order    *order.Service
	Matching *matching.Service
	Location *location.Service
	Hub      *notify.Hub
	Verifier infra.TokenVerifier
	Log      logrus.FieldLogger
}

type Server struct {
	srv             *http.Server
	log             logrus.FieldLogger
	shutdownTimeout time.Duration
}

func NewServer(cfg config.HTTPConfig, deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log:             deps.Log,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
