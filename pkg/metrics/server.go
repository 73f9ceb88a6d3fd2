package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shepherd-os/shepherd/pkg/logging"
)

const shutdownGrace = 5 * time.Second

// StatusFunc snapshots the agent's current state for the status endpoint.
// It must be safe to call from any goroutine.
type StatusFunc func() interface{}

// Server exposes Prometheus metrics and a JSON status endpoint on a local
// listener. The status endpoint stays available even when the agent has
// halted forward progress on updates.
type Server struct {
	log logging.Logger
	srv *http.Server
}

// NewServer wires the /metrics and /status routes.
func NewServer(log logging.Logger, addr string, m *Metrics, status StatusFunc) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			log.WithError(err).Error("unable to encode status")
		}
	}).Methods(http.MethodGet)

	return &Server{
		log: log,
		srv: &http.Server{Addr: addr, Handler: router},
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		errs <- s.srv.ListenAndServe()
	}()
	s.log.WithField("addr", s.srv.Addr).Info("status listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
