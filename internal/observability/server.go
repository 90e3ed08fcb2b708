package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// StatusFunc reports the agent state served on /status.
type StatusFunc func(ctx context.Context) (any, error)

// Server is the optional local listener exposing /metrics, /healthz and
// /status.
type Server struct {
	router chi.Router
	server *http.Server
}

func NewServer(addr string, status StatusFunc) *Server {
	RegisterMetrics()
	s := &Server{router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Use(RequestMetrics)
	s.router.Use(RequestLogger(ComponentLogger("http")))

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		v, err := status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("observability.Server.Run listen=%q", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
