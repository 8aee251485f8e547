// Package ops exposes the operational HTTP surface of the depositor:
// health, prometheus metrics, and a CSV dump of current sword statuses.
package ops

import (
	"context"
	"encoding/csv"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/metrics"
)

// StatusSource provides the account/status projections the ops endpoints
// serve.
type StatusSource interface {
	WithSwordActivated(ctx context.Context) ([]*db.Account, error)
	GetRepositoryStatus(ctx context.Context, accountID string) (*db.RepositoryStatus, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the ops HTTP handler set.
type Server struct {
	store  StatusSource
	health HealthChecker
	logger *zap.Logger
}

// New creates the ops server.
func New(store StatusSource, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{store: store, health: health, logger: logger}
}

// Router builds the chi router for the ops endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status.csv", s.handleStatusCSV)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Health(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStatusCSV streams "id,status" rows for every sword-activated
// account, with an empty status for accounts that have never deposited.
func (s *Server) handleStatusCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := s.store.WithSwordActivated(ctx)
	if err != nil {
		s.logger.Error("failed to list sword activated accounts", zap.Error(err))
		http.Error(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "status"})

	for _, acc := range accounts {
		status := ""
		rs, err := s.store.GetRepositoryStatus(ctx, acc.ID)
		if err != nil {
			s.logger.Error("failed to load repository status",
				zap.Error(err),
				zap.String("account_id", acc.ID),
			)
			http.Error(w, "failed to load status", http.StatusInternalServerError)
			return
		}
		if rs != nil {
			status = rs.Status
		}
		_ = cw.Write([]string{acc.ID, status})
	}

	cw.Flush()
}
