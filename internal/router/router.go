package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/upkab/approval-api/internal/config"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/handler"
	mw "github.com/upkab/approval-api/internal/middleware"
	"github.com/upkab/approval-api/internal/service"
	"github.com/upkab/approval-api/internal/ws"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Log       zerolog.Logger
	DB        Pinger
	Approvals *service.ApprovalService
	Sweeper   *service.ExpiryService
	Hub       *ws.Hub
}

// New creates a Chi router with all application routes wired up.
func New(cfg *config.Config, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(deps.Log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", health(deps.DB))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/units/{uid}/approvals", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps.Hub, cfg.JWTSecret, deps.Approvals, deps.Log, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		approvalHandler := handler.NewApprovalHandler(deps.Approvals, deps.Log)
		r.Route("/approvals", approvalHandler.RegisterRoutes)

		r.Route("/admin", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleSuperAdmin))
			sweepHandler := handler.NewSweepHandler(deps.Sweeper, deps.Log)
			sweepHandler.RegisterRoutes(r)
		})
	})

	deps.Log.Debug().Msg("router initialized")
	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok"}`))
	}
}
