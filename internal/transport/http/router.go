package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MadHawkx/Synctelly/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Checker — зависимость, которую проверяет /healthz (postgres, redis).
type Checker interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Handler        *Handler
	WS             http.HandlerFunc
	AllowedOrigins []string
	Checks         map[string]Checker
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{httputil.HeaderRequestID},
		MaxAge:         300,
	}))

	// WS без таймаута и сжатия
	if d.WS != nil {
		r.Get("/ws/rooms/{name}", d.WS)
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(30 * time.Second))

		api.Get("/ping", Ping)
		api.Get("/healthz", healthz(d.Checks))

		if h := d.Handler; h != nil {
			api.Post("/createRoom", h.CreateRoom)
			api.Get("/subtitle/{hash}", h.Subtitle)
			api.With(middleware.Compress(5)).Get("/stats", h.Stats)
		}
	})

	return r
}

func healthz(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := make(map[string]string)
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				slog.Warn("health check failed", "dep", name, "err", err)
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			httputil.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
			return
		}
		httputil.OK(w, map[string]string{"status": "ok"})
	}
}
