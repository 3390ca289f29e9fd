package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/auth"
)

// Routes builds the application router: liveness and readiness checks, the
// websocket endpoint, the test page, metrics and the /api REST surface.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/health", a.handleHealth)
	r.Get("/test", TestPageHandler)
	r.HandleFunc("/ws", a.WebSocketHandler)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", a.register)
		r.Post("/users/login", a.login)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(a.auth, a.fail))
			admin := auth.RequireAdmin(a.fail)

			r.Get("/groups", a.listGroups)
			r.With(admin).Post("/groups", a.createGroup)
			r.With(admin).Get("/groups/admin/pending", a.adminPending)
			r.Post("/groups/{groupID}/join", a.joinGroup)
			r.Post("/groups/{groupID}/leave", a.leaveGroup)
			r.With(admin).Get("/groups/{groupID}/pending", a.listPending)
			r.With(admin).Post("/groups/{groupID}/approve/{userID}", a.approve)
			r.With(admin).Post("/groups/{groupID}/reject/{userID}", a.reject)

			r.Post("/messages", a.postMessage)
			r.Get("/messages/{groupID}", a.listMessages)
		})
	})

	return r
}

// requestLogger logs one line per request. Websocket upgrades are logged
// when the handler returns, which is right after the upgrade.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
