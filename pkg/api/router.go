// Package api exposes the engine over a local HTTP surface: folder and
// share management, transfer queues and operational introspection, all
// under /api/v1.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/api/auth"
	"github.com/usenetsync/usenetsync/pkg/api/handlers"
	"github.com/usenetsync/usenetsync/pkg/api/middleware"
	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// NewRouter configures the chi router with the middleware stack and all
// routes.
//
// Reads are open on the loopback interface; mutating routes require a
// session token from POST /auth/login. The metrics handler is mounted
// as-is when non-nil.
func NewRouter(svc *service.Service, sessions *auth.JWTService, metrics http.Handler, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware stack - order matters.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	h := handlers.New(svc)

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/users", h.CreateUser)
		r.Post("/auth/login", h.Login)

		r.Get("/stats", h.Stats)
		r.Get("/logs", h.Logs)

		r.Get("/folders", h.ListFolders)
		r.Get("/shares", h.ListShares)
		r.Post("/shares/{id}/verify", h.VerifyShare)
		r.Get("/upload/queue", h.UploadQueue)
		r.Get("/download", h.ListDownloads)
		r.Get("/download/{id}/progress", h.DownloadProgress)

		// Mutating routes need a session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(sessions))

			r.Post("/folders", h.AddFolder)
			r.Delete("/folders/{id}", h.RemoveFolder)
			r.Post("/folders/index", h.IndexFolder)

			r.Post("/shares", h.CreateShare)
			r.Delete("/shares/{id}", h.RevokeShare)
			r.Post("/shares/{id}/extend", h.ExtendShare)
			r.Post("/shares/{id}/recipients", h.AddRecipient)
			r.Delete("/shares/{id}/recipients/{userID}", h.RemoveRecipient)

			r.Post("/upload/queue", h.RequeueUpload)
			r.Post("/download/start", h.StartDownload)
		})
	})

	// Root redirect to health for convenience.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests through the internal logger: start at DEBUG,
// completion at INFO with status, bytes and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(float64(time.Since(start).Milliseconds())),
		)
	})
}
