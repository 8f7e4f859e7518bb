package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/secmon-lab/changegate/pkg/usecase"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

type Server struct {
	router         *chi.Mux
	uc             *usecase.UseCases
	enableMetrics  bool
	syncTrigger    func()
	streamInterval time.Duration
}

type Options func(*Server)

// WithMetrics exposes the Prometheus registry on /metrics
func WithMetrics(enabled bool) Options {
	return func(s *Server) {
		s.enableMetrics = enabled
	}
}

// WithSyncTrigger registers POST /api/sync/trigger, used by the device agent to
// start a sync cycle immediately
func WithSyncTrigger(trigger func()) Options {
	return func(s *Server) {
		s.syncTrigger = trigger
	}
}

// WithStreamHeartbeat sets the interval of SSE keep-alive comments
func WithStreamHeartbeat(interval time.Duration) Options {
	return func(s *Server) {
		s.streamInterval = interval
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:         r,
		uc:             uc,
		streamInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	if s.enableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if !uc.Auth.IsNoAuthn() {
			r.Post("/auth/token", authTokenHandler(uc.Auth))
		}

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(uc.Auth))

			r.Route("/change-requests", func(r chi.Router) {
				r.Get("/", listChangeRequestsHandler(uc))
				r.Post("/", createChangeRequestHandler(uc))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", getChangeRequestHandler(uc))
					r.Delete("/", deleteChangeRequestHandler(uc))
					r.Get("/history", historyHandler(uc))
					r.Post("/transition", transitionHandler(uc))
					r.Post("/resubmit", resubmitHandler(uc))
					r.Get("/risk", getRiskHandler(uc))
					r.Put("/risk", assessRiskHandler(uc))
				})
			})
			r.Get("/tickets/{ticket}", getByTicketHandler(uc))
			r.Get("/workflow", workflowHandler(uc))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", listNotificationsHandler(uc))
				r.Get("/unread-count", unreadCountHandler(uc))
				r.Get("/stream", streamHandler(uc, s.streamInterval))
				r.Post("/read-all", markAllReadHandler(uc))
				r.Post("/{id}/read", markReadHandler(uc))
				r.Delete("/{id}", deleteNotificationHandler(uc))
			})

			r.Get("/sync", exportHandler(uc))
			r.Post("/sync", importHandler(uc))
			if s.syncTrigger != nil {
				r.Post("/sync/trigger", syncTriggerHandler(s.syncTrigger))
			}
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// requestLogger binds a logger carrying the request ID to the request context
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}
