// Package httpapi exposes the notification passes over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"auth_expiry_notifier/internal/app"
	"auth_expiry_notifier/internal/domain/apikey"
	"auth_expiry_notifier/internal/domain/errs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Config struct {
	APIKeyHeader string
	ServiceName  string
	Version      string
}

type Server struct {
	svc      app.NotificationService
	keys     apikey.Repository
	checks   map[string]ReadinessCheck
	gatherer prometheus.Gatherer
	cfg      Config
	logger   *logrus.Entry
	now      func() time.Time
}

func NewServer(svc app.NotificationService, keys apikey.Repository, checks map[string]ReadinessCheck, gatherer prometheus.Gatherer, cfg Config, logger *logrus.Entry) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	return &Server{
		svc:      svc,
		keys:     keys,
		checks:   checks,
		gatherer: gatherer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/auths", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/notify-auth-expiry", s.handleNotifyExpiry)
		r.Post("/queue-auth-expiry", s.handleQueueExpiry)
		r.Post("/notify-auth-expiry/user", s.handleNotifyResource)
		r.Post("/send_notification", s.handleSendNotification)
		r.Get("/expiring", s.handleListExpiring)
		r.Post("/test-email", s.handleTestEmail)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindInvalidState, errs.KindConflict:
		return http.StatusConflict
	case errs.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	log := s.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context()))
	if status >= 500 {
		log.Error(msg)
	} else {
		log.Warn(msg)
	}
	writeError(w, status, errs.KindOf(err), msg+": "+err.Error())
}
