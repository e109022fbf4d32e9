package web

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"netmaster/internal/auth"
	"netmaster/internal/db"
	"netmaster/internal/logger"
	"netmaster/internal/models"
	"netmaster/internal/notifier"
	"netmaster/internal/ratelimit"
	"netmaster/internal/status"
)

const Version = "1.0.0"

//go:embed static/*
var webFS embed.FS

type Store interface {
	SaveSample(ctx context.Context, s models.Sample) (int64, error)
	History(ctx context.Context, f db.HistoryFilter) ([]models.Sample, error)
	RecentSince(ctx context.Context, hostID string, since time.Time) ([]models.Sample, error)
	ListThresholds(ctx context.Context) ([]models.Threshold, error)
	UpsertThreshold(ctx context.Context, hostID, metric string, limit float64, enabled bool) error
	DismissAlert(ctx context.Context, id int64) (bool, error)
	ListNotificationConfigs(ctx context.Context) ([]models.NotificationConfig, error)
	UpsertNotificationConfig(ctx context.Context, typ string, cfg json.RawMessage, enabled bool) error
	Ping(ctx context.Context) error
}

type Views interface {
	Stats(ctx context.Context) status.Stats
	Agents(ctx context.Context) []status.AgentView
	Agent(ctx context.Context, id int) (status.AgentView, bool)
	ActiveAlerts(ctx context.Context) []status.AlertView
}

type Evaluator interface {
	Evaluate(ctx context.Context, s models.Sample) ([]models.Alert, error)
}

type Notifications interface {
	Supports(typ string) bool
	Test(ctx context.Context, typ string, msg notifier.Message) error
}

type Options struct {
	Auth       *auth.Authenticator
	Limiter    ratelimit.Limiter
	Limits     map[string]ratelimit.Limit
	TrustProxy bool
	TLSEnabled bool
}

// DefaultRouteLimits returns per-group request budgets; read-heavy chart
// endpoints use def.
func DefaultRouteLimits(def ratelimit.Limit) map[string]ratelimit.Limit {
	return map[string]ratelimit.Limit{
		"report":        {PerMinute: 120, PerHour: 2000},
		"thresholds":    {PerMinute: 30, PerHour: 500},
		"notifications": {PerMinute: 20, PerHour: 200},
		"dismiss":       {PerMinute: 20, PerHour: 200},
		"stats":         {PerMinute: 30, PerHour: 500},
		"agents":        {PerMinute: 30, PerHour: 500},
		"alerts":        {PerMinute: 30, PerHour: 500},
		"realtime":      def,
		"history":       def,
		"health":        def,
	}
}

type Server struct {
	store    Store
	views    Views
	alerts   Evaluator
	notify   Notifications
	opts     Options
	log      *logger.Logger
	clientIP func(*http.Request) string
	now      func() time.Time
	started  time.Time
}

func NewServer(store Store, views Views, alerts Evaluator, notify Notifications, opts Options, logger *logger.Logger) *Server {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewMemory(nil)
	}
	if opts.Limits == nil {
		opts.Limits = DefaultRouteLimits(ratelimit.Limit{PerMinute: 60, PerHour: 1000})
	}
	return &Server{
		store:    store,
		views:    views,
		alerts:   alerts,
		notify:   notify,
		opts:     opts,
		log:      logger,
		clientIP: clientIPFunc(opts.TrustProxy),
		now:      time.Now,
		started:  time.Now(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, recovery(s.log), logMiddleware(s.log, s.clientIP))

	staticFS, _ := fs.Sub(webFS, "static")
	r.Get("/", s.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(api chi.Router) {
		api.Use(basicAuth(s.opts.Auth, s.log, s.clientIP))
		api.With(s.limit("report")).Post("/report", s.handleReport)
		api.With(s.limit("stats")).Get("/stats", s.handleStats)
		api.With(s.limit("realtime")).Get("/realtime", s.handleRealtime)
		api.With(s.limit("agents")).Get("/agents", s.handleAgents)
		api.With(s.limit("agents")).Get("/agents/{id}", s.handleAgent)
		api.With(s.limit("alerts")).Get("/alerts", s.handleAlerts)
		api.With(s.limit("dismiss")).Post("/alerts/{id}/dismiss", s.handleDismiss)
		api.With(s.limit("thresholds")).Get("/thresholds", s.handleListThresholds)
		api.With(s.limit("thresholds")).Post("/thresholds", s.handleSaveThresholds)
		api.With(s.limit("notifications")).Get("/notifications/config", s.handleListNotificationConfig)
		api.With(s.limit("notifications")).Post("/notifications/config", s.handleSaveNotificationConfig)
		api.With(s.limit("notifications")).Post("/notifications/test", s.handleTestNotification)
		api.With(s.limit("history")).Get("/history", s.handleHistory)
		api.With(s.limit("health")).Get("/health", s.handleHealth)
	})
	return r
}

func (s *Server) limit(group string) func(http.Handler) http.Handler {
	l, ok := s.opts.Limits[group]
	if !ok {
		l = ratelimit.Limit{PerMinute: 60, PerHour: 1000}
	}
	return rateLimit(s.opts.Limiter, group, l, s.log, s.clientIP)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	b, err := webFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	health := map[string]any{
		"status":          "healthy",
		"timestamp":       float64(now.UnixMilli()) / 1000,
		"server_uptime":   now.Sub(s.started).Seconds(),
		"database_status": "connected",
		"ssl_enabled":     s.opts.TLSEnabled,
		"version":         Version,
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health ping", "err", err)
		health["status"] = "degraded"
		health["database_status"] = "disconnected"
	}
	writeJSON(w, health)
}
