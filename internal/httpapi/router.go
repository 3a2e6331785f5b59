// Package httpapi содержит HTTP-триггеры движка и административные ручки.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/metrics"
	"github.com/Leganyst/appointment-lifecycle/internal/service"
)

type BatchJobs interface {
	AutoUpdate(ctx context.Context) (*service.AutoUpdateResult, error)
	AutoUpdateIfDue(ctx context.Context, minInterval time.Duration) (*service.AutoUpdateResult, bool, time.Time, error)
	CheckTrials(ctx context.Context) (*service.TrialCheckResult, error)
	AuditProfiles(ctx context.Context) (*service.AuditResult, error)
}

type Subscriptions interface {
	CreatePlan(ctx context.Context, in service.PlanInput) (*service.PlanSummary, error)
	StartSubscription(ctx context.Context, in service.StartInput) (*service.StartResult, error)
	ActivateManual(ctx context.Context, userID uuid.UUID, providerSubscriptionID string) (*service.ActivationResult, error)
	ApplyProviderEvent(ctx context.Context, ev service.ProviderEvent) (*service.ProviderEventOutcome, error)
	SyncFromProvider(ctx context.Context, userID uuid.UUID) (*service.SyncResult, error)
}

type Rescheduler interface {
	Reschedule(ctx context.Context, in service.RescheduleInput) (*service.RescheduleResult, error)
}

type AppointmentStats interface {
	ActiveCount(ctx context.Context, professionalID uuid.UUID) (int64, error)
}

// HealthFunc: проверка зависимостей для /healthz.
type HealthFunc func(ctx context.Context) error

type Config struct {
	CronSecret     string
	AdminJWTSecret string
	UserJWTSecret  string
	WebhookSecret  string
	// X-Forwarded-For/X-Real-IP учитываются только за доверенным прокси.
	TrustProxyHeaders bool

	AutoUpdateMinInterval time.Duration
	PublicRPS             float64
	PublicBurst           int
}

type Deps struct {
	Jobs          BatchJobs
	Subscriptions Subscriptions
	Rescheduler   Rescheduler
	Stats         AppointmentStats
	Health        HealthFunc
	Clock         calendar.Clock
	Log           logrus.FieldLogger
}

type Server struct {
	cfg     Config
	jobs    BatchJobs
	subs    Subscriptions
	resched Rescheduler
	stats   AppointmentStats
	health  HealthFunc
	clock   calendar.Clock
	log     logrus.FieldLogger
	limiter *ipLimiter
}

func NewServer(cfg Config, d Deps) *Server {
	if d.Clock == nil {
		d.Clock = calendar.SystemClock{}
	}
	return &Server{
		cfg:     cfg,
		jobs:    d.Jobs,
		subs:    d.Subscriptions,
		resched: d.Rescheduler,
		stats:   d.Stats,
		health:  d.Health,
		clock:   d.Clock,
		log:     d.Log.WithField("component", "http"),
		limiter: newIPLimiter(cfg.PublicRPS, cfg.PublicBurst),
	}
}

// Close останавливает фоновую чистку лимитера.
func (s *Server) Close() {
	s.limiter.Close()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/cron", func(r chi.Router) {
			r.Use(bearerSecret(s.cfg.CronSecret))
			r.Post("/auto-update", s.handleAutoUpdate)
			r.Post("/check-trials", s.handleCheckTrials)
			r.Post("/audit-profiles", s.handleAuditProfiles)
		})

		r.With(s.limiter.Middleware).Post("/auto-update", s.handlePublicAutoUpdate)

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminJWT(s.cfg.AdminJWTSecret))
			r.Post("/subscriptions/activate", s.handleActivate)
			r.Post("/plans", s.handleCreatePlan)
		})

		r.With(headerSecret(webhookSecretHeader, s.cfg.WebhookSecret)).Post("/webhooks/reveniu", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(userJWT(s.cfg.UserJWTSecret, s.cfg.AdminJWTSecret))
			r.Post("/subscriptions", s.handleStartSubscription)
			r.Get("/subscriptions/{userId}/sync", s.handleSync)
			r.Patch("/appointments/{id}/schedule", s.handleReschedule)
			r.Get("/professionals/{id}/active-appointments", s.handleActiveCount)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
