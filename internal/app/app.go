// Package app собирает зависимости движка из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/appointment-lifecycle/internal/calendar"
	"github.com/Leganyst/appointment-lifecycle/internal/config"
	"github.com/Leganyst/appointment-lifecycle/internal/db"
	"github.com/Leganyst/appointment-lifecycle/internal/httpapi"
	"github.com/Leganyst/appointment-lifecycle/internal/notify"
	"github.com/Leganyst/appointment-lifecycle/internal/payment"
	"github.com/Leganyst/appointment-lifecycle/internal/repository"
	"github.com/Leganyst/appointment-lifecycle/internal/runstate"
	"github.com/Leganyst/appointment-lifecycle/internal/scheduler"
	"github.com/Leganyst/appointment-lifecycle/internal/service"
)

type App struct {
	Config *config.Config
	Log    logrus.FieldLogger
	DB     *gorm.DB
	Clock  calendar.Clock
	Rules  calendar.Rules

	AutoUpdate    *service.AutoUpdateService
	Trials        *service.TrialService
	Subscriptions *service.SubscriptionService
	Reschedule    *service.RescheduleService
	Stats         *service.AppointmentStats
	Jobs          *scheduler.Jobs
	RunState      runstate.Store

	dispatcher *notify.Dispatcher
	closers    []func() error
}

// NewLogger настраивает logrus по LOG_LEVEL и LOG_JSON.
func NewLogger(level string, asJSON bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if asJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// Rules: правила времени из конфигурации движка.
func Rules(cfg config.EngineConfig) calendar.Rules {
	return calendar.Rules{
		Location:        cfg.Location(),
		AutoConfirmLead: cfg.AutoConfirmLead,
		DefaultDuration: cfg.DefaultDuration,
		ArchiveAfter:    cfg.ArchiveAfter,
		TrialLength:     cfg.TrialLength(),
		RenewalPeriod:   cfg.RenewalPeriod,
	}
}

// New подключается к БД и хранилищу run state и собирает сервисы.
// clock=nil: системные часы.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, clock calendar.Clock) (*App, error) {
	if clock == nil {
		clock = calendar.SystemClock{}
	}

	gormDB, err := db.NewGormDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	a := &App{
		Config: cfg,
		Log:    log,
		DB:     gormDB,
		Clock:  clock,
		Rules:  Rules(cfg.Engine),
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := a.initRunState(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.initServices(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initRunState(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.Addr == "" {
		a.RunState = runstate.NewGormStore(a.DB)
		a.Log.Info("run state: database")
		return nil
	}

	store, err := runstate.NewRedisStore(ctx, rc.Addr, rc.Password, rc.DB, rc.Prefix)
	if err != nil {
		return fmt.Errorf("init redis run state: %w", err)
	}
	a.RunState = store
	a.closers = append(a.closers, store.Close)
	a.Log.WithField("addr", rc.Addr).Info("run state: redis")
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	appts := repository.NewGormAppointmentRepository(a.DB)
	profiles := repository.NewGormProfileRepository(a.DB)
	subs := repository.NewGormSubscriptionRepository(a.DB)
	plans := repository.NewGormPlanRepository(a.DB)
	events := repository.NewGormEventRepository(a.DB)

	email := notify.NewEmailSender(notify.EmailConfig{
		Host:     cfg.Notify.SMTPHost,
		Port:     cfg.Notify.SMTPPort,
		User:     cfg.Notify.SMTPUser,
		Password: cfg.Notify.SMTPPassword,
		From:     cfg.Notify.SMTPFrom,
	})
	chat, err := notify.NewTelegramSender(cfg.Notify.TelegramToken)
	if err != nil {
		return err
	}
	if email.Mock() {
		a.Log.Warn("SMTP_HOST not set: e-mail notifications run in mock mode")
	}
	if chat.Mock() {
		a.Log.Warn("TELEGRAM_BOT_TOKEN not set: telegram notifications run in mock mode")
	}
	gateway := notify.NewGateway(email, chat, cfg.Notify.Timeout, a.Rules.Location, a.Log.WithField("component", "notify"))
	a.dispatcher = notify.NewDispatcher(gateway, a.Log)

	provider := payment.New(payment.Config{
		BaseURL:    cfg.Payment.BaseURL,
		APIKey:     cfg.Payment.APIKey,
		SecretKey:  cfg.Payment.SecretKey,
		AppBaseURL: cfg.Payment.AppBaseURL,
		Timeout:    cfg.Payment.Timeout,
		MaxRetries: cfg.Payment.MaxRetries,
		Currency:   cfg.Payment.Currency,
	}, a.Log)
	if provider.Mock() {
		a.Log.Warn("REVENIU keys not set: payment provider runs in mock mode")
	}

	workers := cfg.Engine.Workers
	a.AutoUpdate = service.NewAutoUpdateService(appts, events, a.dispatcher, a.Rules, a.Clock, workers, a.Log)
	a.Trials = service.NewTrialService(profiles, subs, events, a.Rules, a.Clock, workers, a.Log)
	a.Subscriptions = service.NewSubscriptionService(plans, subs, profiles, events, provider, a.Rules, a.Clock, cfg.Payment.Currency, a.Log)
	a.Reschedule = service.NewRescheduleService(appts, profiles, events, gateway, a.Log)
	a.Stats = service.NewAppointmentStats(appts)
	a.Jobs = scheduler.NewJobs(a.AutoUpdate, a.Trials, a.Subscriptions, a.RunState, a.Clock, a.Log)
	return nil
}

func (a *App) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, a.DB, a.Config.DB.Driver)
}

// Ping: доступность БД для health-проверок.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) HTTPServer() *httpapi.Server {
	h := a.Config.HTTP
	return httpapi.NewServer(httpapi.Config{
		CronSecret:            h.CronSecret,
		AdminJWTSecret:        h.AdminJWTSecret,
		UserJWTSecret:         h.UserJWTSecret,
		TrustProxyHeaders:     h.TrustProxyHeaders,
		WebhookSecret:         h.WebhookSecret,
		AutoUpdateMinInterval: h.AutoUpdateMinInterval,
		PublicRPS:             h.PublicRPS,
		PublicBurst:           h.PublicBurst,
	}, httpapi.Deps{
		Jobs:          a.Jobs,
		Subscriptions: a.Subscriptions,
		Rescheduler:   a.Reschedule,
		Stats:         a.Stats,
		Health:        a.Ping,
		Clock:         a.Clock,
		Log:           a.Log,
	})
}

func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	c := a.Config.Cron
	return scheduler.New(a.Jobs, scheduler.Config{
		Location:       a.Rules.Location,
		AutoUpdateSpec: c.AutoUpdateSpec,
		TrialsSpec:     c.TrialsSpec,
		AuditSpec:      c.AuditSpec,
	}, a.Log)
}

// Close дожидается фоновых уведомлений и закрывает соединения.
func (a *App) Close() error {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
