package app

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"netmaster/internal/alerts"
	"netmaster/internal/auth"
	"netmaster/internal/config"
	"netmaster/internal/db"
	"netmaster/internal/jobs"
	"netmaster/internal/logger"
	"netmaster/internal/notifier"
	"netmaster/internal/ratelimit"
	"netmaster/internal/retention"
	"netmaster/internal/status"
	"netmaster/internal/tlscert"
	"netmaster/internal/web"
)

const (
	sweepSpec     = "@every 5m"
	retentionSpec = "@every 6h"
)

type App struct {
	cfg config.Config
	log *logger.Logger

	db     *db.Repository
	redis  *redis.Client
	memory *ratelimit.Memory

	alerts    *alerts.Engine
	retention *retention.Service
	jobs      *jobs.Scheduler
	web       *web.Server

	httpSrv *http.Server
}

func New(cfg config.Config, logger *logger.Logger) (*App, error) {
	user, hash, err := cfg.ServerCredentials()
	if err != nil {
		return nil, err
	}
	authenticator, err := auth.New(user, hash)
	if err != nil {
		return nil, err
	}

	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	repo := db.NewRepository(sqldb)

	app := &App{cfg: cfg, log: logger, db: repo, jobs: jobs.New(logger.With("module", "jobs"))}
	limiter := app.limiter()

	dispatch := notifier.NewDispatcher(repo, nil, notifier.SMTPDefaults{Server: cfg.SMTPServer, Port: cfg.SMTPPort, From: cfg.SMTPFrom})
	app.alerts = alerts.NewEngine(repo, dispatch, logger.With("module", "alerts"))
	app.retention = retention.NewService(repo, cfg.RetentionDays, logger.With("module", "retention"))

	var tlsCfg *tls.Config
	if cfg.UseHTTPS {
		p := tlscert.NewProvider(cfg.CertFile, cfg.KeyFile, "", logger.With("module", "tls"))
		if tlsCfg, err = p.TLSConfig(); err != nil {
			logger.Warn("tls unavailable, serving plain http", "err", err)
			tlsCfg = nil
		}
	}

	app.web = web.NewServer(repo, status.NewService(repo, logger.With("module", "status")), app.alerts, dispatch, web.Options{
		Auth:       authenticator,
		Limiter:    limiter,
		Limits:     web.DefaultRouteLimits(ratelimit.Limit{PerMinute: cfg.RateLimitPerMinute, PerHour: cfg.RateLimitPerHour}),
		TrustProxy: cfg.TrustProxy,
		TLSEnabled: tlsCfg != nil,
	}, logger.With("module", "web"))

	if err := app.schedule(); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	app.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.web.Routes(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// limiter prefers the shared redis window and falls back to the in-process
// one when redis is not configured or unreachable.
func (a *App) limiter() ratelimit.Limiter {
	if a.cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := ratelimit.Dial(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err == nil {
			a.redis = client
			a.log.Info("rate limiter using redis", "addr", a.cfg.RedisAddr)
			return ratelimit.NewRedis(client, "")
		}
		a.log.Warn("redis unavailable, rate limiting in memory", "err", err)
	}
	a.memory = ratelimit.NewMemory(nil)
	return a.memory
}

func (a *App) schedule() error {
	if a.memory != nil {
		if err := a.jobs.Add("ratelimit-sweep", sweepSpec, func(context.Context) {
			if n := a.memory.Sweep(); n > 0 {
				a.log.Debug("rate limiter swept", "keys", n)
			}
		}); err != nil {
			return err
		}
	}
	return a.jobs.Add("retention", retentionSpec, a.retention.Run)
}

func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.httpSrv.TLSConfig != nil {
			a.log.Info("https server listening", "addr", a.cfg.Addr)
			err = a.httpSrv.ListenAndServeTLS("", "")
		} else {
			a.log.Info("http server listening", "addr", a.cfg.Addr)
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.jobs.Start(ctx)
	// immediate first run
	_ = a.jobs.RunNow("retention")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.log.Error("http server failed", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "err", err)
	}
	a.jobs.Stop(shutdownCtx)
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return errors.Join(runErr, a.db.DB().Close())
}
