// Package app wires configuration, logging, storage, ingestion, the weekly
// scheduler and the admin API into one runnable service.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"compdb/internal/config"
	"compdb/internal/ingest"
	"compdb/internal/notify"
	"compdb/internal/scheduler"
	"compdb/internal/server"
	"compdb/internal/source"
	"compdb/internal/store"
	logx "compdb/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	st    *store.Store
	ing   *ingest.Service
	sched *scheduler.Service
	srv   *server.Server

	wg       sync.WaitGroup
	fatalErr error
	done     chan struct{}
	doneOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	srcTimeout, err := config.ParseDurationField("source.timeout", cfg.Source.Timeout)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	src, err := source.New(source.Config{
		Endpoint:   cfg.Source.Endpoint,
		APIKey:     cfg.Source.APIKey,
		Model:      cfg.Source.Model,
		BatchSize:  cfg.Source.BatchSize,
		RatePerSec: cfg.Source.RatePerSec,
		Timeout:    srcTimeout,
	}, log.With(logx.String("comp", "source")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	ing := ingest.NewService(st, src, log.With(logx.String("comp", "ingest")))

	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		notif, err := notify.New(notify.Config{
			Enabled: true,
			Token:   cfg.Telegram.Token,
			ChatID:  cfg.Telegram.ChatID,
		}, log.With(logx.String("comp", "notify")))
		if err != nil {
			_ = st.Close()
			_ = logSvc.Close()
			return nil, err
		}
		ing.SetNotifier(notif)
	}

	loc := schedulerLocation(cfg.Scheduler.Timezone, log)
	sched := scheduler.New(ing, loc, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log,
		st:    st,
		ing:   ing,
		sched: sched,
		done:  make(chan struct{}),
	}, nil
}

// Scheduler exposes the scheduler handle (used by tests and tooling).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Start launches the admin API, the config watcher, and (when enabled in
// config) the weekly update scheduler. It returns immediately; use Done() to
// observe fatal errors.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	if cfg.Scheduler.Enabled {
		a.sched.Start()
	} else {
		a.log.Info("scheduler disabled by config")
	}

	a.srv = server.New(ctx, cfg.Server.Addr, a.sched, a.ing, a.log.With(logx.String("comp", "server")))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.fail(err)
		}
	}()

	// Hot reload: only logging knobs are applied live; everything else needs
	// a restart.
	sub := a.cfgm.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
		a.cfgm.Unsubscribe(sub)
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   c.Logging.Level,
					Console: c.Logging.Console,
					File: logx.FileConfig{
						Enabled: c.Logging.File.Enabled,
						Path:    c.Logging.File.Path,
					},
				})
			}
		}
	}()

	return nil
}

// Done is closed when a component fails fatally.
func (a *App) Done() <-chan struct{} { return a.done }

// Err returns the first fatal error (if any).
func (a *App) Err() error { return a.fatalErr }

func (a *App) fail(err error) {
	a.doneOnce.Do(func() {
		a.fatalErr = err
		a.log.Error("fatal component error", logx.Err(err))
		close(a.done)
	})
}

// Stop shuts everything down in dependency order.
func (a *App) Stop(ctx context.Context) error {
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.Warn("server shutdown", logx.Err(err))
		}
	}
	a.sched.Stop()
	a.wg.Wait()
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	return a.logs.Close()
}

func schedulerLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid scheduler timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
