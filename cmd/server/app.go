package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/api"
	"github.com/good-yellow-bee/lognexus/internal/api/health"
	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/ingest"
	"github.com/good-yellow-bee/lognexus/internal/logging"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/monitor"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/scheduler"
	"github.com/good-yellow-bee/lognexus/internal/storage"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

const (
	definitionsActor = "definitions"
	watchDebounce    = 500 * time.Millisecond
	shutdownTimeout  = 10 * time.Second
)

// app holds the wired server components.
type app struct {
	cfg *Config
	log *logrus.Logger

	store    *storage.SQLiteStorage
	logStore storage.LogStorage
	buffer   *storage.LogBuffer
	hub      *broadcast.Hub
	nats     *broadcast.NATSPublisher

	triggers  *alerting.TriggerService
	lifecycle *alerting.Lifecycle
	monitor   *monitor.Monitor
	api       *api.Server
	metrics   *metrics.Server

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *Config) (_ *app, err error) {
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	a := &app{cfg: cfg, log: logger, closers: []io.Closer{logCloser}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	a.store = storage.NewSQLiteStorage(cfg.Database.Path)
	if err := a.store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.store)
	if err := a.store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.WithField("path", cfg.Database.Path).Info("database initialized")

	if err := a.openLogStore(); err != nil {
		return nil, err
	}
	a.buffer = storage.NewLogBuffer(a.logStore.Logs(), &storage.LogBufferConfig{
		BatchSize:     cfg.Logs.Buffer.BatchSize,
		FlushInterval: cfg.Logs.Buffer.FlushInterval,
		MaxSize:       cfg.Logs.Buffer.MaxSize,
		Logger:        logger,
	})

	events, err := a.openBroadcast()
	if err != nil {
		return nil, err
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return nil, err
	}

	serverTimeout := time.Duration(cfg.Monitor.TimeoutSeconds) * time.Second
	eval := alerting.NewEvaluator(alerting.NewStoreFacts(a.store, a.logStore.Logs()), alerting.EvaluatorConfig{
		Queries:       alerting.NewExprQueryExecutor(a.logStore.Logs(), cfg.Alerting.CustomQueryMaxScan),
		ServerTimeout: serverTimeout,
	})
	a.triggers = alerting.NewTriggerService(a.store, eval, dispatcher, events, alerting.TriggerConfig{
		Workers: cfg.Alerting.Workers,
		Logger:  logger,
	})
	a.lifecycle = alerting.NewLifecycle(a.store.Instances(), events, alerting.LifecycleConfig{Logger: logger})
	a.monitor = monitor.New(a.store.Servers(), a.triggers, events, monitor.Config{
		Timeout:      serverTimeout,
		InitialDelay: time.Duration(cfg.Monitor.InitialDelaySeconds) * time.Second,
		Logger:       logger,
	})

	if cfg.Alerting.DefinitionsFile != "" {
		if err := a.syncDefinitionsFile(ctx); err != nil {
			return nil, err
		}
	}

	a.api, err = api.New(&api.Config{
		Address:           cfg.Server.HTTPAddress,
		QueryTimeout:      cfg.Server.QueryTimeout,
		StreamMaxDuration: cfg.Server.StreamMaxDuration,
		Verbose:           cfg.Verbose,
	}, api.Deps{
		Store:     a.store,
		Logs:      a.logStore.Logs(),
		Ingest:    ingest.NewService(a.store, a.buffer, a.triggers, events, ingest.Config{Logger: logger}),
		Triggers:  a.triggers,
		Lifecycle: a.lifecycle,
		Hub:       a.hub,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create api server: %w", err)
	}
	a.api.RegisterHealthChecker(health.NewPingChecker("sqlite", a.store))
	if cfg.Logs.Backend == "clickhouse" {
		a.api.RegisterHealthChecker(health.NewPingChecker("clickhouse", a.logStore))
	}
	if a.nats != nil {
		a.api.RegisterHealthChecker(health.NewPingChecker("nats", a.nats))
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.Address, logger)
	}
	return a, nil
}

func (a *app) openLogStore() error {
	if a.cfg.Logs.Backend != "clickhouse" {
		a.logStore = a.store
		return nil
	}
	ch := a.cfg.Logs.ClickHouse
	chStore := storage.NewClickHouseStorage(&storage.ClickHouseConfig{
		Addresses:     ch.Addresses,
		Database:      ch.Database,
		Username:      ch.Username,
		Password:      ch.Password,
		MaxOpenConns:  ch.MaxOpenConns,
		Compression:   ch.Compression,
		RetentionDays: a.cfg.Logs.RetentionDays,
		Logger:        a.log,
	})
	if err := chStore.Open(); err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	a.closers = append(a.closers, chStore)
	if err := chStore.Migrate(); err != nil {
		return fmt.Errorf("migrate clickhouse: %w", err)
	}
	a.logStore = chStore
	a.log.WithField("addresses", ch.Addresses).Info("clickhouse log storage initialized")
	return nil
}

func (a *app) openBroadcast() (broadcast.Broadcaster, error) {
	a.hub = broadcast.NewHub(a.cfg.Broadcast.SubscriberBuffer, a.log)
	if !a.cfg.Broadcast.NATS.Enabled {
		return a.hub, nil
	}
	pub, err := broadcast.NewNATSPublisher(broadcast.NATSConfig{
		URL:     a.cfg.Broadcast.NATS.URL,
		Subject: a.cfg.Broadcast.NATS.Subject,
		Name:    "lognexus-server",
	})
	if err != nil {
		return nil, err
	}
	a.nats = pub
	a.closers = append(a.closers, pub)
	a.log.WithField("url", a.cfg.Broadcast.NATS.URL).Info("publishing events to nats")
	return broadcast.Multi{a.hub, pub}, nil
}

func (a *app) newDispatcher() (*notifier.Dispatcher, error) {
	cfg := notifier.Config{
		Webhook: notifier.NewWebhookNotifier(notifier.WebhookConfig{
			Timeout:   a.cfg.Notifications.WebhookTimeout,
			AllowHTTP: a.cfg.Notifications.AllowHTTP,
		}),
		RateLimit: a.cfg.Notifications.RateLimit,
		Logger:    a.log,
	}
	if a.cfg.Notifications.SMTP.Host != "" {
		email, err := notifier.NewEmailNotifier(a.cfg.emailConfig())
		if err != nil {
			return nil, fmt.Errorf("create email notifier: %w", err)
		}
		cfg.Email = email
	} else {
		a.log.Warn("smtp host not configured, email notifications disabled")
	}
	return notifier.NewDispatcher(cfg), nil
}

func (a *app) syncDefinitionsFile(ctx context.Context) error {
	defs, err := alerting.LoadDefinitionsFromFile(a.cfg.Alerting.DefinitionsFile)
	if err != nil {
		return fmt.Errorf("load alert definitions: %w", err)
	}
	a.applyDefinitions(ctx, defs)
	return nil
}

func (a *app) applyDefinitions(ctx context.Context, defs []*models.Alert) {
	res, err := alerting.SyncDefinitions(ctx, a.store.Alerts(), defs, definitionsActor)
	log := a.log.WithField("file", a.cfg.Alerting.DefinitionsFile)
	if err != nil {
		log.WithError(err).Error("failed to sync alert definitions")
		return
	}
	log.WithFields(logrus.Fields{"created": res.Created, "updated": res.Updated}).Info("alert definitions synced")
}

// Run starts the background jobs and servers and blocks until ctx is done.
func (a *app) Run(ctx context.Context) error {
	a.log.WithField("version", config.Version).Info("starting lognexus-server")

	jobs, err := a.scheduledJobs()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error { return job.Run(gctx) })
	}
	g.Go(func() error { return a.api.Run(gctx) })

	if a.cfg.Alerting.WatchDefinitions {
		g.Go(func() error {
			return alerting.WatchDefinitions(gctx, a.cfg.Alerting.DefinitionsFile, watchDebounce, a.log, a.applyDefinitions)
		})
	}

	if a.metrics != nil {
		g.Go(a.metrics.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.metrics.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	a.log.Info("waiting for in-flight notifications")
	a.triggers.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("server stopped")
	return nil
}

func (a *app) scheduledJobs() ([]*scheduler.Periodic, error) {
	initialDelay := time.Duration(a.cfg.Monitor.InitialDelaySeconds) * time.Second

	evaluation, err := scheduler.New(scheduler.Config{
		Name:         "alert-evaluation",
		Interval:     a.cfg.Alerting.EvaluationInterval,
		InitialDelay: initialDelay,
		Logger:       a.log,
	}, func(ctx context.Context) error {
		report, err := a.triggers.EvaluateTriggerableAlerts(ctx)
		if err != nil {
			return err
		}
		if report.Fired > 0 || len(report.Errors) > 0 {
			a.log.WithFields(logrus.Fields{
				"evaluated": report.Evaluated,
				"fired":     report.Fired,
				"skipped":   report.Skipped,
				"errors":    len(report.Errors),
			}).Info("alert evaluation pass")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	serverHealth, err := scheduler.New(scheduler.Config{
		Name:     "server-health",
		Interval: time.Duration(a.cfg.Monitor.CheckIntervalSeconds) * time.Second,
		Logger:   a.log,
	}, func(ctx context.Context) error {
		_, err := a.monitor.Check(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	retention, err := scheduler.New(scheduler.Config{
		Name:     "retention",
		Interval: a.cfg.Alerting.RetentionInterval,
		Logger:   a.log,
	}, a.runRetention)
	if err != nil {
		return nil, err
	}

	return []*scheduler.Periodic{evaluation, serverHealth, retention}, nil
}

// runRetention purges closed alert instances and old log entries.
func (a *app) runRetention(ctx context.Context) error {
	now := time.Now().UTC()
	var errs []error

	instances, err := a.lifecycle.DeleteOldResolved(ctx, now.AddDate(0, 0, -a.cfg.Alerting.InstanceRetentionDays))
	if err != nil {
		errs = append(errs, err)
	}

	var logs int64
	if a.cfg.Logs.RetentionDays > 0 {
		if logs, err = a.logStore.Logs().DeleteBefore(ctx, now.AddDate(0, 0, -a.cfg.Logs.RetentionDays)); err != nil {
			errs = append(errs, fmt.Errorf("delete old logs: %w", err))
		}
	}

	if instances > 0 || logs > 0 {
		a.log.WithFields(logrus.Fields{"instances": instances, "logs": logs}).Info("retention pass removed old records")
	}
	return errors.Join(errs...)
}

// Close flushes buffered logs and releases connections in reverse order.
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.buffer != nil {
		if err := a.buffer.Close(); err != nil {
			a.log.WithError(err).Warn("failed to flush log buffer")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}

// checkDefinitions validates the definitions file without touching storage.
func checkDefinitions(cfg *Config) (int, error) {
	if cfg.Alerting.DefinitionsFile == "" {
		return 0, nil
	}
	defs, err := alerting.LoadDefinitionsFromFile(cfg.Alerting.DefinitionsFile)
	if err != nil {
		return 0, fmt.Errorf("load alert definitions: %w", err)
	}
	return len(defs), nil
}
