package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/integration-hub/pkg/api"
	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/config"
	"github.com/telekom/integration-hub/pkg/dedup"
	"github.com/telekom/integration-hub/pkg/handlers"
	"github.com/telekom/integration-hub/pkg/notify"
	"github.com/telekom/integration-hub/pkg/orchestrator"
	"github.com/telekom/integration-hub/pkg/postgres"
	"github.com/telekom/integration-hub/pkg/redisclient"
	"github.com/telekom/integration-hub/pkg/retry"
	"github.com/telekom/integration-hub/pkg/telemetry"
	"github.com/telekom/integration-hub/pkg/utils"
	"github.com/telekom/integration-hub/pkg/version"
)

// app owns every long-lived component. Components are closed in reverse
// construction order.
type app struct {
	log      *zap.Logger
	cfg      config.Config
	tracing  telemetry.ShutdownFunc
	db       *sql.DB
	redis    *redisclient.Client
	recorder *audit.Recorder
	mailQ    *notify.Queue
	retry    *retry.Manager
	bus      *bus.Bus
	server   *api.Server
}

func newApp(ctx context.Context, cfg config.Config, debug bool, log *zap.Logger) (_ *app, err error) {
	a := &app{log: log, cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	_, a.tracing, err = telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Tracing.Enabled,
		ServiceVersion: version.GetBuildInfo().Version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var checks []api.HealthCheck

	auditStore, deadLetters, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	if a.db != nil {
		checks = append(checks, api.HealthCheck{Name: "postgres", Check: a.db.PingContext})
	}

	sinks, err := buildSinks(cfg.Audit.Sinks, log)
	if err != nil {
		return nil, err
	}
	recCfg := audit.DefaultRecorderConfig()
	recCfg.AppendRetry.MaxRetries = cfg.Audit.AppendRetries
	recCfg.Queue.QueueSize = cfg.Audit.Sinks.QueueSize
	a.recorder = audit.NewRecorder(auditStore, sinks, recCfg, log)

	dedupStore, err := a.openDedup(ctx)
	if err != nil {
		return nil, err
	}
	if a.redis != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: a.redis.Health})
	}

	var retryOpts []retry.Option
	if cfg.Mail.Enabled {
		sender := notify.NewMailSender(notify.MailConfig{
			Host:               cfg.Mail.Host,
			Port:               cfg.Mail.Port,
			User:               cfg.Mail.User,
			Password:           cfg.Mail.Password,
			InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
			SenderAddress:      cfg.Mail.SenderAddress,
			SenderName:         cfg.Mail.SenderName,
			Recipients:         cfg.Mail.Recipients,
			RetryCount:         cfg.Mail.RetryCount,
			RetryBackoff:       cfg.Mail.RetryBackoff.Std(),
		}, log)
		a.mailQ = notify.NewQueue(sender, log.Sugar(), cfg.Mail.QueueSize)
		a.mailQ.Start()
		retryOpts = append(retryOpts, retry.WithNotifier(
			notify.NewDeadLetterNotifier(a.mailQ, cfg.Mail.Recipients, cfg.Mail.BrandingName)))
	}

	a.retry, err = retry.NewManager(retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff.Std(),
		MaxBackoff:     cfg.Retry.MaxBackoff.Std(),
		Multiplier:     cfg.Retry.Multiplier,
		Concurrency:    cfg.Retry.Concurrency,
		QueueSize:      cfg.Retry.QueueSize,
		TickInterval:   retry.DefaultConfig().TickInterval,
		StateRetention: retry.DefaultConfig().StateRetention,
	}, a.recorder, deadLetters, log, retryOpts...)
	if err != nil {
		return nil, err
	}

	a.bus = bus.New(a.recorder, log,
		bus.WithConfig(bus.Config{
			Mode:           bus.Mode(cfg.Bus.Mode),
			QueueSize:      cfg.Bus.QueueSize,
			Workers:        cfg.Bus.Workers,
			HandlerTimeout: cfg.Bus.HandlerTimeout.Std(),
		}),
		bus.WithFailureHandler(a.retry))
	a.retry.Start(a.bus)

	regs, err := handlers.NewRegistrar(a.bus, moduleClients(cfg, log), dedupStore, dedup.Config{
		ClaimTTL: cfg.Dedup.ClaimTTL.Std(),
		DoneTTL:  cfg.Dedup.DoneTTL.Std(),
	}, log).Register()
	if err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	log.Info("module handlers registered", zap.Int("count", len(regs)))

	orch := orchestrator.New(a.bus, a.recorder, log)
	sugar := log.Sugar()
	a.server = api.NewServer(log, cfg.Server, debug, checks...)
	err = a.server.RegisterAll([]api.APIController{
		api.NewWorkflowController(orch, sugar),
		api.NewEventController(a.bus, sugar),
		api.NewAuditController(a.recorder, sugar),
		api.NewDeadLetterController(a.retry, sugar),
		api.NewSubscriptionController(a.bus),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) (audit.Store, retry.DeadLetterStore, error) {
	if a.cfg.Audit.Store != "postgres" {
		a.log.Warn("using in-memory audit and dead-letter stores; records are lost on restart")
		return audit.NewMemoryStore(), retry.NewMemoryDeadLetterStore(), nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = a.cfg.Audit.Postgres.URL
	pgCfg.MaxOpenConns = a.cfg.Audit.Postgres.MaxOpenConns
	pgCfg.MaxIdleConns = a.cfg.Audit.Postgres.MaxIdleConns
	pgCfg.ConnMaxLifetime = a.cfg.Audit.Postgres.ConnMaxLifetime.Std()

	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func(ctx context.Context) error {
		db, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return err
		}
		a.db = db
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	auditStore := audit.NewPostgresStore(a.db)
	if err := auditStore.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrate audit store: %w", err)
	}
	dlStore := retry.NewPostgresDeadLetterStore(a.db)
	if err := dlStore.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrate dead-letter store: %w", err)
	}
	return auditStore, dlStore, nil
}

func (a *app) openDedup(ctx context.Context) (dedup.Store, error) {
	if a.cfg.Dedup.Store != "redis" {
		return dedup.NewMemoryStore(), nil
	}
	rcfg := redisclient.DefaultConfig()
	rcfg.URL = a.cfg.Dedup.Redis.URL
	rcfg.PoolSize = a.cfg.Dedup.Redis.PoolSize
	if rcfg.MinIdleConns > rcfg.PoolSize {
		rcfg.MinIdleConns = rcfg.PoolSize
	}
	client, err := redisclient.New(ctx, rcfg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client
	return dedup.NewRedisStore(client.Client), nil
}

func buildSinks(cfg config.Sinks, log *zap.Logger) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if cfg.Log {
		sinks = append(sinks, audit.NewLogSink(log))
	}
	if w := cfg.Webhook; w != nil {
		sinks = append(sinks, audit.NewWebhookSink(audit.WebhookSinkConfig{
			Name:    "webhook",
			URL:     w.URL,
			Headers: w.Headers,
			Timeout: w.Timeout.Std(),
		}, log))
	}
	if k := cfg.Kafka; k != nil {
		kcfg := audit.KafkaSinkConfig{
			Name:        "kafka",
			Brokers:     k.Brokers,
			Topic:       k.Topic,
			Compression: k.Compression,
		}
		if k.TLS != nil {
			kcfg.TLS = &audit.KafkaTLSConfig{
				CAFile:             k.TLS.CAFile,
				CertFile:           k.TLS.CertFile,
				KeyFile:            k.TLS.KeyFile,
				InsecureSkipVerify: k.TLS.InsecureSkipVerify,
			}
		}
		if k.SASL != nil {
			kcfg.SASL = &audit.KafkaSASLConfig{
				Mechanism: k.SASL.Mechanism,
				Username:  k.SASL.Username,
				Password:  k.SASL.Password,
			}
		}
		sink, err := audit.NewKafkaSink(kcfg, log)
		if err != nil {
			return nil, fmt.Errorf("kafka audit sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// moduleClients returns dry-run clients for every enabled module. Real
// module integrations replace these.
func moduleClients(cfg config.Config, log *zap.Logger) handlers.Clients {
	dry := handlers.NewDryRunClient(log)
	var c handlers.Clients
	if cfg.HandlerEnabled("assets") {
		c.Assets = dry
	}
	if cfg.HandlerEnabled("security") {
		c.Access = dry
	}
	if cfg.HandlerEnabled("finance") {
		c.Payroll = dry
	}
	if cfg.HandlerEnabled("compliance") {
		c.Compliance = dry
	}
	return c
}

// run serves until ctx is done, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx)
	})
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return errors.Join(err, a.close(shutdownCtx))
}

// close stops components in reverse order: intake first, then retries,
// notifications, the audit mirror, the connections and finally tracing.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		a.server.Close()
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close(ctx))
	}
	if a.retry != nil {
		errs = append(errs, a.retry.Stop(ctx))
	}
	if a.mailQ != nil {
		errs = append(errs, a.mailQ.Stop(ctx))
	}
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
