package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/kubo-market/sensorwatch/internal/config"
	"github.com/kubo-market/sensorwatch/internal/handler"
	"github.com/kubo-market/sensorwatch/internal/monitor"
	"github.com/kubo-market/sensorwatch/internal/seed"
	"github.com/kubo-market/sensorwatch/internal/service"
	"github.com/kubo-market/sensorwatch/internal/storage"
)

// app holds the wired core and its optional external dependencies.
type app struct {
	core     *service.Coordinator
	svc      *service.MonitoringService
	reports  *service.ReportingService
	registry *prometheus.Registry
	archive  handler.AnomalyArchive
	mirror   handler.AnomalyMirror
	checks   map[string]handler.Pinger
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the core stores and connects the sinks enabled in cfg.
// The caller must Close the returned app.
func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	tracker, err := monitor.NewTopKTracker(cfg.Tracker.Capacity)
	if err != nil {
		return nil, err
	}
	a := &app{
		core:     service.NewCoordinator(storage.NewMetadataStore(), storage.NewTimeSeriesStore(), tracker),
		registry: prometheus.NewRegistry(),
		checks:   make(map[string]handler.Pinger),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	breakerSettings := storage.BreakerSettings{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		Timeout:      cfg.Breaker.Timeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
		CallTimeout:  cfg.Breaker.CallTimeout,
	}
	onChange := func(name string, from, to gobreaker.State) {
		log.WithFields(logrus.Fields{"sink": name, "from": from.String(), "to": to.String()}).Warn("sink breaker state changed")
	}

	var (
		sinks []service.Sink
		repo  *storage.PostgresRepository
	)
	if cfg.Postgres.Enabled {
		db, err := storage.NewPostgresDB(ctx, cfg.Postgres.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		log.Info("connected to postgres")

		repo = storage.NewPostgresRepository(db)
		a.archive = repo
		a.checks["postgres"] = db
		sinks = append(sinks, storage.NewBreakerSink(repo, breakerSettings, onChange))
	}

	if cfg.Redis.Enabled {
		client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		log.WithField("addr", cfg.Redis.Addr).Info("connected to redis")

		a.checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		leaderboard := storage.NewRedisLeaderboard(client, cfg.Redis.Key, cfg.Tracker.Capacity)
		a.mirror = leaderboard
		sinks = append(sinks, storage.NewBreakerSink(leaderboard, breakerSettings, onChange))
	}

	a.svc = service.NewMonitoringService(a.core, monitor.NewMetrics(a.registry), log, sinks...)
	a.reports = service.NewReportingService(a.core)

	if repo != nil {
		if _, err := a.svc.Restore(ctx, repo); err != nil {
			a.Close()
			return nil, fmt.Errorf("restore sensors: %w", err)
		}
	}

	if cfg.Seed.Demo {
		res, err := seed.Apply(ctx, a.svc, seed.DemoFleet())
		if err != nil {
			a.Close()
			return nil, err
		}
		log.WithField("readings", res.Accepted).Info("demo fleet loaded")
	}
	return a, nil
}
