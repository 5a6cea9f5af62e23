package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kubo-market/sensorwatch/internal/config"
	"github.com/kubo-market/sensorwatch/internal/handler"
	"github.com/kubo-market/sensorwatch/internal/ingest"
	"github.com/kubo-market/sensorwatch/internal/logging"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Args:  cobra.NoArgs,
		Short: "Run the HTTP API and the configured broker consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	h := handler.NewRouter(handler.Routes{
		Sensors:     handler.NewSensorHandler(a.svc),
		Readings:    handler.NewReadingHandler(a.svc),
		Anomalies:   handler.NewAnomalyHandler(a.svc, a.archive, a.mirror),
		Reports:     handler.NewReportingHandler(a.reports),
		Health:      handler.NewHealthHandler(a.svc, a.checks),
		Prometheus:  promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, log)

	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled {
		reader, err := ingest.NewKafkaReader(cfg.Kafka)
		if err != nil {
			return err
		}
		consumer := ingest.NewKafkaConsumer(reader, a.svc, log.WithField("consumer", "kafka"))
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			consumer.Run(ctx)
		}()
	}
	if cfg.MQTT.Enabled {
		client, err := ingest.NewMQTTClient(cfg.MQTT, log)
		if err != nil {
			return err
		}
		sub := ingest.NewMQTTSubscriber(client, cfg.MQTT.Topic, cfg.MQTT.QoS, a.svc, log.WithField("consumer", "mqtt"))
		if err := sub.Start(ctx); err != nil {
			client.Disconnect(250)
			return err
		}
		defer sub.Stop()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      h,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.HTTP.Port, "capacity": cfg.Tracker.Capacity}).Info("sensorwatch listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	cancel()
	consumers.Wait()
	log.Info("server stopped")
	return serveErr
}
