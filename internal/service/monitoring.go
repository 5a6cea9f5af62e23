package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/monitor"
	"github.com/kubo-market/sensorwatch/internal/storage"
)

// Sink receives committed state changes. Sinks are called after the core
// stores are updated and outside their locks; a failing sink never fails the
// operation that triggered it. Delivery ignores the caller's cancellation,
// so sinks must bound their own calls (BreakerSettings.CallTimeout).
type Sink = storage.Sink

// SensorSource supplies previously registered sensors at startup.
type SensorSource interface {
	LoadSensors(ctx context.Context) ([]domain.SensorConfig, error)
}

// BatchError reports why one reading of a batch was refused.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult summarizes an IngestBatch call.
type BatchResult struct {
	Accepted  int          `json:"accepted"`
	Anomalies int          `json:"anomalies"`
	Admitted  int          `json:"admitted"`
	Rejected  []BatchError `json:"rejected,omitempty"`
}

// MonitoringService is the entry point used by transports. It delegates to
// the Coordinator and adds logging, metrics and sink fan-out.
type MonitoringService struct {
	core    *Coordinator
	metrics *monitor.Metrics
	log     logrus.FieldLogger
	sinks   []Sink
}

// NewMonitoringService creates a MonitoringService.
func NewMonitoringService(core *Coordinator, metrics *monitor.Metrics, log logrus.FieldLogger, sinks ...Sink) *MonitoringService {
	return &MonitoringService{core: core, metrics: metrics, log: log, sinks: sinks}
}

// RegisterSensor registers cfg and forwards it to every sink.
func (s *MonitoringService) RegisterSensor(ctx context.Context, cfg domain.SensorConfig) error {
	if err := s.core.RegisterSensor(cfg); err != nil {
		return err
	}
	s.refreshSizes()
	s.log.WithFields(logrus.Fields{
		"sensor_id":  cfg.SensorID,
		"machine_id": cfg.MachineID,
		"threshold":  cfg.Threshold,
	}).Info("sensor registered")

	ctx = context.WithoutCancel(ctx)
	for _, sink := range s.sinks {
		if err := sink.SensorRegistered(ctx, cfg); err != nil {
			s.sinkFailed(sink, err, logrus.Fields{"sensor_id": cfg.SensorID})
		}
	}
	return nil
}

// Ingest stores one reading and runs detection on it.
func (s *MonitoringService) Ingest(ctx context.Context, r domain.Reading) (Detection, error) {
	d, err := s.core.Ingest(r.SensorID, r.Timestamp, r.Value)
	if err != nil {
		s.metrics.RecordRejected()
		return d, err
	}
	s.metrics.RecordStored(d.Registered)
	if d.Registered {
		s.metrics.RecordEvaluation(d.Anomaly, d.Admitted, d.Deviation)
	}
	s.refreshSizes()

	entry := s.log.WithFields(logrus.Fields{
		"sensor_id": r.SensorID,
		"timestamp": domain.FormatTimestamp(d.Point.Timestamp),
		"value":     r.Value,
	})
	if !d.Registered {
		entry.Debug("reading stored for unregistered sensor")
		return d, nil
	}
	if !d.Anomaly {
		return d, nil
	}
	entry = entry.WithField("deviation", d.Deviation)
	if !d.Admitted {
		entry.Debug("anomaly below current top-k floor")
		return d, nil
	}
	entry.Warn("anomaly admitted")

	// The admission is committed; a departed caller must not drop it from the sinks.
	ctx = context.WithoutCancel(ctx)
	rec := d.Record()
	for _, sink := range s.sinks {
		if err := sink.AnomalyAdmitted(ctx, rec); err != nil {
			s.sinkFailed(sink, err, logrus.Fields{"sensor_id": rec.SensorID})
		}
	}
	return d, nil
}

// IngestBatch ingests readings in order. Invalid readings are reported and
// skipped; the rest are stored.
func (s *MonitoringService) IngestBatch(ctx context.Context, readings []domain.Reading) BatchResult {
	var res BatchResult
	for i, r := range readings {
		d, err := s.Ingest(ctx, r)
		if err != nil {
			res.Rejected = append(res.Rejected, BatchError{Index: i, Error: err.Error()})
			continue
		}
		res.Accepted++
		if d.Anomaly {
			res.Anomalies++
		}
		if d.Admitted {
			res.Admitted++
		}
	}
	return res
}

// Restore registers every sensor supplied by src without echoing them back
// to the sinks.
func (s *MonitoringService) Restore(ctx context.Context, src SensorSource) (int, error) {
	sensors, err := src.LoadSensors(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sensors: %w", err)
	}
	var restored int
	for _, cfg := range sensors {
		if err := s.core.RegisterSensor(cfg); err != nil {
			s.log.WithError(err).WithField("sensor_id", cfg.SensorID).Warn("skipping stored sensor")
			continue
		}
		restored++
	}
	s.refreshSizes()
	s.log.WithField("sensors", restored).Info("sensor registry restored")
	return restored, nil
}

// SensorMetadata returns the configuration registered for sensorID.
func (s *MonitoringService) SensorMetadata(sensorID string) (domain.SensorConfig, error) {
	return s.core.SensorMetadata(sensorID)
}

// Sensors returns every registered configuration.
func (s *MonitoringService) Sensors() []domain.SensorConfig {
	return s.core.Sensors()
}

// Reading returns the value stored at (sensorID, ts).
func (s *MonitoringService) Reading(sensorID string, ts time.Time) (float64, error) {
	return s.core.Reading(sensorID, ts)
}

// Readings returns the sensor's readings, bounded by from and to when they
// are non-zero.
func (s *MonitoringService) Readings(sensorID string, from, to time.Time) ([]domain.Point, error) {
	if from.IsZero() && to.IsZero() {
		return s.core.AllReadings(sensorID)
	}
	return s.core.ReadingsBetween(sensorID, from, to)
}

// LatestReading returns the sensor's most recent reading.
func (s *MonitoringService) LatestReading(sensorID string) (domain.Point, error) {
	return s.core.LatestReading(sensorID)
}

// TopAnomalies returns the held anomalies, highest first.
func (s *MonitoringService) TopAnomalies() []domain.AnomalyRecord {
	return s.core.TopAnomalies()
}

// AnomalyCapacity returns the tracker's capacity K.
func (s *MonitoringService) AnomalyCapacity() int {
	return s.core.AnomalyCapacity()
}

// Metrics returns a snapshot of ingestion metrics.
func (s *MonitoringService) Metrics() monitor.MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *MonitoringService) refreshSizes() {
	s.metrics.SetSizes(s.core.Stats())
}

func (s *MonitoringService) sinkFailed(sink Sink, err error, fields logrus.Fields) {
	s.metrics.RecordSinkFailure(sink.Name())
	entry := s.log.WithFields(fields).WithField("sink", sink.Name()).WithError(err)
	if errors.Is(err, context.Canceled) {
		entry.Debug("sink delivery cancelled")
		return
	}
	entry.Error("sink delivery failed")
}
