package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks ingestion counters in memory and mirrors them to Prometheus.
type Metrics struct {
	mu sync.RWMutex

	ReadingsIngested  int64
	ReadingsRejected  int64
	UnregisteredHits  int64
	AnomaliesDetected int64
	AnomaliesAdmitted int64
	SinkFailures      int64

	// Sliding window for anomaly rate
	window []windowEntry

	readings  *prometheus.CounterVec
	anomalies *prometheus.CounterVec
	sinkErrs  *prometheus.CounterVec
	deviation prometheus.Histogram
	stored    prometheus.Gauge
	tracked   prometheus.Gauge
	sensors   prometheus.Gauge
}

type windowEntry struct {
	ts        time.Time
	anomalous bool
}

const windowDuration = 5 * time.Minute

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	ReadingsIngested  int64   `json:"readings_ingested"`
	ReadingsRejected  int64   `json:"readings_rejected"`
	UnregisteredHits  int64   `json:"unregistered_readings"`
	AnomaliesDetected int64   `json:"anomalies_detected"`
	AnomaliesAdmitted int64   `json:"anomalies_admitted"`
	SinkFailures      int64   `json:"sink_failures"`
	WindowReadings    int     `json:"window_readings_5m"`
	WindowAnomalies   int     `json:"window_anomalies_5m"`
	WindowAnomalyRate float64 `json:"window_anomaly_rate_5m"`
}

// NewMetrics creates Metrics and registers its collectors with reg. A nil
// reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorwatch_readings_total",
			Help: "Readings received by outcome (stored, rejected, unregistered).",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorwatch_anomalies_total",
			Help: "Anomalies by stage (detected, admitted).",
		}, []string{"stage"}),
		sinkErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorwatch_sink_errors_total",
			Help: "Failed deliveries to external sinks.",
		}, []string{"sink"}),
		deviation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorwatch_anomaly_deviation",
			Help:    "Deviation of detected anomalies.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		stored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorwatch_stored_points",
			Help: "Readings currently retained in the time-series store.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorwatch_tracked_anomalies",
			Help: "Records currently held by the top-K tracker.",
		}),
		sensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorwatch_registered_sensors",
			Help: "Registered sensors.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.readings, m.anomalies, m.sinkErrs, m.deviation, m.stored, m.tracked, m.sensors)
	}
	return m
}

// RecordStored records a stored reading and whether its sensor was registered.
func (m *Metrics) RecordStored(registered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsIngested++
	m.readings.WithLabelValues("stored").Inc()
	if !registered {
		m.UnregisteredHits++
		m.readings.WithLabelValues("unregistered").Inc()
	}
}

// RecordRejected records a reading refused for invalid input.
func (m *Metrics) RecordRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsRejected++
	m.readings.WithLabelValues("rejected").Inc()
}

// RecordEvaluation records the anomaly decision for a registered reading.
func (m *Metrics) RecordEvaluation(anomalous, admitted bool, deviation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if anomalous {
		m.AnomaliesDetected++
		m.anomalies.WithLabelValues("detected").Inc()
		m.deviation.Observe(deviation)
	}
	if admitted {
		m.AnomaliesAdmitted++
		m.anomalies.WithLabelValues("admitted").Inc()
	}
	m.addWindow(anomalous)
}

// RecordSinkFailure records a failed delivery to the named sink.
func (m *Metrics) RecordSinkFailure(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SinkFailures++
	m.sinkErrs.WithLabelValues(sink).Inc()
}

// SetSizes publishes the current store sizes.
func (m *Metrics) SetSizes(sensors, points, tracked int) {
	m.sensors.Set(float64(sensors))
	m.stored.Set(float64(points))
	m.tracked.Set(float64(tracked))
}

func (m *Metrics) addWindow(anomalous bool) {
	now := time.Now()
	m.window = append(m.window, windowEntry{ts: now, anomalous: anomalous})
	m.pruneWindow(now)
}

func (m *Metrics) pruneWindow(now time.Time) {
	cutoff := now.Add(-windowDuration)
	i := 0
	for i < len(m.window) && m.window[i].ts.Before(cutoff) {
		i++
	}
	m.window = m.window[i:]
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-windowDuration)
	var windowReadings, windowAnomalies int
	for _, e := range m.window {
		if e.ts.After(cutoff) {
			windowReadings++
			if e.anomalous {
				windowAnomalies++
			}
		}
	}

	var rate float64
	if windowReadings > 0 {
		rate = float64(windowAnomalies) / float64(windowReadings) * 100
	}

	return MetricsSnapshot{
		ReadingsIngested:  m.ReadingsIngested,
		ReadingsRejected:  m.ReadingsRejected,
		UnregisteredHits:  m.UnregisteredHits,
		AnomaliesDetected: m.AnomaliesDetected,
		AnomaliesAdmitted: m.AnomaliesAdmitted,
		SinkFailures:      m.SinkFailures,
		WindowReadings:    windowReadings,
		WindowAnomalies:   windowAnomalies,
		WindowAnomalyRate: rate,
	}
}
