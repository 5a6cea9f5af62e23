package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/monitor"
	"github.com/kubo-market/sensorwatch/internal/storage"
)

// Detection describes what a single Ingest call did.
type Detection struct {
	Reading    domain.Reading
	Point      domain.Point
	Registered bool
	Deviation  float64
	Anomaly    bool
	Admitted   bool
}

// Record returns the anomaly record the reading produced when offered.
func (d Detection) Record() domain.AnomalyRecord {
	return domain.AnomalyRecord{Deviation: d.Deviation, SensorID: d.Reading.SensorID, Timestamp: d.Point.Timestamp}
}

// Coordinator wires ingestion to anomaly detection over three independently
// owned stores.
//
// Ingest touches the stores in a fixed order (metadata read, time-series
// write, tracker write) and never holds two store locks at once.
type Coordinator struct {
	metadata *storage.MetadataStore
	series   *storage.TimeSeriesStore
	tracker  *monitor.TopKTracker
}

// NewCoordinator creates a Coordinator over the given stores.
func NewCoordinator(metadata *storage.MetadataStore, series *storage.TimeSeriesStore, tracker *monitor.TopKTracker) *Coordinator {
	return &Coordinator{metadata: metadata, series: series, tracker: tracker}
}

// RegisterSensor inserts or replaces a sensor's configuration.
func (c *Coordinator) RegisterSensor(cfg domain.SensorConfig) error {
	return c.metadata.Register(cfg)
}

// Ingest stores the reading and, when the sensor is registered and the
// reading is anomalous, offers it to the tracker. Readings for unregistered
// sensors are stored without detection. The only error is an invalid
// argument, reported before any store is modified. A reading whose deviation
// from a registered threshold overflows float64 is invalid.
func (c *Coordinator) Ingest(sensorID string, ts time.Time, value float64) (Detection, error) {
	r := domain.Reading{SensorID: sensorID, Timestamp: domain.NormalizeTimestamp(ts), Value: value}
	if err := r.Validate(); err != nil {
		return Detection{}, fmt.Errorf("ingest: %w", err)
	}

	cfg, lookupErr := c.metadata.Lookup(sensorID)
	if lookupErr != nil && !errors.Is(lookupErr, domain.ErrSensorNotFound) {
		return Detection{}, fmt.Errorf("ingest: %w", lookupErr)
	}

	var ev monitor.Evaluation
	if lookupErr == nil {
		ev = monitor.Evaluate(cfg, value)
		if math.IsInf(ev.Deviation, 0) {
			return Detection{}, fmt.Errorf("ingest: deviation of %g from threshold %g overflows: %w",
				value, cfg.Threshold, domain.ErrInvalidArgument)
		}
	}

	p, err := c.series.Record(sensorID, r.Timestamp, value)
	if err != nil {
		return Detection{}, fmt.Errorf("ingest: %w", err)
	}

	d := Detection{Reading: r, Point: p}
	if lookupErr != nil {
		return d, nil
	}

	d.Registered = true
	d.Deviation = ev.Deviation
	d.Anomaly = ev.Anomalous
	if d.Anomaly {
		d.Admitted = c.tracker.Offer(d.Record())
	}
	return d, nil
}

// SensorMetadata returns the configuration registered for sensorID.
func (c *Coordinator) SensorMetadata(sensorID string) (domain.SensorConfig, error) {
	return c.metadata.Lookup(sensorID)
}

// Sensors returns every registered configuration ordered by id.
func (c *Coordinator) Sensors() []domain.SensorConfig {
	return c.metadata.List()
}

// Reading returns the value stored at (sensorID, ts).
func (c *Coordinator) Reading(sensorID string, ts time.Time) (float64, error) {
	return c.series.GetAt(sensorID, ts)
}

// AllReadings returns the sensor's series in ascending timestamp order.
func (c *Coordinator) AllReadings(sensorID string) ([]domain.Point, error) {
	return c.series.GetAll(sensorID)
}

// ReadingsBetween returns the sensor's readings within [from, to].
func (c *Coordinator) ReadingsBetween(sensorID string, from, to time.Time) ([]domain.Point, error) {
	return c.series.Range(sensorID, from, to)
}

// LatestReading returns the sensor's most recent reading.
func (c *Coordinator) LatestReading(sensorID string) (domain.Point, error) {
	return c.series.Latest(sensorID)
}

// AnomalyCapacity returns K, the most anomalies the tracker holds.
func (c *Coordinator) AnomalyCapacity() int {
	return c.tracker.Capacity()
}

// TopAnomalies returns the held anomalies, highest first.
func (c *Coordinator) TopAnomalies() []domain.AnomalyRecord {
	return c.tracker.Top()
}

// Stats returns the current size of each store.
func (c *Coordinator) Stats() (sensors, points, anomalies int) {
	return c.metadata.Len(), c.series.Len(), c.tracker.Len()
}
