package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SensorConfig is the static configuration registered for a sensor.
type SensorConfig struct {
	SensorID  string  `json:"sensor_id"`
	Location  string  `json:"location"`
	MachineID string  `json:"machine_id"`
	Threshold float64 `json:"threshold"`
}

// Validate reports whether the configuration can be registered.
func (c SensorConfig) Validate() error {
	if strings.TrimSpace(c.SensorID) == "" {
		return fmt.Errorf("%w: sensor_id is required", ErrInvalidArgument)
	}
	if !isFinite(c.Threshold) {
		return fmt.Errorf("%w: threshold must be a finite number", ErrInvalidArgument)
	}
	return nil
}

// Reading is a single (sensor, timestamp, value) observation.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Validate reports whether the reading can be stored.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.SensorID) == "" {
		return fmt.Errorf("%w: sensor_id is required", ErrInvalidArgument)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidArgument)
	}
	if !isFinite(r.Value) {
		return fmt.Errorf("%w: value must be a finite number", ErrInvalidArgument)
	}
	return nil
}

// Point is a stored value inside a sensor's series. Seq is the arrival
// sequence of the write that produced Value.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Seq       uint64    `json:"seq"`
}

// AnomalyRecord is a reading admitted to the top-K tracker.
type AnomalyRecord struct {
	Deviation float64   `json:"deviation"`
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Compare orders records by deviation, then sensor id, then timestamp.
// It returns -1, 0 or +1.
func (a AnomalyRecord) Compare(b AnomalyRecord) int {
	switch {
	case a.Deviation < b.Deviation:
		return -1
	case a.Deviation > b.Deviation:
		return 1
	}
	if c := strings.Compare(a.SensorID, b.SensorID); c != 0 {
		return c
	}
	return a.Timestamp.Compare(b.Timestamp)
}

// Less reports whether a ranks below b.
func (a AnomalyRecord) Less(b AnomalyRecord) bool {
	return a.Compare(b) < 0
}

// NormalizeTimestamp returns t in UTC without a monotonic clock reading.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
