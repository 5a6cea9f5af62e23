package monitor

import (
	"math"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// Evaluation is the outcome of checking one reading against its sensor.
type Evaluation struct {
	Deviation float64
	Anomalous bool
}

// Evaluate computes the deviation of value from the sensor's threshold and
// flags the reading when that deviation itself exceeds the threshold.
//
// For a positive threshold this fires iff value < 0 or value > 2*threshold.
// The threshold doubles as the sensitivity limit; there is no separate knob.
func Evaluate(cfg domain.SensorConfig, value float64) Evaluation {
	dev := math.Abs(value - cfg.Threshold)
	return Evaluation{Deviation: dev, Anomalous: dev > cfg.Threshold}
}
