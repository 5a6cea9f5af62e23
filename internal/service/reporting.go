package service

import (
	"errors"
	"math"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/monitor"
)

// SensorReport summarizes one sensor's retained history.
type SensorReport struct {
	Sensor     *domain.SensorConfig   `json:"sensor,omitempty"`
	SensorID   string                 `json:"sensor_id"`
	Readings   int                    `json:"readings"`
	Min        float64                `json:"min"`
	Max        float64                `json:"max"`
	Mean       float64                `json:"mean"`
	Latest     *domain.Point          `json:"latest,omitempty"`
	Exceedance int                    `json:"exceedances"`
	Anomalies  []domain.AnomalyRecord `json:"top_anomalies"`
}

// ReportingService builds per-sensor summaries from the core stores.
type ReportingService struct {
	core *Coordinator
}

// NewReportingService creates a new ReportingService.
func NewReportingService(core *Coordinator) *ReportingService {
	return &ReportingService{core: core}
}

// SensorReport returns the summary for sensorID. It fails with
// domain.ErrSensorNotFound only when the sensor is both unregistered and has
// no readings.
func (s *ReportingService) SensorReport(sensorID string) (*SensorReport, error) {
	report := &SensorReport{SensorID: sensorID, Anomalies: []domain.AnomalyRecord{}}

	cfg, cfgErr := s.core.SensorMetadata(sensorID)
	if cfgErr == nil {
		report.Sensor = &cfg
	}

	points, err := s.core.AllReadings(sensorID)
	if err != nil && !errors.Is(err, domain.ErrNoReadings) {
		return nil, err
	}
	if err != nil && cfgErr != nil {
		return nil, cfgErr
	}

	if len(points) > 0 {
		report.Readings = len(points)
		report.Min, report.Max = math.Inf(1), math.Inf(-1)
		for i, p := range points {
			// Running mean stays finite where a plain sum of large values would not.
			n := float64(i + 1)
			report.Mean += p.Value/n - report.Mean/n
			report.Min = math.Min(report.Min, p.Value)
			report.Max = math.Max(report.Max, p.Value)
			if report.Sensor != nil && monitor.Evaluate(cfg, p.Value).Anomalous {
				report.Exceedance++
			}
		}
		latest := points[len(points)-1]
		report.Latest = &latest
	}

	for _, rec := range s.core.TopAnomalies() {
		if rec.SensorID == sensorID {
			report.Anomalies = append(report.Anomalies, rec)
		}
	}
	return report, nil
}
