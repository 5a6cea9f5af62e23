package seed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/service"
)

// Fleet is a set of sensors and readings used to populate a fresh instance.
type Fleet struct {
	Sensors  []domain.SensorConfig
	Readings []domain.Reading
}

var demoStart = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

// DemoFleet returns two factory sensors and six readings taken between
// 12:00 and 12:15 on 2024-10-01.
func DemoFleet() Fleet {
	at := func(min int) time.Time { return demoStart.Add(time.Duration(min) * time.Minute) }
	return Fleet{
		Sensors: []domain.SensorConfig{
			{SensorID: "sensor_1", Location: "Factory Floor A", MachineID: "Machine_1", Threshold: 50},
			{SensorID: "sensor_2", Location: "Factory Floor B", MachineID: "Machine_2", Threshold: 75},
		},
		Readings: []domain.Reading{
			{SensorID: "sensor_1", Timestamp: at(0), Value: 55},
			{SensorID: "sensor_1", Timestamp: at(5), Value: 60},
			{SensorID: "sensor_1", Timestamp: at(10), Value: 45},
			{SensorID: "sensor_1", Timestamp: at(15), Value: 70},
			{SensorID: "sensor_2", Timestamp: at(0), Value: 80},
			{SensorID: "sensor_2", Timestamp: at(5), Value: 100},
		},
	}
}

// Apply registers the fleet's sensors and ingests its readings.
func Apply(ctx context.Context, svc *service.MonitoringService, fleet Fleet) (service.BatchResult, error) {
	for _, cfg := range fleet.Sensors {
		if err := svc.RegisterSensor(ctx, cfg); err != nil {
			return service.BatchResult{}, fmt.Errorf("seed sensor %s: %w", cfg.SensorID, err)
		}
	}
	return svc.IngestBatch(ctx, fleet.Readings), nil
}

// GenerateSQL builds INSERT statements registering the fleet's sensors in the
// archive.
func GenerateSQL(fleet Fleet) string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	for _, cfg := range fleet.Sensors {
		b.WriteString("INSERT INTO sensors (sensor_id, location, machine_id, threshold) VALUES (")
		b.WriteString(quote(cfg.SensorID) + ", ")
		b.WriteString(quote(cfg.Location) + ", ")
		b.WriteString(quote(cfg.MachineID) + ", ")
		b.WriteString(strconv.FormatFloat(cfg.Threshold, 'f', -1, 64))
		b.WriteString(") ON CONFLICT (sensor_id) DO NOTHING;\n")
	}
	b.WriteString("COMMIT;\n")
	return b.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
