// Package ingest feeds readings from message brokers into the monitoring
// service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/service"
)

// Ingester accepts decoded readings.
type Ingester interface {
	Ingest(ctx context.Context, r domain.Reading) (service.Detection, error)
}

// decodeReading parses a JSON reading. fallbackID is used when the payload
// carries no sensor_id.
func decodeReading(payload []byte, fallbackID string) (domain.Reading, error) {
	var r domain.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return r, err
		}
		return r, fmt.Errorf("%w: decode reading: %v", domain.ErrInvalidArgument, err)
	}
	if r.SensorID == "" {
		r.SensorID = fallbackID
	}
	return r, nil
}

// sensorFromTopic returns the topic level matched by the first single-level
// wildcard in filter, e.g. "sensors/+/readings" and "sensors/s1/readings"
// yield "s1".
func sensorFromTopic(filter, topic string) string {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if i >= len(t) {
			return ""
		}
		if level == "+" {
			return t[i]
		}
		if level == "#" {
			return ""
		}
	}
	return ""
}
