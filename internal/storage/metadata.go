package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// MetadataStore keeps the registered configuration for each sensor.
// It is safe for concurrent use.
type MetadataStore struct {
	mu      sync.RWMutex
	sensors map[string]domain.SensorConfig
}

// NewMetadataStore creates an empty MetadataStore.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{sensors: make(map[string]domain.SensorConfig)}
}

// Register inserts the configuration, replacing any previous registration
// for the same sensor.
func (s *MetadataStore) Register(cfg domain.SensorConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register sensor: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[cfg.SensorID] = cfg
	return nil
}

// Lookup returns the configuration registered for sensorID.
func (s *MetadataStore) Lookup(sensorID string) (domain.SensorConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.sensors[sensorID]
	if !ok {
		return domain.SensorConfig{}, fmt.Errorf("%w: %s", domain.ErrSensorNotFound, sensorID)
	}
	return cfg, nil
}

// List returns every registered configuration ordered by sensor id.
func (s *MetadataStore) List() []domain.SensorConfig {
	s.mu.RLock()
	out := make([]domain.SensorConfig, 0, len(s.sensors))
	for _, cfg := range s.sensors {
		out = append(out, cfg)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// Len returns the number of registered sensors.
func (s *MetadataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sensors)
}
