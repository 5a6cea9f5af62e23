package storage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// TimeSeriesStore keeps every reading per sensor, ordered by timestamp.
//
// The sensor index and each series are locked independently: writers to
// different sensors never contend, and writers to the same sensor are
// serialized by that series' mutex. The sequence number handed out under the
// series mutex is the arrival order used for last-write-wins.
type TimeSeriesStore struct {
	mu     sync.RWMutex
	series map[string]*series
	seq    atomic.Uint64
	points atomic.Int64
}

// series is a timestamp-ordered slice. Readings usually arrive in order, so
// the common case is an append; late readings are inserted in place.
type series struct {
	mu     sync.Mutex
	points []domain.Point
}

// NewTimeSeriesStore creates an empty TimeSeriesStore.
func NewTimeSeriesStore() *TimeSeriesStore {
	return &TimeSeriesStore{series: make(map[string]*series)}
}

// Record stores value at (sensorID, ts), overwriting any existing value at
// that key. The returned point carries the arrival sequence of this write.
func (s *TimeSeriesStore) Record(sensorID string, ts time.Time, value float64) (domain.Point, error) {
	r := domain.Reading{SensorID: sensorID, Timestamp: ts, Value: value}
	if err := r.Validate(); err != nil {
		return domain.Point{}, fmt.Errorf("record reading: %w", err)
	}
	ts = domain.NormalizeTimestamp(ts)

	ser := s.seriesFor(sensorID)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	p := domain.Point{Timestamp: ts, Value: value, Seq: s.seq.Add(1)}
	i, found := ser.search(ts)
	switch {
	case found:
		ser.points[i] = p
	case i == len(ser.points):
		ser.points = append(ser.points, p)
		s.points.Add(1)
	default:
		ser.points = append(ser.points, domain.Point{})
		copy(ser.points[i+1:], ser.points[i:])
		ser.points[i] = p
		s.points.Add(1)
	}
	return p, nil
}

// GetAt returns the value recorded for sensorID at ts.
func (s *TimeSeriesStore) GetAt(sensorID string, ts time.Time) (float64, error) {
	ser := s.lookup(sensorID)
	if ser == nil {
		return 0, fmt.Errorf("%w: sensor %s has no readings", domain.ErrReadingNotFound, sensorID)
	}
	ts = domain.NormalizeTimestamp(ts)

	ser.mu.Lock()
	defer ser.mu.Unlock()
	i, found := ser.search(ts)
	if !found {
		return 0, fmt.Errorf("%w: sensor %s at %s", domain.ErrReadingNotFound, sensorID, domain.FormatTimestamp(ts))
	}
	return ser.points[i].Value, nil
}

// GetAll returns a copy of the sensor's series in ascending timestamp order.
// A sensor that never received a reading yields an empty slice and
// ErrNoReadings.
func (s *TimeSeriesStore) GetAll(sensorID string) ([]domain.Point, error) {
	ser := s.lookup(sensorID)
	if ser == nil {
		return []domain.Point{}, fmt.Errorf("%w: %s", domain.ErrNoReadings, sensorID)
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	if len(ser.points) == 0 {
		return []domain.Point{}, fmt.Errorf("%w: %s", domain.ErrNoReadings, sensorID)
	}
	out := make([]domain.Point, len(ser.points))
	copy(out, ser.points)
	return out, nil
}

// Range returns the points with from <= timestamp <= to in ascending order.
// A zero bound is open.
func (s *TimeSeriesStore) Range(sensorID string, from, to time.Time) ([]domain.Point, error) {
	ser := s.lookup(sensorID)
	if ser == nil {
		return []domain.Point{}, fmt.Errorf("%w: %s", domain.ErrNoReadings, sensorID)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("%w: range end precedes start", domain.ErrInvalidArgument)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	lo := 0
	if !from.IsZero() {
		lo, _ = ser.search(domain.NormalizeTimestamp(from))
	}
	hi := len(ser.points)
	if !to.IsZero() {
		to = domain.NormalizeTimestamp(to)
		hi = sort.Search(len(ser.points), func(i int) bool { return ser.points[i].Timestamp.After(to) })
	}
	if lo >= hi {
		return []domain.Point{}, nil
	}
	out := make([]domain.Point, hi-lo)
	copy(out, ser.points[lo:hi])
	return out, nil
}

// Latest returns the point with the greatest timestamp for sensorID.
func (s *TimeSeriesStore) Latest(sensorID string) (domain.Point, error) {
	ser := s.lookup(sensorID)
	if ser == nil {
		return domain.Point{}, fmt.Errorf("%w: %s", domain.ErrNoReadings, sensorID)
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	// A series is created just before its first point lands.
	if len(ser.points) == 0 {
		return domain.Point{}, fmt.Errorf("%w: %s", domain.ErrNoReadings, sensorID)
	}
	return ser.points[len(ser.points)-1], nil
}

// Sensors returns the ids of every sensor holding at least one reading.
func (s *TimeSeriesStore) Sensors() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the total number of stored points across all sensors.
func (s *TimeSeriesStore) Len() int {
	return int(s.points.Load())
}

func (s *TimeSeriesStore) lookup(sensorID string) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[sensorID]
}

// seriesFor returns the series for sensorID, creating it on first write.
func (s *TimeSeriesStore) seriesFor(sensorID string) *series {
	if ser := s.lookup(sensorID); ser != nil {
		return ser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ser, ok := s.series[sensorID]
	if !ok {
		ser = &series{}
		s.series[sensorID] = ser
	}
	return ser
}

// search returns the index of ts in the series, or the insertion point when
// absent. Callers hold ser.mu.
func (ser *series) search(ts time.Time) (int, bool) {
	n := len(ser.points)
	if n > 0 && ser.points[n-1].Timestamp.Before(ts) {
		return n, false
	}
	i := sort.Search(n, func(i int) bool { return !ser.points[i].Timestamp.Before(ts) })
	return i, i < n && ser.points[i].Timestamp.Equal(ts)
}
