package storage

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

var base = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func TestTimeSeriesStore_RecordAndGetAt(t *testing.T) {
	s := NewTimeSeriesStore()
	_, err := s.Record("s1", at(5), 60)
	require.NoError(t, err)

	v, err := s.GetAt("s1", at(5))
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)
}

func TestTimeSeriesStore_GetAtMisses(t *testing.T) {
	s := NewTimeSeriesStore()
	_, err := s.GetAt("ghost", at(0))
	require.ErrorIs(t, err, domain.ErrReadingNotFound)

	_, err = s.Record("s1", at(0), 1)
	require.NoError(t, err)
	_, err = s.GetAt("s1", at(1))
	require.ErrorIs(t, err, domain.ErrReadingNotFound)
}

func TestTimeSeriesStore_Overwrite(t *testing.T) {
	s := NewTimeSeriesStore()
	first, err := s.Record("s1", at(0), 1)
	require.NoError(t, err)
	second, err := s.Record("s1", at(0), 2)
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	v, err := s.GetAt("s1", at(0))
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	assert.Equal(t, 1, s.Len())
}

func TestTimeSeriesStore_SameInstantDifferentZone(t *testing.T) {
	s := NewTimeSeriesStore()
	rome := time.FixedZone("CEST", 2*60*60)
	_, err := s.Record("s1", at(0), 1)
	require.NoError(t, err)
	_, err = s.Record("s1", at(0).In(rome), 2)
	require.NoError(t, err)

	all, err := s.GetAll("s1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2.0, all[0].Value)
}

func TestTimeSeriesStore_GetAllOrdered(t *testing.T) {
	s := NewTimeSeriesStore()
	for _, m := range []int{15, 0, 10, 5} {
		_, err := s.Record("s1", at(m), float64(m))
		require.NoError(t, err)
	}
	all, err := s.GetAll("s1")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, m := range []int{0, 5, 10, 15} {
		assert.True(t, all[i].Timestamp.Equal(at(m)), "index %d", i)
		assert.Equal(t, float64(m), all[i].Value)
	}
}

func TestTimeSeriesStore_GetAllNoData(t *testing.T) {
	s := NewTimeSeriesStore()
	all, err := s.GetAll("ghost")
	require.ErrorIs(t, err, domain.ErrNoReadings)
	assert.NotErrorIs(t, err, domain.ErrReadingNotFound)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestTimeSeriesStore_GetAllReturnsCopy(t *testing.T) {
	s := NewTimeSeriesStore()
	_, err := s.Record("s1", at(0), 1)
	require.NoError(t, err)
	all, err := s.GetAll("s1")
	require.NoError(t, err)
	all[0].Value = 99

	v, err := s.GetAt("s1", at(0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestTimeSeriesStore_Range(t *testing.T) {
	s := NewTimeSeriesStore()
	for m := 0; m <= 30; m += 5 {
		_, err := s.Record("s1", at(m), float64(m))
		require.NoError(t, err)
	}

	pts, err := s.Range("s1", at(5), at(15))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 5.0, pts[0].Value)
	assert.Equal(t, 15.0, pts[2].Value)

	pts, err = s.Range("s1", time.Time{}, at(7))
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	pts, err = s.Range("s1", at(26), time.Time{})
	require.NoError(t, err)
	assert.Len(t, pts, 1)

	pts, err = s.Range("s1", at(1), at(2))
	require.NoError(t, err)
	assert.Empty(t, pts)

	_, err = s.Range("s1", at(10), at(5))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestTimeSeriesStore_Latest(t *testing.T) {
	s := NewTimeSeriesStore()
	_, err := s.Latest("s1")
	require.ErrorIs(t, err, domain.ErrNoReadings)

	_, _ = s.Record("s1", at(10), 10)
	_, _ = s.Record("s1", at(5), 5)
	p, err := s.Latest("s1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Value)
}

func TestTimeSeriesStore_RejectsInvalid(t *testing.T) {
	s := NewTimeSeriesStore()
	_, err := s.Record("", at(0), 1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Record("s1", time.Time{}, 1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Record("s1", at(0), math.Inf(-1))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, s.Sensors())
}

func TestTimeSeriesStore_ConcurrentSameKeyLastWriteWins(t *testing.T) {
	s := NewTimeSeriesStore()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lastSeq uint64
		lastVal float64
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			p, err := s.Record("s1", at(0), v)
			if err != nil {
				return
			}
			mu.Lock()
			if p.Seq > lastSeq {
				lastSeq, lastVal = p.Seq, p.Value
			}
			mu.Unlock()
		}(float64(i))
	}
	wg.Wait()

	v, err := s.GetAt("s1", at(0))
	require.NoError(t, err)
	assert.Equal(t, lastVal, v, "stored value must come from the highest sequence write")
	assert.Equal(t, 1, s.Len())
}

func TestTimeSeriesStore_ConcurrentSensors(t *testing.T) {
	s := NewTimeSeriesStore()
	var wg sync.WaitGroup
	sensors := []string{"a", "b", "c", "d"}
	for _, id := range sensors {
		for m := 0; m < 25; m++ {
			wg.Add(1)
			go func(id string, m int) {
				defer wg.Done()
				_, _ = s.Record(id, at(m), float64(m))
			}(id, m)
		}
	}
	wg.Wait()

	assert.Equal(t, sensors, s.Sensors())
	assert.Equal(t, 100, s.Len())
	for _, id := range sensors {
		all, err := s.GetAll(id)
		require.NoError(t, err)
		require.Len(t, all, 25)
		for i := 1; i < len(all); i++ {
			assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
		}
	}
}
