package monitor

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

var t0 = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func rec(dev float64, sensor string, minute int) domain.AnomalyRecord {
	return domain.AnomalyRecord{Deviation: dev, SensorID: sensor, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

func bruteForceTop(all []domain.AnomalyRecord, k int) []domain.AnomalyRecord {
	sorted := append([]domain.AnomalyRecord(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[j].Less(sorted[i]) })
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func TestNewTopKTracker_NegativeCapacity(t *testing.T) {
	_, err := NewTopKTracker(-1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestTopKTracker_ZeroCapacityHoldsNothing(t *testing.T) {
	tr, err := NewTopKTracker(0)
	require.NoError(t, err)
	assert.False(t, tr.Offer(rec(100, "s1", 0)))
	assert.Empty(t, tr.Top())
	assert.Equal(t, 0, tr.Len())
}

func TestTopKTracker_FewerThanK(t *testing.T) {
	tr, err := NewTopKTracker(5)
	require.NoError(t, err)
	assert.True(t, tr.Offer(rec(1, "s1", 0)))
	assert.True(t, tr.Offer(rec(3, "s1", 1)))

	top := tr.Top()
	require.Len(t, top, 2)
	assert.Equal(t, 3.0, top[0].Deviation)
	assert.Equal(t, 1.0, top[1].Deviation)
}

func TestTopKTracker_BoundedSizeAlways(t *testing.T) {
	tr, err := NewTopKTracker(3)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		tr.Offer(rec(rng.Float64()*100, fmt.Sprintf("s%d", rng.Intn(5)), i))
		require.LessOrEqual(t, tr.Len(), 3)
		require.LessOrEqual(t, len(tr.Top()), 3)
	}
}

func TestTopKTracker_MatchesBruteForceRegardlessOfOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var all []domain.AnomalyRecord
	for i := 0; i < 60; i++ {
		// Coarse deviations force plenty of ties on the primary key.
		all = append(all, rec(float64(rng.Intn(10)), fmt.Sprintf("s%d", rng.Intn(4)), i))
	}

	for _, k := range []int{1, 3, 10, 60, 100} {
		want := bruteForceTop(all, k)
		for trial := 0; trial < 5; trial++ {
			shuffled := append([]domain.AnomalyRecord(nil), all...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			tr, err := NewTopKTracker(k)
			require.NoError(t, err)
			for _, r := range shuffled {
				tr.Offer(r)
			}
			assert.Equal(t, want, tr.Top(), "k=%d trial=%d", k, trial)
		}
	}
}

func TestTopKTracker_EvictsNewMinimum(t *testing.T) {
	tr, err := NewTopKTracker(2)
	require.NoError(t, err)
	tr.Offer(rec(50, "s1", 0))
	tr.Offer(rec(60, "s1", 1))
	before := tr.Top()

	assert.False(t, tr.Offer(rec(10, "s2", 2)), "a record below the current minimum must be evicted immediately")
	assert.Equal(t, before, tr.Top())
}

func TestTopKTracker_EvictsOldMinimum(t *testing.T) {
	tr, err := NewTopKTracker(2)
	require.NoError(t, err)
	tr.Offer(rec(50, "s1", 0))
	tr.Offer(rec(60, "s1", 1))

	assert.True(t, tr.Offer(rec(55, "s2", 2)))
	top := tr.Top()
	require.Len(t, top, 2)
	assert.Equal(t, 60.0, top[0].Deviation)
	assert.Equal(t, 55.0, top[1].Deviation)

	minRec, ok := tr.Min()
	require.True(t, ok)
	assert.Equal(t, 55.0, minRec.Deviation)
}

func TestTopKTracker_TieBreakOnSensorThenTimestamp(t *testing.T) {
	tr, err := NewTopKTracker(2)
	require.NoError(t, err)
	tr.Offer(rec(10, "a", 5))
	tr.Offer(rec(10, "b", 0))
	tr.Offer(rec(10, "b", 1))

	top := tr.Top()
	require.Len(t, top, 2)
	assert.Equal(t, rec(10, "b", 1), top[0])
	assert.Equal(t, rec(10, "b", 0), top[1])
}

func TestTopKTracker_TopDoesNotDrain(t *testing.T) {
	tr, err := NewTopKTracker(3)
	require.NoError(t, err)
	tr.Offer(rec(1, "s1", 0))
	tr.Offer(rec(2, "s1", 1))

	first := tr.Top()
	first[0].Deviation = -1
	assert.Equal(t, tr.Top()[0].Deviation, 2.0)
	assert.Equal(t, 2, tr.Len())
}

func TestTopKTracker_ConcurrentOffers(t *testing.T) {
	const k = 10
	tr, err := NewTopKTracker(k)
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []domain.AnomalyRecord
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(g)))
			for i := 0; i < 100; i++ {
				r := rec(rng.Float64()*1000, fmt.Sprintf("s%d", g), i)
				tr.Offer(r)
				mu.Lock()
				all = append(all, r)
				mu.Unlock()
				if n := tr.Len(); n > k {
					t.Errorf("capacity exceeded: %d", n)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, bruteForceTop(all, k), tr.Top())
}
