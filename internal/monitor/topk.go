package monitor

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// TopKTracker holds the K highest-ranked anomalies ever offered, ranked by
// domain.AnomalyRecord.Compare. It is safe for concurrent use.
type TopKTracker struct {
	mu   sync.Mutex
	k    int
	heap recordHeap
}

// NewTopKTracker creates a tracker with capacity k. A capacity of zero is
// valid and retains nothing.
func NewTopKTracker(k int) (*TopKTracker, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: tracker capacity must be >= 0, got %d", domain.ErrInvalidArgument, k)
	}
	return &TopKTracker{k: k, heap: make(recordHeap, 0, k+1)}, nil
}

// Offer admits rec and, if the tracker is over capacity, evicts the lowest
// ranked record, which may be rec itself. It reports whether rec is held
// after the call.
func (t *TopKTracker) Offer(rec domain.AnomalyRecord) bool {
	rec.Timestamp = domain.NormalizeTimestamp(rec.Timestamp)

	t.mu.Lock()
	defer t.mu.Unlock()

	heap.Push(&t.heap, rec)
	if t.heap.Len() <= t.k {
		return true
	}
	evicted := heap.Pop(&t.heap).(domain.AnomalyRecord)
	return evicted.Compare(rec) != 0
}

// Top returns the held records, highest first. The tracker is not modified.
func (t *TopKTracker) Top() []domain.AnomalyRecord {
	t.mu.Lock()
	out := make([]domain.AnomalyRecord, len(t.heap))
	copy(out, t.heap)
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[j].Less(out[i]) })
	return out
}

// Min returns the lowest-ranked held record.
func (t *TopKTracker) Min() (domain.AnomalyRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.heap) == 0 {
		return domain.AnomalyRecord{}, false
	}
	return t.heap[0], true
}

// Len returns the number of held records.
func (t *TopKTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Capacity returns K.
func (t *TopKTracker) Capacity() int {
	return t.k
}

// recordHeap is a min-heap over the anomaly total order.
type recordHeap []domain.AnomalyRecord

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h recordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *recordHeap) Push(x any) {
	*h = append(*h, x.(domain.AnomalyRecord))
}

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	*h = old[:n-1]
	return rec
}
