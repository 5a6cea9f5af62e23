package storage

import (
	"strings"
	"testing"
	"time"
)

func TestAnomalyQueryNoFilters(t *testing.T) {
	query, args := anomalyQuery("", time.Time{}, time.Time{}, 10)
	if strings.Contains(query, "sensor_id =") || strings.Contains(query, "observed_at >=") {
		t.Errorf("unexpected filter in %q", query)
	}
	if len(args) != 1 || args[0] != 10 {
		t.Errorf("args = %v, want [10]", args)
	}
	if !strings.HasSuffix(query, "LIMIT $1") {
		t.Errorf("limit placeholder wrong in %q", query)
	}
}

func TestAnomalyQueryAllFilters(t *testing.T) {
	from := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	query, args := anomalyQuery("sensor_1", from, to, 5)

	for _, want := range []string{"sensor_id = $1", "observed_at >= $2", "observed_at <= $3", "LIMIT $4"} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 4 {
		t.Fatalf("got %d args, want 4", len(args))
	}
	if args[0] != "sensor_1" {
		t.Errorf("args[0] = %v", args[0])
	}
}

func TestAnomalyQueryOrdersByDeviation(t *testing.T) {
	query, _ := anomalyQuery("", time.Time{}, time.Time{}, 1)
	if !strings.Contains(query, "ORDER BY deviation DESC") {
		t.Errorf("query %q not ordered by deviation", query)
	}
}

func TestAnomalyQueryOpenLowerBound(t *testing.T) {
	to := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	query, args := anomalyQuery("", time.Time{}, to, 1)
	if !strings.Contains(query, "observed_at <= $1") {
		t.Errorf("query %q should bind the upper bound first", query)
	}
	if len(args) != 2 {
		t.Errorf("got %d args, want 2", len(args))
	}
}
