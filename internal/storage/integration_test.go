package storage

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "postgres://postgres@localhost:5432/sensorwatch?sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Skipf("skipping integration test: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping integration test (DB not available): %v", err)
	}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migration: %v", err)
	}
	return db
}

func cleanupSensor(t *testing.T, db *sql.DB, sensorID string) {
	t.Helper()
	db.Exec("DELETE FROM anomalies WHERE sensor_id = $1", sensorID)
	db.Exec("DELETE FROM sensors WHERE sensor_id = $1", sensorID)
}

func TestIntegration_UpsertAndLoadSensors(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	id := "it-sensor-upsert"
	defer cleanupSensor(t, db, id)

	if err := repo.UpsertSensor(ctx, domain.SensorConfig{SensorID: id, Location: "A", MachineID: "M1", Threshold: 50}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.UpsertSensor(ctx, domain.SensorConfig{SensorID: id, Location: "B", MachineID: "M2", Threshold: 75}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	sensors, err := repo.LoadSensors(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var found *domain.SensorConfig
	for i := range sensors {
		if sensors[i].SensorID == id {
			found = &sensors[i]
		}
	}
	if found == nil {
		t.Fatal("sensor not loaded")
	}
	if found.Location != "B" || found.MachineID != "M2" || found.Threshold != 75 {
		t.Errorf("got %+v, want the second registration", *found)
	}
}

func TestIntegration_InsertAnomalyIgnoresRepeat(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	id := "it-sensor-repeat"
	defer cleanupSensor(t, db, id)

	rec := domain.AnomalyRecord{Deviation: 100, SensorID: id, Timestamp: time.Date(2024, 10, 1, 12, 5, 0, 0, time.UTC)}
	for i := 0; i < 2; i++ {
		if err := repo.InsertAnomaly(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, err := repo.ListAnomalies(ctx, id, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(rec.Timestamp) || got[0].Deviation != rec.Deviation {
		t.Errorf("got %+v, want %+v", got[0], rec)
	}
}

func TestIntegration_ListAnomaliesOrderAndRange(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	id := "it-sensor-range"
	defer cleanupSensor(t, db, id)

	start := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, dev := range []float64{10, 30, 20} {
		rec := domain.AnomalyRecord{Deviation: dev, SensorID: id, Timestamp: start.Add(time.Duration(i) * time.Minute)}
		if err := repo.AnomalyAdmitted(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := repo.ListAnomalies(ctx, id, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Deviation != 30 || all[2].Deviation != 10 {
		t.Errorf("unexpected order: %+v", all)
	}

	some, err := repo.ListAnomalies(ctx, id, start.Add(time.Minute), time.Time{}, 10)
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(some) != 2 {
		t.Errorf("got %d anomalies in range, want 2", len(some))
	}
}

func TestIntegration_ConcurrentUpserts(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	id := "it-sensor-concurrent"
	defer cleanupSensor(t, db, id)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.SensorRegistered(ctx, domain.SensorConfig{SensorID: id, Threshold: float64(i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent upsert: %v", err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sensors WHERE sensor_id = $1", id).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows, want 1", count)
	}
}

func TestIntegration_NewPostgresDB(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "postgres://postgres@localhost:5432/sensorwatch?sslmode=disable"
	}
	db, err := NewPostgresDB(context.Background(), dsn)
	if err != nil {
		t.Skipf("skipping (DB not available): %v", err)
	}
	defer db.Close()

	var exists bool
	err = db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'anomalies')").Scan(&exists)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !exists {
		t.Error("anomalies table not created")
	}
}
