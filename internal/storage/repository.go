package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// Repository defines the durable archive behind the in-memory stores.
type Repository interface {
	// UpsertSensor creates or replaces a sensor registration.
	UpsertSensor(ctx context.Context, cfg domain.SensorConfig) error

	// LoadSensors returns every archived registration, ordered by id.
	LoadSensors(ctx context.Context) ([]domain.SensorConfig, error)

	// InsertAnomaly archives an admitted anomaly. Repeats are ignored.
	InsertAnomaly(ctx context.Context, rec domain.AnomalyRecord) error

	// ListAnomalies returns archived anomalies for a sensor within a time
	// range, highest deviation first. An empty sensorID matches all sensors.
	ListAnomalies(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]domain.AnomalyRecord, error)
}

// PostgresRepository implements Repository using PostgreSQL. It also
// satisfies the monitoring sink contract so admissions reach the archive.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Name identifies the repository in logs and metrics.
func (r *PostgresRepository) Name() string { return "postgres" }

// SensorRegistered archives cfg.
func (r *PostgresRepository) SensorRegistered(ctx context.Context, cfg domain.SensorConfig) error {
	return r.UpsertSensor(ctx, cfg)
}

// AnomalyAdmitted archives rec.
func (r *PostgresRepository) AnomalyAdmitted(ctx context.Context, rec domain.AnomalyRecord) error {
	return r.InsertAnomaly(ctx, rec)
}

func (r *PostgresRepository) UpsertSensor(ctx context.Context, cfg domain.SensorConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sensors (sensor_id, location, machine_id, threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (sensor_id) DO UPDATE SET
			location = $2, machine_id = $3, threshold = $4, updated_at = NOW()
	`, cfg.SensorID, cfg.Location, cfg.MachineID, cfg.Threshold)
	if err != nil {
		return fmt.Errorf("upsert sensor: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadSensors(ctx context.Context) ([]domain.SensorConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sensor_id, location, machine_id, threshold
		FROM sensors ORDER BY sensor_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var sensors []domain.SensorConfig
	for rows.Next() {
		var cfg domain.SensorConfig
		if err := rows.Scan(&cfg.SensorID, &cfg.Location, &cfg.MachineID, &cfg.Threshold); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		sensors = append(sensors, cfg)
	}
	return sensors, rows.Err()
}

func (r *PostgresRepository) InsertAnomaly(ctx context.Context, rec domain.AnomalyRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anomalies (sensor_id, observed_at, deviation, admitted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (sensor_id, observed_at, deviation) DO NOTHING
	`, rec.SensorID, rec.Timestamp.UTC(), rec.Deviation)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAnomalies(ctx context.Context, sensorID string, from, to time.Time, limit int) ([]domain.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args := anomalyQuery(sensorID, from, to, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	records := []domain.AnomalyRecord{}
	for rows.Next() {
		var rec domain.AnomalyRecord
		if err := rows.Scan(&rec.SensorID, &rec.Timestamp, &rec.Deviation); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		rec.Timestamp = domain.NormalizeTimestamp(rec.Timestamp)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// anomalyQuery builds the ListAnomalies statement. Zero bounds and an empty
// sensor id are left out of the WHERE clause.
func anomalyQuery(sensorID string, from, to time.Time, limit int) (string, []any) {
	query := "SELECT sensor_id, observed_at, deviation FROM anomalies WHERE TRUE"
	var args []any
	if sensorID != "" {
		args = append(args, sensorID)
		query += fmt.Sprintf(" AND sensor_id = $%d", len(args))
	}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += fmt.Sprintf(" AND observed_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += fmt.Sprintf(" AND observed_at <= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY deviation DESC, sensor_id DESC, observed_at DESC LIMIT $%d", len(args))
	return query, args
}
