package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// memberTimeLayout is fixed width so members of one sensor sort
// chronologically.
const memberTimeLayout = "2006-01-02T15:04:05.000000000Z"

// RedisConfig holds connection settings for the leaderboard.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisLeaderboard mirrors admitted anomalies into a sorted set trimmed to
// the tracker capacity, and sensor registrations into hashes.
type RedisLeaderboard struct {
	client   *redis.Client
	prefix   string
	capacity int
}

// NewRedisLeaderboard creates a leaderboard under the given key prefix.
func NewRedisLeaderboard(client *redis.Client, prefix string, capacity int) *RedisLeaderboard {
	return &RedisLeaderboard{client: client, prefix: prefix, capacity: capacity}
}

func (l *RedisLeaderboard) Name() string { return "redis" }

// AnomaliesKey is the sorted set holding the mirrored top anomalies.
func (l *RedisLeaderboard) AnomaliesKey() string {
	return l.prefix + ":anomalies:top"
}

// SensorKey is the hash holding one sensor's registration.
func (l *RedisLeaderboard) SensorKey(sensorID string) string {
	return l.prefix + ":sensor:" + sensorID
}

func (l *RedisLeaderboard) SensorRegistered(ctx context.Context, cfg domain.SensorConfig) error {
	err := l.client.HSet(ctx, l.SensorKey(cfg.SensorID),
		"location", cfg.Location,
		"machine_id", cfg.MachineID,
		"threshold", cfg.Threshold,
	).Err()
	if err != nil {
		return fmt.Errorf("store sensor in redis: %w", err)
	}
	return nil
}

func (l *RedisLeaderboard) AnomalyAdmitted(ctx context.Context, rec domain.AnomalyRecord) error {
	key := l.AnomaliesKey()
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: rec.Deviation, Member: encodeMember(rec)})
	// Keep only the highest capacity entries.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-l.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store anomaly in redis: %w", err)
	}
	return nil
}

// Top reads the mirrored anomalies, highest deviation first.
func (l *RedisLeaderboard) Top(ctx context.Context) ([]domain.AnomalyRecord, error) {
	entries, err := l.client.ZRevRangeWithScores(ctx, l.AnomaliesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read anomalies from redis: %w", err)
	}
	records := make([]domain.AnomalyRecord, 0, len(entries))
	for _, z := range entries {
		member, _ := z.Member.(string)
		rec, err := decodeMember(member)
		if err != nil {
			return nil, err
		}
		rec.Deviation = z.Score
		records = append(records, rec)
	}
	return records, nil
}

func encodeMember(rec domain.AnomalyRecord) string {
	return rec.SensorID + "@" + rec.Timestamp.UTC().Format(memberTimeLayout)
}

func decodeMember(member string) (domain.AnomalyRecord, error) {
	i := strings.LastIndexByte(member, '@')
	if i < 0 {
		return domain.AnomalyRecord{}, fmt.Errorf("malformed leaderboard member %q", member)
	}
	ts, err := time.Parse(memberTimeLayout, member[i+1:])
	if err != nil {
		return domain.AnomalyRecord{}, fmt.Errorf("malformed leaderboard member %q: %w", member, err)
	}
	return domain.AnomalyRecord{SensorID: member[:i], Timestamp: domain.NormalizeTimestamp(ts)}, nil
}
