package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kubo-market/sensorwatch/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. SENSORWATCH_HTTP_PORT.
const EnvPrefix = "SENSORWATCH"

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTP
	Tracker  Tracker
	Log      Log
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	MQTT     MQTT
	Breaker  Breaker
	Seed     Seed
}

// HTTP configures the API listener.
type HTTP struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Tracker sizes the top-K anomaly tracker.
type Tracker struct {
	Capacity int
}

// Log selects the log level and output format (json or text).
type Log struct {
	Level  string
	Format string
}

// Postgres configures the sensor registry and anomaly archive.
type Postgres struct {
	Enabled bool
	DSN     string
}

// Redis configures the anomaly leaderboard mirror.
type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Key      string
}

// Kafka configures the reading consumer group.
type Kafka struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

// MQTT configures the reading subscriber.
type MQTT struct {
	Enabled  bool
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Breaker configures the circuit breaker put in front of every external sink.
type Breaker struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
	CallTimeout  time.Duration
}

// Seed controls the demo fleet loaded at startup.
type Seed struct {
	Demo bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors_origins", "*")

	v.SetDefault("tracker.capacity", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "postgres://postgres@localhost:5432/sensorwatch?sslmode=disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "sensorwatch")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "sensor-readings")
	v.SetDefault("kafka.group_id", "sensorwatch")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "sensors/+/readings")
	v.SetDefault("mqtt.client_id", "sensorwatch")
	v.SetDefault("mqtt.qos", 1)

	b := storage.DefaultBreakerSettings()
	v.SetDefault("breaker.max_requests", b.MaxRequests)
	v.SetDefault("breaker.interval", b.Interval)
	v.SetDefault("breaker.timeout", b.Timeout)
	v.SetDefault("breaker.min_requests", b.MinRequests)
	v.SetDefault("breaker.failure_ratio", b.FailureRatio)
	v.SetDefault("breaker.call_timeout", b.CallTimeout)

	v.SetDefault("seed.demo", false)
}

// Load reads defaults, the optional config file at path and environment
// overrides, in increasing order of precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names kept for existing deployments.
	if err := v.BindEnv("http.port", EnvPrefix+"_HTTP_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env http.port: %w", err)
	}
	if err := v.BindEnv("postgres.dsn", EnvPrefix+"_POSTGRES_DSN", "DATABASE_DSN"); err != nil {
		return Config{}, fmt.Errorf("bind env postgres.dsn: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	qos := v.GetInt("mqtt.qos")
	if qos < 0 || qos > 2 {
		return Config{}, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", qos)
	}

	cfg := Config{
		HTTP: HTTP{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			CORSOrigins:     getList(v, "http.cors_origins"),
		},
		Tracker: Tracker{Capacity: v.GetInt("tracker.capacity")},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Postgres: Postgres{
			Enabled: v.GetBool("postgres.enabled"),
			DSN:     v.GetString("postgres.dsn"),
		},
		Redis: Redis{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Key:      v.GetString("redis.key"),
		},
		Kafka: Kafka{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: getList(v, "kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
			GroupID: v.GetString("kafka.group_id"),
		},
		MQTT: MQTT{
			Enabled:  v.GetBool("mqtt.enabled"),
			Broker:   v.GetString("mqtt.broker"),
			Topic:    v.GetString("mqtt.topic"),
			ClientID: v.GetString("mqtt.client_id"),
			QoS:      byte(qos),
		},
		Breaker: Breaker{
			MaxRequests:  v.GetUint32("breaker.max_requests"),
			Interval:     v.GetDuration("breaker.interval"),
			Timeout:      v.GetDuration("breaker.timeout"),
			MinRequests:  v.GetUint32("breaker.min_requests"),
			FailureRatio: v.GetFloat64("breaker.failure_ratio"),
			CallTimeout:  v.GetDuration("breaker.call_timeout"),
		},
		Seed: Seed{Demo: v.GetBool("seed.demo")},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.Tracker.Capacity < 0 {
		return fmt.Errorf("tracker.capacity must not be negative, got %d", c.Tracker.Capacity)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" || c.Kafka.GroupID == "") {
		return errors.New("kafka.brokers, kafka.topic and kafka.group_id are required when kafka is enabled")
	}
	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("breaker.failure_ratio must be in (0, 1], got %v", c.Breaker.FailureRatio)
	}
	return nil
}

// getList accepts both a YAML list and a comma separated string.
func getList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
