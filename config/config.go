package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "kafka" or "mqtt"
	Kafka               KafkaConfig   `yaml:"kafka"`
	MQTT                MQTTConfig    `yaml:"mqtt"`
	InboundTopic        string        `yaml:"inbound_topic"`
	EventsTopic         string        `yaml:"events_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	StationID           string        `yaml:"station_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// DispatchConfig tunes the corridor scheduler, batcher and lock.
type DispatchConfig struct {
	Schedule            string        `yaml:"schedule"`
	ShardTotal          int           `yaml:"shard_total"`
	ShardIndexes        []int         `yaml:"shard_indexes"` // empty means every shard
	WeightRatio         float64       `yaml:"weight_ratio"`
	VolumeRatio         float64       `yaml:"volume_ratio"`
	MaxBatchItems       int           `yaml:"max_batch_items"`
	MaxOversizeAttempts int           `yaml:"max_oversize_attempts"`
	LockLease           time.Duration `yaml:"lock_lease"`
	LockPoll            time.Duration `yaml:"lock_poll"`
	LockTimeout         time.Duration `yaml:"lock_timeout"`
	RetryMaxElapsed     time.Duration `yaml:"retry_max_elapsed"`
	DefaultMethod       int           `yaml:"default_method"` // 1 = fewest hops, 2 = lowest cost
	ClaimTimeout        time.Duration `yaml:"claim_timeout"`
	RequeueAfter        time.Duration `yaml:"requeue_after"` // 0 disables the stale order sweep
}

// OwnedShards returns the shard indexes this process should pull.
func (d *DispatchConfig) OwnedShards() []int {
	total := d.ShardTotal
	if total < 1 {
		total = 1
	}
	if len(d.ShardIndexes) == 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	var out []int
	for _, idx := range d.ShardIndexes {
		if idx >= 0 && idx < total {
			out = append(out, idx)
		}
	}
	return out
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "slwl.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "slwl",
				User:     "slwl",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
		},
		Messaging: MessagingConfig{
			Backend: "kafka",
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "slwl-dispatch",
			},
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "slwl-dispatch",
			},
			InboundTopic:        "slwl.dispatch.inbound",
			EventsTopic:         "slwl.dispatch.events",
			OutboxDrainInterval: 2 * time.Second,
			StationID:           "dispatch",
		},
		Dispatch: DispatchConfig{
			Schedule:            "@every 30s",
			ShardTotal:          1,
			WeightRatio:         0.95,
			VolumeRatio:         0.95,
			MaxBatchItems:       1000,
			MaxOversizeAttempts: 3,
			LockLease:           30 * time.Second,
			LockPoll:            50 * time.Millisecond,
			LockTimeout:         10 * time.Second,
			RetryMaxElapsed:     5 * time.Second,
			DefaultMethod:       1,
			ClaimTimeout:        5 * time.Minute,
			RequeueAfter:        10 * time.Minute,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv reads a .env file into the process environment if one exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides selected fields from SLWL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SLWL_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("SLWL_SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv("SLWL_POSTGRES_HOST"); v != "" {
		c.Database.Postgres.Host = v
	}
	if v := os.Getenv("SLWL_POSTGRES_PASSWORD"); v != "" {
		c.Database.Postgres.Password = v
	}
	if v := os.Getenv("SLWL_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("SLWL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SLWL_MESSAGING_BACKEND"); v != "" {
		c.Messaging.Backend = v
	}
	if v := os.Getenv("SLWL_KAFKA_BROKERS"); v != "" {
		c.Messaging.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SLWL_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Web.Port = port
		}
	}
	if v := os.Getenv("SLWL_SESSION_SECRET"); v != "" {
		c.Web.SessionSecret = v
	}
	if v := os.Getenv("SLWL_SHARD_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.ShardTotal = n
		}
	}
	if v := os.Getenv("SLWL_SHARD_INDEXES"); v != "" {
		var idx []int
		for _, s := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				idx = append(idx, n)
			}
		}
		c.Dispatch.ShardIndexes = idx
	}
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }
