package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is an immutable snapshot loaded at startup. Components receive
// the values they need through constructors; nothing mutates this in place.
type Config struct {
	// SourcePath is the file this snapshot was loaded from. Reload paths
	// (SIGHUP secret rotation) read it again.
	SourcePath string `yaml:"-"`

	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Intake struct {
		WebhookSecret string        `yaml:"webhook_secret"`
		SignalTTL     time.Duration `yaml:"signal_ttl"`
		RateLimit     struct {
			Capacity     float64 `yaml:"capacity"`
			RefillPerSec float64 `yaml:"refill_per_sec"`
		} `yaml:"rate_limit"`
	} `yaml:"intake"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Queue struct {
		Backend            string        `yaml:"backend"` // memory or redis
		Workers            int           `yaml:"workers"`
		MaxAttempts        int           `yaml:"max_attempts"`
		UnknownRetryBudget int           `yaml:"unknown_retry_budget"`
		LeaseDuration      time.Duration `yaml:"lease_duration"`
		BackoffBase        time.Duration `yaml:"backoff_base"`
		BackoffMax         time.Duration `yaml:"backoff_max"`
		Redis              struct {
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"queue"`
	Execution struct {
		OrderTimeout time.Duration `yaml:"order_timeout"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"execution"`
	Events struct {
		Backend string `yaml:"backend"` // memory or kafka
		Kafka   struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic"`
			RequiredAcks int           `yaml:"required_acks"`
			Compression  string        `yaml:"compression"`
			MaxAttempts  int           `yaml:"max_attempts"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"kafka"`
	} `yaml:"events"`
	Audit struct {
		ClickHouse struct {
			Enabled     bool          `yaml:"enabled"`
			Host        string        `yaml:"host"`
			Port        int           `yaml:"port"`
			Database    string        `yaml:"database"`
			User        string        `yaml:"user"`
			Password    string        `yaml:"password"`
			DialTimeout time.Duration `yaml:"dial_timeout"`
		} `yaml:"clickhouse"`
	} `yaml:"audit"`
	Brokers []BrokerConfig `yaml:"brokers"`
	Scheduler struct {
		FreshnessWindow time.Duration `yaml:"freshness_window"`
		Nodes           []NodeSeed    `yaml:"nodes"`
	} `yaml:"scheduler"`
}

// BrokerConfig selects a broker adapter per account group.
type BrokerConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // paper or bridge
	Accounts []string `yaml:"accounts"`
	Paper    struct {
		FillPrice float64       `yaml:"fill_price"`
		Latency   time.Duration `yaml:"latency"`
	} `yaml:"paper"`
	Bridge struct {
		URL            string        `yaml:"url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"bridge"`
}

// NodeSeed declares a node config registered at startup. Operators can
// add, change, or disable nodes afterwards through the registry API.
type NodeSeed struct {
	NodeID       string   `yaml:"node_id"`
	Type         string   `yaml:"type"`
	Enabled      bool     `yaml:"enabled"`
	IntervalSec  int      `yaml:"interval_sec"`
	Dependencies []string `yaml:"dependencies"`
	Outputs      []string `yaml:"outputs"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.SourcePath = path
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables. Secrets are expected to arrive this way in deployment.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SIGRELAY_WEBHOOK_SECRET"); v != "" {
		c.Intake.WebhookSecret = v
	}
	if v := os.Getenv("SIGRELAY_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Queue.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Events.Kafka.Topic = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Queue.UnknownRetryBudget <= 0 {
		c.Queue.UnknownRetryBudget = 2
	}
	if c.Queue.LeaseDuration <= 0 {
		c.Queue.LeaseDuration = 30 * time.Second
	}
	if c.Queue.BackoffBase <= 0 {
		c.Queue.BackoffBase = time.Second
	}
	if c.Queue.BackoffMax <= 0 {
		c.Queue.BackoffMax = 2 * time.Minute
	}
	if c.Execution.OrderTimeout <= 0 {
		c.Execution.OrderTimeout = 5 * time.Second
	}
	if c.Execution.PollInterval <= 0 {
		c.Execution.PollInterval = 2 * time.Second
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "memory"
	}
	if c.Scheduler.FreshnessWindow <= 0 {
		c.Scheduler.FreshnessWindow = 90 * time.Second
	}
	if c.Intake.RateLimit.Capacity <= 0 {
		c.Intake.RateLimit.Capacity = 20
	}
	if c.Intake.RateLimit.RefillPerSec <= 0 {
		c.Intake.RateLimit.RefillPerSec = 10
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Intake.WebhookSecret == "" {
		return fmt.Errorf("intake.webhook_secret is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("queue.redis.addr is required for redis backend")
		}
	default:
		return fmt.Errorf("queue.backend must be 'memory' or 'redis', got %q", c.Queue.Backend)
	}
	switch c.Events.Backend {
	case "memory":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required for kafka backend")
		}
		if c.Events.Kafka.Topic == "" {
			return fmt.Errorf("events.kafka.topic is required for kafka backend")
		}
	default:
		return fmt.Errorf("events.backend must be 'memory' or 'kafka', got %q", c.Events.Backend)
	}
	for _, b := range c.Brokers {
		if b.Type != "paper" && b.Type != "bridge" {
			return fmt.Errorf("broker %q: type must be 'paper' or 'bridge'", b.Name)
		}
		if b.Type == "bridge" && b.Bridge.URL == "" {
			return fmt.Errorf("broker %q: bridge.url is required", b.Name)
		}
	}
	for _, n := range c.Scheduler.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("scheduler node without node_id")
		}
		if n.IntervalSec <= 0 {
			return fmt.Errorf("scheduler node %q: interval_sec must be > 0", n.NodeID)
		}
	}
	return nil
}
