package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Storage struct {
		// Backend selects the price history store: "clickhouse" or "memory".
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		QueryTimeout    time.Duration `yaml:"query_timeout"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Consumer     struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Feed struct {
		StreamURL      string            `yaml:"stream_url"`
		HermesURL      string            `yaml:"hermes_url"`
		Assets         []string          `yaml:"assets"`
		FeedIDs        map[string]string `yaml:"feed_ids"` // asset id -> pyth price feed id
		ReconnectDelay time.Duration     `yaml:"reconnect_delay"`
		PingInterval   time.Duration     `yaml:"ping_interval"`
	} `yaml:"feed"`
	Forecast struct {
		ArtifactDir     string        `yaml:"artifact_dir"`
		SequenceLength  int           `yaml:"sequence_length"`
		HorizonDays     int           `yaml:"horizon_days"`
		TrainWindowDays int           `yaml:"train_window_days"`
		HiddenUnits     int           `yaml:"hidden_units"`
		DenseUnits      int           `yaml:"dense_units"`
		DropoutRate     float64       `yaml:"dropout_rate"`
		LearningRate    float64       `yaml:"learning_rate"`
		Epochs          int           `yaml:"epochs"`
		Patience        int           `yaml:"patience"`
		ValidationSplit float64       `yaml:"validation_split"`
		BatchSize       int           `yaml:"batch_size"`
		// UncertaintyScale is the fraction of the forecast-path standard
		// deviation used for the heuristic confidence band.
		UncertaintyScale float64       `yaml:"uncertainty_scale"`
		CacheTTL         time.Duration `yaml:"cache_ttl"`
	} `yaml:"forecast"`
	Backfill struct {
		Step         time.Duration `yaml:"step"`
		Perturbation float64       `yaml:"perturbation"`
	} `yaml:"backfill"`
	Monitor struct {
		MAPEThreshold    float64       `yaml:"mape_threshold"`
		DegradationRatio float64       `yaml:"degradation_ratio"`
		RecentWindowDays int           `yaml:"recent_window_days"`
		BaselineDays     int           `yaml:"baseline_days"`
		MinSamples       int           `yaml:"min_samples"`
		Interval         time.Duration `yaml:"interval"`
	} `yaml:"monitor"`
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
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ASSETS"); v != "" {
		c.Feed.Assets = strings.Split(v, ",")
	}
	if v := os.Getenv("ARTIFACT_DIR"); v != "" {
		c.Forecast.ArtifactDir = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "clickhouse"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	f := &c.Forecast
	if f.ArtifactDir == "" {
		f.ArtifactDir = "models"
	}
	if f.SequenceLength <= 0 {
		f.SequenceLength = 30
	}
	if f.HorizonDays <= 0 {
		f.HorizonDays = 7
	}
	if f.TrainWindowDays <= 0 {
		f.TrainWindowDays = 90
	}
	if f.HiddenUnits <= 0 {
		f.HiddenUnits = 50
	}
	if f.DenseUnits <= 0 {
		f.DenseUnits = 25
	}
	if f.DropoutRate <= 0 {
		f.DropoutRate = 0.2
	}
	if f.LearningRate <= 0 {
		f.LearningRate = 0.001
	}
	if f.Epochs <= 0 {
		f.Epochs = 50
	}
	if f.Patience <= 0 {
		f.Patience = 10
	}
	if f.ValidationSplit <= 0 {
		f.ValidationSplit = 0.1
	}
	if f.BatchSize <= 0 {
		f.BatchSize = 32
	}
	if f.UncertaintyScale <= 0 {
		f.UncertaintyScale = 0.10
	}
	if f.CacheTTL <= 0 {
		f.CacheTTL = 15 * time.Minute
	}
	if c.Backfill.Step <= 0 {
		c.Backfill.Step = 4 * time.Hour
	}
	if c.Backfill.Perturbation <= 0 {
		c.Backfill.Perturbation = 0.05
	}
	m := &c.Monitor
	if m.MAPEThreshold <= 0 {
		m.MAPEThreshold = 15.0
	}
	if m.DegradationRatio <= 0 {
		m.DegradationRatio = 1.5
	}
	if m.RecentWindowDays <= 0 {
		m.RecentWindowDays = 7
	}
	if m.BaselineDays <= 0 {
		m.BaselineDays = 30
	}
	if m.MinSamples <= 0 {
		m.MinSamples = 5
	}
	if m.Interval <= 0 {
		m.Interval = 15 * time.Minute
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Storage.Backend != "clickhouse" && c.Storage.Backend != "memory" {
		return fmt.Errorf("storage.backend must be 'clickhouse' or 'memory', got '%s'", c.Storage.Backend)
	}
	if len(c.Feed.Assets) == 0 {
		return fmt.Errorf("feed.assets cannot be empty")
	}
	if c.Storage.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for clickhouse backend")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Forecast.ValidationSplit >= 1 {
		return fmt.Errorf("forecast.validation_split must be < 1")
	}
	return nil
}
