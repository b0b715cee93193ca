package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Features      Features      `yaml:"features"`
	Feed          Feed          `yaml:"feed"`
	Store         Store         `yaml:"store"`
	Detection     Detection     `yaml:"detection"`
	Report        Report        `yaml:"report"`
	Redis         Redis         `yaml:"redis"`
	Elasticsearch Elasticsearch `yaml:"elasticsearch"`
	Kafka         Kafka         `yaml:"kafka"`
	Metrics       Metrics       `yaml:"metrics"`
	Serve         Serve         `yaml:"serve"`
	Logging       Logging       `yaml:"logging"`
}

// Features toggles the optional downstream publishers. The event store and
// the report are always on.
type Features struct {
	RedisAlerts           bool `yaml:"redis_alerts"`
	ElasticsearchIndexing bool `yaml:"elasticsearch_indexing"`
	KafkaEvents           bool `yaml:"kafka_events"`
	// MaxFailures is how many runs in a row a publisher may fail before it
	// is switched off until restart.
	MaxFailures int `yaml:"max_failures"`
}

// Feed configures where edit records come from.
type Feed struct {
	Source       string        `yaml:"source"` // "api" (recentchanges) or "stream" (EventStreams SSE)
	APIURL       string        `yaml:"api_url"`
	StreamURL    string        `yaml:"stream_url"`
	Contact      string        `yaml:"contact"` // required by the Wikimedia User-Agent policy
	Limit        int           `yaml:"limit"`
	Namespace    int           `yaml:"namespace"`    // 0=Main; -1 = all namespaces
	Wiki         string        `yaml:"wiki"`         // stream source only, e.g. "enwiki"
	IncludeBots  bool          `yaml:"include_bots"` // bots are excluded unless set
	Timeout      time.Duration `yaml:"timeout"`
	StreamWindow time.Duration `yaml:"stream_window"`
	PageRate     float64       `yaml:"page_rate"` // recentchanges pages per second

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// Store configures the revert event store.
type Store struct {
	Driver string `yaml:"driver"` // "sqlite3" or "duckdb"
	Path   string `yaml:"path"`
}

// Detection holds the windowing parameters for the three detectors.
type Detection struct {
	ConsolidationWindow time.Duration `yaml:"consolidation_window"`
	ViolationWindow     time.Duration `yaml:"violation_window"`
	ViolationThreshold  int           `yaml:"violation_threshold"`
	MutualWindow        time.Duration `yaml:"mutual_window"`
	MutualMinEach       int           `yaml:"mutual_min_each"`
	// CountConsolidated feeds consolidated actions instead of raw revert
	// events into the violation detector.
	CountConsolidated bool `yaml:"count_consolidated"`
}

// Report configures the rendered report.
type Report struct {
	Format string `yaml:"format"` // text, wikitext or table
	Output string `yaml:"output"` // empty = stdout
}

// Redis configuration for case alerts
type Redis struct {
	URL          string        `yaml:"url"`
	StreamMaxLen int64         `yaml:"stream_max_len"`
	DedupeTTL    time.Duration `yaml:"dedupe_ttl"`
}

// Elasticsearch configuration for case indexing
type Elasticsearch struct {
	URL   string `yaml:"url"`
	Index string `yaml:"index"`
}

// Kafka configuration for revert event publishing
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Metrics configuration
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// Serve configures the long-running mode.
type Serve struct {
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
}

// Logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath yields the defaults plus environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var config Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	setDefaults(&config)
	overrideWithEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a validated configuration built from defaults only.
func Default() *Config {
	var config Config
	setDefaults(&config)
	return &config
}

// setDefaults sets default values for optional fields
func setDefaults(config *Config) {
	// Feed defaults
	if config.Feed.Source == "" {
		config.Feed.Source = "api"
	}
	if config.Feed.APIURL == "" {
		config.Feed.APIURL = "https://en.wikipedia.org/w/api.php"
	}
	if config.Feed.StreamURL == "" {
		config.Feed.StreamURL = "https://stream.wikimedia.org/v2/stream/recentchange"
	}
	if config.Feed.Limit == 0 {
		config.Feed.Limit = 200
	}
	if config.Feed.Wiki == "" {
		config.Feed.Wiki = "enwiki"
	}
	if config.Feed.Timeout == 0 {
		config.Feed.Timeout = 15 * time.Second
	}
	if config.Feed.StreamWindow == 0 {
		config.Feed.StreamWindow = 30 * time.Second
	}
	if config.Feed.PageRate == 0 {
		config.Feed.PageRate = 2
	}
	if config.Feed.BreakerFailures == 0 {
		config.Feed.BreakerFailures = 3
	}
	if config.Feed.BreakerTimeout == 0 {
		config.Feed.BreakerTimeout = 30 * time.Minute
	}

	// Store defaults
	if config.Store.Driver == "" {
		config.Store.Driver = "sqlite3"
	}
	if config.Store.Path == "" {
		config.Store.Path = "editwar.db"
	}

	// Detection defaults
	if config.Detection.ConsolidationWindow == 0 {
		config.Detection.ConsolidationWindow = 5 * time.Minute
	}
	if config.Detection.ViolationWindow == 0 {
		config.Detection.ViolationWindow = 24 * time.Hour
	}
	if config.Detection.ViolationThreshold == 0 {
		config.Detection.ViolationThreshold = 3
	}
	if config.Detection.MutualWindow == 0 {
		config.Detection.MutualWindow = 24 * time.Hour
	}
	if config.Detection.MutualMinEach == 0 {
		config.Detection.MutualMinEach = 2
	}

	if config.Features.MaxFailures == 0 {
		config.Features.MaxFailures = DefaultMaxFailures
	}
	if config.Report.Format == "" {
		config.Report.Format = "text"
	}

	// Redis defaults
	if config.Redis.URL == "" {
		config.Redis.URL = "redis://localhost:6379"
	}
	if config.Redis.StreamMaxLen == 0 {
		config.Redis.StreamMaxLen = 1000
	}
	if config.Redis.DedupeTTL == 0 {
		config.Redis.DedupeTTL = 7 * 24 * time.Hour
	}

	if config.Elasticsearch.URL == "" {
		config.Elasticsearch.URL = "http://localhost:9200"
	}
	if config.Elasticsearch.Index == "" {
		config.Elasticsearch.Index = "editwar-cases"
	}

	if len(config.Kafka.Brokers) == 0 {
		config.Kafka.Brokers = []string{"localhost:9092"}
	}
	if config.Kafka.Topic == "" {
		config.Kafka.Topic = "wikipedia.reverts"
	}

	if config.Metrics.Job == "" {
		config.Metrics.Job = "editwarcatcher"
	}

	if config.Serve.Port == 0 {
		config.Serve.Port = 2112
	}
	if config.Serve.Interval == 0 {
		config.Serve.Interval = 10 * time.Minute
	}

	// Logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if apiURL := os.Getenv("WIKI_API_URL"); apiURL != "" {
		config.Feed.APIURL = apiURL
	}
	if contact := os.Getenv("BOT_CONTACT"); contact != "" {
		config.Feed.Contact = contact
	}
	// DUCKDB_PATH is the legacy variable; it implies the duckdb driver.
	if path := os.Getenv("DUCKDB_PATH"); path != "" {
		config.Store.Driver = "duckdb"
		config.Store.Path = path
	}
	if path := os.Getenv("STORE_PATH"); path != "" {
		config.Store.Path = path
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		config.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}
	if esURL := os.Getenv("ES_URL"); esURL != "" {
		config.Elasticsearch.URL = esURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = strings.ToLower(logLevel)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	switch config.Feed.Source {
	case "api", "stream":
	default:
		return fmt.Errorf("feed source must be \"api\" or \"stream\", got %q", config.Feed.Source)
	}
	if config.Feed.Limit < 0 || config.Feed.Limit > 5000 {
		return fmt.Errorf("feed limit must be between 1 and 5000")
	}

	switch config.Store.Driver {
	case "sqlite3", "duckdb":
	default:
		return fmt.Errorf("store driver must be \"sqlite3\" or \"duckdb\", got %q", config.Store.Driver)
	}

	d := config.Detection
	if d.ConsolidationWindow < 0 || d.ViolationWindow < 0 || d.MutualWindow < 0 {
		return fmt.Errorf("detection windows must be positive")
	}
	if d.ViolationThreshold < 1 {
		return fmt.Errorf("violation threshold must be at least 1")
	}
	if d.MutualMinEach < 1 {
		return fmt.Errorf("mutual min_each must be at least 1")
	}

	switch config.Report.Format {
	case "text", "wikitext", "table":
	default:
		return fmt.Errorf("report format must be text, wikitext or table, got %q", config.Report.Format)
	}

	if config.Features.MaxFailures < 1 {
		return fmt.Errorf("features max_failures must be at least 1")
	}
	if config.Features.KafkaEvents && len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers must not be empty")
	}
	if config.Serve.Interval < time.Minute {
		return fmt.Errorf("serve interval must be at least 1m")
	}

	return nil
}
