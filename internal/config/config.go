// Package config loads and validates ETL configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all job configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Collections CollectionsConfig `mapstructure:"collections"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Derive      DeriveConfig      `mapstructure:"derive"`
	Geo         GeoConfig         `mapstructure:"geo"`
	Export      ExportConfig      `mapstructure:"export"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Profile     ProfileConfig     `mapstructure:"profile"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features and the log file directory.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Dir         string `mapstructure:"dir"`
}

// MongoConfig controls access to the analytics store.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
}

// CollectionsConfig names the collections the jobs read and write.
type CollectionsConfig struct {
	Events   string `mapstructure:"events"`
	Products string `mapstructure:"products"`
	IPs      string `mapstructure:"ips"`
	Runs     string `mapstructure:"runs"`
}

// CrawlerConfig governs the product-name crawl pipeline.
type CrawlerConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	RetryCeiling   int           `mapstructure:"retry_ceiling"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	ProbeURL       string        `mapstructure:"probe_url"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	// RateLimit caps requests per second to one host; zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// DeriveConfig sizes the distinct-key derivation jobs.
type DeriveConfig struct {
	IPBatchSize       int      `mapstructure:"ip_batch_size"`
	ProductBatchSize  int      `mapstructure:"product_batch_size"`
	ProductEventTypes []string `mapstructure:"product_event_types"`
}

// GeoConfig points at the IP2Location BIN database.
type GeoConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	BatchSize    int    `mapstructure:"batch_size"`
}

// ExportConfig controls CSV and Parquet exports.
type ExportConfig struct {
	Dir         string   `mapstructure:"dir"`
	BatchSize   int      `mapstructure:"batch_size"`
	Collections []string `mapstructure:"collections"`
	CSVPath     string   `mapstructure:"csv_path"`
	Upload      bool     `mapstructure:"upload"`
	TestMode    bool     `mapstructure:"test_mode"`
	SampleSize  int      `mapstructure:"sample_size"`
}

// StorageConfig selects and configures the blob storage provider used for uploads.
type StorageConfig struct {
	Provider string      `mapstructure:"provider"`
	Prefix   string      `mapstructure:"prefix"`
	GCS      GCSConfig   `mapstructure:"gcs"`
	S3       S3Config    `mapstructure:"s3"`
	Local    LocalConfig `mapstructure:"local"`
}

// GCSConfig names the Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// S3Config describes an S3 (or S3-compatible) bucket.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`

	// Static credentials; empty falls back to the default AWS chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LocalConfig roots the filesystem provider.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ProfileConfig controls collection profiling.
type ProfileConfig struct {
	Collections      []string `mapstructure:"collections"`
	SampleSize       int      `mapstructure:"sample_size"`
	DistinctStrategy string   `mapstructure:"distinct_strategy"`
	OutputPath       string   `mapstructure:"output_path"`
}

// MetricsConfig enables the Prometheus endpoint while a job runs.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COUNTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "countly")
	v.SetDefault("mongo.connect_timeout", "30s")
	v.SetDefault("mongo.max_pool_size", 50)
	v.SetDefault("collections.events", "summary")
	v.SetDefault("collections.products", "product_names")
	v.SetDefault("collections.ips", "distinct_ips")
	v.SetDefault("collections.runs", "crawl_runs")
	v.SetDefault("crawler.batch_size", 50)
	v.SetDefault("crawler.concurrency", 16)
	v.SetDefault("crawler.request_timeout", "10s")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("crawler.accept_language", "en-US,en;q=0.9")
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.retry_backoff", "2s")
	v.SetDefault("crawler.retry_ceiling", 3)
	v.SetDefault("crawler.page_delay", "100ms")
	v.SetDefault("crawler.probe_url", "")
	v.SetDefault("crawler.sample_interval", "0s")
	v.SetDefault("crawler.rate_limit", 0)
	v.SetDefault("crawler.rate_burst", 1)
	v.SetDefault("derive.ip_batch_size", 1000)
	v.SetDefault("derive.product_batch_size", 5000)
	v.SetDefault("derive.product_event_types", []string{
		"view_product_detail",
		"select_product_option",
		"select_product_option_quality",
	})
	v.SetDefault("geo.database_path", "ip2loc/IP2LOCATION-LITE-DB1.BIN")
	v.SetDefault("geo.batch_size", 5000)
	v.SetDefault("export.dir", "data")
	v.SetDefault("export.batch_size", 100)
	v.SetDefault("export.collections", []string{"distinct_ips", "product_names", "summary"})
	v.SetDefault("export.csv_path", "product_data.csv")
	v.SetDefault("export.upload", false)
	v.SetDefault("export.test_mode", false)
	v.SetDefault("export.sample_size", 10)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.local.base_dir", "data/uploads")
	v.SetDefault("profile.collections", []string{"product_names", "distinct_ips"})
	v.SetDefault("profile.sample_size", 100)
	v.SetDefault("profile.distinct_strategy", "aggregate")
	v.SetDefault("profile.output_path", "data_profiling_output.txt")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri must be set")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database must be set")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.RetryBackoff < 0 {
		return fmt.Errorf("crawler.retry_backoff must be >= 0")
	}
	if c.Crawler.RateLimit < 0 {
		return fmt.Errorf("crawler.rate_limit must be >= 0")
	}
	if c.Crawler.RetryCeiling <= 0 {
		return fmt.Errorf("crawler.retry_ceiling must be > 0")
	}
	if c.Derive.IPBatchSize <= 0 || c.Derive.ProductBatchSize <= 0 {
		return fmt.Errorf("derive batch sizes must be > 0")
	}
	if c.Geo.BatchSize <= 0 {
		return fmt.Errorf("geo.batch_size must be > 0")
	}
	if c.Export.BatchSize <= 0 {
		return fmt.Errorf("export.batch_size must be > 0")
	}
	switch c.Profile.DistinctStrategy {
	case "aggregate", "distinct":
	default:
		return fmt.Errorf("profile.distinct_strategy must be aggregate or distinct, got %q", c.Profile.DistinctStrategy)
	}
	switch c.Storage.Provider {
	case "noop", "local":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when provider is gcs")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must be set when provider is s3")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set together")
	}
	return nil
}
