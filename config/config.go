package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string          `mapstructure:"env"`
	LogLevel        string          `mapstructure:"log_level"`
	LogType         string          `mapstructure:"log_type"`
	ServiceName     string          `mapstructure:"service_name"`
	Version         string          `mapstructure:"version"`
	LogFileSettings *LogFileConfig  `mapstructure:"log_file"`
	CrawlSettings   *CrawlConfig    `mapstructure:"crawl"`
	WorkerSettings  *WorkerConfig   `mapstructure:"worker"`
	QueueSettings   *QueueConfig    `mapstructure:"queue"`
	SinkSettings    *SinkConfig     `mapstructure:"sink"`
	DbSettings      *DatabaseConfig `mapstructure:"database"`
	KafkaSettings   *ProducerConfig `mapstructure:"kafka_producer"`
	S3Settings      *S3Config       `mapstructure:"s3"`
	CacheSettings   *CacheConfig    `mapstructure:"cache"`
	CrawlerSettings *CrawlerConfig  `mapstructure:"crawler"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMb  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// CrawlConfig describes the listing walk. Seeds are resolved against
// BaseURL; Strategy is 'eager' (full link set before dispatch) or 'lazy'
// (enqueue while walking).
type CrawlConfig struct {
	BaseURL  string   `mapstructure:"base_url"`
	Seeds    []string `mapstructure:"seeds"`
	MaxPages int      `mapstructure:"max_pages"`
	Strategy string   `mapstructure:"strategy"`
}

type WorkerConfig struct {
	MaxWorkers      int           `mapstructure:"max_workers"`
	ScrapeMechanism int           `mapstructure:"scrape_mechanism"`
	ScrapeTimeout   time.Duration `mapstructure:"scrape_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	UserAgent       string        `mapstructure:"user_agent"`
	PerHostRps      float64       `mapstructure:"per_host_rps"`
}

type QueueConfig struct {
	TaskCapacity   int `mapstructure:"task_capacity"`
	ResultCapacity int `mapstructure:"result_capacity"`
}

type SinkConfig struct {
	Type                   string        `mapstructure:"type"`
	FilePath               string        `mapstructure:"file_path"`
	RetryAttempts          int           `mapstructure:"retry_attempts"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type ProducerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAsks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Servers      string        `mapstructure:"servers"`
	TtlForScrape time.Duration `mapstructure:"ttl_for_scrape"`
}

// CrawlerConfig configures the Common Crawl fallback mechanism.
type CrawlerConfig struct {
	RequestTimeout   int `mapstructure:"request_timeout"`
	Retries          int `mapstructure:"retries"`
	LastCrawlIndexes int `mapstructure:"last_crawl_indexes"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}
