package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	GitHub     GitHubConfig     `yaml:"github" mapstructure:"github"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Sweep      SweepConfig      `yaml:"sweep" mapstructure:"sweep"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GitHubConfig holds source-control provider settings.
type GitHubConfig struct {
	Token          string  `yaml:"token" mapstructure:"token"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	WindowDays     int     `yaml:"window_days" mapstructure:"window_days"`
}

// AnthropicConfig holds inference provider settings.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	PrimaryModel     string `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel    string `yaml:"fallback_model" mapstructure:"fallback_model"`
	MaxBatchSize     int    `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollTimeoutMins  int    `yaml:"poll_timeout_mins" mapstructure:"poll_timeout_mins"`
}

// QueueConfig configures the task queue and worker pool.
type QueueConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	DispatchDelaySec int `yaml:"dispatch_delay_secs" mapstructure:"dispatch_delay_secs"`
	LeaseSecs        int `yaml:"lease_secs" mapstructure:"lease_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	PollMillis       int `yaml:"poll_millis" mapstructure:"poll_millis"`
}

// SweepConfig configures the stuck-pipeline recovery sweep.
type SweepConfig struct {
	IntervalMins    int    `yaml:"interval_mins" mapstructure:"interval_mins"`
	ResyncHours     int    `yaml:"resync_hours" mapstructure:"resync_hours"`
	TimeoutsFile    string `yaml:"timeouts_file" mapstructure:"timeouts_file"`
	DefaultTimeoutM int    `yaml:"default_timeout_mins" mapstructure:"default_timeout_mins"`
}

// NotifyConfig holds Notion notification settings. An empty token disables
// notifications entirely.
type NotifyConfig struct {
	NotionToken string `yaml:"notion_token" mapstructure:"notion_token"`
	NotionDB    string `yaml:"notion_db" mapstructure:"notion_db"`
}

// ServerConfig configures the read-only dashboard API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures periodic health checks and webhook alerts.
// An empty WebhookURL disables alert delivery; checks still log.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StalledAfterMins    int    `yaml:"stalled_after_mins" mapstructure:"stalled_after_mins"`
	QueueDepthThreshold int    `yaml:"queue_depth_threshold" mapstructure:"queue_depth_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEVLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("github.requests_per_sec", 2)
	v.SetDefault("github.window_days", 30)
	v.SetDefault("anthropic.primary_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.fallback_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_batch_size", 300)
	v.SetDefault("anthropic.poll_interval_secs", 30)
	v.SetDefault("anthropic.poll_timeout_mins", 60)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.dispatch_delay_secs", 3)
	v.SetDefault("queue.lease_secs", 900)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.poll_millis", 500)
	v.SetDefault("sweep.interval_mins", 5)
	v.SetDefault("sweep.resync_hours", 6)
	v.SetDefault("sweep.default_timeout_mins", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stalled_after_mins", 60)
	v.SetDefault("monitoring.queue_depth_threshold", 200)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// StageTimeouts maps a pipeline status name to the window after which a
// record at that status counts as stalled. Stages not listed fall back to
// SweepConfig.DefaultTimeoutM.
type StageTimeouts map[string]time.Duration

// LoadStageTimeouts reads per-stage timeout overrides from a YAML file of
// the form `status_name: minutes`. A missing file returns an empty map.
func LoadStageTimeouts(path string) (StageTimeouts, error) {
	if path == "" {
		return StageTimeouts{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StageTimeouts{}, nil
		}
		return nil, eris.Wrapf(err, "config: read timeouts file %s", path)
	}

	var mins map[string]int
	if err := yaml.Unmarshal(raw, &mins); err != nil {
		return nil, eris.Wrap(err, "config: parse timeouts file")
	}

	out := make(StageTimeouts, len(mins))
	for status, m := range mins {
		if m <= 0 {
			return nil, eris.Errorf("config: non-positive timeout for %s", status)
		}
		out[status] = time.Duration(m) * time.Minute
	}
	return out, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
