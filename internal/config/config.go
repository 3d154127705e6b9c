// Package config loads process configuration from a file plus environment
// overrides, via viper, and can watch the file for changes, handing each
// reloaded Config to a callback (spec.md §9's ambient config concern).
// cmd/server's callback only logs the reload; components already built
// keep the values they were constructed with. Grounded on the teacher pack's
// viper users (cklxx-elephant.ai's internal/config, kadirpekel-hector's
// pkg/config/provider) rather than the teacher itself, which has no config
// layer of its own.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration surface for cmd/server and
// cmd/worker (spec.md §6, "DB driver selection, worker concurrency, retry
// budgets, webhook backoff parameters").
type Config struct {
	ServerAddr string `mapstructure:"server_addr"`

	StorageDriver string `mapstructure:"storage_driver"` // memory | sqlite | mysql
	DatabaseDSN   string `mapstructure:"database_dsn"`

	QueueDriver string `mapstructure:"queue_driver"` // memory | redis
	RedisAddr   string `mapstructure:"redis_addr"`

	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	LeaseScanInterval time.Duration `mapstructure:"lease_scan_interval"`

	TextRetryBudget  int `mapstructure:"text_retry_budget"`
	ImageRetryBudget int `mapstructure:"image_retry_budget"`
	ImageConcurrency int `mapstructure:"image_concurrency"`

	WebhookMaxAttempts int           `mapstructure:"webhook_max_attempts"`
	WebhookBackoffBase time.Duration `mapstructure:"webhook_backoff_base"`
	WebhookBackoffMax  time.Duration `mapstructure:"webhook_backoff_max"`

	SearchBaseURL string `mapstructure:"search_base_url"`
	SearchAPIKey  string `mapstructure:"search_api_key"`
	ImageBaseURL  string `mapstructure:"image_base_url"`
	ImageAPIKey   string `mapstructure:"image_api_key"`

	LLMProvider string `mapstructure:"llm_provider"` // anthropic | openai | google
	LLMAPIKey   string `mapstructure:"llm_api_key"`
	LLMModel    string `mapstructure:"llm_model"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("storage_driver", "memory")
	v.SetDefault("queue_driver", "memory")
	v.SetDefault("worker_concurrency", 2)
	v.SetDefault("task_timeout", 30*time.Minute)
	v.SetDefault("lease_ttl", 5*time.Minute)
	v.SetDefault("lease_scan_interval", 1*time.Minute)
	v.SetDefault("text_retry_budget", 3)
	v.SetDefault("image_retry_budget", 3)
	v.SetDefault("image_concurrency", 4)
	v.SetDefault("webhook_max_attempts", 5)
	v.SetDefault("webhook_backoff_base", 2*time.Second)
	v.SetDefault("webhook_backoff_max", 2*time.Minute)
	v.SetDefault("llm_provider", "anthropic")
	v.SetDefault("log_level", "info")
}

// Loader wraps a *viper.Viper instance bound to one config file, with
// environment overrides under the CONTENTPIPELINE_ prefix (e.g.
// CONTENTPIPELINE_WORKER_CONCURRENCY=4).
type Loader struct {
	v *viper.Viper
}

// New builds a Loader. path may be empty, in which case only defaults and
// environment variables apply.
func New(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CONTENTPIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v}
}

// Load reads the bound config file (if any) and unmarshals it into a
// Config, applying defaults for anything unset.
func (l *Loader) Load() (*Config, error) {
	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Watch invokes onChange with a freshly reloaded Config every time the
// bound config file changes on disk, debounced so a burst of filesystem
// events (common with editors that write-then-rename) triggers at most one
// reload. A no-op if no config file is bound. Grounded on the pack's
// viper+fsnotify reload pattern (cklxx-elephant.ai's RuntimeConfigWatcher,
// kadirpekel-hector's FileProvider.Watch), using viper's own fsnotify-backed
// WatchConfig instead of driving fsnotify directly, since viper already
// owns the file handle.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	debouncer := &reloadDebouncer{delay: 250 * time.Millisecond}
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		debouncer.schedule(func() {
			cfg, err := l.Load()
			onChange(cfg, err)
		})
	})
	l.v.WatchConfig()
}

// reloadDebouncer coalesces a burst of filesystem events (common with
// editors that write-then-rename) into a single reload.
type reloadDebouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
}

func (d *reloadDebouncer) schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}
