package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"required"`
	Watchlist   []string `yaml:"watchlist" default:"[\"AAPL\",\"MSFT\",\"GOOGL\",\"AMZN\",\"TSLA\",\"NVDA\"]" validate:"min=1,unique,dive,required"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"150s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
		// Ingest trigger throttle (token bucket per client IP).
		TriggerBurst     float64 `yaml:"trigger_burst" default:"2" validate:"gte=1"`
		TriggerPerMinute float64 `yaml:"trigger_per_minute" default:"1" validate:"gt=0"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Backend struct {
		Type string `yaml:"type" default:"redis" validate:"oneof=redis memory"`
	} `yaml:"backend"`

	Ingest struct {
		RequestSpacingSeconds float64 `yaml:"request_spacing_seconds" default:"12.5" validate:"gte=0"`
		MaxJitterSeconds      float64 `yaml:"max_jitter_seconds" default:"0.25" validate:"gte=0"`
		MaxAttempts           int     `yaml:"max_attempts" default:"4" validate:"gte=1,lte=10"`
		Base429BackoffSeconds float64 `yaml:"base_429_backoff_seconds" default:"2" validate:"gte=0"`
		Base5xxBackoffSeconds float64 `yaml:"base_5xx_backoff_seconds" default:"0.5" validate:"gte=0"`
		MaxBackoffSeconds     float64 `yaml:"max_backoff_seconds" default:"10" validate:"gte=0"`
		StopOnFirstFailure    bool    `yaml:"stop_on_first_failure" default:"false"`
		MaxBackfillDays       int     `yaml:"max_backfill_days" default:"30" validate:"gte=1,lte=30"`
	} `yaml:"ingest"`

	Massive struct {
		BaseURL        string        `yaml:"base_url" default:"https://api.massive.com" validate:"required,url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" default:"5s"`
		ReadTimeout    time.Duration `yaml:"read_timeout" default:"25s"`
	} `yaml:"massive"`

	Credential struct {
		Param      string `yaml:"param"`
		SecretsDir string `yaml:"secrets_dir" default:"/run/secrets"`
		APIKey     string `yaml:"api_key"`
	} `yaml:"credential"`

	Store struct {
		Table string `yaml:"table" default:"movers" validate:"required"`
	} `yaml:"store"`

	// Read cache for GET /api/movers, cleared after each insert.
	Cache struct {
		Enabled bool          `yaml:"enabled" default:"true"`
		Type    string        `yaml:"type" default:"memory" validate:"oneof=memory redis"`
		TTL     time.Duration `yaml:"ttl" default:"5m"`
	} `yaml:"cache"`

	Redis struct {
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db" default:"0"`
		PoolSize int           `yaml:"pool_size" default:"10"`
		Timeout  time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled" default:"false"`
		Brokers      []string `yaml:"brokers"`
		StoredTopic  string   `yaml:"stored_topic" default:"movers.stored"`
		TriggerTopic string   `yaml:"trigger_topic" default:"movers.ingest.requests"`
		LogsTopic    string   `yaml:"logs_topic" default:"movers.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled" default:"false"`
			GroupID    string        `yaml:"group_id" default:"moverpull-ingest"`
			RetryMax   int           `yaml:"retry_max" default:"0"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"1s"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"30s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"movers.ingest.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled     bool          `yaml:"enabled" default:"false"`
		Host        string        `yaml:"host" default:"localhost"`
		Port        int           `yaml:"port" default:"9000"`
		Database    string        `yaml:"database" default:"movers"`
		User        string        `yaml:"user" default:"default"`
		Password    string        `yaml:"password"`
		UseHTTP     bool          `yaml:"use_http" default:"false"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout time.Duration `yaml:"read_timeout" default:"10s"`
	} `yaml:"clickhouse"`
}

// ConfigError reports a missing or invalid setting. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

var validate = validator.New()

// Default returns a Config populated only from `default` tags.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads an optional YAML file on top of defaults and validates the result.
// An empty path means defaults only.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config and overrides it with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	return loadWithLookup(path, os.LookupEnv)
}

func loadWithLookup(path string, lookup func(string) (string, bool)) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = splitCSV(v)
		}
	}
	float := func(name string, dst *float64) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: name, Reason: fmt.Sprintf("not a number: %q", v)}
		}
		*dst = f
		return nil
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: name, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		*dst = n
		return nil
	}

	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.Log.Level)
	str("BACKEND", &c.Backend.Type)
	str("MASSIVE_BASE_URL", &c.Massive.BaseURL)
	str("MASSIVE_API_KEY_PARAM", &c.Credential.Param)
	str("MASSIVE_API_KEY", &c.Credential.APIKey)
	str("SECRETS_DIR", &c.Credential.SecretsDir)
	str("TABLE_NAME", &c.Store.Table)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	list("WATCHLIST", &c.Watchlist)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)

	return errors.Join(
		float("REQUEST_SPACING_SECONDS", &c.Ingest.RequestSpacingSeconds),
		integer("MAX_ATTEMPTS", &c.Ingest.MaxAttempts),
		float("BASE_429_BACKOFF_SECONDS", &c.Ingest.Base429BackoffSeconds),
		float("BASE_5XX_BACKOFF_SECONDS", &c.Ingest.Base5xxBackoffSeconds),
		float("MAX_BACKOFF_SECONDS", &c.Ingest.MaxBackoffSeconds),
		integer("PORT", &c.Server.Port),
	)
}

// Validate checks tag rules and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{Field: fe.Namespace(), Reason: fmt.Sprintf("failed %q rule", fe.Tag())}
		}
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return &ConfigError{Field: "kafka.brokers", Reason: "required when kafka is enabled"}
	}
	if (c.Backend.Type == "redis" || (c.Cache.Enabled && c.Cache.Type == "redis")) && c.Redis.Addr == "" {
		return &ConfigError{Field: "redis.addr", Reason: "required for the redis backend"}
	}
	return nil
}

// Seconds converts a fractional-second setting to a duration.
func Seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
