// Package config provides unified configuration loading: defaults,
// then a YAML file, then environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memflow.yaml").
//	    WithEnvPrefix("MEMFLOW").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete memflow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Signal    SignalConfig    `yaml:"signal" env:"SIGNAL"`
	Router    RouterConfig    `yaml:"router" env:"ROUTER"`
	Decay     DecayConfig     `yaml:"decay" env:"DECAY"`
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`
	Feedback  FeedbackConfig  `yaml:"feedback" env:"FEEDBACK"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
}

// ServerConfig covers the daemon's listeners and shutdown behavior.
type ServerConfig struct {
	// Ingest API port; zero disables the listener.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics endpoint port; zero disables the listener.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Graceful shutdown bound.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths, stdout/stderr or files.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Include caller info.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Include stacktraces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// DatabaseConfig selects and parameterizes the relational backend.
type DatabaseConfig struct {
	// Driver: sqlite, postgres, mysql
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name, or the file path for sqlite.
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// DSN returns the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// RedisConfig configures the weights hot cache. Disabled by default; the
// engine runs fine without it.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	WeightsTTL   time.Duration `yaml:"weights_ttl" env:"WEIGHTS_TTL"`
}

// SignalConfig tunes extraction.
type SignalConfig struct {
	LatencyThresholdMs  float64       `yaml:"latency_threshold_ms" env:"LATENCY_THRESHOLD_MS"`
	SimilarityTimeout   time.Duration `yaml:"similarity_timeout" env:"SIMILARITY_TIMEOUT"`
	SimilarityTopK      int           `yaml:"similarity_top_k" env:"SIMILARITY_TOP_K"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
}

// RouterConfig holds the tier threshold ladder.
type RouterConfig struct {
	ShockThreshold      float64 `yaml:"shock_threshold" env:"SHOCK_THRESHOLD"`
	DiscardThreshold    float64 `yaml:"discard_threshold" env:"DISCARD_THRESHOLD"`
	ProceduralThreshold float64 `yaml:"procedural_threshold" env:"PROCEDURAL_THRESHOLD"`
	LongTermThreshold   float64 `yaml:"long_term_threshold" env:"LONG_TERM_THRESHOLD"`
	GutPatternThreshold float64 `yaml:"gut_pattern_threshold" env:"GUT_PATTERN_THRESHOLD"`
}

// DecayConfig tunes the strength model and the compressor's resilience.
// Phase budgets and thresholds are YAML-only; env override of whole maps
// is not supported.
type DecayConfig struct {
	RecencyHalfLifeDays    float64 `yaml:"recency_half_life_days" env:"RECENCY_HALF_LIFE_DAYS"`
	RepetitionBoostPerHit  float64 `yaml:"repetition_boost_per_hit" env:"REPETITION_BOOST_PER_HIT"`
	RepetitionBoostCap     float64 `yaml:"repetition_boost_cap" env:"REPETITION_BOOST_CAP"`
	CriticalityDecayWeight float64 `yaml:"criticality_decay_weight" env:"CRITICALITY_DECAY_WEIGHT"`
	SuccessWeight          float64 `yaml:"success_weight" env:"SUCCESS_WEIGHT"`
	ShockCriticality       float64 `yaml:"shock_criticality" env:"SHOCK_CRITICALITY"`

	// Per-phase token budgets and strength thresholds; empty means the
	// built-in defaults.
	PhaseBudgets    map[string]int     `yaml:"phase_budgets" env:"-"`
	PhaseThresholds map[string]float64 `yaml:"phase_thresholds" env:"-"`

	Compressor CompressorConfig `yaml:"compressor" env:"COMPRESSOR"`
}

// CompressorConfig tunes the resilient compressor wrapper.
type CompressorConfig struct {
	// Tokenizer encoding name; empty selects cl100k_base.
	Encoding       string        `yaml:"encoding" env:"ENCODING"`
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay   time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay       time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	// RequestsPerSecond bounds compressor call rate; zero disables the
	// limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// SchedulerConfig drives the batch decay runs.
type SchedulerConfig struct {
	CronSpec   string        `yaml:"cron_spec" env:"CRON_SPEC"`
	Interval   time.Duration `yaml:"interval" env:"INTERVAL"`
	Workers    int           `yaml:"workers" env:"WORKERS"`
	BatchLimit int           `yaml:"batch_limit" env:"BATCH_LIMIT"`
}

// FeedbackConfig tunes weight adjustment.
type FeedbackConfig struct {
	LearningRate    float64 `yaml:"learning_rate" env:"LEARNING_RATE"`
	ReinforceFactor float64 `yaml:"reinforce_factor" env:"REINFORCE_FACTOR"`
	MaxDelta        float64 `yaml:"max_delta" env:"MAX_DELTA"`
	MinWeight       float64 `yaml:"min_weight" env:"MIN_WEIGHT"`
	MaxWeight       float64 `yaml:"max_weight" env:"MAX_WEIGHT"`
	QueueSize       int     `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// EngineConfig holds the facade knobs.
type EngineConfig struct {
	// Half-life in days assigned at record creation, per tier.
	HalfLifeDaysByTier map[string]float64 `yaml:"half_life_days_by_tier" env:"-"`
	// Token cap applied to new records. Zero means follow the episodic
	// phase budget.
	EpisodicTokenBudget int `yaml:"episodic_token_budget" env:"EPISODIC_TOKEN_BUDGET"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the MEMFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEMFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
// Precedence: defaults, then YAML file, then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads configuration from the path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the loaded configuration for obvious mistakes.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql", "":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Scheduler.Workers < 0 {
		errs = append(errs, "scheduler workers must not be negative")
	}
	if c.Feedback.LearningRate < 0 || c.Feedback.LearningRate > 1 {
		errs = append(errs, "feedback learning_rate must be in [0,1]")
	}
	if c.Decay.ShockCriticality < 0 || c.Decay.ShockCriticality > 1 {
		errs = append(errs, "decay shock_criticality must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
