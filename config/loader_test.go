package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.HTTPPort)
	require.Equal(t, 9090, cfg.Server.MetricsPort)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "memflow.db", cfg.Database.Name)
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, "0 3 * * *", cfg.Scheduler.CronSpec)
	require.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)
	require.InDelta(t, 0.05, cfg.Feedback.LearningRate, 1e-9)
	require.InDelta(t, 0.85, cfg.Router.ShockThreshold, 1e-9)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	content := `
server:
  http_port: 18080
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: memflow
  password: secret
  name: memflow
  ssl_mode: disable
scheduler:
  cron_spec: "30 2 * * *"
  workers: 4
decay:
  phase_thresholds:
    pattern: 0.3
    intuitive: 0.25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	require.Equal(t, 18080, cfg.Server.HTTPPort)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "30 2 * * *", cfg.Scheduler.CronSpec)
	require.Equal(t, 4, cfg.Scheduler.Workers)

	// Unset values keep their defaults.
	require.Equal(t, 9090, cfg.Server.MetricsPort)
	require.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)

	// Threshold overrides land on top of the built-in phase table.
	phases := cfg.Decay.ToPhaseConfig()
	require.InDelta(t, 0.3, phases.Thresholds[types.PhasePattern], 1e-9)
	require.InDelta(t, 0.25, phases.Thresholds[types.PhaseIntuitive], 1e-9)
	require.InDelta(t, 0.8, phases.Thresholds[types.PhaseCompressed1], 1e-9)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/memflow.yaml").Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("MEMFLOW_DATABASE_DRIVER", "mysql")
	t.Setenv("MEMFLOW_DATABASE_HOST", "mysql.internal")
	t.Setenv("MEMFLOW_DATABASE_PORT", "3306")
	t.Setenv("MEMFLOW_SERVER_SHUTDOWN_TIMEOUT", "45s")
	t.Setenv("MEMFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/memflow.log")
	t.Setenv("MEMFLOW_REDIS_ENABLED", "true")
	t.Setenv("MEMFLOW_FEEDBACK_LEARNING_RATE", "0.1")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	require.Equal(t, "mysql", cfg.Database.Driver)
	require.Equal(t, "mysql.internal", cfg.Database.Host)
	require.Equal(t, 3306, cfg.Database.Port)
	require.Equal(t, 45*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, []string{"stdout", "/var/log/memflow.log"}, cfg.Log.OutputPaths)
	require.True(t, cfg.Redis.Enabled)
	require.InDelta(t, 0.1, cfg.Feedback.LearningRate, 1e-9)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MF_SERVER_HTTP_PORT", "19090")

	cfg, err := NewLoader().WithEnvPrefix("MF").Load()
	require.NoError(t, err)
	require.Equal(t, 19090, cfg.Server.HTTPPort)
}

func TestDSNPerDriver(t *testing.T) {
	t.Parallel()

	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "u", Password: "p", Name: "memflow", SSLMode: "disable",
	}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=memflow sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "memflow"}
	require.Equal(t, "u:p@tcp(db:3306)/memflow?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "memflow.db"}
	require.Equal(t, "memflow.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	require.Empty(t, unknown.DSN())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Database.Driver = "oracle"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Server.MetricsPort = 70000
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Feedback.LearningRate = 1.5
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Decay.ShockCriticality = -0.1
	require.Error(t, cfg.Validate())
}

func TestValidatorHookRuns(t *testing.T) {
	t.Setenv("MEMFLOW_SERVER_HTTP_PORT", "0")

	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Server.HTTPPort == 0 {
				return os.ErrInvalid
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestConvertersPreserveOverrides(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Engine.HalfLifeDaysByTier = map[string]float64{"long_term": 60}
	cfg.Engine.EpisodicTokenBudget = 800

	ec := cfg.Engine.ToEngine()
	require.InDelta(t, 60, ec.HalfLifeDaysByTier[types.TierLongTerm], 1e-9)
	require.InDelta(t, 90, ec.HalfLifeDaysByTier[types.TierShock], 1e-9)
	require.Equal(t, 800, ec.EpisodicTokenBudget)

	policy := cfg.Decay.Compressor.ToRetryPolicy()
	require.Equal(t, 2.0, policy.Multiplier)
	require.True(t, policy.Jitter)

	th := cfg.Router.ToThresholds()
	require.InDelta(t, 0.70, th.Discard, 1e-9)
}