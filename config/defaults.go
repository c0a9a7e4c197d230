package config

import (
	"time"

	"github.com/BaSui01/memflow/compress"
	"github.com/BaSui01/memflow/engine"
	"github.com/BaSui01/memflow/engine/decay"
	"github.com/BaSui01/memflow/engine/feedback"
	"github.com/BaSui01/memflow/engine/router"
	"github.com/BaSui01/memflow/engine/scheduler"
	"github.com/BaSui01/memflow/engine/signal"
	"github.com/BaSui01/memflow/types"
)

// DefaultConfig returns the complete default configuration. Every value
// can be overridden by YAML or environment variables.
func DefaultConfig() *Config {
	signalDefaults := signal.DefaultConfig()
	thresholdDefaults := router.DefaultThresholds()
	strengthDefaults := decay.DefaultStrengthParams()
	retryDefaults := compress.DefaultRetryPolicy()
	schedulerDefaults := scheduler.DefaultConfig()
	feedbackDefaults := feedback.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Name:   "memflow.db",
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			WeightsTTL:   10 * time.Minute,
		},
		Signal: SignalConfig{
			LatencyThresholdMs:  signalDefaults.LatencyThresholdMs,
			SimilarityTimeout:   signalDefaults.SimilarityTimeout,
			SimilarityTopK:      signalDefaults.SimilarityTopK,
			SimilarityThreshold: signalDefaults.SimilarityThreshold,
		},
		Router: RouterConfig{
			ShockThreshold:      thresholdDefaults.Shock,
			DiscardThreshold:    thresholdDefaults.Discard,
			ProceduralThreshold: thresholdDefaults.Procedural,
			LongTermThreshold:   thresholdDefaults.LongTerm,
			GutPatternThreshold: thresholdDefaults.GutPattern,
		},
		Decay: DecayConfig{
			RecencyHalfLifeDays:    strengthDefaults.RecencyHalfLifeDays,
			RepetitionBoostPerHit:  strengthDefaults.RepetitionBoostPerHit,
			RepetitionBoostCap:     strengthDefaults.RepetitionBoostCap,
			CriticalityDecayWeight: strengthDefaults.CriticalityDecayWeight,
			SuccessWeight:          strengthDefaults.SuccessWeight,
			ShockCriticality:       strengthDefaults.ShockCriticality,
			Compressor: CompressorConfig{
				MaxRetries:        retryDefaults.MaxRetries,
				InitialDelay:      retryDefaults.InitialDelay,
				MaxDelay:          retryDefaults.MaxDelay,
				AttemptTimeout:    retryDefaults.AttemptTimeout,
				RequestsPerSecond: 5,
			},
		},
		Scheduler: SchedulerConfig{
			CronSpec:   schedulerDefaults.CronSpec,
			Interval:   schedulerDefaults.Interval,
			Workers:    schedulerDefaults.Workers,
			BatchLimit: schedulerDefaults.BatchLimit,
		},
		Feedback: FeedbackConfig{
			LearningRate:    feedbackDefaults.LearningRate,
			ReinforceFactor: feedbackDefaults.ReinforceFactor,
			MaxDelta:        feedbackDefaults.MaxDelta,
			MinWeight:       feedbackDefaults.MinWeight,
			MaxWeight:       feedbackDefaults.MaxWeight,
			QueueSize:       feedbackDefaults.QueueSize,
		},
		Engine: EngineConfig{},
	}
}

// SignalConfig maps into the extractor's own config type.
func (c *SignalConfig) ToSignal() signal.Config {
	return signal.Config{
		LatencyThresholdMs:  c.LatencyThresholdMs,
		SimilarityTimeout:   c.SimilarityTimeout,
		SimilarityTopK:      c.SimilarityTopK,
		SimilarityThreshold: c.SimilarityThreshold,
	}
}

// ToThresholds maps into the router's threshold ladder.
func (c *RouterConfig) ToThresholds() router.Thresholds {
	return router.Thresholds{
		Shock:      c.ShockThreshold,
		Discard:    c.DiscardThreshold,
		Procedural: c.ProceduralThreshold,
		LongTerm:   c.LongTermThreshold,
		GutPattern: c.GutPatternThreshold,
	}
}

// ToStrengthParams maps into the decay strength parameters.
func (c *DecayConfig) ToStrengthParams() decay.StrengthParams {
	return decay.StrengthParams{
		RecencyHalfLifeDays:    c.RecencyHalfLifeDays,
		RepetitionBoostPerHit:  c.RepetitionBoostPerHit,
		RepetitionBoostCap:     c.RepetitionBoostCap,
		CriticalityDecayWeight: c.CriticalityDecayWeight,
		SuccessWeight:          c.SuccessWeight,
		ShockCriticality:       c.ShockCriticality,
	}
}

// ToPhaseConfig maps the budget and threshold overrides onto the
// built-in defaults.
func (c *DecayConfig) ToPhaseConfig() decay.PhaseConfig {
	phases := decay.DefaultPhaseConfig()
	for name, budget := range c.PhaseBudgets {
		phases.Budgets[types.Phase(name)] = budget
	}
	for name, threshold := range c.PhaseThresholds {
		phases.Thresholds[types.Phase(name)] = threshold
	}
	return phases
}

// ToRetryPolicy maps into the compressor retry policy.
func (c *CompressorConfig) ToRetryPolicy() compress.RetryPolicy {
	return compress.RetryPolicy{
		MaxRetries:     c.MaxRetries,
		InitialDelay:   c.InitialDelay,
		MaxDelay:       c.MaxDelay,
		Multiplier:     2,
		Jitter:         true,
		AttemptTimeout: c.AttemptTimeout,
	}
}

// ToScheduler maps into the scheduler config.
func (c *SchedulerConfig) ToScheduler() scheduler.Config {
	return scheduler.Config{
		CronSpec:   c.CronSpec,
		Interval:   c.Interval,
		Workers:    c.Workers,
		BatchLimit: c.BatchLimit,
	}
}

// ToFeedback maps into the feedback adapter config.
func (c *FeedbackConfig) ToFeedback() feedback.Config {
	return feedback.Config{
		LearningRate:    c.LearningRate,
		ReinforceFactor: c.ReinforceFactor,
		MaxDelta:        c.MaxDelta,
		MinWeight:       c.MinWeight,
		MaxWeight:       c.MaxWeight,
		QueueSize:       c.QueueSize,
	}
}

// ToEngine maps the half-life overrides into the engine config.
func (c *EngineConfig) ToEngine() engine.Config {
	cfg := engine.DefaultConfig()
	for name, days := range c.HalfLifeDaysByTier {
		cfg.HalfLifeDaysByTier[types.Tier(name)] = days
	}
	if c.EpisodicTokenBudget > 0 {
		cfg.EpisodicTokenBudget = c.EpisodicTokenBudget
	}
	return cfg
}
