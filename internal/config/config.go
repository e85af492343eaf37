package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Hermes        HermesConfig        `yaml:"hermes"`
	Runtime       RuntimeConfig       `yaml:"runtime"`
	Operator      OperatorConfig      `yaml:"operator"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Webhooks      []WebhookConfig     `yaml:"webhooks"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

// DatabaseConfig selects the store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
	// Events routed to the JetStream subscriber. Empty or "*" means all.
	Events []string `yaml:"events"`
}

type RuntimeConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type OperatorConfig struct {
	URL       string `yaml:"url"`
	Secret    string `yaml:"secret"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type OrchestrationConfig struct {
	TickIntervalMs        int  `yaml:"tick_interval_ms"`
	MaxConcurrentPerAgent int  `yaml:"max_concurrent_per_agent"`
	DetectConflicts       bool `yaml:"detect_conflicts"`
}

type DeliveryConfig struct {
	SweepIntervalMs  int `yaml:"sweep_interval_ms"`
	Workers          int `yaml:"workers"`
	BatchSize        int `yaml:"batch_size"`
	MaxAttempts      int `yaml:"max_attempts"`
	AttemptTimeoutMs int `yaml:"attempt_timeout_ms"`
	BackoffBaseMs    int `yaml:"backoff_base_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms"`
}

type ScoringConfig struct {
	Weights             ScoringWeights `yaml:"weights"`
	BaselineSeconds     float64        `yaml:"baseline_seconds"`
	SkillImprovementCap int            `yaml:"skill_improvement_cap"`
}

type ScoringWeights struct {
	SuccessRate float64 `yaml:"success_rate"`
	CodeQuality float64 `yaml:"code_quality"`
	Efficiency  float64 `yaml:"efficiency"`
	SkillGrowth float64 `yaml:"skill_growth"`
}

type WebhookConfig struct {
	Name      string   `yaml:"name"`
	URL       string   `yaml:"url"`
	Secret    string   `yaml:"secret"`
	Events    []string `yaml:"events"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Orchestration.TickIntervalMs) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Delivery.SweepIntervalMs) * time.Millisecond
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Delivery.AttemptTimeoutMs) * time.Millisecond
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Delivery.BackoffBaseMs) * time.Millisecond
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Delivery.BackoffMaxMs) * time.Millisecond
}

func (c *Config) OperatorTimeout() time.Duration {
	return time.Duration(c.Operator.TimeoutMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Runtime: RuntimeConfig{
			URL: "http://localhost:9090",
		},
		Operator: OperatorConfig{
			TimeoutMs: 10000,
		},
		Orchestration: OrchestrationConfig{
			TickIntervalMs:        5000,
			MaxConcurrentPerAgent: 3,
			DetectConflicts:       true,
		},
		Delivery: DeliveryConfig{
			SweepIntervalMs:  2000,
			Workers:          4,
			BatchSize:        100,
			MaxAttempts:      5,
			AttemptTimeoutMs: 10000,
			BackoffBaseMs:    2000,
			BackoffMaxMs:     300000,
		},
		Scoring: ScoringConfig{
			Weights: ScoringWeights{
				SuccessRate: 0.4,
				CodeQuality: 0.3,
				Efficiency:  0.2,
				SkillGrowth: 0.1,
			},
			BaselineSeconds:     3600,
			SkillImprovementCap: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("SWITCHBOARD_PORT", &cfg.Server.Port)
	setInt("SWITCHBOARD_METRICS_PORT", &cfg.Server.MetricsPort)
	setString("SWITCHBOARD_ADMIN_TOKEN", &cfg.Server.AdminToken)
	setString("SWITCHBOARD_DATABASE_URL", &cfg.Database.URL)
	setString("SWITCHBOARD_HERMES_URL", &cfg.Hermes.URL)
	setString("SWITCHBOARD_RUNTIME_URL", &cfg.Runtime.URL)
	setString("SWITCHBOARD_RUNTIME_TOKEN", &cfg.Runtime.Token)
	setString("SWITCHBOARD_OPERATOR_URL", &cfg.Operator.URL)
	setString("SWITCHBOARD_OPERATOR_SECRET", &cfg.Operator.Secret)
	setInt("SWITCHBOARD_TICK_INTERVAL_MS", &cfg.Orchestration.TickIntervalMs)
	setInt("SWITCHBOARD_MAX_CONCURRENT_PER_AGENT", &cfg.Orchestration.MaxConcurrentPerAgent)
	if v := os.Getenv("SWITCHBOARD_DETECT_CONFLICTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Orchestration.DetectConflicts = b
		}
	}
	setInt("SWITCHBOARD_SWEEP_INTERVAL_MS", &cfg.Delivery.SweepIntervalMs)
	setInt("SWITCHBOARD_DELIVERY_WORKERS", &cfg.Delivery.Workers)
	setInt("SWITCHBOARD_DELIVERY_MAX_ATTEMPTS", &cfg.Delivery.MaxAttempts)
	setString("SWITCHBOARD_LOG_LEVEL", &cfg.Logging.Level)
	setString("SWITCHBOARD_LOG_FORMAT", &cfg.Logging.Format)
}

// Validate reports every setting the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestration.TickIntervalMs <= 0 {
		errs = append(errs, errors.New("orchestration.tick_interval_ms must be positive"))
	}
	if c.Orchestration.MaxConcurrentPerAgent <= 0 {
		errs = append(errs, errors.New("orchestration.max_concurrent_per_agent must be positive"))
	}
	if c.Delivery.SweepIntervalMs <= 0 {
		errs = append(errs, errors.New("delivery.sweep_interval_ms must be positive"))
	}
	if c.Delivery.Workers <= 0 {
		errs = append(errs, errors.New("delivery.workers must be positive"))
	}
	if c.Delivery.MaxAttempts <= 0 {
		errs = append(errs, errors.New("delivery.max_attempts must be positive"))
	}
	if c.Delivery.AttemptTimeoutMs <= 0 {
		errs = append(errs, errors.New("delivery.attempt_timeout_ms must be positive"))
	}
	if c.Delivery.BackoffMaxMs < c.Delivery.BackoffBaseMs {
		errs = append(errs, errors.New("delivery.backoff_max_ms must not be below backoff_base_ms"))
	}
	w := c.Scoring.Weights
	if w.SuccessRate < 0 || w.CodeQuality < 0 || w.Efficiency < 0 || w.SkillGrowth < 0 {
		errs = append(errs, errors.New("scoring weights must not be negative"))
	}
	if sum := w.SuccessRate + w.CodeQuality + w.Efficiency + w.SkillGrowth; math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Errorf("scoring weights sum to %.3f, want 1", sum))
	}
	if c.Scoring.BaselineSeconds <= 0 {
		errs = append(errs, errors.New("scoring.baseline_seconds must be positive"))
	}
	seen := make(map[string]bool)
	for i, wh := range c.Webhooks {
		if wh.Name == "" || wh.URL == "" {
			errs = append(errs, fmt.Errorf("webhooks[%d]: name and url are required", i))
			continue
		}
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			errs = append(errs, fmt.Errorf("webhooks[%d]: url must be http or https", i))
		}
		if seen[wh.Name] {
			errs = append(errs, fmt.Errorf("webhooks[%d]: duplicate name %q", i, wh.Name))
		}
		seen[wh.Name] = true
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}
