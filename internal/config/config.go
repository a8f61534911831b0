package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/classifier"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/extractor"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "NECMIS_CONFIG"

type Config struct {
	Sources  []domain.Source    `yaml:"sources"`
	Rules    classifier.RuleSet `yaml:"rules"`
	Scoring  ScoringConfig      `yaml:"scoring"`
	Fetch    FetchConfig        `yaml:"fetch"`
	Pipeline PipelineConfig     `yaml:"pipeline"`
	Dedupe   DedupeConfig       `yaml:"dedupe"`
	Snapshot SnapshotConfig     `yaml:"snapshot"`
	Output   OutputConfig       `yaml:"output"`
	Storage  StorageConfig      `yaml:"storage"`
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`

	// Path is the file the config was read from, empty for built-in defaults.
	Path string `yaml:"-"`
}

type ScoringConfig struct {
	PriorityStates     []string `yaml:"priority_states"`
	PriorityMultiplier float64  `yaml:"priority_multiplier"`
	HighScore          float64  `yaml:"high_score"`
	MediumScore        float64  `yaml:"medium_score"`
}

type FetchConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	Retry         bool          `yaml:"retry"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	CourtesyDelay time.Duration `yaml:"courtesy_delay"`
	MaxBodyBytes  int           `yaml:"max_body_bytes"`
}

type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
	// Budget is the wall-clock limit for the whole run.
	Budget time.Duration `yaml:"budget"`
}

type DedupeConfig struct {
	Threshold       float64       `yaml:"threshold"`
	Window          time.Duration `yaml:"window"`
	TimestampPolicy string        `yaml:"timestamp_policy"`
}

type SnapshotConfig struct {
	Retention time.Duration `yaml:"retention"`
	MaxItems  int           `yaml:"max_items"`
}

type OutputConfig struct {
	Path        string `yaml:"path"`
	HistoryDir  string `yaml:"history_dir"`
	HistoryKeep int    `yaml:"history_keep"`
}

// StorageConfig enables the optional Postgres archive and Redis cache.
type StorageConfig struct {
	PostgresDSN string        `yaml:"postgres_dsn"`
	HistoryKeep int           `yaml:"history_keep"`
	RedisAddr   string        `yaml:"redis_addr"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type ServerConfig struct {
	Port          string `yaml:"port"`
	BasicAuthUser string `yaml:"basic_user"`
	BasicAuthPass string `yaml:"basic_pass"`
	CronSpec      string `yaml:"cron"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path (or $NECMIS_CONFIG) over the built-in
// defaults, then applies environment overrides. With no file the defaults
// are used as is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// keys present in the file replace defaults; lists replace wholesale
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.Path = path
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Output.Path = getEnv("NECMIS_OUTPUT", c.Output.Path)
	c.Storage.PostgresDSN = getEnv("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.RedisAddr = getEnv("REDIS_ADDR", c.Storage.RedisAddr)
	c.Server.Port = getEnv("APP_PORT", c.Server.Port)
	c.Server.BasicAuthUser = getEnv("APP_BASIC_USER", c.Server.BasicAuthUser)
	c.Server.BasicAuthPass = getEnv("APP_BASIC_PASS", c.Server.BasicAuthPass)
	c.Server.CronSpec = getEnv("CRON_SPEC", c.Server.CronSpec)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// Validate checks everything that would otherwise fail mid-run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := domain.NewRegistry(c.Sources); err != nil {
		errs = append(errs, err)
	}
	strategies := extractor.DefaultRegistry()
	for _, s := range c.Sources {
		if s.Category != domain.CategoryPage {
			continue
		}
		name := s.Structure
		if name == "" {
			name = extractor.DefaultStrategy
		}
		if _, err := strategies.Resolve(name); err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", s.Name, err))
		}
	}
	if err := c.Rules.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := processor.ParseTimestampPolicy(c.Dedupe.TimestampPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.Concurrency <= 0 {
		errs = append(errs, errors.New("pipeline.concurrency must be positive"))
	}
	if c.Pipeline.Budget <= 0 {
		errs = append(errs, errors.New("pipeline.budget must be positive"))
	}
	if c.Scoring.MediumScore > c.Scoring.HighScore {
		errs = append(errs, errors.New("scoring.medium_score must not exceed scoring.high_score"))
	}
	if c.Dedupe.Threshold < 0 || c.Dedupe.Threshold > 1 {
		errs = append(errs, errors.New("dedupe.threshold must be within [0,1]"))
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
