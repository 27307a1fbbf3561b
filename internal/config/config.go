package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sentinel.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Baseline      BaselineConfig      `yaml:"baseline"`
	Detector      DetectorConfig      `yaml:"detector"`
	Investigation InvestigationConfig `yaml:"investigation"`
	Actions       ActionsConfig       `yaml:"actions"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Cache         CacheConfig         `yaml:"cache"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig controls the recent window and the durable archive.
type StorageConfig struct {
	Retention  time.Duration `yaml:"retention"`
	ArchiveDir string        `yaml:"archiveDir"`
}

// BaselineConfig controls expected-performance computation.
type BaselineConfig struct {
	Lookback          time.Duration `yaml:"lookback"`
	RecomputeInterval time.Duration `yaml:"recomputeInterval"`
	MinSlotSamples    int           `yaml:"minSlotSamples"`
	Timezone          string        `yaml:"timezone"`
}

// DetectorConfig controls the regression poll loop.
type DetectorConfig struct {
	Interval         time.Duration `yaml:"interval"`
	ShortWindow      time.Duration `yaml:"shortWindow"`
	AnomalyThreshold float64       `yaml:"anomalyThreshold"`
	Strikes          int           `yaml:"strikes"`
}

// InvestigationConfig controls the 5-stage pipeline.
type InvestigationConfig struct {
	Workers      int           `yaml:"workers"`
	StageTimeout time.Duration `yaml:"stageTimeout"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	ProposeFloor float64       `yaml:"proposeFloor"`
}

// ActionsConfig gates remediation behaviour.
type ActionsConfig struct {
	AutoMergeConfidence float64       `yaml:"autoMergeConfidence"`
	NotifyURL           string        `yaml:"notifyURL"`
	RemediationURL      string        `yaml:"remediationURL"`
	Timeout             time.Duration `yaml:"timeout"`
	VerifySettle        time.Duration `yaml:"verifySettle"`
	VerifyTimeout       time.Duration `yaml:"verifyTimeout"`
	RecoveryFactor      float64       `yaml:"recoveryFactor"`
}

// ReasoningConfig configures the external reasoning backend.
type ReasoningConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// KnowledgeConfig controls the incident knowledge base.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
	TopK int    `yaml:"topK"`
}

// CacheConfig controls Redis-backed caching of similarity lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	SimilarTTL   time.Duration `yaml:"similarTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ARGUS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8001",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Retention:  30 * time.Minute,
			ArchiveDir: "data/events",
		},
		Baseline: BaselineConfig{
			Lookback:          168 * time.Hour,
			RecomputeInterval: time.Hour,
			MinSlotSamples:    5,
			Timezone:          "UTC",
		},
		Detector: DetectorConfig{
			Interval:         10 * time.Second,
			ShortWindow:      3 * time.Minute,
			AnomalyThreshold: 3.0,
			Strikes:          3,
		},
		Investigation: InvestigationConfig{
			Workers:      2,
			StageTimeout: 60 * time.Second,
			RetryBackoff: 5 * time.Second,
			ProposeFloor: 0.5,
		},
		Actions: ActionsConfig{
			AutoMergeConfidence: 0.92,
			Timeout:             15 * time.Second,
			VerifySettle:        30 * time.Second,
			VerifyTimeout:       5 * time.Minute,
			RecoveryFactor:      1.3,
		},
		Reasoning: ReasoningConfig{Timeout: 60 * time.Second},
		Knowledge: KnowledgeConfig{Path: "data/knowledge.jsonl", TopK: 5},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			SimilarTTL:   2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Detector.Strikes <= 0 {
		return fmt.Errorf("detector.strikes must be positive")
	}
	if cfg.Detector.AnomalyThreshold <= 1 {
		return fmt.Errorf("detector.anomalyThreshold must exceed 1")
	}
	if cfg.Investigation.ProposeFloor < 0 || cfg.Investigation.ProposeFloor > 1 {
		return fmt.Errorf("investigation.proposeFloor must be in [0,1]")
	}
	if cfg.Actions.AutoMergeConfidence < cfg.Investigation.ProposeFloor {
		return fmt.Errorf("actions.autoMergeConfidence must be at least the propose floor")
	}
	if _, err := time.LoadLocation(cfg.Baseline.Timezone); err != nil {
		return fmt.Errorf("baseline.timezone: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARGUS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ARGUS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ARGUS_ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}
	if v := os.Getenv("ARGUS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.Retention = d
		}
	}
	if v := os.Getenv("ARGUS_DETECTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detector.Interval = d
		}
	}
	if v := os.Getenv("ARGUS_ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.AnomalyThreshold = f
		}
	}
	if v := os.Getenv("ARGUS_STRIKES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.Strikes = n
		}
	}
	if v := os.Getenv("ARGUS_REASONING_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("ARGUS_REASONING_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("ARGUS_NOTIFY_URL"); v != "" {
		cfg.Actions.NotifyURL = v
	}
	if v := os.Getenv("ARGUS_REMEDIATION_URL"); v != "" {
		cfg.Actions.RemediationURL = v
	}
	if v := os.Getenv("ARGUS_AUTO_MERGE_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Actions.AutoMergeConfidence = f
		}
	}
	if v := os.Getenv("ARGUS_PROPOSE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Investigation.ProposeFloor = f
		}
	}
	if v := os.Getenv("ARGUS_KNOWLEDGE_PATH"); v != "" {
		cfg.Knowledge.Path = v
	}
	if v := os.Getenv("ARGUS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("ARGUS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ARGUS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("ARGUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARGUS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ARGUS_BASELINE_TIMEZONE"); v != "" {
		cfg.Baseline.Timezone = v
	}
}
