package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signalPilot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration. Connection settings and secrets
// come from the environment (.env); trading policy comes from a YAML file.
type Config struct {
	// Gateways
	BridgeURL     string // MT5 bridge sidecar base URL
	ClassifierURL string // instruction classifier service base URL
	SourceURL     string // message source bridge base URL
	ChannelID     int64  // source channel to monitor; 0 = first available

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Trading policy
	DefaultPair     string
	DefaultLotSize  float64
	MinLotSize      float64
	MaxLotSize      float64
	MinRiskReward   float64
	MaxOpenTrades   int
	AtMarketPoints  float64 // "close enough to entry" tolerance, in points
	PartialSchedule []float64

	// Timing
	CorrelationWindow time.Duration
	RecentMessageCap  int
	MonitorInterval   time.Duration
	ShutdownGrace     time.Duration
}

// policyFile mirrors the YAML policy document.
type policyFile struct {
	App struct {
		DefaultPair string `yaml:"default_pair"`
	} `yaml:"app"`
	Risk struct {
		DefaultLotSize     float64 `yaml:"default_lot_size"`
		MinLotSize         float64 `yaml:"min_lot_size"`
		MaxLotSize         float64 `yaml:"max_lot_size"`
		MinRiskRewardRatio float64 `yaml:"min_risk_reward_ratio"`
		MaxOpenTrades      int     `yaml:"max_open_trades"`
	} `yaml:"risk"`
	Execution struct {
		AtMarketPoints float64 `yaml:"at_market_points"`
	} `yaml:"execution"`
	Correlation struct {
		WindowSeconds  int `yaml:"window_seconds"`
		RecentMessages int `yaml:"recent_messages"`
	} `yaml:"correlation"`
	Monitor struct {
		IntervalSeconds int       `yaml:"interval_seconds"`
		PartialSchedule []float64 `yaml:"partial_schedule"`
	} `yaml:"monitor"`
	Shutdown struct {
		GraceSeconds int `yaml:"grace_seconds"`
	} `yaml:"shutdown"`
}

// LoadConfig loads configuration from environment variables (.env file) and
// the YAML policy file named by CONFIG_PATH (default config.yaml).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	cfg.BridgeURL = getEnv("BRIDGE_URL", "http://127.0.0.1:8787")
	cfg.ClassifierURL = getEnv("CLASSIFIER_URL", "http://127.0.0.1:8790")
	cfg.SourceURL = getEnv("SOURCE_URL", "http://127.0.0.1:8791")

	if raw := getEnv("CHANNEL_ID", "0"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid CHANNEL_ID %q", raw))
		} else {
			cfg.ChannelID = id
		}
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Policy defaults, overridable by the YAML file.
	cfg.DefaultPair = "XAUUSD"
	cfg.DefaultLotSize = 0.1
	cfg.MinLotSize = 0.01
	cfg.MaxLotSize = 5.0
	cfg.MinRiskReward = 1.0
	cfg.MaxOpenTrades = 5
	cfg.AtMarketPoints = 10
	cfg.PartialSchedule = []float64{50, 50, 100}
	cfg.CorrelationWindow = 60 * time.Second
	cfg.RecentMessageCap = 5
	cfg.MonitorInterval = 10 * time.Second
	cfg.ShutdownGrace = 5 * time.Second

	policyPath := getEnv("CONFIG_PATH", "config.yaml")
	if err := applyPolicyFile(cfg, policyPath); err != nil {
		errs = append(errs, err.Error())
	}

	// Validate policy values.
	if cfg.DefaultLotSize <= 0 {
		errs = append(errs, "risk.default_lot_size must be positive")
	}
	if cfg.MinLotSize <= 0 || cfg.MaxLotSize <= 0 || cfg.MinLotSize > cfg.MaxLotSize {
		errs = append(errs, "risk lot size range must be positive with min <= max")
	}
	if cfg.MinRiskReward < 0 {
		errs = append(errs, "risk.min_risk_reward_ratio cannot be negative")
	}
	if cfg.MaxOpenTrades <= 0 {
		errs = append(errs, "risk.max_open_trades must be positive")
	}
	if len(cfg.PartialSchedule) == 0 {
		errs = append(errs, "monitor.partial_schedule cannot be empty")
	}
	for _, pct := range cfg.PartialSchedule {
		if pct <= 0 || pct > 100 {
			errs = append(errs, fmt.Sprintf("monitor.partial_schedule entry %v must be in (0, 100]", pct))
			break
		}
	}
	if cfg.MonitorInterval <= 0 {
		errs = append(errs, "monitor.interval_seconds must be positive")
	}
	if cfg.CorrelationWindow <= 0 {
		errs = append(errs, "correlation.window_seconds must be positive")
	}
	if cfg.RecentMessageCap <= 0 {
		errs = append(errs, "correlation.recent_messages must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// applyPolicyFile overlays the YAML policy document onto cfg. A missing file
// is not an error; the defaults stand.
func applyPolicyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if pf.App.DefaultPair != "" {
		cfg.DefaultPair = strings.ToUpper(pf.App.DefaultPair)
	}
	if pf.Risk.DefaultLotSize != 0 {
		cfg.DefaultLotSize = pf.Risk.DefaultLotSize
	}
	if pf.Risk.MinLotSize != 0 {
		cfg.MinLotSize = pf.Risk.MinLotSize
	}
	if pf.Risk.MaxLotSize != 0 {
		cfg.MaxLotSize = pf.Risk.MaxLotSize
	}
	if pf.Risk.MinRiskRewardRatio != 0 {
		cfg.MinRiskReward = pf.Risk.MinRiskRewardRatio
	}
	if pf.Risk.MaxOpenTrades != 0 {
		cfg.MaxOpenTrades = pf.Risk.MaxOpenTrades
	}
	if pf.Execution.AtMarketPoints != 0 {
		cfg.AtMarketPoints = pf.Execution.AtMarketPoints
	}
	if pf.Correlation.WindowSeconds != 0 {
		cfg.CorrelationWindow = time.Duration(pf.Correlation.WindowSeconds) * time.Second
	}
	if pf.Correlation.RecentMessages != 0 {
		cfg.RecentMessageCap = pf.Correlation.RecentMessages
	}
	if pf.Monitor.IntervalSeconds != 0 {
		cfg.MonitorInterval = time.Duration(pf.Monitor.IntervalSeconds) * time.Second
	}
	if len(pf.Monitor.PartialSchedule) > 0 {
		cfg.PartialSchedule = pf.Monitor.PartialSchedule
	}
	if pf.Shutdown.GraceSeconds != 0 {
		cfg.ShutdownGrace = time.Duration(pf.Shutdown.GraceSeconds) * time.Second
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
