// Package config loads the papertrader YAML configuration and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/internal/indicators"
	"github.com/vitos/paper_signal_engine/internal/usecase"
	"gopkg.in/yaml.v3"
)

// App holds process-wide settings.
type App struct {
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file"`
	Instruments      []string      `yaml:"instruments"`
	Workers          int           `yaml:"workers"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	BarPeriod        string        `yaml:"bar_period"`
	IndicatorBackend string        `yaml:"indicator_backend"`
}

// Exchange configures the market data source. A non-empty ReplayFile
// replaces the live Bybit feed with bars read from CSV.
type Exchange struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	Category     string `yaml:"category"`
	BarLimit     int    `yaml:"bar_limit"`
	ReplayFile   string `yaml:"replay_file"`
}

// Signals overrides strategy weights by strategy name. Empty means the
// built-in weights.
type Signals struct {
	Weights map[string]float64 `yaml:"weights"`
}

type Portfolio struct {
	InitialCapital float64 `yaml:"initial_capital"`
}

type Storage struct {
	DBPath string `yaml:"db_path"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Config struct {
	App        App                     `yaml:"app"`
	Exchange   Exchange                `yaml:"exchange"`
	Indicators indicators.Config       `yaml:"indicators"`
	Signals    Signals                 `yaml:"signals"`
	Risk       usecase.RiskLimits      `yaml:"risk"`
	Execution  usecase.ExecutionConfig `yaml:"execution"`
	Portfolio  Portfolio               `yaml:"portfolio"`
	Storage    Storage                 `yaml:"storage"`
	Server     Server                  `yaml:"server"`
}

// Default returns a configuration that works without a file.
func Default() *Config {
	return &Config{
		App: App{
			LogLevel:         "info",
			Instruments:      []string{"BTCUSDT", "ETHUSDT"},
			Workers:          4,
			TickInterval:     time.Minute,
			BarPeriod:        "60",
			IndicatorBackend: string(indicators.BackendWilder),
		},
		Exchange: Exchange{
			Name:         "bybit",
			RESTEndpoint: "https://api.bybit.com",
			WSEndpoint:   "wss://stream.bybit.com/v5/public/linear",
			Category:     "linear",
			BarLimit:     200,
		},
		Indicators: indicators.DefaultConfig(),
		Risk:       usecase.DefaultRiskLimits(),
		Execution:  usecase.DefaultExecutionConfig(),
		Portfolio:  Portfolio{InitialCapital: 1_000_000},
		Storage:    Storage{DBPath: "papertrader.db"},
		Server:     Server{Port: 8080},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	// A missing .env file is fine.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("PAPER_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("PAPER_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.App.Instruments) == 0 {
		errs = append(errs, errors.New("app.instruments must not be empty"))
	}
	if c.App.Workers <= 0 {
		errs = append(errs, fmt.Errorf("app.workers must be positive, got %d", c.App.Workers))
	}
	if c.App.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("app.tick_interval must be positive, got %s", c.App.TickInterval))
	}
	switch indicators.Backend(c.App.IndicatorBackend) {
	case indicators.BackendWilder, indicators.BackendBasic:
	default:
		errs = append(errs, fmt.Errorf("app.indicator_backend %q is not one of wilder, basic", c.App.IndicatorBackend))
	}
	if c.Exchange.ReplayFile == "" && c.Exchange.RESTEndpoint == "" {
		errs = append(errs, errors.New("exchange.rest_endpoint is required without a replay file"))
	}
	if c.Portfolio.InitialCapital <= 0 {
		errs = append(errs, fmt.Errorf("portfolio.initial_capital must be positive, got %v", c.Portfolio.InitialCapital))
	}
	if err := c.Indicators.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("indicators: %w", err))
	}
	if _, err := c.Weights(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk: %w", err))
	}
	if err := c.Execution.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("execution: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Weights resolves the configured strategy weights.
func (c *Config) Weights() (usecase.Weights, error) {
	if len(c.Signals.Weights) == 0 {
		return usecase.DefaultWeights(), nil
	}
	var w usecase.Weights
	seen := 0
	for i, name := range domain.StrategyOrder {
		v, ok := c.Signals.Weights[string(name)]
		if ok {
			seen++
		}
		w[i] = v
	}
	if seen != len(c.Signals.Weights) {
		var unknown []string
		for name := range c.Signals.Weights {
			if !knownStrategy(name) {
				unknown = append(unknown, name)
			}
		}
		return w, fmt.Errorf("signals.weights: unknown strategies %s", strings.Join(unknown, ", "))
	}
	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("signals.weights: %w", err)
	}
	return w, nil
}

func knownStrategy(name string) bool {
	for _, s := range domain.StrategyOrder {
		if string(s) == name {
			return true
		}
	}
	return false
}

// Engine builds the engine settings from the configuration.
func (c *Config) Engine() usecase.EngineConfig {
	return usecase.EngineConfig{
		Workers:        c.App.Workers,
		BarPeriod:      c.App.BarPeriod,
		InitialCapital: c.Portfolio.InitialCapital,
		Execution:      c.Execution,
	}
}
