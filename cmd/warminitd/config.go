package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Values come from defaults, then the
// YAML file named by -config, then WARMINIT_* environment variables, then
// flags given on the command line.
type Config struct {
	ListenAddress    string        `yaml:"listen_address"`
	MetricsAddress   string        `yaml:"metrics_address"`
	HardwarePaths    []string      `yaml:"hardware"`
	StrictDevices    bool          `yaml:"strict_devices"`
	ReplayTimeout    time.Duration `yaml:"replay_timeout"`
	ApplyConcurrency int           `yaml:"apply_concurrency"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:    ":50061",
		MetricsAddress:   ":9091",
		ReplayTimeout:    2 * time.Minute,
		ApplyConcurrency: 4,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func loadConfig(args []string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("warminitd", flag.ContinueOnError)
	configPath := fs.String("config", getenv("WARMINIT_CONFIG"), "path to a YAML config file")
	listen := fs.String("listen", cfg.ListenAddress, "TCP address the gRPC server listens on")
	metrics := fs.String("metrics-addr", cfg.MetricsAddress, "HTTP address for Prometheus /metrics; empty disables it")
	var hardware stringList
	fs.Var(&hardware, "hardware", "port document preloaded into the simulated hardware table (repeatable)")
	strict := fs.Bool("strict-devices", cfg.StrictDevices, "fail captures for devices with no hardware document")
	replayTimeout := fs.Duration("replay-timeout", cfg.ReplayTimeout, "abort a window after this long without provisioning calls; 0 disables")
	concurrency := fs.Int("apply-concurrency", cfg.ApplyConcurrency, "ports the executor works on at once")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	logFormat := fs.String("log-format", cfg.LogFormat, "text or json")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddress = *listen
		case "metrics-addr":
			cfg.MetricsAddress = *metrics
		case "hardware":
			cfg.HardwarePaths = hardware
		case "strict-devices":
			cfg.StrictDevices = *strict
		case "replay-timeout":
			cfg.ReplayTimeout = *replayTimeout
		case "apply-concurrency":
			cfg.ApplyConcurrency = *concurrency
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("WARMINIT_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v, ok := lookup(getenv, "WARMINIT_METRICS_ADDRESS"); ok {
		cfg.MetricsAddress = v
	}
	if v := getenv("WARMINIT_HARDWARE"); v != "" {
		cfg.HardwarePaths = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.HardwarePaths = append(cfg.HardwarePaths, p)
			}
		}
	}
	if v := getenv("WARMINIT_STRICT_DEVICES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WARMINIT_STRICT_DEVICES: %w", err)
		}
		cfg.StrictDevices = b
	}
	if v := getenv("WARMINIT_REPLAY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WARMINIT_REPLAY_TIMEOUT: %w", err)
		}
		cfg.ReplayTimeout = d
	}
	if v := getenv("WARMINIT_APPLY_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WARMINIT_APPLY_CONCURRENCY: %w", err)
		}
		cfg.ApplyConcurrency = n
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	return nil
}

// lookup treats the literal value "-" as an explicit empty setting.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	default:
		return v, true
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen address is required")
	}
	if c.ReplayTimeout < 0 {
		return fmt.Errorf("replay timeout %s is negative", c.ReplayTimeout)
	}
	if c.ApplyConcurrency < 1 {
		return fmt.Errorf("apply concurrency %d must be at least 1", c.ApplyConcurrency)
	}
	return nil
}
