package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-kohzu/kohzu"
)

// fileConfig is the YAML configuration file schema.
type fileConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	AutoReconnect       *bool  `yaml:"auto_reconnect"`
	ReconnectIntervalMs int    `yaml:"reconnect_interval_ms"`
	ResponseTimeoutMs   int    `yaml:"response_timeout_ms"`
	PollIntervalMs      int    `yaml:"poll_interval_ms"`
	FastPollIntervalMs  int    `yaml:"fast_poll_interval_ms"`
	WriterMaxQueue      int    `yaml:"writer_max_queue"`
	PollAxes            []int  `yaml:"poll_axes"`
	Debug               bool   `yaml:"debug"`
}

// envConfig carries environment-variable overrides, applied on top of the file.
type envConfig struct {
	Host          string `env:"KOHZU_HOST"`
	Port          int    `env:"KOHZU_PORT" envDefault:"0"`
	AutoReconnect string `env:"KOHZU_AUTO_RECONNECT"`
	ConfigPath    string `env:"KOHZU_CONFIG"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
}

// cliSettings is the merged result of config file, environment and positional argv.
type cliSettings struct {
	host          string
	port          int
	autoReconnect bool
	pollAxes      []int
	debug         bool
	opts          []kohzu.Option
}

// parseBoolArg accepts the forms 0|1|true|false|yes|no (case-insensitive).
func parseBoolArg(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q, want 0|1|true|false|yes|no", s)
	}
}

// parseAxisList parses a comma-separated axis list like "1,2,3".
func parseAxisList(s string) ([]int, error) {
	var axes []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		axis, err := strconv.Atoi(tok)
		if err != nil || axis < 1 {
			return nil, fmt.Errorf("invalid axis %q", tok)
		}
		axes = append(axes, axis)
	}

	return axes, nil
}

// loadSettings merges the config file (lowest), environment variables and the
// positional arguments "host port auto_reconnect" (highest).
func loadSettings(args []string) (*cliSettings, error) {
	settings := &cliSettings{
		host:          "192.168.1.120",
		port:          12321,
		autoReconnect: true,
	}

	envCfg := envConfig{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if envCfg.ConfigPath != "" {
		fileCfg, err := loadConfigFile(envCfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		applyFileConfig(settings, fileCfg)
	}

	if envCfg.Host != "" {
		settings.host = envCfg.Host
	}
	if envCfg.Port != 0 {
		settings.port = envCfg.Port
	}
	if envCfg.AutoReconnect != "" {
		val, err := parseBoolArg(envCfg.AutoReconnect)
		if err != nil {
			return nil, err
		}
		settings.autoReconnect = val
	}
	if envCfg.Debug {
		settings.debug = true
	}

	// positional argv: host port auto_reconnect
	if len(args) > 0 {
		settings.host = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", args[1])
		}
		settings.port = port
	}
	if len(args) > 2 {
		val, err := parseBoolArg(args[2])
		if err != nil {
			return nil, err
		}
		settings.autoReconnect = val
	}

	settings.opts = append(settings.opts, kohzu.WithAutoReconnect(settings.autoReconnect))

	return settings, nil
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &fileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	return cfg, nil
}

func applyFileConfig(settings *cliSettings, cfg *fileConfig) {
	if cfg.Host != "" {
		settings.host = cfg.Host
	}
	if cfg.Port != 0 {
		settings.port = cfg.Port
	}
	if cfg.AutoReconnect != nil {
		settings.autoReconnect = *cfg.AutoReconnect
	}
	if cfg.Debug {
		settings.debug = true
	}
	settings.pollAxes = cfg.PollAxes

	if cfg.ReconnectIntervalMs > 0 {
		settings.opts = append(settings.opts,
			kohzu.WithReconnectInterval(time.Duration(cfg.ReconnectIntervalMs)*time.Millisecond))
	}
	if cfg.ResponseTimeoutMs > 0 {
		settings.opts = append(settings.opts,
			kohzu.WithResponseTimeout(time.Duration(cfg.ResponseTimeoutMs)*time.Millisecond))
	}
	if cfg.PollIntervalMs > 0 {
		settings.opts = append(settings.opts,
			kohzu.WithPollInterval(time.Duration(cfg.PollIntervalMs)*time.Millisecond))
	}
	if cfg.FastPollIntervalMs > 0 {
		settings.opts = append(settings.opts,
			kohzu.WithFastPollInterval(time.Duration(cfg.FastPollIntervalMs)*time.Millisecond))
	}
	if cfg.WriterMaxQueue > 0 {
		settings.opts = append(settings.opts,
			kohzu.WithWriterQueueSize(cfg.WriterMaxQueue))
	}
}
