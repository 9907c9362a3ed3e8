package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/based-protocol/based-go/pkg/checksum"
	"github.com/based-protocol/based-go/pkg/client"
	"github.com/based-protocol/based-go/pkg/discovery"
	"github.com/based-protocol/based-go/pkg/queue"
)

// Config holds the command line configuration.
// Values from -config are loaded first and flags given on the command line
// override them.
type Config struct {
	URL   string          `yaml:"url"`
	Query discovery.Query `yaml:"query"`

	MDNS          bool   `yaml:"mdns"`
	MDNSInterface string `yaml:"mdns_interface"`

	Checksum       string        `yaml:"checksum"`
	QueuePolicy    string        `yaml:"queue_policy"`
	MaxQueueLength int           `yaml:"max_queue_length"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	CacheFile   string `yaml:"cache_file"`
	ProtocolLog string `yaml:"protocol_log"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Observe lists names subscribed at startup, each optionally followed
	// by a JSON payload after a '='.
	Observe []string `yaml:"observe"`

	Interactive bool `yaml:"interactive"`
}

// loadConfigFile reads a YAML config file into cfg. Keys missing from the
// file leave cfg untouched.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// clientConfig translates the command line configuration into an engine
// configuration. Loggers, stores and metrics are attached by the caller.
func (c *Config) clientConfig(logger *slog.Logger) (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.Logger = logger
	cfg.RequestTimeout = c.RequestTimeout
	cfg.MaxQueueLength = c.MaxQueueLength

	if c.Checksum != "" {
		fn, ok := checksum.ByName(c.Checksum)
		if !ok {
			return cfg, fmt.Errorf("unknown checksum: %s (use: blake3, xxhash)", c.Checksum)
		}
		cfg.Checksum = fn
	}
	if c.QueuePolicy != "" {
		p, err := queue.ParsePolicy(c.QueuePolicy)
		if err != nil {
			return cfg, err
		}
		cfg.QueuePolicy = p
	}

	if c.MDNS {
		cfg.Resolver = discovery.Chain{
			discovery.NewMDNSResolver(discovery.MDNSConfig{
				Interface: c.MDNSInterface,
				Logger:    logger,
			}),
			discovery.NewHTTPResolver(nil, logger),
		}
	}

	return cfg, cfg.Validate()
}

// connectOptions returns the URL or discovery query to connect with.
func (c *Config) connectOptions() client.ConnectOptions {
	if c.URL != "" {
		return client.ConnectOptions{URL: c.URL}
	}
	q := c.Query
	return client.ConnectOptions{Query: &q}
}

// parseObserveArg splits "name=payload" into its parts.
func parseObserveArg(s string) (name, payload string) {
	name, payload, _ = strings.Cut(s, "=")
	return strings.TrimSpace(name), strings.TrimSpace(payload)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}
