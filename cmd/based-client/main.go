// Command based-client connects to a based hub, keeps a set of observables
// subscribed and optionally offers an interactive shell for ad hoc requests.
//
// Usage:
//
//	based-client [flags]
//
// Examples:
//
//	based-client -url ws://localhost:9910 -observe counter -observe 'user={"id":1}'
//	based-client -org acme -project shop -env prod -interactive
//	based-client -config client.yaml -metrics-addr :9100
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/based-protocol/based-go/cmd/based-client/interactive"
	"github.com/based-protocol/based-go/pkg/client"
	"github.com/based-protocol/based-go/pkg/discovery"
	protolog "github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/metrics"
	"github.com/based-protocol/based-go/pkg/persistence"
	"github.com/based-protocol/based-go/pkg/queue"
)

var (
	config     Config
	configFile string
)

// observeFlag collects repeated -observe flags.
type observeFlag []string

func (o *observeFlag) String() string { return strings.Join(*o, ",") }

func (o *observeFlag) Set(v string) error {
	*o = append(*o, v)
	return nil
}

func init() {
	flag.StringVar(&configFile, "config", "", "YAML config file; flags override its values")

	flag.StringVar(&config.URL, "url", "", "Hub WebSocket URL (skips discovery)")
	flag.StringVar(&config.Query.Cluster, "cluster", "", "Discovery endpoint URL")
	flag.StringVar(&config.Query.Org, "org", "", "Organisation")
	flag.StringVar(&config.Query.Project, "project", "", "Project")
	flag.StringVar(&config.Query.Env, "env", "", "Environment")
	flag.StringVar(&config.Query.Name, "name", discovery.DefaultName, "Service name within the environment")
	flag.StringVar(&config.Query.Key, "key", "", "Hub key")
	flag.BoolVar(&config.Query.OptionalKey, "optional-key", false, "Fall back to the default hub if no hub serves -key")

	flag.BoolVar(&config.MDNS, "mdns", false, "Look for hubs on the local network before asking the discovery endpoint")
	flag.StringVar(&config.MDNSInterface, "mdns-interface", "", "Network interface for mDNS (default: all)")

	flag.StringVar(&config.Checksum, "checksum", "", "Checksum function: blake3, xxhash")
	flag.StringVar(&config.QueuePolicy, "queue-policy", queue.Reject.String(), "Full queue policy: reject, drop-oldest")
	flag.IntVar(&config.MaxQueueLength, "max-queue", client.DefaultMaxQueueLength, "Maximum frames per outbound queue (0 = unbounded)")
	flag.DurationVar(&config.RequestTimeout, "timeout", 0, "Request timeout (0 = none)")

	flag.StringVar(&config.CacheFile, "cache-file", "", "Persist the value cache to this file")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write a protocol capture to this file")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	flag.Var((*observeFlag)(&config.Observe), "observe", "Observe name[=payload] (repeatable)")
	flag.BoolVar(&config.Interactive, "interactive", false, "Start the interactive shell")
}

func main() {
	flag.Parse()

	if configFile != "" {
		if err := loadConfigFile(configFile, &config); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		// Flags given on the command line win over the file.
		fromFile := config.Observe
		config.Observe = nil
		_ = flag.CommandLine.Parse(os.Args[1:])
		if len(config.Observe) == 0 {
			config.Observe = fromFile
		}
	}

	level, err := parseLogLevel(config.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var shell *interactive.Shell
	var logOut io.Writer = os.Stderr
	if config.Interactive {
		shell, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create interactive shell: %v\n", err)
			os.Exit(1)
		}
		// Route logs through readline so they do not garble the prompt.
		logOut = shell.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	if err := run(logger, shell); err != nil {
		logger.Error("based-client failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, shell *interactive.Shell) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.clientConfig(logger)
	if err != nil {
		return err
	}

	if config.CacheFile != "" {
		cfg.CacheStore = persistence.NewFileCacheStore(config.CacheFile)
	}

	if config.ProtocolLog != "" {
		fl, err := protolog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol log dropped events", "count", n)
			}
			_ = fl.Close()
		}()
		cfg.ProtocolLogger = fl
		logger.Info("capturing protocol", "path", config.ProtocolLog)
	}

	if config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return err
		}
		cfg.Metrics = m
		srv := startMetricsServer(config.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c, err := client.New(cfg)
	if err != nil {
		return err
	}

	for _, arg := range config.Observe {
		name, payload := parseObserveArg(arg)
		if _, err := c.Observe(name, payload, logUpdates(logger, name)); err != nil {
			return fmt.Errorf("observe %s: %w", name, err)
		}
	}

	opts := config.connectOptions()
	if err := c.Connect(ctx, opts); err != nil {
		return err
	}
	logger.Info("connecting", "target", target(opts))

	if shell != nil {
		go shell.Run(ctx, cancel, c)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := c.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	return nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func logUpdates(logger *slog.Logger, name string) client.ObserveFunc {
	return func(value []byte, sum uint64, err error) {
		if err != nil {
			logger.Warn("observe error", "name", name, "error", err)
			return
		}
		logger.Info("update", "name", name, "checksum", sum, "value", string(value))
	}
}

func target(opts client.ConnectOptions) string {
	if opts.URL != "" {
		return opts.URL
	}
	return opts.Query.String()
}
