package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"library/lwwset/communication"
	"library/lwwset/config"
	"library/lwwset/replica"
	"library/lwwset/simulation"
	"library/lwwset/user"
)

// Options holds the flags shared by all commands.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// initLogger initializes a JSON gokit-logger set
// to the supplied log level.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// loadConfig returns the defaults, or the file given by --config.
func loadConfig(opts *Options) (*config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(opts.ConfigPath)
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	http.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}

func newRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "lwwset",
		Short: "Replicated last-write-wins element sets",
		Long:  "Simulate and play with replicas of a state-based LWW-Element-Set CRDT.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML simulation config")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "loglevel", "", "log level (debug|info|warn|error), overrides the config")

	cmd.AddCommand(newSimulateCommand(opts))
	cmd.AddCommand(newInteractiveCommand(opts))

	return cmd
}

func newSimulateCommand(opts *Options) *cobra.Command {
	var (
		replicas   int
		operations int
		seed       int64
		metrics    string
	)

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Run random concurrent operations on replicas until they converge",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("replicas") {
				cfg.Replicas = replicas
			}
			if cmd.Flags().Changed("operations") {
				cfg.Operations = operations
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metrics
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := initLogger(cfg.LogLevel)
			m := replica.NewMetrics()
			if cfg.MetricsAddr != "" {
				m = replica.NewPrometheusMetrics("lwwset")
				go runPromHTTP(logger, cfg.MetricsAddr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			report, runErr := simulation.Run(ctx, cfg, logger, m)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&replicas, "replicas", 0, "number of replicas")
	cmd.Flags().IntVar(&operations, "operations", 0, "operations per replica")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	cmd.Flags().StringVar(&metrics, "metrics-addr", "", "address to expose Prometheus metrics on")

	return cmd
}

func newInteractiveCommand(opts *Options) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:          "interactive",
		Short:        "Drive replicas from standard input",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("replicas") {
				cfg.Replicas = count
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := initLogger(cfg.LogLevel)

			channels := map[string]chan communication.Message{}
			for i := 1; i <= cfg.Replicas; i++ {
				channels[strconv.Itoa(i)] = make(chan communication.Message)
			}
			replicas := make([]*replica.Replica[int], cfg.Replicas)
			for i := range replicas {
				replicas[i] = replica.NewReplica[int](strconv.Itoa(i+1), channels, replica.WithLogger(logger))
				defer replicas[i].Stop()
			}

			return user.RunInput(cmd.InOrStdin(), cmd.OutOrStdout(), replicas)
		},
	}

	cmd.Flags().IntVar(&count, "replicas", 0, "number of replicas")

	return cmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
