package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/bpfmetrics/internal/agent"
	"github.com/ethpandaops/bpfmetrics/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bpfmetrics",
		Short: "eBPF per-CPU counter collector",
		Long: `bpfmetrics periodically reads a per-CPU counter array shared with
kernel-side eBPF programs, sums each counter across CPUs, and publishes
per-interval deltas to Prometheus, OTLP, ClickHouse, or HTTP sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(versionCmd(), validateCmd(), migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func validateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without opening the counter map",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent.LoadConfig(path)
			if err != nil {
				return err
			}

			registry, metrics, err := cfg.Build()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"config ok: %d counters, %d metrics, %d sinks\n",
				registry.Len(), len(metrics), cfg.Sinks.EnabledCount(),
			)

			return nil
		},
	}

	cmd.Flags().StringVar(&path, "config", "", "path to config file (required)")

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func newLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// CLI flag overrides config file.
	if logLevel != "" {
		level = logLevel
	}

	if level == "" {
		level = "info"
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log.SetLevel(parsed)

	return log, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithField("version", version.Short()).Info("Starting bpfmetrics agent")

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
		log.Warn("Collector exited unexpectedly")
	}

	log.Info("Shutting down bpfmetrics agent")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
