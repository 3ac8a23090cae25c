// trialflow - trial reconstruction for VR task marker streams.
// Converts raw marker recordings into per-trial event tables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikkeyboi/custom-neuropype/pkg/config"
	"github.com/mikkeyboi/custom-neuropype/pkg/telemetry"
	"github.com/mikkeyboi/custom-neuropype/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	verbose      bool
	logFormat    string
	protocolFlag string

	manager  *config.Manager
	settings *config.Config
	logger   *zap.Logger
	exporter *telemetry.Exporter
	shutdown func(context.Context) error
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trialflow",
	Short: "trialflow - Reconstruct trials from VR task marker streams",
	Long: `trialflow turns the raw marker stream logged by a VR task controller into a
table of canonical trial events (Intertrial, Fixate, Cue, Delay, Target, Go,
Countermand, Response, Feedback) with per-trial metadata and latencies.

Settings are read from /etc/trialflow/config.yaml, ~/.trialflow/config.yaml,
./.trialflow.yaml and TRIALFLOW_* environment variables, in that order.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdown != nil {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log encoding (console, json)")
	rootCmd.PersistentFlags().StringVarP(&protocolFlag, "protocol", "p", "", "Protocol preset name or YAML file")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(protocolsCmd)
	rootCmd.AddCommand(configCmd)

	tui.Version = version
}

// setup loads configuration and builds the logger and tracer.
func setup(cmd *cobra.Command, args []string) error {
	manager = config.NewManager()
	if err := manager.Load(); err != nil {
		return err
	}
	settings = manager.Get()
	if protocolFlag != "" {
		settings.Protocol = protocolFlag
	}
	if logFormat != "" {
		settings.Logging.Format = logFormat
	}
	if verbose {
		settings.Logging.Level = "debug"
	}

	var err error
	logger, err = newLogger(settings.Logging)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", zap.Strings("files", manager.GetPaths()))

	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = settings.Telemetry.Enabled
	tcfg.Endpoint = settings.Telemetry.Endpoint
	tcfg.Insecure = settings.Telemetry.Insecure
	tcfg.SamplingRatio = settings.Telemetry.SamplingRatio
	tcfg.ServiceVersion = version

	exporter = telemetry.NewExporter(tcfg)
	shutdown, err = exporter.Init(cmd.Context())
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zcfg.Sampling = nil
	return zcfg.Build()
}
