// Package cmd implements the govarcall command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/govarcall/internal/config"
	apperrors "github.com/3leaps/govarcall/internal/errors"
	"github.com/3leaps/govarcall/internal/observability"
	"github.com/3leaps/govarcall/internal/server/handlers"
	"github.com/3leaps/govarcall/pkg/provider/s3"
)

var (
	cfgFile  string
	logLevel string
	verbose  bool

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Partition a genome into calling regions and train the variant model",
	Long: `govarcall emits one variant-calling invocation per reference region
and trains the multi-head variant model from packed tensor datasets.

Configuration is read from $XDG_CONFIG_HOME/govarcall/config.yaml (or
--config), then GOVARCALL_* environment variables, then flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/govarcall/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

// SetVersionInfo records build metadata for `version` and /version.
func SetVersionInfo(version, commit, buildDate string) {
	handlers.SetVersionInfo(version, commit, buildDate)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return apperrors.ExitCode(err)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": logLevel}})
	}

	cfg, err := config.LoadFile(cmd.Context(), cfgFile, overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	observability.InitCLILogger(config.AppName, verbose)
	if !verbose {
		if err := observability.SetLevel(cfg.Logging.Level); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
		}
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", cfgFile),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("ledger", cfg.Store.Path))
	return nil
}

// currentConfig returns the loaded config, loading defaults when a command
// runs without the root pre-run (as in tests).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.Load(ctx)
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return apperrors.NewExitError(code, message, err)
}

// classifiedExit wraps err with the exit code its class maps to.
func classifiedExit(message string, err error) error {
	code, _ := apperrors.Classify(err)
	return exitError(code, message, err)
}

// s3Template returns the connection settings shared by every s3:// location.
func s3Template(cfg *config.Config) s3.Config {
	return s3.Config{
		Region:         cfg.S3.Region,
		Endpoint:       cfg.S3.Endpoint,
		Profile:        cfg.S3.Profile,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	}
}
