package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/govarcall/internal/config"
	"github.com/3leaps/govarcall/internal/observability"
)

var doctorProvider string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Checks the toolchain, the external programs the emitted commands rely on
(python, pypy, samtools) and that the run ledger directory is writable.

Examples:
  govarcall doctor                 # Full environment check
  govarcall doctor --provider s3   # Add S3 credential checks`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorCheck is one diagnostic. ok=false marks the check failed; detail is
// shown either way.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (detail string, ok bool)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	checks := doctorChecks(cfg)
	if doctorProvider != "" && doctorProvider != "s3" {
		return exitError(foundry.ExitInvalidArgument, "Unknown provider",
			fmt.Errorf("--provider must be s3, got %q", doctorProvider))
	}
	if doctorProvider == "s3" {
		checks = append(checks, doctorCheck{name: "AWS credentials", run: checkAWSCredentials})
	}

	observability.CLILogger.Info("=== " + config.AppName + " doctor ===")
	observability.CLILogger.Info("")
	if !runDoctorChecks(ctx, checks) {
		if doctorProvider == "s3" {
			printAWSCredentialsHelp()
		}
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		return nil
	}
	observability.CLILogger.Info("✅ All checks passed!")
	return nil
}

// runDoctorChecks runs every check and reports whether all passed.
func runDoctorChecks(ctx context.Context, checks []doctorCheck) bool {
	all := true
	for i, c := range checks {
		detail, ok := c.run(ctx)
		msg := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if ok {
			observability.CLILogger.Info(msg+" ✅ "+detail, zap.String("check", c.name))
			continue
		}
		all = false
		observability.CLILogger.Warn(msg+" ❌ "+detail, zap.String("check", c.name))
	}
	return all
}

func doctorChecks(cfg *config.Config) []doctorCheck {
	return []doctorCheck{
		{name: "Go version", run: func(context.Context) (string, bool) {
			v := runtime.Version()
			return v, v >= "go1.23"
		}},
		{name: "Crucible access", run: func(context.Context) (string, bool) {
			v := crucible.GetVersion()
			if v.Crucible == "" {
				return "cannot access Crucible", false
			}
			return fmt.Sprintf("crucible v%s, gofulmen v%s", v.Crucible, v.Gofulmen), true
		}},
		{name: "python", run: executableCheck(cfg.Call.Interpreter)},
		{name: "pypy", run: executableCheck(cfg.Call.Pypy)},
		{name: "samtools", run: executableCheck(cfg.Call.Samtools)},
		{name: "run ledger", run: func(context.Context) (string, bool) {
			if cfg.Store.URL != "" {
				return "remote " + cfg.Store.URL, true
			}
			return checkWritableDir(filepath.Dir(cfg.Store.Path))
		}},
		{name: "environment", run: func(context.Context) (string, bool) {
			return runtime.GOOS + "/" + runtime.GOARCH, true
		}},
	}
}

func executableCheck(name string) func(context.Context) (string, bool) {
	return func(context.Context) (string, bool) {
		if name == "" {
			return "not configured", false
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return name + " not found in PATH", false
		}
		return path, true
	}
}

// checkWritableDir creates dir if needed and probes it with a temp file.
func checkWritableDir(dir string) (string, bool) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err.Error(), false
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return dir + " is not writable", false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return dir, true
}

func checkAWSCredentials(ctx context.Context) (string, bool) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "cannot load AWS config: " + err.Error(), false
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "cannot retrieve credentials: " + err.Error(), false
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s (source %s)", maskAccessKey(creds.AccessKeyID), source), true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set s3.endpoint")
	observability.CLILogger.Info("or GOVARCALL_S3_ENDPOINT.")
}
