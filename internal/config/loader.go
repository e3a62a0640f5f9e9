package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/govarcall/pkg/command"
	"github.com/3leaps/govarcall/pkg/region"
	"github.com/3leaps/govarcall/pkg/runstore"
	"github.com/3leaps/govarcall/pkg/trainer"
)

const (
	// AppName names the config directory, data directory and binary.
	AppName = "govarcall"

	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "GOVARCALL"

	configFileName = "config"

	// DefaultCallProgram is the per-region caller script and subcommand.
	DefaultCallProgram = "clair.py callVarBam"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the configuration from defaults, the user config file when
// present, the environment and overrides. Later layers win. The result is
// also published for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. An explicit file that does
// not exist is an error; the default user file is optional.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil before the
// first Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// DataDir returns the per-user data directory.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath is the default run ledger location.
func DefaultStorePath() string {
	return filepath.Join(DataDir(), runstore.DefaultFileName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", ProfileConsole)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	td := trainer.DefaultConfig()
	v.SetDefault("train.batch", td.TrainBatch)
	v.SetDefault("train.validation_batch", td.ValidationBatch)
	v.SetDefault("train.train_fraction", td.TrainFraction)
	v.SetDefault("train.max_epoch", td.MaxEpoch)
	v.SetDefault("train.learning_rate", td.LearningRate)
	v.SetDefault("train.max_learning_rate", td.MaxLearningRate)
	v.SetDefault("train.l2_lambda", td.L2Lambda)
	v.SetDefault("train.step_size_constant", td.StepSizeConstant)
	v.SetDefault("train.clr_mode", string(td.CLRMode))
	v.SetDefault("train.checkpoint_width", td.CheckpointWidth)
	v.SetDefault("train.seed", td.Seed)
	v.SetDefault("train.progress_interval", "10s")
	v.SetDefault("train.work_dir", "")
	v.SetDefault("train.preflight", "read-safe")

	v.SetDefault("call.chunk_size", region.DefaultChunkSize)
	v.SetDefault("call.interpreter", command.DefaultInterpreter)
	v.SetDefault("call.program", DefaultCallProgram)
	v.SetDefault("call.pypy", command.DefaultPypy)
	v.SetDefault("call.samtools", command.DefaultSamtools)
	v.SetDefault("call.threshold", command.DefaultThreshold)
	v.SetDefault("call.min_coverage", command.DefaultMinCoverage)
	v.SetDefault("call.delay", command.DefaultDelay)
	v.SetDefault("call.threads", command.DefaultThreads)
	v.SetDefault("call.sample_name", command.DefaultSampleName)

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.force_path_style", false)
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	dirs := getUserConfigPaths()
	if len(dirs) == 0 {
		return nil
	}
	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths lists directories searched for config.yaml, most
// specific first.
func getUserConfigPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		paths = append(paths, filepath.Join(xdg, AppName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, AppName)
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

// envSpec maps one environment variable onto a config path.
type envSpec struct {
	Name string
	Path string
}

// getEnvSpecs returns the short, documented variables plus the
// GOVARCALL_<SECTION>_<KEY> form of every other key.
func getEnvSpecs() []envSpec {
	short := map[string]string{
		"LOG_LEVEL":        "logging.level",
		"LOG_PROFILE":      "logging.profile",
		"HOST":             "server.host",
		"PORT":             "server.port",
		"READ_TIMEOUT":     "server.read_timeout",
		"WRITE_TIMEOUT":    "server.write_timeout",
		"IDLE_TIMEOUT":     "server.idle_timeout",
		"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
		"STATUS_ENABLED":   "server.enabled",
		"DB_PATH":          "store.path",
		"DB_URL":           "store.url",
		"DB_AUTH_TOKEN":    "store.auth_token",
		"AWS_REGION":       "s3.region",
		"S3_ENDPOINT":      "s3.endpoint",
	}

	specs := make([]envSpec, 0, len(short)+len(longKeys))
	for name, path := range short {
		specs = append(specs, envSpec{Name: EnvPrefix + "_" + name, Path: path})
	}
	for _, path := range longKeys {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
		specs = append(specs, envSpec{Name: name, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

var longKeys = []string{
	"store.enabled",
	"train.batch",
	"train.validation_batch",
	"train.train_fraction",
	"train.max_epoch",
	"train.learning_rate",
	"train.max_learning_rate",
	"train.l2_lambda",
	"train.step_size_constant",
	"train.clr_mode",
	"train.checkpoint_width",
	"train.seed",
	"train.progress_interval",
	"train.work_dir",
	"train.preflight",
	"call.chunk_size",
	"call.interpreter",
	"call.program",
	"call.pypy",
	"call.samtools",
	"call.threads",
	"call.sample_name",
	"s3.profile",
	"s3.force_path_style",
}

// flatten turns nested override maps into dotted viper keys so that each
// leaf lands in viper's override layer.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
