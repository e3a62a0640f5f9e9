// Package config loads govarcall's layered configuration: built-in defaults,
// an optional YAML file, GOVARCALL_* environment variables and runtime
// overrides, in increasing order of precedence.
package config

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the decoded application configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Train   TrainConfig   `mapstructure:"train"`
	Call    CallConfig    `mapstructure:"call"`
	S3      S3Config      `mapstructure:"s3"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Profile is "console" for human output or "structured" for JSON.
	Profile string `mapstructure:"profile"`
}

// ServerConfig controls the training status server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig locates the run ledger. URL selects a remote libsql database
// and takes precedence over Path.
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// TrainConfig holds trainer defaults used when neither a manifest nor a flag
// sets the value.
type TrainConfig struct {
	Batch            int           `mapstructure:"batch"`
	ValidationBatch  int           `mapstructure:"validation_batch"`
	TrainFraction    float64       `mapstructure:"train_fraction"`
	MaxEpoch         int           `mapstructure:"max_epoch"`
	LearningRate     float64       `mapstructure:"learning_rate"`
	MaxLearningRate  float64       `mapstructure:"max_learning_rate"`
	L2Lambda         float64       `mapstructure:"l2_lambda"`
	StepSizeConstant float64       `mapstructure:"step_size_constant"`
	CLRMode          string        `mapstructure:"clr_mode"`
	CheckpointWidth  int           `mapstructure:"checkpoint_width"`
	Seed             uint64        `mapstructure:"seed"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	WorkDir          string        `mapstructure:"work_dir"`

	// Preflight is plan-only, read-safe or write-probe.
	Preflight string `mapstructure:"preflight"`
}

// CallConfig holds defaults for the call command.
type CallConfig struct {
	ChunkSize   int     `mapstructure:"chunk_size"`
	Interpreter string  `mapstructure:"interpreter"`
	Program     string  `mapstructure:"program"`
	Pypy        string  `mapstructure:"pypy"`
	Samtools    string  `mapstructure:"samtools"`
	Threshold   float64 `mapstructure:"threshold"`
	MinCoverage float64 `mapstructure:"min_coverage"`
	Delay       int     `mapstructure:"delay"`
	Threads     int     `mapstructure:"threads"`
	SampleName  string  `mapstructure:"sample_name"`
}

// S3Config holds connection defaults shared by every S3 location.
type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Profile {
	case ProfileConsole, ProfileStructured:
	default:
		return fmt.Errorf("logging.profile: must be %q or %q, got %q", ProfileConsole, ProfileStructured, c.Logging.Profile)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: out of range: %d", c.Server.Port)
	}
	if c.Call.ChunkSize < 1 {
		return fmt.Errorf("call.chunk_size: must be >= 1, got %d", c.Call.ChunkSize)
	}
	if c.Train.ProgressInterval < 0 {
		return fmt.Errorf("train.progress_interval: must not be negative")
	}
	return nil
}

// Logging profiles.
const (
	ProfileConsole    = "console"
	ProfileStructured = "structured"
)
