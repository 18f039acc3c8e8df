package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	nbqerrors "github.com/zhubert/nbq/internal/errors"
	"github.com/zhubert/nbq/internal/logger"
)

// Environment overrides.
const (
	EnvHome          = "NBQ_HOME"
	EnvDefaultKernel = "NBQ_DEFAULT_KERNEL"
)

const (
	// DefaultDirName is the base directory created under the working directory
	// when NBQ_HOME is not set.
	DefaultDirName = "nbqueue"
	// FileName is the optional config file inside the base directory.
	FileName = "config.yaml"

	DefaultKernel       = "python3"
	DefaultPollInterval = time.Second
	DefaultKillGrace    = 5 * time.Second
)

// DefaultExecutorCommand runs papermill from the active Python environment.
var DefaultExecutorCommand = []string{"python3", "-m", "papermill"}

// Config holds the runtime configuration for nbq
type Config struct {
	BaseDir          string        `yaml:"-"`
	DefaultKernel    string        `yaml:"default_kernel,omitempty"`
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`     // Watch-mode re-poll interval
	KillGrace        time.Duration `yaml:"kill_grace,omitempty"`        // Default SIGTERM→SIGKILL grace for the worker's own shutdown
	ExecutorCommand  []string      `yaml:"executor_command,omitempty"`  // Prefix; input/output/kernel args are appended
	ConverterCommand []string      `yaml:"converter_command,omitempty"` // Empty means the built-in percent-format converter
	Notifications    bool          `yaml:"notifications,omitempty"`     // Desktop notification per finished item
}

// Default returns a config rooted at baseDir with built-in defaults.
func Default(baseDir string) *Config {
	return &Config{
		BaseDir:         baseDir,
		DefaultKernel:   DefaultKernel,
		PollInterval:    DefaultPollInterval,
		KillGrace:       DefaultKillGrace,
		ExecutorCommand: append([]string(nil), DefaultExecutorCommand...),
	}
}

// BaseDir resolves the nbq home directory: NBQ_HOME when set (relative values
// are taken from the working directory), otherwise ./nbqueue.
func BaseDir() (string, error) {
	if env := strings.TrimSpace(os.Getenv(EnvHome)); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDirName), nil
}

// Load builds the configuration: defaults, then a .env file in the working
// directory, then NBQ_HOME, then <base>/config.yaml, then NBQ_DEFAULT_KERNEL.
func Load() (*Config, error) {
	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config: ignoring unreadable .env: %v", err)
	}

	base, err := BaseDir()
	if err != nil {
		return nil, nbqerrors.ConfigLoadFailed(EnvHome, err)
	}
	return LoadFrom(base)
}

// LoadFrom builds the configuration for an explicit base directory.
func LoadFrom(base string) (*Config, error) {
	cfg := Default(base)

	path := cfg.FilePath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nbqerrors.ConfigLoadFailed(path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, nbqerrors.ConfigLoadFailed(path, err)
	}
	cfg.BaseDir = base

	if kernel := strings.TrimSpace(os.Getenv(EnvDefaultKernel)); kernel != "" {
		cfg.DefaultKernel = kernel
	}
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDefaults fills zero values left by a partial config file.
func (c *Config) ensureDefaults() {
	if c.DefaultKernel == "" {
		c.DefaultKernel = DefaultKernel
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.KillGrace == 0 {
		c.KillGrace = DefaultKillGrace
	}
	if len(c.ExecutorCommand) == 0 {
		c.ExecutorCommand = append([]string(nil), DefaultExecutorCommand...)
	}
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return nbqerrors.ConfigInvalid("base directory is empty")
	}
	if c.PollInterval < 0 {
		return nbqerrors.ConfigInvalid("poll_interval must be positive")
	}
	if c.KillGrace < 0 {
		return nbqerrors.ConfigInvalid("kill_grace must not be negative")
	}
	if len(c.ExecutorCommand) == 0 || strings.TrimSpace(c.ExecutorCommand[0]) == "" {
		return nbqerrors.ConfigInvalid("executor_command is empty")
	}
	if len(c.ConverterCommand) > 0 && strings.TrimSpace(c.ConverterCommand[0]) == "" {
		return nbqerrors.ConfigInvalid("converter_command has an empty program")
	}
	return nil
}

// FilePath returns the location of the optional config file.
func (c *Config) FilePath() string {
	return filepath.Join(c.BaseDir, FileName)
}

// LogPath returns the debug log location inside the base directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.BaseDir, logger.LogFileName)
}
