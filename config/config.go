// Package config resolves the recorder settings from the environment, an
// optional dotenv file and, for the command line tool, a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pyroscope-io/jitrec/recorder"
)

const (
	EnvLogPath         = "SIG_JIT_PROFILER_LOG_PATH"
	EnvMapID           = "SIG_JIT_PROFILER_MAP_ID"
	EnvMaxRecurseDepth = "SIG_JIT_PROFILER_MAX_RECURSE_DEPTH"
	EnvLogLevel        = "SIG_JIT_PROFILER_LOG_LEVEL"
	EnvFile            = "SIG_JIT_PROFILER_ENV_FILE"
)

const DefaultLogLevel = logrus.WarnLevel

type Config struct {
	LogDir          string `toml:"log_dir"`
	MapName         string `toml:"map_name"`
	MaxRecurseDepth int    `toml:"max_recurse_depth"`
	LogLevel        string `toml:"log_level"`
	// ProfilerPath locates the native profiler library loaded by the
	// runtime. Only the launch and attach commands use it.
	ProfilerPath string `toml:"profiler_path"`
}

func DefaultLogDir() string {
	if runtime.GOOS == "windows" {
		return `C:\siglocal`
	}
	return filepath.Join(os.TempDir(), "siglocal")
}

func Default() Config {
	return Config{
		LogDir:          DefaultLogDir(),
		MapName:         recorder.DefaultMapName,
		MaxRecurseDepth: recorder.DefaultMaxRecurseDepth,
		LogLevel:        DefaultLogLevel.String(),
	}
}

// FromEnv returns the defaults overridden by the environment. Variables
// from the file named by SIG_JIT_PROFILER_ENV_FILE fill in what the
// environment leaves unset. A broken env file is reported, but the
// returned Config is still usable.
func FromEnv() (Config, error) {
	c := Default()
	lookup, err := envLookup()
	c.apply(lookup)
	return c, err
}

// LoadFile reads a TOML file on top of the defaults, then applies the
// environment.
func LoadFile(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Default(), fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if c.MaxRecurseDepth <= 0 {
		c.MaxRecurseDepth = recorder.DefaultMaxRecurseDepth
	}
	lookup, err := envLookup()
	c.apply(lookup)
	return c, err
}

type lookupFunc func(key string) (string, bool)

func envLookup() (lookupFunc, error) {
	file := os.Getenv(EnvFile)
	if file == "" {
		return os.LookupEnv, nil
	}
	vars, err := godotenv.Read(file)
	if err != nil {
		return os.LookupEnv, fmt.Errorf("read env file %s: %w", file, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

func (c *Config) apply(lookup lookupFunc) {
	if v, ok := lookup(EnvLogPath); ok && v != "" {
		c.LogDir = v
	}
	if v, ok := lookup(EnvMapID); ok && v != "" {
		c.MapName = v
	}
	if v, ok := lookup(EnvMaxRecurseDepth); ok {
		if d, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && d > 0 {
			c.MaxRecurseDepth = d
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Level parses LogLevel, falling back to warn.
func (c Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return DefaultLogLevel
	}
	return l
}

// NewLogger builds the diagnostics logger. It never writes to the record
// streams.
func (c Config) NewLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(c.Level())
	return l
}

func (c Config) RecorderOptions(log logrus.FieldLogger) []recorder.Option {
	return []recorder.Option{
		recorder.WithMapName(c.MapName),
		recorder.WithMaxRecurseDepth(c.MaxRecurseDepth),
		recorder.WithLogger(log),
	}
}

// Environ renders c as the variables an instrumented process reads.
func (c Config) Environ() []string {
	return []string{
		EnvLogPath + "=" + c.LogDir,
		EnvMapID + "=" + c.MapName,
		EnvMaxRecurseDepth + "=" + strconv.Itoa(c.MaxRecurseDepth),
		EnvLogLevel + "=" + c.LogLevel,
	}
}
