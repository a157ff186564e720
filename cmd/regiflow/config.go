package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/eleven-am/regiflow"
	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const lockFile = "regiflow.lock"

// loadConfig layers the YAML file over the defaults, then REGIFLOW_*
// environment overrides. Template variables come from the file's env section,
// then envFile, then the process environment for keys already known.
func loadConfig(path, envFile string, envFileRequired bool) (*regiflow.Config, error) {
	config := regiflow.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if dataDir := os.Getenv("REGIFLOW_DATA_DIR"); dataDir != "" {
		config.DataDir = dataDir
	}
	if addr := os.Getenv("REGIFLOW_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if backend := os.Getenv("REGIFLOW_STORAGE"); backend != "" {
		config.Storage.Backend = regiflow.StorageBackend(strings.ToLower(strings.TrimSpace(backend)))
	}
	if redisURL := os.Getenv("REGIFLOW_REDIS_URL"); redisURL != "" {
		config.Dispatcher.RedisURL = redisURL
		config.Dispatcher.IdempotencyBackend = regiflow.IdempotencyRedis
	}
	if os.Getenv("REGIFLOW_TRACING") == "true" {
		config.Tracing.Enabled = true
	}

	if config.Env == nil {
		config.Env = make(map[string]string)
	}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !envFileRequired:
		case err != nil:
			return nil, fmt.Errorf("failed to read env file: %w", err)
		default:
			if err := mergo.Merge(&config.Env, vars, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge env file: %w", err)
			}
		}
	}
	for key := range config.Env {
		if value, ok := os.LookupEnv(key); ok {
			config.Env[key] = value
		}
	}

	return config, nil
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// lockDataDir takes an exclusive lock so two processes never open the same
// badger directory.
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use by another regiflow process", dir)
	}
	return lock, nil
}
