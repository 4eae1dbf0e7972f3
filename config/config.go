// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the process-wide runtime configuration.
//
// Values come from an optional config file and from the environment
// (prefix METARPC_, dots replaced by underscores), e.g.
//
//	METARPC_LOG_LEVEL=debug
//	METARPC_TRANSPORT_CAPABILITIES="MetaObjectCache:-RemoteCancelableCalls"
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "METARPC"

var (
	config *Config
	once   sync.Once
	mu     sync.Mutex
)

// Config is the runtime configuration.
type Config struct {
	Log       *Log
	Transport *Transport
	Wire      *Wire
	Executor  *Executor
	Viper     *viper.Viper
}

// Log configures the process logger.
type Log struct {
	Level  string
	Format string
}

// Transport configures wire-level behavior.
type Transport struct {
	// Capabilities is the colon-separated override list merged over the
	// default capability set (KEY, +KEY, -KEY, KEY=VALUE).
	Capabilities string
	CallTimeout  time.Duration
}

// Wire bounds decoding work.
type Wire struct {
	// MaxElements caps the element count of containers whose elements
	// take no input bytes.
	MaxElements int
}

// DefaultMaxElements is the default Wire.MaxElements.
const DefaultMaxElements = 1 << 16

// Executor sizes the shared global executor.
type Executor struct {
	Workers   int
	QueueSize int
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("transport.capabilities", "")
	v.SetDefault("transport.call_timeout", 30*time.Second)
	v.SetDefault("wire.max_elements", DefaultMaxElements)
	v.SetDefault("executor.workers", 8)
	v.SetDefault("executor.queue_size", 1024)
	return v
}

// Load reads the configuration from the environment and, when path is not
// empty, from the given config file.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Log: &Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Transport: &Transport{
			Capabilities: v.GetString("transport.capabilities"),
			CallTimeout:  getDurationOrDefault(v, "transport.call_timeout", 30*time.Second),
		},
		Wire: &Wire{
			MaxElements: getIntOrDefault(v, "wire.max_elements", DefaultMaxElements),
		},
		Executor: &Executor{
			Workers:   getIntOrDefault(v, "executor.workers", 8),
			QueueSize: getIntOrDefault(v, "executor.queue_size", 1024),
		},
		Viper: v,
	}
}

// Get returns the process configuration, loading it from the environment
// on first use.
func Get() *Config {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if config == nil {
			config = fromViper(newViper())
		}
	})
	mu.Lock()
	defer mu.Unlock()
	return config
}

// Set replaces the process configuration. It must be called before any
// component reads it (typically from main or TestMain).
func Set(cfg *Config) {
	once.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

// getDurationOrDefault returns duration from config or default value
func getDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return defaultValue
}

// getIntOrDefault returns int from config or default value
func getIntOrDefault(v *viper.Viper, key string, defaultValue int) int {
	if v.IsSet(key) {
		if n := v.GetInt(key); n > 0 {
			return n
		}
	}
	return defaultValue
}
