// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	r := require.New(t)
	cfg, err := Load("")
	r.NoError(err)
	r.Equal("info", cfg.Log.Level)
	r.Equal("text", cfg.Log.Format)
	r.Equal(8, cfg.Executor.Workers)
	r.Equal(1024, cfg.Executor.QueueSize)
	r.Equal(30*time.Second, cfg.Transport.CallTimeout)
	r.Equal(DefaultMaxElements, cfg.Wire.MaxElements)
}

func TestLoadFromEnv(t *testing.T) {
	r := require.New(t)
	t.Setenv("METARPC_TRANSPORT_CAPABILITIES", "MetaObjectCache:-MessageFlags")
	t.Setenv("METARPC_EXECUTOR_WORKERS", "3")
	t.Setenv("METARPC_WIRE_MAX_ELEMENTS", "10")

	cfg, err := Load("")
	r.NoError(err)
	r.Equal("MetaObjectCache:-MessageFlags", cfg.Transport.Capabilities)
	r.Equal(3, cfg.Executor.Workers)
	r.Equal(10, cfg.Wire.MaxElements)
}

func TestLoadFromFile(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	r.NoError(os.WriteFile(path, []byte("log:\n  level: debug\n  format: json\n"), 0o600))

	cfg, err := Load(path)
	r.NoError(err)
	r.Equal("debug", cfg.Log.Level)
	r.Equal("json", cfg.Log.Format)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	r.Error(err)
}
