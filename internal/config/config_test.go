// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("mode", "", "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, string(ModeHybrid), cfg.Mode)
	assert.Equal(t, "0.0.0.0:4001", cfg.Server.Addr())
	assert.Equal(t, "/wpsoutputs", cfg.WPS.OutputPath)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 60*time.Second, cfg.Worker.MaxSyncWait)
	assert.Equal(t, 100_000, cfg.Notify.EncryptRounds)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: ades
server:
  port: 9090
wps:
  output_dir: /data/outputs
`), 0o644))

	t.Setenv("WEAVER__SERVER__PORT", "9999")
	t.Setenv("WEAVER__LOGGING__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment beats the file, the file beats defaults.
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "ades", cfg.Mode)
	assert.Equal(t, "/data/outputs", cfg.WPS.OutputDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoadFlagsOverride(t *testing.T) {
	loader := NewLoader("WEAVER")
	require.NoError(t, loader.LoadWithDefaults(Defaults(), ""))

	flags := newTestFlagSet()
	require.NoError(t, flags.Parse([]string{"--port", "8080", "--mode", "ems"}))
	require.NoError(t, loader.LoadFlags(flags, map[string]string{
		"port": "server.port",
		"mode": "mode",
	}))

	var cfg Config
	require.NoError(t, loader.UnmarshalAndValidate("", &cfg))
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ModeEMS, cfg.DeploymentMode())
}

func TestLoadFlagsIgnoresUnsetFlags(t *testing.T) {
	loader := NewLoader("WEAVER")
	require.NoError(t, loader.LoadWithDefaults(Defaults(), ""))

	flags := newTestFlagSet()
	require.NoError(t, flags.Parse(nil))
	require.NoError(t, loader.LoadFlags(flags, map[string]string{"port": "server.port"}))

	var cfg Config
	require.NoError(t, loader.Unmarshal("", &cfg))
	assert.Equal(t, 4001, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid mode",
			mutate:  func(c *Config) { c.Mode = "standalone" },
			wantErr: "mode",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "empty output dir",
			mutate:  func(c *Config) { c.WPS.OutputDir = "" },
			wantErr: "wps.output_dir",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Worker.Count = 0 },
			wantErr: "worker.count",
		},
		{
			name:    "zero kdf rounds",
			mutate:  func(c *Config) { c.Notify.EncryptRounds = 0 },
			wantErr: "notify.encrypt_rounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestModeCapabilities(t *testing.T) {
	assert.True(t, ModeHybrid.LocalCapable())
	assert.True(t, ModeHybrid.RemoteCapable())
	assert.True(t, ModeADES.LocalCapable())
	assert.False(t, ModeADES.RemoteCapable())
	assert.False(t, ModeEMS.LocalCapable())
	assert.True(t, ModeEMS.RemoteCapable())
}
