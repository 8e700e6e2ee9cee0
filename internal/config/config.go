// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"
)

// Mode controls which execution backends an instance may use.
type Mode string

const (
	// ModeADES executes application packages locally only.
	ModeADES Mode = "ades"
	// ModeEMS dispatches executions to remote providers only.
	ModeEMS Mode = "ems"
	// ModeHybrid may do either, per package.
	ModeHybrid Mode = "hybrid"
)

// Config is the top-level configuration for the weaver server and worker.
type Config struct {
	// Mode selects the deployment mode (ades, ems, hybrid).
	Mode string `koanf:"mode"`
	// Server defines HTTP server settings.
	Server ServerConfig `koanf:"server"`
	// Logging defines logging settings.
	Logging LoggingConfig `koanf:"logging"`
	// WPS defines output staging locations.
	WPS WPSConfig `koanf:"wps"`
	// SMTP defines the outgoing mail server used for subscriber emails.
	SMTP SMTPConfig `koanf:"smtp"`
	// S3 defines the optional object store backend for results.
	S3 S3Config `koanf:"s3"`
	// Worker defines task queue and monitoring settings.
	Worker WorkerConfig `koanf:"worker"`
	// Notify defines subscriber notification settings.
	Notify NotifyConfig `koanf:"notify"`
	// Vault defines the optional encrypted single-use file store.
	Vault VaultConfig `koanf:"vault"`
	// ADES defines credentials for dispatching to peer ADES instances.
	ADES ADESConfig `koanf:"ades"`
	// Database defines the persistence store settings.
	Database DatabaseConfig `koanf:"database"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `koanf:"level"`
	// Format is the log output format (json, text).
	Format string `koanf:"format"`
}

// WPSConfig defines where job outputs are staged and how they are exposed.
type WPSConfig struct {
	// OutputDir is the local directory where job outputs are staged.
	OutputDir string `koanf:"output_dir"`
	// OutputURL is the public base URL under which OutputDir is served.
	OutputURL string `koanf:"output_url"`
	// OutputPath is the URL path prefix corresponding to OutputDir.
	OutputPath string `koanf:"output_path"`
	// WorkDir is the scratch directory for per-job working directories.
	WorkDir string `koanf:"work_dir"`
}

// SMTPConfig defines the outgoing mail server.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	From     string        `koanf:"from"`
	Password string        `koanf:"password"`
	SSL      bool          `koanf:"ssl"`
	Timeout  time.Duration `koanf:"timeout"`
}

// S3Config defines the object store backend. When Bucket is empty, results
// are staged on the local filesystem only.
type S3Config struct {
	Bucket   string `koanf:"bucket"`
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
}

// WorkerConfig defines task queue and monitoring settings.
type WorkerConfig struct {
	// Count is the number of concurrent job workers.
	Count int `koanf:"count"`
	// QueueSize bounds the number of queued tasks.
	QueueSize int `koanf:"queue_size"`
	// MaxSyncWait caps the Prefer wait window for synchronous execution.
	MaxSyncWait time.Duration `koanf:"max_sync_wait"`
	// MonitorInitialInterval is the first remote status poll delay.
	MonitorInitialInterval time.Duration `koanf:"monitor_initial_interval"`
	// MonitorMaxInterval caps the remote status poll backoff.
	MonitorMaxInterval time.Duration `koanf:"monitor_max_interval"`
	// JobTimeout is the wall-clock limit for a single job.
	JobTimeout time.Duration `koanf:"job_timeout"`
}

// NotifyConfig defines subscriber notification settings.
type NotifyConfig struct {
	// TemplateDir holds per-process email templates.
	TemplateDir string `koanf:"template_dir"`
	// DefaultTemplate is the template file used when no per-process one exists.
	DefaultTemplate string `koanf:"default_template"`
	// EncryptSecret derives the symmetric key protecting stored emails.
	EncryptSecret string `koanf:"encrypt_secret"`
	// EncryptRounds is the KDF iteration count.
	EncryptRounds int `koanf:"encrypt_rounds"`
}

// ADESConfig defines the OAuth2 client credentials used when a peer ADES
// rejects an unauthenticated request.
type ADESConfig struct {
	// TokenURL is the OAuth2 token endpoint, e.g. {host}/oauth2/token.
	TokenURL string `koanf:"token_url"`
	// ClientID and ClientSecret authenticate the client credentials grant.
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	// Username and Password enable the resource owner password grant when set.
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// VaultConfig defines the encrypted single-use file store. When URL is empty,
// vault input references are rejected.
type VaultConfig struct {
	// URL is the vault service base URL.
	URL string `koanf:"url"`
	// Secret derives the symmetric key protecting uploaded files.
	Secret string `koanf:"secret"`
}

// DatabaseConfig defines the persistence store.
type DatabaseConfig struct {
	// Path is the sqlite database file; ":memory:" for tests.
	Path string `koanf:"path"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Mode: string(ModeHybrid),
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4001,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WPS: WPSConfig{
			OutputDir:  "/tmp/weaver/outputs",
			OutputURL:  "http://localhost:4001/wpsoutputs",
			OutputPath: "/wpsoutputs",
			WorkDir:    "/tmp/weaver/work",
		},
		SMTP: SMTPConfig{
			Port:    25,
			Timeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Count:                  4,
			QueueSize:              64,
			MaxSyncWait:            60 * time.Second,
			MonitorInitialInterval: 2 * time.Second,
			MonitorMaxInterval:     30 * time.Second,
			JobTimeout:             6 * time.Hour,
		},
		Notify: NotifyConfig{
			EncryptRounds: 100_000,
		},
		Database: DatabaseConfig{
			Path: "/tmp/weaver/weaver.db",
		},
	}
}

// Load loads configuration from file and environment variables.
// Environment variables use the prefix WEAVER__ with double underscore for
// nesting. Example: WEAVER__SERVER__PORT=9090.
func Load(configPath string) (*Config, error) {
	loader := NewLoader("WEAVER")

	if err := loader.LoadWithDefaults(Defaults(), configPath); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := loader.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if e := MustBeOneOf(NewPath("mode"), c.Mode, []string{
		string(ModeADES), string(ModeEMS), string(ModeHybrid),
	}); e != nil {
		errs = append(errs, e)
	}
	server := NewPath("server")
	if e := MustBeInRange(server.Child("port"), c.Server.Port, 1, 65535); e != nil {
		errs = append(errs, e)
	}
	wps := NewPath("wps")
	if e := MustNotBeEmpty(wps.Child("output_dir"), c.WPS.OutputDir); e != nil {
		errs = append(errs, e)
	}
	if e := MustNotBeEmpty(wps.Child("output_url"), c.WPS.OutputURL); e != nil {
		errs = append(errs, e)
	}
	worker := NewPath("worker")
	if e := MustBeGreaterThan(worker.Child("count"), c.Worker.Count, 0); e != nil {
		errs = append(errs, e)
	}
	if e := MustBeGreaterThan(worker.Child("queue_size"), c.Worker.QueueSize, 0); e != nil {
		errs = append(errs, e)
	}
	if c.Notify.EncryptRounds < 1 {
		errs = append(errs, Invalid(NewPath("notify").Child("encrypt_rounds"), "must be at least 1"))
	}

	return errs.OrNil()
}

// DeploymentMode returns the parsed deployment mode.
func (c *Config) DeploymentMode() Mode {
	return Mode(c.Mode)
}

// RemoteCapable reports whether this instance may dispatch to remote providers.
func (m Mode) RemoteCapable() bool {
	return m == ModeEMS || m == ModeHybrid
}

// LocalCapable reports whether this instance may execute packages locally.
func (m Mode) LocalCapable() bool {
	return m == ModeADES || m == ModeHybrid
}
