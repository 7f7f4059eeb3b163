// Package config loads the service's YAML configuration file into a typed
// Config, following the teacher's cmd/gateway/config.go loadYAML pattern.
// Command-line surface is deliberately thin (a single -config flag): CLI
// parsing is out of this service's scope (spec.md §1).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ccexec/pkg/logger"
)

// ServerConfig controls the client-facing TCP session endpoint.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listenAddr"`
	ClientTimeout  time.Duration `yaml:"clientTimeout"`
	PollTickPeriod time.Duration `yaml:"pollTickPeriod"`
}

// AdminConfig controls the local-only admin endpoint.
type AdminConfig struct {
	SocketPath string        `yaml:"socketPath"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// StorageConfig controls the file manager's roots and limits.
type StorageConfig struct {
	ProcessingRoot  string        `yaml:"processingRoot"`
	OutgoingRoot    string        `yaml:"outgoingRoot"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	MaxFileAge      time.Duration `yaml:"maxFileAge"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

// QueueConfig controls the job queue and process supervision bounds.
type QueueConfig struct {
	MaxSize          int           `yaml:"maxSize"`
	RetentionGrace   time.Duration `yaml:"retentionGrace"`
	CompileTimeout   time.Duration `yaml:"compileTimeout"`
	ExecutionTimeout time.Duration `yaml:"executionTimeout"`
	OutputBufferSize int           `yaml:"outputBufferSize"`
}

// SandboxConfig controls per-job working directories and the optional
// cgroup-based resource capping layer.
type SandboxConfig struct {
	Root         string `yaml:"root"`
	EnableCgroup bool   `yaml:"enableCgroup"`
	CgroupRoot   string `yaml:"cgroupRoot"`
	MemoryMB     int64  `yaml:"memoryMB"`
	PIDs         int64  `yaml:"pids"`
}

// MetricsConfig controls the additive Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// Config is the top-level configuration document.
type Config struct {
	Server  ServerConfig    `yaml:"server"`
	Admin   AdminConfig     `yaml:"admin"`
	Storage StorageConfig   `yaml:"storage"`
	Queue   QueueConfig     `yaml:"queue"`
	Sandbox SandboxConfig   `yaml:"sandbox"`
	Metrics MetricsConfig   `yaml:"metrics"`
	Logger  logger.Config   `yaml:"logger"`
}

// Default returns the configuration baseline mandated by spec.md §5/§6:
// 300s client idle, 1800s admin idle, 300s compile timeout, 60s execution
// timeout, 16MiB max message (enforced in the codec, not here), 10000 max
// queue entries, 8KiB output buffers, 1h retention grace, 24h max file age.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			ClientTimeout:  300 * time.Second,
			PollTickPeriod: 1 * time.Second,
		},
		Admin: AdminConfig{
			SocketPath:  "/tmp/ccexec_admin.sock",
			IdleTimeout: 1800 * time.Second,
		},
		Storage: StorageConfig{
			ProcessingRoot:  "/var/lib/ccexec/processing",
			OutgoingRoot:    "/var/lib/ccexec/outgoing",
			MaxUploadBytes:  16 * 1024 * 1024,
			MaxFileAge:      24 * time.Hour,
			CleanupInterval: 1 * time.Hour,
		},
		Queue: QueueConfig{
			MaxSize:          10000,
			RetentionGrace:   1 * time.Hour,
			CompileTimeout:   300 * time.Second,
			ExecutionTimeout: 60 * time.Second,
			OutputBufferSize: 8 * 1024,
		},
		Sandbox: SandboxConfig{
			Root:         "/var/lib/ccexec/sandboxes",
			EnableCgroup: false,
			CgroupRoot:   "/sys/fs/cgroup/ccexec",
			MemoryMB:     256,
			PIDs:         64,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9090",
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			ErrorPath:  "stderr",
		},
	}
}

// Load reads and parses a YAML config file on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
