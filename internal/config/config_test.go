package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sharefs/sharefs/pkg/types"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestBufferSize = "4MB"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 8080 {
		t.Errorf("Expected MetricsPort to be 8080, got %d", cfg.Global.MetricsPort)
	}

	if cfg.Stream.BufferSize != "1MB" {
		t.Errorf("Expected BufferSize to be 1MB, got %s", cfg.Stream.BufferSize)
	}
	if cfg.BufferSizeBytes() != 1<<20 {
		t.Errorf("Expected 1 MiB buffer, got %d", cfg.BufferSizeBytes())
	}
	if cfg.Stream.QueueCapacity != 5 {
		t.Errorf("Expected QueueCapacity to be 5, got %d", cfg.Stream.QueueCapacity)
	}

	if cfg.Admission.OpenOperationLimit != 32 {
		t.Errorf("Expected OpenOperationLimit to be 32, got %d", cfg.Admission.OpenOperationLimit)
	}

	if cfg.Cache.Sessions != 10 || cfg.Cache.Shares != 20 || cfg.Cache.Handles != 500 {
		t.Errorf("Unexpected cache capacities: %+v", cfg.Cache)
	}
	if cfg.Cache.HandleTTL != time.Minute {
		t.Errorf("Expected HandleTTL to be 1 minute, got %v", cfg.Cache.HandleTTL)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "invalid buffer size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Stream.BufferSize = "lots"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid buffer_size",
		},
		{
			name: "zero queue capacity",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Stream.QueueCapacity = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "queue_capacity must be greater than 0",
		},
		{
			name: "zero open operation limit",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Admission.OpenOperationLimit = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "open_operation_limit must be greater than 0",
		},
		{
			name: "zero handle cache",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Handles = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "cache capacities",
		},
		{
			name: "breaker without open timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Network.Breaker.OpenTimeout = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "breaker open_timeout",
		},
		{
			name: "disabled breaker",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Network.Breaker = BreakerConfig{}
				return cfg
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Logging.Format = "xml"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid logging format",
		},
		{
			name: "connection without host",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Connections = []types.Profile{{
					Name:     "media",
					Identity: types.ConnectionIdentity{Protocol: types.ProtocolS3},
					Share:    "bucket",
				}}
				return cfg
			},
			wantErr: true,
			errMsg:  "host is required",
		},
		{
			name: "duplicate connection names",
			config: func() *Configuration {
				cfg := NewDefault()
				p := types.Profile{
					Name:     "media",
					Identity: types.ConnectionIdentity{Protocol: types.ProtocolS3, Host: "h"},
					Share:    "bucket",
				}
				cfg.Connections = []types.Profile{p, p}
				return cfg
			},
			wantErr: true,
			errMsg:  "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  metrics_port: 9090

stream:
  buffer_size: 2MB
  queue_capacity: 8

admission:
  open_operation_limit: 4

connections:
  - name: media
    protocol: s3
    host: s3.example.com
    port: 443
    username: AKIAEXAMPLE
    password: secret
    share: media-bucket
    options:
      region: eu-west-1
      path_style: "true"
  - name: events
    protocol: nats
    host: localhost
    port: 4222
    share: EVENTS
`

	err := os.WriteFile(configFile, []byte(configContent), 0600)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	err = cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.BufferSizeBytes() != 2<<20 {
		t.Errorf("Expected 2 MiB buffer, got %d", cfg.BufferSizeBytes())
	}
	if cfg.Stream.QueueCapacity != 8 {
		t.Errorf("Expected QueueCapacity to be 8, got %d", cfg.Stream.QueueCapacity)
	}
	if cfg.Stream.MaxFetchFailures != 3 {
		t.Errorf("Unset fields should keep defaults, got MaxFetchFailures=%d", cfg.Stream.MaxFetchFailures)
	}
	if cfg.Admission.OpenOperationLimit != 4 {
		t.Errorf("Expected OpenOperationLimit to be 4, got %d", cfg.Admission.OpenOperationLimit)
	}

	if len(cfg.Connections) != 2 {
		t.Fatalf("Expected 2 connections, got %d", len(cfg.Connections))
	}
	media, ok := cfg.Connection("media")
	if !ok {
		t.Fatal("connection media not found")
	}
	want := types.ConnectionIdentity{Protocol: types.ProtocolS3, Host: "s3.example.com", Port: 443, Username: "AKIAEXAMPLE"}
	if media.Identity != want {
		t.Errorf("Identity = %+v, want %+v", media.Identity, want)
	}
	if media.Password != "secret" || media.Share != "media-bucket" {
		t.Errorf("unexpected profile %+v", media)
	}
	if media.Option("region", "") != "eu-west-1" {
		t.Errorf("region option = %q", media.Option("region", ""))
	}

	if _, ok := cfg.Connection("missing"); ok {
		t.Error("unexpected connection")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"SHAREFS_LOG_LEVEL":            "error",
		"SHAREFS_METRICS_PORT":         "9090",
		"SHAREFS_BUFFER_SIZE":          TestBufferSize,
		"SHAREFS_QUEUE_CAPACITY":       "7",
		"SHAREFS_OPEN_OPERATION_LIMIT": "64",
		"SHAREFS_SESSION_CACHE":        "3",
		"SHAREFS_HANDLE_CACHE":         "50",
		"SHAREFS_MOUNT_POINT":          "/mnt/shares",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Stream.BufferSize != TestBufferSize {
		t.Errorf("Expected BufferSize to be 4MB, got %s", cfg.Stream.BufferSize)
	}
	if cfg.Stream.QueueCapacity != 7 {
		t.Errorf("Expected QueueCapacity to be 7, got %d", cfg.Stream.QueueCapacity)
	}
	if cfg.Admission.OpenOperationLimit != 64 {
		t.Errorf("Expected OpenOperationLimit to be 64, got %d", cfg.Admission.OpenOperationLimit)
	}
	if cfg.Cache.Sessions != 3 || cfg.Cache.Handles != 50 {
		t.Errorf("Unexpected cache capacities: %+v", cfg.Cache)
	}
	if cfg.Mount.MountPoint != "/mnt/shares" {
		t.Errorf("Expected MountPoint /mnt/shares, got %s", cfg.Mount.MountPoint)
	}
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("SHAREFS_QUEUE_CAPACITY", "five")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric SHAREFS_QUEUE_CAPACITY")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Stream.BufferSize = TestBufferSize
	cfg.Connections = []types.Profile{{
		Name:     "events",
		Identity: types.ConnectionIdentity{Protocol: types.ProtocolNATS, Host: "localhost", Port: 4222},
		Share:    "EVENTS",
	}}

	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	err = newCfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Stream.BufferSize != TestBufferSize {
		t.Errorf("Expected BufferSize to be 4MB, got %s", newCfg.Stream.BufferSize)
	}
	if len(newCfg.Connections) != 1 || newCfg.Connections[0].Identity.Port != 4222 {
		t.Errorf("connections not round-tripped: %+v", newCfg.Connections)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}
