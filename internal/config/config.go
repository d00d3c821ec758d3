package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sharefs/sharefs/pkg/types"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Stream      StreamConfig      `yaml:"stream"`
	Admission   AdmissionConfig   `yaml:"admission"`
	Cache       CacheConfig       `yaml:"cache"`
	Network     NetworkConfig     `yaml:"network"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Mount       MountConfig       `yaml:"mount"`
	Connections []types.Profile  `yaml:"connections"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StreamConfig controls the per-file read-ahead and write-coalescing pipelines.
type StreamConfig struct {
	BufferSize       string `yaml:"buffer_size"`
	QueueCapacity    int    `yaml:"queue_capacity"`
	MaxFetchFailures int    `yaml:"max_fetch_failures"`
}

// AdmissionConfig caps concurrently open remote file operations.
type AdmissionConfig struct {
	OpenOperationLimit int `yaml:"open_operation_limit"`
}

// CacheConfig represents resource cache capacities
type CacheConfig struct {
	Sessions  int           `yaml:"sessions"`
	Shares    int           `yaml:"shares"`
	Handles   int           `yaml:"handles"`
	HandleTTL time.Duration `yaml:"handle_ttl"`
}

// NetworkConfig represents network configuration
type NetworkConfig struct {
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Retry    RetryConfig   `yaml:"retry"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BreakerConfig controls per-host dial circuit breaking. A zero
// FailureThreshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Format string `yaml:"format"`
}

// MountConfig represents FUSE mount settings
type MountConfig struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	FSName     string `yaml:"fsname"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			MetricsPort: 8080,
		},
		Stream: StreamConfig{
			BufferSize:       "1MB",
			QueueCapacity:    5,
			MaxFetchFailures: 3,
		},
		Admission: AdmissionConfig{
			OpenOperationLimit: 32,
		},
		Cache: CacheConfig{
			Sessions:  10,
			Shares:    20,
			Handles:   500,
			HandleTTL: time.Minute,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      "/metrics",
				Namespace: "sharefs",
			},
			Logging: LoggingConfig{
				Format: "text",
			},
		},
		Mount: MountConfig{
			FSName: "sharefs",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SHAREFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("SHAREFS_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHAREFS_METRICS_PORT: %w", err)
		}
		c.Global.MetricsPort = port
	}

	if val := os.Getenv("SHAREFS_BUFFER_SIZE"); val != "" {
		c.Stream.BufferSize = val
	}
	if val := os.Getenv("SHAREFS_QUEUE_CAPACITY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHAREFS_QUEUE_CAPACITY: %w", err)
		}
		c.Stream.QueueCapacity = n
	}

	if val := os.Getenv("SHAREFS_OPEN_OPERATION_LIMIT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHAREFS_OPEN_OPERATION_LIMIT: %w", err)
		}
		c.Admission.OpenOperationLimit = n
	}

	if val := os.Getenv("SHAREFS_SESSION_CACHE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHAREFS_SESSION_CACHE: %w", err)
		}
		c.Cache.Sessions = n
	}
	if val := os.Getenv("SHAREFS_HANDLE_CACHE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHAREFS_HANDLE_CACHE: %w", err)
		}
		c.Cache.Handles = n
	}

	if val := os.Getenv("SHAREFS_MOUNT_POINT"); val != "" {
		c.Mount.MountPoint = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	size, err := ParseSize(c.Stream.BufferSize)
	if err != nil {
		return fmt.Errorf("invalid buffer_size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("buffer_size must be greater than 0")
	}

	if c.Stream.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be greater than 0")
	}
	if c.Stream.MaxFetchFailures <= 0 {
		return fmt.Errorf("max_fetch_failures must be greater than 0")
	}
	if c.Admission.OpenOperationLimit <= 0 {
		return fmt.Errorf("open_operation_limit must be greater than 0")
	}
	if c.Cache.Sessions <= 0 || c.Cache.Shares <= 0 || c.Cache.Handles <= 0 {
		return fmt.Errorf("cache capacities must be greater than 0")
	}
	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}
	if c.Network.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker failure_threshold cannot be negative")
	}
	if c.Network.Breaker.FailureThreshold > 0 && c.Network.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("breaker open_timeout must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Monitoring.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s (must be text or json)", c.Monitoring.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connection %d: name is required", i)
		}
		if seen[conn.Name] {
			return fmt.Errorf("connection %q: duplicate name", conn.Name)
		}
		seen[conn.Name] = true
		if conn.Identity.Protocol == "" {
			return fmt.Errorf("connection %q: protocol is required", conn.Name)
		}
		if conn.Identity.Host == "" {
			return fmt.Errorf("connection %q: host is required", conn.Name)
		}
		if conn.Share == "" {
			return fmt.Errorf("connection %q: share is required", conn.Name)
		}
	}

	return nil
}

// BufferSizeBytes returns the parsed stream buffer size.
func (c *Configuration) BufferSizeBytes() int {
	size, err := ParseSize(c.Stream.BufferSize)
	if err != nil || size <= 0 {
		return 1 << 20
	}
	return int(size)
}

// Connection returns the connection profile with the given name.
func (c *Configuration) Connection(name string) (*types.Profile, bool) {
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i], true
		}
	}
	return nil, false
}

var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
	{"B", 1},
}

// ParseSize parses a human readable size such as "1MB", "512KB" or "4096".
func ParseSize(sizeStr string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(sizeStr))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if val, err := strconv.ParseInt(s, 10, 64); err == nil {
		return val, nil
	}

	for _, unit := range sizeUnits {
		if !strings.HasSuffix(s, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
		val, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size format: %s", sizeStr)
		}
		if val < 0 {
			return 0, fmt.Errorf("negative size: %s", sizeStr)
		}
		return int64(val * float64(unit.multiplier)), nil
	}

	return 0, fmt.Errorf("invalid size format: %s", sizeStr)
}
