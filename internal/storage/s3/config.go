package s3

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sharefs/sharefs/pkg/types"
)

// DefaultHost is the host name that selects the regional AWS endpoint
// instead of a custom one.
const DefaultHost = "s3.amazonaws.com"

// Config represents S3 connection configuration derived from a profile
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool

	MaxRetries     int
	RequestTimeout time.Duration

	// Multipart upload tuning for written files
	PartSize    int64
	Concurrency int
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		PartSize:       8 << 20,
		Concurrency:    1,
	}
}

// ConfigFromProfile builds a Config from a connection profile. The username
// and password carry the access key pair. Recognized options: region,
// scheme, path_style, session_token, part_size, max_retries.
func ConfigFromProfile(p *types.Profile) (Config, error) {
	cfg := NewDefaultConfig()
	cfg.Region = p.Option("region", cfg.Region)
	cfg.AccessKeyID = p.Identity.Username
	cfg.SecretAccessKey = p.Password
	cfg.SessionToken = p.Option("session_token", "")

	if p.Identity.Host != "" && p.Identity.Host != DefaultHost {
		cfg.Endpoint = fmt.Sprintf("%s://%s", p.Option("scheme", "https"), p.Identity.Address())
		cfg.ForcePathStyle = true
	}

	if v := p.Option("path_style", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid path_style option: %w", err)
		}
		cfg.ForcePathStyle = b
	}
	if v := p.Option("part_size", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 5<<20 {
			return cfg, fmt.Errorf("invalid part_size option %q: must be at least 5242880", v)
		}
		cfg.PartSize = n
	}
	if v := p.Option("max_retries", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid max_retries option %q", v)
		}
		cfg.MaxRetries = n
	}

	return cfg, nil
}
