/*
Package config provides configuration management for sharefs.

Configuration is assembled from compiled-in defaults, a YAML file and
SHAREFS_* environment variables, in that order of precedence (later wins).
Command-line flags in cmd/sharefs are applied last.

	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables (SHAREFS_*)    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/sharefs/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

# File format

	global:
	  log_level: INFO
	  metrics_port: 8080

	stream:
	  buffer_size: 1MB        # size of one read-ahead fetch / write chunk
	  queue_capacity: 5       # windows in flight per open file
	  max_fetch_failures: 3

	admission:
	  open_operation_limit: 32

	cache:
	  sessions: 10
	  shares: 20
	  handles: 500
	  handle_ttl: 1m

	connections:
	  - name: media
	    protocol: s3
	    host: s3.amazonaws.com
	    username: AKIA...
	    password: ...
	    share: media-bucket
	    options:
	      region: us-east-1

# Environment variables

	SHAREFS_LOG_LEVEL="DEBUG"
	SHAREFS_METRICS_PORT="9090"
	SHAREFS_BUFFER_SIZE="4MB"
	SHAREFS_QUEUE_CAPACITY="8"
	SHAREFS_OPEN_OPERATION_LIMIT="64"
	SHAREFS_SESSION_CACHE="10"
	SHAREFS_HANDLE_CACHE="500"
	SHAREFS_MOUNT_POINT="/mnt/shares"

Sizes accept plain byte counts or KB/MB/GB suffixes (binary multiples); see
ParseSize.
*/
package config
