package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Protocol identifies the wire protocol spoken by a connection.
type Protocol string

const (
	ProtocolS3   Protocol = "s3"
	ProtocolNATS Protocol = "nats"
	ProtocolSMB  Protocol = "smb"
	ProtocolFTP  Protocol = "ftp"
	ProtocolFTPS Protocol = "ftps"
	ProtocolSFTP Protocol = "sftp"
)

// ConnectionIdentity identifies a remote endpoint and the principal used to
// reach it. It is comparable and used as a cache key.
type ConnectionIdentity struct {
	Protocol Protocol `json:"protocol" yaml:"protocol"`
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
}

// Address returns host:port, or just the host when no port is set.
func (c ConnectionIdentity) Address() string {
	if c.Port == 0 {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ConnectionIdentity) String() string {
	if c.Username == "" {
		return fmt.Sprintf("%s://%s", c.Protocol, c.Address())
	}
	return fmt.Sprintf("%s://%s@%s", c.Protocol, c.Username, c.Address())
}

// ShareKey identifies a share on a connection.
type ShareKey struct {
	Identity ConnectionIdentity
	Share    string
}

func (k ShareKey) String() string {
	return k.Identity.String() + "/" + k.Share
}

// HandleKey identifies a resolved path on a share.
type HandleKey struct {
	Share ShareKey
	Path  string
}

func (k HandleKey) String() string {
	return k.Share.String() + "/" + k.Path
}

// Profile is a named connection profile with its secrets and protocol options.
type Profile struct {
	Name     string             `yaml:"name"`
	Identity ConnectionIdentity `yaml:",inline"`
	Password string             `yaml:"password"`
	Share    string             `yaml:"share"`
	Options  map[string]string  `yaml:"options"`
}

// Option returns a protocol option or def when unset.
func (p *Profile) Option(key, def string) string {
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// AccessMode is the mode a remote file is opened with.
type AccessMode int

const (
	ModeRead AccessMode = iota
	ModeWrite
	ModeReadWrite
)

// CanRead reports whether the mode permits reads.
func (m AccessMode) CanRead() bool { return m == ModeRead || m == ModeReadWrite }

// CanWrite reports whether the mode permits writes.
func (m AccessMode) CanWrite() bool { return m == ModeWrite || m == ModeReadWrite }

func (m AccessMode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeReadWrite:
		return "rw"
	default:
		return "unknown"
	}
}

// FileInfo describes a resolved remote file.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	ETag    string    `json:"etag,omitempty"`
	Exists  bool      `json:"exists"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Pinned    int     `json:"pinned"`
	HitRate   float64 `json:"hit_rate"`
}

// PipelineStats reports per-file buffering activity.
type PipelineStats struct {
	Fetches       uint64 `json:"fetches"`
	FetchedBytes  int64  `json:"fetched_bytes"`
	Resets        uint64 `json:"resets"`
	Flushes       uint64 `json:"flushes"`
	FlushedBytes  int64  `json:"flushed_bytes"`
	FailedFetches uint64 `json:"failed_fetches"`
}
