package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sharefs/sharefs/internal/admission"
	"github.com/sharefs/sharefs/internal/buffer"
	"github.com/sharefs/sharefs/internal/cache"
	"github.com/sharefs/sharefs/internal/circuit"
	"github.com/sharefs/sharefs/internal/config"
	"github.com/sharefs/sharefs/internal/filesystem"
	"github.com/sharefs/sharefs/internal/storage"
	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/retry"
	"github.com/sharefs/sharefs/pkg/types"
)

// Adapter turns connection profiles into open ProxyFiles. It owns the
// session, share and handle caches and the admission gate shared by every
// mounted connection.
type Adapter struct {
	config   *config.Configuration
	registry *storage.Registry
	metrics  types.MetricsCollector
	logger   *slog.Logger
	retryer  *retry.Retryer
	breakers *circuit.Manager
	stream   buffer.Options

	sessions *cache.ResourceCache[types.ConnectionIdentity, types.Session]
	shares   *cache.ResourceCache[types.ShareKey, types.Share]
	handles  *cache.ResourceCache[types.HandleKey, types.FileHandle]
	gate     *admission.Gate

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
	watchDone   chan struct{}
}

// New creates an adapter. metrics may be nil.
func New(cfg *config.Configuration, registry *storage.Registry, metrics types.MetricsCollector, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid configuration").
			WithComponent("adapter").
			WithCause(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adapter")

	a := &Adapter{
		config:   cfg,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		stream: buffer.Options{
			BufferSize:       cfg.BufferSizeBytes(),
			QueueCapacity:    cfg.Stream.QueueCapacity,
			MaxFetchFailures: cfg.Stream.MaxFetchFailures,
			Logger:           logger,
			Metrics:          metrics,
		},
		gate: admission.New(cfg.Admission.OpenOperationLimit, logger),
	}

	a.retryer = retry.New(retry.Config{
		MaxAttempts:  cfg.Network.Retry.MaxAttempts,
		InitialDelay: cfg.Network.Retry.BaseDelay,
		MaxDelay:     cfg.Network.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeTimeout,
			errors.ErrCodeIO,
		},
	}).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})

	if breaker := cfg.Network.Breaker; breaker.FailureThreshold > 0 {
		a.breakers = circuit.NewManager(circuit.Config{
			FailureThreshold: breaker.FailureThreshold,
			OpenTimeout:      breaker.OpenTimeout,
			OnStateChange: func(host string, from, to circuit.State) {
				logger.Warn("host circuit changed", "host", host, "from", from.String(), "to", to.String())
			},
		})
	}

	var err error
	if a.sessions, err = cache.New[types.ConnectionIdentity, types.Session](cache.Config{
		Name: "sessions", Capacity: cfg.Cache.Sessions, Logger: logger, Metrics: metrics,
	}); err != nil {
		return nil, err
	}
	if a.shares, err = cache.New[types.ShareKey, types.Share](cache.Config{
		Name: "shares", Capacity: cfg.Cache.Shares, Logger: logger, Metrics: metrics,
	}); err != nil {
		return nil, err
	}
	if a.handles, err = cache.New[types.HandleKey, types.FileHandle](cache.Config{
		Name: "handles", Capacity: cfg.Cache.Handles, TTL: cfg.Cache.HandleTTL, Logger: logger, Metrics: metrics,
	}); err != nil {
		return nil, err
	}

	return a, nil
}

// Start begins publishing the open file count. It is idempotent.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errors.NewError(errors.ErrCodeInvalidState, "adapter stopped").WithComponent("adapter")
	}
	if a.started {
		return nil
	}
	a.started = true

	updates, unsubscribe := a.gate.Subscribe()
	a.unsubscribe = unsubscribe
	a.watchDone = make(chan struct{})
	go a.watchOpenFiles(updates)

	a.logger.Info("adapter started",
		"protocols", a.registry.Protocols(),
		"connections", len(a.config.Connections),
		"open_operation_limit", a.gate.Capacity(),
		"buffer_size", a.stream.BufferSize)
	return nil
}

func (a *Adapter) watchOpenFiles(updates <-chan []types.HandleKey) {
	defer close(a.watchDone)
	for keys := range updates {
		if a.metrics != nil {
			a.metrics.SetOpenFiles(len(keys))
		}
		a.logger.Debug("open files changed", "count", len(keys))
	}
}

// Stop closes every cached resource. Files still open keep their streams
// until released.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	unsubscribe, done := a.unsubscribe, a.watchDone
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n := a.gate.InFlight(); n > 0 {
		a.logger.Warn("stopping with open files", "count", n)
	}

	a.handles.Purge()
	a.shares.Purge()
	a.sessions.Purge()
	a.gate.Close()

	a.logger.Info("adapter stopped")
	return nil
}

// Open resolves path on the profile's share and returns an unopened
// ProxyFile. The file holds an admission slot until it is released.
func (a *Adapter) Open(ctx context.Context, profile *types.Profile, path string, mode types.AccessMode) (*filesystem.ProxyFile, error) {
	start := time.Now()
	file, err := a.open(ctx, profile, path, mode)
	a.record("open", start, err)
	return file, err
}

func (a *Adapter) open(ctx context.Context, profile *types.Profile, path string, mode types.AccessMode) (*filesystem.ProxyFile, error) {
	if a.isStopped() {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "adapter stopped").
			WithComponent("adapter").WithOperation("open")
	}
	if mode.CanWrite() && a.config.Mount.ReadOnly {
		return nil, errors.NewError(errors.ErrCodePermissionDenied, "mounted read-only").
			WithComponent("adapter").WithOperation("open").WithContext("path", path)
	}

	connector, share, unpinShare, err := a.share(ctx, profile)
	if err != nil {
		return nil, err
	}

	key := types.HandleKey{Share: shareKey(profile), Path: path}
	handle, unpinHandle, err := a.resolve(ctx, connector, share, key, mode)
	if err != nil {
		unpinShare()
		return nil, err
	}

	release, err := a.gate.Admit(ctx, key)
	if err != nil {
		unpinHandle()
		unpinShare()
		if mode.CanWrite() {
			closeQuietly(a.logger, handle)
		}
		return nil, err
	}

	a.logger.Debug("file opened", "key", key.String(), "mode", mode.String())

	return filesystem.NewProxyFile(filesystem.Options{
		Path: path,
		Mode: mode,
		Size: func(context.Context) (int64, error) {
			return handle.Info().Size, nil
		},
		Open: func(ctx context.Context, m types.AccessMode) (types.SequentialAccessor, error) {
			return connector.OpenAccessor(ctx, share, handle, m)
		},
		OnRelease: func() {
			if mode.CanWrite() {
				// The remote object changed; the next stat must see it.
				closeQuietly(a.logger, handle)
				a.handles.Remove(key)
			}
			unpinHandle()
			unpinShare()
			release()
		},
		Stream:  a.stream,
		Logger:  a.logger,
		Metrics: a.metrics,
	}), nil
}

// Stat returns the remote metadata of path without opening a stream.
func (a *Adapter) Stat(ctx context.Context, profile *types.Profile, path string) (types.FileInfo, error) {
	start := time.Now()
	info, err := a.stat(ctx, profile, path)
	a.record("stat", start, err)
	return info, err
}

func (a *Adapter) stat(ctx context.Context, profile *types.Profile, path string) (types.FileInfo, error) {
	connector, share, unpinShare, err := a.share(ctx, profile)
	if err != nil {
		return types.FileInfo{}, err
	}
	defer unpinShare()

	handle, unpinHandle, err := a.resolve(ctx, connector, share, types.HandleKey{Share: shareKey(profile), Path: path}, types.ModeRead)
	if err != nil {
		return types.FileInfo{}, err
	}
	defer unpinHandle()
	return handle.Info(), nil
}

// share returns the profile's connector and open share, dialing a session
// when none is cached. The session and share stay open, even if evicted or
// invalidated, until unpin is called.
func (a *Adapter) share(ctx context.Context, profile *types.Profile) (_ types.Connector, _ types.Share, unpin func(), _ error) {
	connector, err := a.registry.Get(profile.Identity.Protocol)
	if err != nil {
		return nil, nil, nil, err
	}

	session, unpinSession, err := a.sessions.Acquire(ctx, profile.Identity, func(ctx context.Context) (types.Session, error) {
		return a.dial(ctx, connector, profile)
	})
	if err != nil {
		return nil, nil, nil, err
	}

	share, unpinShare, err := a.shares.Acquire(ctx, shareKey(profile), func(ctx context.Context) (types.Share, error) {
		return connector.OpenShare(ctx, session, profile.Share)
	})
	if err != nil {
		unpinSession()
		return nil, nil, nil, err
	}
	return connector, share, func() {
		unpinShare()
		unpinSession()
	}, nil
}

func (a *Adapter) dial(ctx context.Context, connector types.Connector, profile *types.Profile) (types.Session, error) {
	var session types.Session
	dial := func(ctx context.Context) error {
		return a.retryer.Do(ctx, func(ctx context.Context) error {
			if timeout := a.config.Network.Timeouts.Connect; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			s, err := connector.Dial(ctx, profile)
			if err != nil {
				return err
			}
			session = s
			return nil
		})
	}

	var err error
	if a.breakers != nil {
		err = a.breakers.Get(hostKey(profile.Identity)).Execute(ctx, dial)
	} else {
		err = dial(ctx)
	}
	if err != nil {
		a.logger.Error("dial failed", "connection", profile.Name, "identity", profile.Identity.String(), "error", err)
		return nil, err
	}
	a.logger.Info("session established", "connection", profile.Name, "identity", profile.Identity.String())
	return session, nil
}

// hostKey identifies the remote endpoint, ignoring the user.
func hostKey(id types.ConnectionIdentity) string {
	return string(id.Protocol) + "://" + id.Address()
}

// resolve returns the handle for key and a func that unpins it. Read-only
// lookups go through the handle cache; writable handles are resolved fresh
// and owned by the file.
func (a *Adapter) resolve(ctx context.Context, connector types.Connector, share types.Share, key types.HandleKey, mode types.AccessMode) (types.FileHandle, func(), error) {
	if mode.CanWrite() {
		handle, err := connector.Resolve(ctx, share, key.Path, mode)
		return handle, func() {}, err
	}
	return a.handles.Acquire(ctx, key, func(ctx context.Context) (types.FileHandle, error) {
		return connector.Resolve(ctx, share, key.Path, types.ModeRead)
	})
}

// OpenFiles lists the files currently holding an admission slot, oldest
// first.
func (a *Adapter) OpenFiles() []types.HandleKey {
	return a.gate.Snapshot()
}

// Invalidate drops every cached resource belonging to identity and returns
// how many were removed. Resources still used by open files are closed when
// the last of those files is released; new opens dial afresh.
func (a *Adapter) Invalidate(identity types.ConnectionIdentity) int {
	n := a.handles.RemoveFunc(func(k types.HandleKey) bool { return k.Share.Identity == identity })
	n += a.shares.RemoveFunc(func(k types.ShareKey) bool { return k.Identity == identity })
	if a.sessions.Remove(identity) {
		n++
	}
	if a.breakers != nil {
		a.breakers.Remove(hostKey(identity))
	}
	a.logger.Info("connection invalidated", "identity", identity.String(), "removed", n)
	return n
}

// CacheStats reports the resource caches by name.
func (a *Adapter) CacheStats() map[string]types.CacheStats {
	return map[string]types.CacheStats{
		"sessions": a.sessions.Stats(),
		"shares":   a.shares.Stats(),
		"handles":  a.handles.Stats(),
	}
}

// Status is a point-in-time view of the adapter for diagnostics.
type Status struct {
	OpenFiles []string                    `json:"open_files"`
	InFlight  int                         `json:"in_flight"`
	Capacity  int                         `json:"capacity"`
	Caches    map[string]types.CacheStats `json:"caches"`
	Hosts     map[string]circuit.Stats    `json:"hosts,omitempty"`
}

// Status reports open files, cache usage and host circuit states.
func (a *Adapter) Status() Status {
	open := a.gate.Snapshot()
	status := Status{
		OpenFiles: make([]string, len(open)),
		InFlight:  len(open),
		Capacity:  a.gate.Capacity(),
		Caches:    a.CacheStats(),
	}
	for i, key := range open {
		status.OpenFiles[i] = key.String()
	}
	if a.breakers != nil {
		status.Hosts = a.breakers.Stats()
	}
	return status
}

func (a *Adapter) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *Adapter) record(op string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordOperation("adapter."+op, time.Since(start), 0, err == nil)
	if err != nil {
		a.metrics.RecordError("adapter."+op, err)
	}
}

func shareKey(profile *types.Profile) types.ShareKey {
	return types.ShareKey{Identity: profile.Identity, Share: profile.Share}
}

func closeQuietly(logger *slog.Logger, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
}
