package natsobj

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// DefaultPort is the NATS client port used when a profile has none.
const DefaultPort = 4222

// Session is a NATS connection with a JetStream context.
type Session struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	identity types.ConnectionIdentity

	createBuckets bool
	storage       nats.StorageType
}

// Identity implements types.Session.
func (s *Session) Identity() types.ConnectionIdentity { return s.identity }

// Close closes the connection.
func (s *Session) Close() error {
	s.nc.Close()
	return nil
}

// Bucket is an opened object store.
type Bucket struct {
	name  string
	store nats.ObjectStore
}

// Name implements types.Share.
func (b *Bucket) Name() string { return b.name }

// Close implements types.Share.
func (b *Bucket) Close() error { return nil }

// Object is resolved object info.
type Object struct {
	name string
	info types.FileInfo
}

// Info implements types.FileHandle.
func (o *Object) Info() types.FileInfo { return o.info }

// Close implements types.FileHandle.
func (o *Object) Close() error { return nil }

// Connector implements types.Connector for JetStream object stores.
type Connector struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics types.MetricsCollector
}

var _ types.Connector = (*Connector)(nil)

// NewConnector returns a NATS connector. timeout bounds connection setup.
func NewConnector(timeout time.Duration, logger *slog.Logger, metrics types.MetricsCollector) *Connector {
	if timeout <= 0 {
		timeout = nats.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		timeout: timeout,
		logger:  logger.With("component", "nats"),
		metrics: metrics,
	}
}

// Protocol implements types.Connector.
func (c *Connector) Protocol() types.Protocol { return types.ProtocolNATS }

// Dial connects to the server named by the profile. Recognized options:
// token, create_bucket, storage (file or memory), tls.
func (c *Connector) Dial(ctx context.Context, profile *types.Profile) (types.Session, error) {
	id := profile.Identity
	port := id.Port
	if port == 0 {
		port = DefaultPort
	}
	scheme := "nats"
	if profile.Option("tls", "false") == "true" {
		scheme = "tls"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, id.Host, port)

	opts := []nats.Option{
		nats.Name("sharefs"),
		nats.Timeout(c.timeout),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Warn("async NATS error", "url", url, "error", err)
		}),
	}
	if id.Username != "" {
		opts = append(opts, nats.UserInfo(id.Username, profile.Password))
	}
	if token := profile.Option("token", ""); token != "" {
		opts = append(opts, nats.Token(token))
	}

	createBuckets, err := strconv.ParseBool(profile.Option("create_bucket", "false"))
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid create_bucket option").
			WithComponent("nats").WithOperation("dial").WithCause(err)
	}
	storage := nats.FileStorage
	switch profile.Option("storage", "file") {
	case "file":
	case "memory":
		storage = nats.MemoryStorage
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "storage option must be file or memory").
			WithComponent("nats").WithOperation("dial")
	}

	start := time.Now()
	nc, err := connect(ctx, url, opts)
	c.record("connect", start, err)
	if err != nil {
		return nil, translateError(err, "connect", url)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, translateError(err, "jetstream", url)
	}

	c.logger.Debug("NATS session created", "url", url, "server", nc.ConnectedServerId())
	return &Session{
		nc:            nc,
		js:            js,
		identity:      id,
		createBuckets: createBuckets,
		storage:       storage,
	}, nil
}

// connect runs nats.Connect so that a cancelled ctx abandons the attempt.
func connect(ctx context.Context, url string, opts []nats.Option) (*nats.Conn, error) {
	type result struct {
		nc  *nats.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(url, opts...)
		ch <- result{nc, err}
	}()

	select {
	case r := <-ch:
		return r.nc, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// OpenShare binds the named object store, creating it when the profile
// allows.
func (c *Connector) OpenShare(ctx context.Context, session types.Session, name string) (types.Share, error) {
	s, ok := session.(*Session)
	if !ok {
		return nil, foreignError("openshare", session)
	}

	start := time.Now()
	store, err := s.js.ObjectStore(name)
	if err != nil && s.createBuckets && (stderr.Is(err, nats.ErrStreamNotFound) || stderr.Is(err, nats.ErrBucketNotFound)) {
		c.logger.Info("creating object store", "bucket", name)
		store, err = s.js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      name,
			Description: "sharefs share",
			Storage:     s.storage,
		})
	}
	c.record("object_store", start, err)
	if err != nil {
		return nil, translateError(err, "ObjectStore", name)
	}
	return &Bucket{name: name, store: store}, nil
}

// Resolve fetches object info. In a write mode a missing object resolves to
// an empty new object.
func (c *Connector) Resolve(ctx context.Context, share types.Share, path string, mode types.AccessMode) (types.FileHandle, error) {
	b, ok := share.(*Bucket)
	if !ok {
		return nil, foreignError("resolve", share)
	}
	name := strings.TrimPrefix(path, "/")

	start := time.Now()
	info, err := b.store.GetInfo(name, nats.Context(ctx))
	c.record("get_info", start, err)
	if err != nil {
		if mode.CanWrite() && stderr.Is(err, nats.ErrObjectNotFound) {
			return &Object{name: name, info: types.FileInfo{Path: name}}, nil
		}
		return nil, translateError(err, "GetInfo", name)
	}

	return &Object{
		name: name,
		info: types.FileInfo{
			Path:    name,
			Size:    int64(info.Size),
			ModTime: info.ModTime,
			ETag:    info.Digest,
			Exists:  true,
		},
	}, nil
}

// OpenAccessor opens a sequential reader or a streaming writer.
func (c *Connector) OpenAccessor(ctx context.Context, share types.Share, handle types.FileHandle, mode types.AccessMode) (types.SequentialAccessor, error) {
	b, ok := share.(*Bucket)
	if !ok {
		return nil, foreignError("openaccessor", share)
	}
	obj, ok := handle.(*Object)
	if !ok {
		return nil, foreignError("openaccessor", handle)
	}

	if mode == types.ModeRead {
		return newObjectReader(b.store, obj, c), nil
	}
	return newObjectWriter(b.store, obj, c), nil
}

func (c *Connector) record(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOperation("nats."+op, time.Since(start), 0, err == nil)
	if err != nil {
		c.metrics.RecordError("nats."+op, err)
	}
}

func foreignError(op string, v interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidState, fmt.Sprintf("value %T does not belong to the nats connector", v)).
		WithComponent("nats").WithOperation(op)
}
