package s3

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// Session is an S3 client bound to one set of credentials.
type Session struct {
	api       API
	cfg       Config
	identity  types.ConnectionIdentity
	closeIdle func()
}

// Identity implements types.Session.
func (s *Session) Identity() types.ConnectionIdentity { return s.identity }

// Close releases idle HTTP connections.
func (s *Session) Close() error {
	if s.closeIdle != nil {
		s.closeIdle()
	}
	return nil
}

// Bucket is a verified bucket on a session.
type Bucket struct {
	session *Session
	name    string
}

// Name implements types.Share.
func (b *Bucket) Name() string { return b.name }

// Close implements types.Share. Buckets hold no remote state.
func (b *Bucket) Close() error { return nil }

// Object is resolved object metadata.
type Object struct {
	key  string
	info types.FileInfo
}

// Info implements types.FileHandle.
func (o *Object) Info() types.FileInfo { return o.info }

// Close implements types.FileHandle.
func (o *Object) Close() error { return nil }

// Connector implements types.Connector for S3 and S3-compatible stores.
type Connector struct {
	newClient ClientFactory
	logger    *slog.Logger
	metrics   types.MetricsCollector
}

var _ types.Connector = (*Connector)(nil)

// NewConnector returns an S3 connector. A nil factory selects NewClient.
func NewConnector(factory ClientFactory, logger *slog.Logger, metrics types.MetricsCollector) *Connector {
	if factory == nil {
		factory = NewClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		newClient: factory,
		logger:    logger.With("component", "s3"),
		metrics:   metrics,
	}
}

// Protocol implements types.Connector.
func (c *Connector) Protocol() types.Protocol { return types.ProtocolS3 }

// Dial builds a client for the profile. The SDK connects lazily, so
// credentials are only verified by the first request.
func (c *Connector) Dial(ctx context.Context, profile *types.Profile) (types.Session, error) {
	cfg, err := ConfigFromProfile(profile)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("s3").WithOperation("dial")
	}

	api, closeIdle, err := c.newClient(ctx, cfg)
	if err != nil {
		return nil, translateError(err, "dial", profile.Identity.String())
	}

	c.logger.Debug("S3 session created", "identity", profile.Identity.String(), "region", cfg.Region)
	return &Session{api: api, cfg: cfg, identity: profile.Identity, closeIdle: closeIdle}, nil
}

// OpenShare verifies that the bucket exists and is accessible.
func (c *Connector) OpenShare(ctx context.Context, session types.Session, name string) (types.Share, error) {
	s, ok := session.(*Session)
	if !ok {
		return nil, foreignError("openshare", session)
	}

	start := time.Now()
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	c.record("head_bucket", start, 0, err)
	if err != nil {
		return nil, translateError(err, "HeadBucket", name)
	}
	return &Bucket{session: s, name: name}, nil
}

// Resolve fetches object metadata. In a write mode a missing object resolves
// to an empty new object.
func (c *Connector) Resolve(ctx context.Context, share types.Share, path string, mode types.AccessMode) (types.FileHandle, error) {
	b, ok := share.(*Bucket)
	if !ok {
		return nil, foreignError("resolve", share)
	}
	key := strings.TrimPrefix(path, "/")

	start := time.Now()
	out, err := b.session.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	c.record("head_object", start, 0, err)

	if err != nil {
		translated := translateError(err, "HeadObject", key)
		if mode.CanWrite() && errors.IsCode(translated, errors.ErrCodeNotFound) {
			return &Object{key: key, info: types.FileInfo{Path: key}}, nil
		}
		return nil, translated
	}

	return &Object{
		key: key,
		info: types.FileInfo{
			Path:    key,
			Size:    aws.ToInt64(out.ContentLength),
			ModTime: aws.ToTime(out.LastModified),
			ETag:    aws.ToString(out.ETag),
			Exists:  true,
		},
	}, nil
}

// OpenAccessor opens a ranged reader or a streaming multipart writer.
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
		return &objectReader{
			api:       b.session.api,
			bucket:    b.name,
			key:       obj.key,
			size:      obj.info.Size,
			connector: c,
		}, nil
	}

	uploader := manager.NewUploader(b.session.api, func(u *manager.Uploader) {
		u.PartSize = b.session.cfg.PartSize
		u.Concurrency = b.session.cfg.Concurrency
	})
	return newObjectWriter(b.session.api, uploader, b.name, obj, c), nil
}

func (c *Connector) record(op string, start time.Time, n int64, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOperation("s3."+op, time.Since(start), n, err == nil)
	if err != nil {
		c.metrics.RecordError("s3."+op, err)
	}
}

func foreignError(op string, v interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidState, fmt.Sprintf("value %T does not belong to the s3 connector", v)).
		WithComponent("s3").WithOperation(op)
}
