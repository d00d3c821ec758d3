package natsobj

import (
	stderr "errors"

	"github.com/nats-io/nats.go"

	"github.com/sharefs/sharefs/pkg/errors"
)

func translateError(err error, operation, target string) error {
	if err == nil {
		return nil
	}
	return errors.NewError(classify(err), operation+" failed").
		WithComponent("nats").
		WithOperation(operation).
		WithContext("target", target).
		WithCause(err)
}

func classify(err error) errors.ErrorCode {
	switch {
	case stderr.Is(err, nats.ErrObjectNotFound),
		stderr.Is(err, nats.ErrBucketNotFound),
		stderr.Is(err, nats.ErrStreamNotFound):
		return errors.ErrCodeNotFound
	case stderr.Is(err, nats.ErrAuthorization),
		stderr.Is(err, nats.ErrAuthExpired),
		stderr.Is(err, nats.ErrAuthRevoked):
		return errors.ErrCodeUnauthenticated
	case stderr.Is(err, nats.ErrPermissionViolation):
		return errors.ErrCodePermissionDenied
	case stderr.Is(err, nats.ErrNoServers):
		return errors.ErrCodeUnknownHost
	case stderr.Is(err, nats.ErrTimeout):
		return errors.ErrCodeTimeout
	}
	return errors.Classify(err)
}
