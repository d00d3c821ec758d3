package s3

import (
	stderr "errors"
	"net/http"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/sharefs/sharefs/pkg/errors"
)

// translateError maps an S3 API failure onto the sharefs error taxonomy.
func translateError(err error, operation, target string) error {
	if err == nil {
		return nil
	}

	code := classify(err)
	return errors.NewError(code, operation+" failed").
		WithComponent("s3").
		WithOperation(operation).
		WithContext("target", target).
		WithCause(err)
}

func classify(err error) errors.ErrorCode {
	switch {
	case isErrorType[*s3types.NoSuchKey](err),
		isErrorType[*s3types.NoSuchBucket](err),
		isErrorType[*s3types.NotFound](err):
		return errors.ErrCodeNotFound
	}

	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errors.ErrCodeNotFound
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return errors.ErrCodePermissionDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return errors.ErrCodeUnauthenticated
		case "RequestTimeout", "SlowDown":
			return errors.ErrCodeTimeout
		}
	}

	var respErr *smithyhttp.ResponseError
	if stderr.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return errors.ErrCodeNotFound
		case http.StatusForbidden:
			return errors.ErrCodePermissionDenied
		case http.StatusUnauthorized:
			return errors.ErrCodeUnauthenticated
		}
	}

	return errors.Classify(err)
}

// isInvalidRange reports a read that started at or past the end of an object.
func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return stderr.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}
