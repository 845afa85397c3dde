package s3store

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// classify maps an SDK error onto the cloud taxonomy. Service errors become
// *rest.HTTPError so callers match them like any other status error; errors
// without a service response are transport failures.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if status := statusOf(err); status > 0 {
			return &rest.HTTPError{StatusCode: status, Message: err.Error(), Err: sentinelForStatus(status)}
		}

		return fmt.Errorf("%w: %w", cloud.ErrTransport, err)
	}

	status := statusOf(err)
	if status < 0 {
		status = 0
	}

	sentinel := sentinelForCode(apiErr.ErrorCode())
	if sentinel == nil && status > 0 {
		sentinel = sentinelForStatus(status)
	}

	return &rest.HTTPError{
		StatusCode: status,
		Message:    apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(),
		Err:        sentinel,
	}
}

func sentinelForCode(code string) error {
	switch code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return cloud.ErrNotFound
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return cloud.ErrAuth
	case "AccessDenied", "Forbidden":
		return rest.ErrForbidden
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return rest.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return rest.ErrServerError
	default:
		return nil
	}
}

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return cloud.ErrNotFound
	case status == http.StatusForbidden:
		return rest.ErrForbidden
	case status == http.StatusTooManyRequests:
		return rest.ErrThrottled
	case status >= http.StatusInternalServerError:
		return rest.ErrServerError
	default:
		return nil
	}
}

// statusOf extracts the HTTP status an SDK call ended with, for observers.
func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}

	return rest.StatusTransportFailure
}
