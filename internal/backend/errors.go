// Package backend provides parameter.Backend implementations for AWS Systems
// Manager Parameter Store, DynamoDB and Redis, plus composites that chain
// backends or guard them with retries, a circuit breaker and a rate limit.
package backend

import (
	"context"
	"errors"
	"net"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/redis/go-redis/v9"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

// Named is implemented by backends that report a label for metrics and logs.
type Named interface {
	Name() string
}

// NameOf returns b's name, or "backend" if it has none.
func NameOf(b parameter.Backend) string {
	if n, ok := b.(Named); ok {
		return n.Name()
	}
	return "backend"
}

// AWS error codes that mean the caller exceeded a request quota.
var throttlingCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"TooManyUpdates":                         true,
}

// AWS error codes for server-side failures worth retrying.
var transientCodes = map[string]bool{
	"InternalServerError":     true,
	"InternalFailure":         true,
	"ServiceUnavailable":      true,
	"InternalServerException": true,
}

// classifyAWSError maps an AWS SDK error to a parameter.BackendError.
// Not-found conditions are handled by each backend before calling this.
func classifyAWSError(key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return parameter.NewTransientError(key, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case throttlingCodes[code]:
			return parameter.NewThrottledError(key, err)
		case transientCodes[code]:
			return parameter.NewTransientError(key, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == 429:
			return parameter.NewThrottledError(key, err)
		case status >= 500:
			return parameter.NewTransientError(key, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return parameter.NewTransientError(key, err)
	}

	return parameter.NewBackendError(key, err)
}

// isClientError reports whether err was caused by the request for one
// parameter rather than by the backend: a 4xx AWS response, an API error
// attributed to the client, or a Redis error reply.
func isClientError(err error) bool {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		return status >= 400 && status < 500 && status != 429
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return true
	}

	var replyErr redis.Error
	return errors.As(err, &replyErr)
}
