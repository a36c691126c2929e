package common

import (
	"net/http"

	"github.com/pkg/errors"
	otelcodes "go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc/codes"
)

// StatusCoder is implemented by errors which carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// StatusCodeFromError finds the first StatusCoder in the err chain.
func StatusCodeFromError(err error) (int, bool) {

	var sc StatusCoder
	if err != nil && errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

var canonicalCodes = map[int]codes.Code{
	http.StatusBadRequest:          codes.InvalidArgument,
	http.StatusUnauthorized:        codes.Unauthenticated,
	http.StatusForbidden:           codes.PermissionDenied,
	http.StatusNotFound:            codes.NotFound,
	http.StatusConflict:            codes.AlreadyExists,
	http.StatusTooManyRequests:     codes.ResourceExhausted,
	499:                            codes.Canceled,
	http.StatusInternalServerError: codes.Unknown,
	http.StatusNotImplemented:      codes.Unimplemented,
	http.StatusServiceUnavailable:  codes.Unavailable,
	http.StatusGatewayTimeout:      codes.DeadlineExceeded,
}

// HTTPStatusToCanonical maps an HTTP status to the canonical status family.
func HTTPStatusToCanonical(status int) codes.Code {

	if status >= 100 && status < 400 {
		return codes.OK
	}
	if code, ok := canonicalCodes[status]; ok {
		return code
	}
	return codes.Unknown
}

// SpanStatus returns the span status for an HTTP status together with its canonical code.
func SpanStatus(status int) (otelcodes.Code, codes.Code) {

	canonical := HTTPStatusToCanonical(status)
	if canonical == codes.OK {
		return otelcodes.Ok, canonical
	}
	return otelcodes.Error, canonical
}
