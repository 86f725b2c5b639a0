package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ollama/ollama/api"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/kbase/internal/core"
)

// transientHints are substrings providers put in rate-limit, quota and
// connection errors when no structured status is available.
var transientHints = []string{
	"resource_exhausted",
	"resource exhausted",
	"rate limit",
	"too many requests",
	"quota",
	"status code: 429",
	"status 429",
	"connection reset",
	"connection refused",
	"i/o timeout",
}

// classify wraps err in core.ErrEmbeddingTransient when a retry may succeed
// and core.ErrEmbeddingFatal otherwise.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrEmbeddingTransient) || errors.Is(err, core.ErrEmbeddingFatal) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %s: %w", core.ErrEmbeddingTransient, provider, err)
	}
	return fmt.Errorf("%w: %s: %w", core.ErrEmbeddingFatal, provider, err)
}

// isTransient reports whether a retry may succeed: rate limits, quota
// denials and network failures. A structured status decides on its own;
// message hints apply only to errors that carry none.
func isTransient(err error) bool {
	// A cancelled caller is not something a retry can fix.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if code, ok := httpStatus(err); ok {
		return transientHTTP(code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted, codes.PermissionDenied, codes.DeadlineExceeded:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// httpStatus extracts the response code from the provider SDK error types.
func httpStatus(err error) (int, bool) {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}

	var oErr api.StatusError
	if errors.As(err, &oErr) {
		return oErr.StatusCode, true
	}

	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) && coded.HTTPCode() > 0 {
		return coded.HTTPCode(), true
	}
	return 0, false
}

// transientHTTP treats rate limiting (429) and quota denials (403) as
// retryable. Server errors are not retried.
func transientHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusForbidden
}
