package util

import (
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/shopmonkeyus/go-common/logger"
)

const maxAttempts = 3

// HTTPRetry executes an HTTP request, retrying with jittered backoff on
// connection failures and retryable status codes.
type HTTPRetry struct {
	req    *http.Request
	logger logger.Logger
}

type HTTPRetryOption func(*HTTPRetry)

func WithLogger(logger logger.Logger) HTTPRetryOption {
	return func(r *HTTPRetry) {
		r.logger = logger
	}
}

// NewHTTPRetry creates a new utility for retrying HTTP requests.
func NewHTTPRetry(req *http.Request, opts ...HTTPRetryOption) *HTTPRetry {
	retry := HTTPRetry{req: req}
	for _, opt := range opts {
		opt(&retry)
	}
	return &retry
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		msg := err.Error()
		return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return true
	}
	return false
}

func (r *HTTPRetry) Do() (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 1; ; attempt++ {
		resp, err = http.DefaultClient.Do(r.req)
		if attempt > maxAttempts || !retryable(resp, err) {
			return resp, err
		}
		jitter := time.Millisecond*100 + time.Duration(rand.Int64N(int64(500*attempt)))*time.Millisecond
		if r.logger != nil {
			var code int
			if resp != nil {
				code = resp.StatusCode
			}
			r.logger.Trace("request failed (path: %s) (status: %d), retrying request in %v", r.req.URL.String(), code, jitter)
		}
		time.Sleep(jitter)
	}
}
