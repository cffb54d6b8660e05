// Package fetcher defines the fetch contract and the failure taxonomy used to
// decide which fetch errors are worth retrying.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Response is the result of a successful GET.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Response, error)
}

// Kind classifies a fetch failure.
type Kind string

// Fetch failure kinds.
const (
	KindHTTPStatus Kind = "http-status"
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindRequest    Kind = "request"
)

// ErrEmptyURL is returned when asked to fetch an empty URL.
var ErrEmptyURL = errors.New("url is required")

// Error wraps the underlying transport error with its classification.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps a raw transport error (and the status code, when a response was
// received) onto an *Error.
func Classify(rawURL string, statusCode int, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	out := &Error{URL: rawURL, StatusCode: statusCode, Err: err}
	switch {
	case statusCode > 0:
		out.Kind = KindHTTPStatus
	case isTimeout(err):
		out.Kind = KindTimeout
	case isConnection(err):
		out.Kind = KindConnection
	default:
		out.Kind = KindRequest
	}
	return out
}

// KindOf returns the failure kind of err, or "" when err is not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether err is a transient network fault.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnection(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.Is(urlErr.Err, net.ErrClosed) ||
			errors.Is(urlErr.Err, io.EOF) ||
			errors.Is(urlErr.Err, io.ErrUnexpectedEOF)
	}
	return false
}
