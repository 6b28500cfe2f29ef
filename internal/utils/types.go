package utils

import (
	"errors"
	"fmt"
	"time"
)

type HTTPClientConfig struct {
	Timeout         time.Duration
	KATimeout       time.Duration
	ProxyURL        string
	ProxyUsername   string
	ProxyPassword   string
	UserAgent       string
	Headers         map[string]string
	FollowRedirects bool // page fetches follow redirects, image fetches handle them per hop
}

var (
	ErrNoFilename       = errors.New("url has no filename")
	ErrNoExtension      = errors.New("filename has no extension")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// TransportError is any failure below the HTTP status line: dial, DNS,
// timeouts and broken bodies.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BadStatusError is a completed response that is neither 200 nor a
// followable redirect.
type BadStatusError struct {
	URL        string
	StatusCode int
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// IsSkip reports whether err only means the URL could not be mapped to a
// local filename.
func IsSkip(err error) bool {
	return errors.Is(err, ErrNoFilename) || errors.Is(err, ErrNoExtension)
}
