// Package transport delivers signed payload bytes to a webhook's target
// endpoint. One adapter per scheme (HTTP/HTTPS, NSQ queue, NATS pub/sub)
// behind a shared Sender interface; the Router maps parsed schemes to
// adapters and is the uniform error-to-failure boundary.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cartloom/hookrelay/internal/webhook"
)

// ErrUnknownScheme marks a target URL whose scheme has no adapter. This
// is a configuration defect: never retried, surfaced to the caller.
var ErrUnknownScheme = errors.New("transport: unknown webhook scheme")

// Scheme is the tagged transport kind parsed from a target URL.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeHTTP
	SchemeHTTPS
	SchemeNSQ
	SchemeNATS
)

// schemeNames is the explicit scheme table; unknown strings are an error
// value, not a lookup miss at dispatch time.
var schemeNames = map[string]Scheme{
	"http":  SchemeHTTP,
	"https": SchemeHTTPS,
	"nsq":   SchemeNSQ,
	"nats":  SchemeNATS,
}

func (s Scheme) String() string {
	switch s {
	case SchemeHTTP:
		return "http"
	case SchemeHTTPS:
		return "https"
	case SchemeNSQ:
		return "nsq"
	case SchemeNATS:
		return "nats"
	}
	return "unknown"
}

// IsHTTP reports whether the scheme is in the HTTP family. Only these
// schemes support synchronous deliveries and batched observability sends.
func (s Scheme) IsHTTP() bool {
	return s == SchemeHTTP || s == SchemeHTTPS
}

// Target is a parsed delivery destination.
type Target struct {
	Scheme Scheme
	URL    *url.URL
	Raw    string
}

// ParseTarget parses a webhook target URL into a Target, rejecting
// unknown schemes.
func ParseTarget(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, raw)
	}
	scheme, ok := schemeNames[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}
	return &Target{Scheme: scheme, URL: u, Raw: raw}, nil
}

// Message is the signed payload handed to an adapter.
type Message struct {
	Body      []byte
	Domain    string
	Signature string
	EventType string
}

// Response is the outcome of one outbound transport call.
type Response struct {
	Content         string
	RequestHeaders  http.Header
	ResponseHeaders http.Header
	Status          webhook.DeliveryStatus
	Duration        time.Duration
}

// Failed builds a FAILED response carrying the error text as content.
func Failed(content string, duration time.Duration) *Response {
	return &Response{
		Content:  content,
		Status:   webhook.StatusFailed,
		Duration: duration,
	}
}

// Sender delivers a message to a target and reports outcome and timing.
// Adapters convert their own expected failure class (network errors,
// provider client errors, oversized messages) into a FAILED Response;
// a non-nil error is reserved for failures outside that class.
type Sender interface {
	Send(ctx context.Context, target *Target, msg Message) (*Response, error)
}

// startTimer returns a stop function reporting elapsed wall-clock time.
// Adapters call it before the outbound call and stop on every exit path.
func startTimer() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
