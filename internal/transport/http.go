package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cartloom/hookrelay/internal/webhook"
)

// Headers carried on every HTTP(S) delivery. The X- prefixed forms are
// kept for integrations predating the canonical names; both are always
// present with identical values.
const (
	legacyEventHeader     = "X-Cartloom-Event"
	legacyDomainHeader    = "X-Cartloom-Domain"
	legacySignatureHeader = "X-Cartloom-Signature"

	eventHeader     = "Cartloom-Event"
	domainHeader    = "Cartloom-Domain"
	signatureHeader = "Cartloom-Signature"
)

// maxResponseBody bounds how much of a subscriber's response is kept on
// the attempt record.
const maxResponseBody = 64 * 1024

// HTTPSender posts payloads to http/https targets.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender builds a sender with the given hard timeout. Async
// deliveries use the longer webhook timeout, the sync path a shorter one.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

// statusFromCode maps an HTTP status code to a delivery status. Anything
// below 400 counts as delivered.
func statusFromCode(code int) webhook.DeliveryStatus {
	if code >= 200 && code < 400 {
		return webhook.StatusSuccess
	}
	return webhook.StatusFailed
}

// Send issues a POST with the payload as body. Outcome is SUCCESS iff
// the remote returns a 2xx/3xx status. Network-level errors become a
// FAILED response with the error text as content.
func (s *HTTPSender) Send(ctx context.Context, target *Target, msg Message) (*Response, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set(legacyEventHeader, msg.EventType)
	headers.Set(legacyDomainHeader, msg.Domain)
	headers.Set(legacySignatureHeader, msg.Signature)
	headers.Set(eventHeader, msg.EventType)
	headers.Set(domainHeader, msg.Domain)
	headers.Set(signatureHeader, msg.Signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Raw, bytes.NewReader(msg.Body))
	if err != nil {
		return nil, err
	}
	req.Header = headers

	stop := startTimer()
	resp, err := s.client.Do(req)
	if err != nil {
		out := Failed(err.Error(), stop())
		out.RequestHeaders = headers
		return out, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	out := &Response{
		Content:         string(body),
		RequestHeaders:  headers,
		ResponseHeaders: resp.Header,
		Duration:        stop(),
		Status:          statusFromCode(resp.StatusCode),
	}
	return out, nil
}
