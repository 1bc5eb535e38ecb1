package transport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cartloom/hookrelay/internal/signature"
	"github.com/cartloom/hookrelay/internal/tracing"
)

// Router resolves a target URL's scheme to the matching adapter, signs
// the payload, and invokes the adapter. It is the uniform boundary where
// adapter errors become FAILED responses, so callers never see
// transport-specific error types. Unknown schemes are returned as
// ErrUnknownScheme without touching any adapter.
type Router struct {
	signer  *signature.Signer
	senders map[Scheme]Sender
}

// NewRouter wires the scheme table. The same HTTP sender serves both the
// http and https tags.
func NewRouter(signer *signature.Signer, httpSender, queueSender, pubsubSender Sender) *Router {
	return &Router{
		signer: signer,
		senders: map[Scheme]Sender{
			SchemeHTTP:  httpSender,
			SchemeHTTPS: httpSender,
			SchemeNSQ:   queueSender,
			SchemeNATS:  pubsubSender,
		},
	}
}

// Deliver signs payload with the webhook's secret and sends it to
// targetURL via the adapter for its scheme. The returned error is
// non-nil only for configuration defects (unknown scheme); every
// transport-level failure is reported as a FAILED response.
func (r *Router) Deliver(ctx context.Context, targetURL, domain, secret, eventType string, payload []byte) (*Response, error) {
	target, err := ParseTarget(targetURL)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "transport.deliver",
		attribute.String("scheme", target.Scheme.String()),
		attribute.String("event_type", eventType),
		attribute.String("domain", domain),
	)
	defer span.End()

	msg := Message{
		Body:      payload,
		Domain:    domain,
		Signature: r.signer.Sign(payload, secret),
		EventType: eventType,
	}
	resp, err := r.senders[target.Scheme].Send(ctx, target, msg)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Failed(err.Error(), 0), nil
	}
	span.SetAttributes(attribute.String("delivery_status", string(resp.Status)))
	return resp, nil
}
