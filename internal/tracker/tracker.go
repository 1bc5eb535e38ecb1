// Package tracker owns every state transition of deliveries and their
// attempts. All writes are single-row create-then-update transitions, so
// no cross-delivery locking is needed.
package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/metrics"
	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// Observer receives attempt reports for external monitoring. Purely
// observational: failures are logged and swallowed, never affecting the
// delivery outcome.
type Observer interface {
	ObserveAttempt(ctx context.Context, eventType string, attempt *webhook.EventDeliveryAttempt, nextRetry *time.Time) error
}

// Tracker creates and mutates delivery and attempt records.
type Tracker struct {
	store    store.Store
	observer Observer
	logger   *logging.Logger
}

// New builds a tracker. observer may be nil when no monitoring
// side-channel is wired.
func New(st store.Store, observer Observer, logger *logging.Logger) *Tracker {
	return &Tracker{store: st, observer: observer, logger: logger}
}

// CreateDeliveries creates one PENDING delivery per webhook, all sharing
// the given payload.
func (t *Tracker) CreateDeliveries(ctx context.Context, hooks []*webhook.Webhook, payload *webhook.EventPayload, eventType string) ([]*webhook.EventDelivery, error) {
	deliveries := make([]*webhook.EventDelivery, 0, len(hooks))
	for _, w := range hooks {
		d, err := t.store.CreateDelivery(ctx, w, payload.ID, eventType)
		if err != nil {
			return deliveries, err
		}
		d.Payload = payload
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// CreateDelivery creates a single PENDING delivery (sync path).
func (t *Tracker) CreateDelivery(ctx context.Context, w *webhook.Webhook, payload *webhook.EventPayload, eventType string) (*webhook.EventDelivery, error) {
	d, err := t.store.CreateDelivery(ctx, w, payload.ID, eventType)
	if err != nil {
		return nil, err
	}
	d.Payload = payload
	return d, nil
}

// Delivery loads a delivery with webhook and payload hydrated.
func (t *Tracker) Delivery(ctx context.Context, id string) (*webhook.EventDelivery, error) {
	return t.store.GetDelivery(ctx, id)
}

// CreateAttempt records a new attempt row before a transport call.
func (t *Tracker) CreateAttempt(ctx context.Context, delivery *webhook.EventDelivery, taskID string) (*webhook.EventDeliveryAttempt, error) {
	return t.store.CreateAttempt(ctx, delivery.ID, taskID)
}

// UpdateAttempt writes a transport outcome onto the attempt. This is the
// terminal per-attempt write.
func (t *Tracker) UpdateAttempt(ctx context.Context, attempt *webhook.EventDeliveryAttempt, resp *transport.Response) error {
	attempt.Status = resp.Status
	attempt.Response = resp.Content
	attempt.Duration = resp.Duration
	attempt.RequestHeaders = headersJSON(resp.RequestHeaders)
	attempt.ResponseHeaders = headersJSON(resp.ResponseHeaders)
	return t.store.UpdateAttempt(ctx, attempt)
}

// UpdateDelivery sets the delivery's status and records terminal states
// in metrics.
func (t *Tracker) UpdateDelivery(ctx context.Context, delivery *webhook.EventDelivery, status webhook.DeliveryStatus) error {
	if err := t.store.UpdateDeliveryStatus(ctx, delivery.ID, status); err != nil {
		return err
	}
	delivery.Status = status
	if status != webhook.StatusPending {
		metrics.RecordDelivery(string(status))
	}
	return nil
}

// Report forwards the attempt to the monitoring observer. nextRetry is
// set when a retry has been scheduled. Never fails the caller.
func (t *Tracker) Report(ctx context.Context, eventType string, attempt *webhook.EventDeliveryAttempt, nextRetry *time.Time) {
	if t.observer == nil {
		return
	}
	if err := t.observer.ObserveAttempt(ctx, eventType, attempt, nextRetry); err != nil {
		t.logger.WithContext(ctx).
			WithAttempt(attempt.ID).
			WithEventType(eventType).
			WithError(err).
			Warn("attempt report dropped")
	}
}

// Reap prunes a SUCCESS delivery and reclaims its payload once no other
// delivery references it. Pending and failed deliveries are left
// untouched; reaping twice is a no-op.
func (t *Tracker) Reap(ctx context.Context, delivery *webhook.EventDelivery) error {
	if delivery.Status != webhook.StatusSuccess {
		return nil
	}
	if err := t.store.DeleteDelivery(ctx, delivery.ID); err != nil {
		return err
	}
	return t.store.DeletePayloadIfOrphaned(ctx, delivery.PayloadID)
}

func headersJSON(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(data)
}
