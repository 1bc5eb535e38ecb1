// Package store persists webhooks, payloads, deliveries and attempts.
// The postgres subpackage is the production implementation; tests use
// hand-rolled fakes.
package store

import (
	"context"
	"errors"

	"github.com/cartloom/hookrelay/internal/webhook"
)

// ErrNotFound is returned when a record does not exist. A delivery that
// vanished before its async task ran is reported with this error so the
// task can exit cleanly instead of retrying.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract of the delivery tracker.
type Store interface {
	// CreatePayload stores immutable serialized event data.
	CreatePayload(ctx context.Context, data []byte) (*webhook.EventPayload, error)

	// DeletePayloadIfOrphaned removes a payload no delivery references
	// anymore. Removing an already-removed or still-referenced payload
	// is a no-op.
	DeletePayloadIfOrphaned(ctx context.Context, payloadID string) error

	// CreateDelivery creates one PENDING delivery of payloadID to w.
	CreateDelivery(ctx context.Context, w *webhook.Webhook, payloadID, eventType string) (*webhook.EventDelivery, error)

	// GetDelivery loads a delivery with its webhook (and app) and
	// payload hydrated. Returns ErrNotFound when the record is gone.
	GetDelivery(ctx context.Context, id string) (*webhook.EventDelivery, error)

	// UpdateDeliveryStatus sets the delivery's status.
	UpdateDeliveryStatus(ctx context.Context, id string, status webhook.DeliveryStatus) error

	// DeleteDelivery removes a delivery and its attempts. Deleting a
	// missing delivery is a no-op.
	DeleteDelivery(ctx context.Context, id string) error

	// CreateAttempt creates a new attempt row for a delivery before the
	// transport call. taskID is empty on the sync path.
	CreateAttempt(ctx context.Context, deliveryID, taskID string) (*webhook.EventDeliveryAttempt, error)

	// UpdateAttempt writes the outcome fields of an attempt. Attempts
	// are never mutated again afterwards.
	UpdateAttempt(ctx context.Context, attempt *webhook.EventDeliveryAttempt) error

	// ActiveWebhooks returns active webhooks of active apps, with
	// subscribed events and app permissions hydrated. A non-empty appID
	// restricts the result to that app's webhooks.
	ActiveWebhooks(ctx context.Context, appID string) ([]*webhook.Webhook, error)
}
