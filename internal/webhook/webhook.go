// Package webhook holds the domain model for the delivery core: registered
// webhooks and their owning apps, event types with permission gating, and
// the delivery / attempt / payload records tracked across retries.
package webhook

import (
	"time"
)

// DeliveryStatus is the lifecycle state of a delivery or attempt.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSuccess DeliveryStatus = "success"
	StatusFailed  DeliveryStatus = "failed"
)

// Event types emitted by the platform. EventAny subscribes a webhook to
// every async event.
const (
	EventAny = "any_events"

	EventOrderCreated    = "order_created"
	EventOrderUpdated    = "order_updated"
	EventOrderCancelled  = "order_cancelled"
	EventOrderFullyPaid  = "order_fully_paid"
	EventCheckoutCreated = "checkout_created"
	EventCheckoutUpdated = "checkout_updated"

	// Sync event types: the caller blocks on a parsed response.
	EventPaymentAuthorize = "payment_authorize"
	EventPaymentCapture   = "payment_capture"
	EventPaymentRefund    = "payment_refund"
	EventPaymentBalance   = "payment_balance"

	EventObservability = "observability"
)

// permissions maps event types to the permission an app must hold to
// receive them. Event types absent from the map are unrestricted.
var permissions = map[string]string{
	EventOrderCreated:    "manage_orders",
	EventOrderUpdated:    "manage_orders",
	EventOrderCancelled:  "manage_orders",
	EventOrderFullyPaid:  "manage_orders",
	EventCheckoutCreated: "manage_checkouts",
	EventCheckoutUpdated: "manage_checkouts",

	EventPaymentAuthorize: "manage_payments",
	EventPaymentCapture:   "manage_payments",
	EventPaymentRefund:    "manage_payments",
	EventPaymentBalance:   "manage_payments",

	EventObservability: "manage_observability",
}

// PermissionFor returns the permission required to receive eventType,
// if the event type mandates one.
func PermissionFor(eventType string) (string, bool) {
	p, ok := permissions[eventType]
	return p, ok
}

// ObservabilityEvents lists the event types drained through the
// observability buffer instead of being delivered immediately.
var ObservabilityEvents = []string{EventObservability}

// IsObservabilityEvent reports whether eventType is buffered.
func IsObservabilityEvent(eventType string) bool {
	for _, e := range ObservabilityEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// App is an external integration registered with the platform. Owned by
// the integration registry; this core only reads it.
type App struct {
	ID          string
	Name        string
	IsActive    bool
	Permissions []string
}

// HasPermission reports whether the app holds the named permission.
func (a *App) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Webhook is a registered endpoint of an app subscribed to event types.
type Webhook struct {
	ID        string
	Name      string
	App       *App
	TargetURL string
	SecretKey string
	IsActive  bool
	Events    []string
}

// SubscribedTo reports whether the webhook subscribes to eventType,
// directly or through the any-event wildcard.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == EventAny {
			return true
		}
	}
	return false
}

// Match reports whether w should receive eventType: the webhook and its
// app must be active, the webhook subscribed, and the app must hold the
// event type's required permission when one is mandated.
func Match(w *Webhook, eventType string) bool {
	if w == nil || !w.IsActive || w.App == nil || !w.App.IsActive {
		return false
	}
	if !w.SubscribedTo(eventType) {
		return false
	}
	if perm, ok := PermissionFor(eventType); ok && !w.App.HasPermission(perm) {
		return false
	}
	return true
}

// ForEvent filters candidates down to the webhooks that should receive
// eventType.
func ForEvent(eventType string, candidates []*Webhook) []*Webhook {
	var out []*Webhook
	for _, w := range candidates {
		if Match(w, eventType) {
			out = append(out, w)
		}
	}
	return out
}

// EventPayload is the immutable serialized event data shared by every
// delivery created for one event occurrence.
type EventPayload struct {
	ID        string
	Payload   []byte
	CreatedAt time.Time
}

// EventDelivery is one obligation to deliver a payload to a webhook.
type EventDelivery struct {
	ID        string
	Status    DeliveryStatus
	EventType string
	PayloadID string
	Payload   *EventPayload
	WebhookID string
	Webhook   *Webhook
	CreatedAt time.Time
}

// EventDeliveryAttempt is one concrete try at fulfilling a delivery.
// TaskID is empty for sync attempts. Written once by the outcome
// recording step immediately after the transport call.
type EventDeliveryAttempt struct {
	ID              string
	DeliveryID      string
	TaskID          string
	Duration        time.Duration
	Status          DeliveryStatus
	Response        string
	RequestHeaders  string
	ResponseHeaders string
	CreatedAt       time.Time
}
