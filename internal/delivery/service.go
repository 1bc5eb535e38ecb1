package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/tracker"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// ErrNoWebhook is returned by the sync path when the integration has no
// active webhook subscribed to the event type.
var ErrNoWebhook = errors.New("delivery: no webhook found for event")

// Scheduler enqueues async delivery tasks, optionally delayed. The NSQ
// implementation lives in scheduler.go; tests substitute fakes.
type Scheduler interface {
	ScheduleDelivery(ctx context.Context, task Task) error
}

// Service is the triggering surface consumed by the event-producing
// layer: fan-out of async events and the synchronous variant.
type Service struct {
	store      store.Store
	tracker    *tracker.Tracker
	scheduler  Scheduler
	syncRouter *transport.Router
	domain     string
	logger     *logging.Logger
}

func NewService(st store.Store, tr *tracker.Tracker, scheduler Scheduler, syncRouter *transport.Router, domain string, logger *logging.Logger) *Service {
	return &Service{
		store:      st,
		tracker:    tr,
		scheduler:  scheduler,
		syncRouter: syncRouter,
		domain:     domain,
		logger:     logger,
	}
}

// WebhooksForEvent resolves the active subscribers of eventType. A
// non-empty appID scopes the result to one integration's webhooks.
func (s *Service) WebhooksForEvent(ctx context.Context, eventType, appID string) ([]*webhook.Webhook, error) {
	candidates, err := s.store.ActiveWebhooks(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("resolving webhooks: %w", err)
	}
	return webhook.ForEvent(eventType, candidates), nil
}

// TriggerAsync creates one payload shared by one delivery per webhook
// and schedules an async delivery task for each. Fire-and-forget: the
// caller never blocks on delivery outcome.
func (s *Service) TriggerAsync(ctx context.Context, data []byte, eventType string, hooks []*webhook.Webhook) error {
	if len(hooks) == 0 {
		return nil
	}
	payload, err := s.store.CreatePayload(ctx, data)
	if err != nil {
		return fmt.Errorf("creating payload: %w", err)
	}
	deliveries, err := s.tracker.CreateDeliveries(ctx, hooks, payload, eventType)
	if err != nil {
		return fmt.Errorf("creating deliveries: %w", err)
	}
	for _, d := range deliveries {
		if err := s.scheduler.ScheduleDelivery(ctx, Task{DeliveryID: d.ID}); err != nil {
			return fmt.Errorf("scheduling delivery %s: %w", d.ID, err)
		}
	}
	s.logger.WithContext(ctx).WithEventType(eventType).
		WithField("deliveries", len(deliveries)).
		Info("async deliveries scheduled")
	return nil
}

// TriggerForEvent resolves subscribers itself and fans the event out.
func (s *Service) TriggerForEvent(ctx context.Context, eventType string, data []byte) error {
	hooks, err := s.WebhooksForEvent(ctx, eventType, "")
	if err != nil {
		return err
	}
	return s.TriggerAsync(ctx, data, eventType, hooks)
}

// TriggerSync delivers data to the first matching webhook of app and
// returns the parsed response. Used for request/response integrations
// such as payment gateway calls.
func (s *Service) TriggerSync(ctx context.Context, eventType string, data []byte, app *webhook.App) (map[string]any, error) {
	hooks, err := s.WebhooksForEvent(ctx, eventType, app.ID)
	if err != nil {
		return nil, err
	}
	if len(hooks) == 0 {
		return nil, fmt.Errorf("%w: %s for app %s", ErrNoWebhook, eventType, app.Name)
	}
	payload, err := s.store.CreatePayload(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("creating payload: %w", err)
	}
	d, err := s.tracker.CreateDelivery(ctx, hooks[0], payload, eventType)
	if err != nil {
		return nil, fmt.Errorf("creating delivery: %w", err)
	}
	return s.SendSync(ctx, app.Name, d)
}
