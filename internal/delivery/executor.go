package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/metrics"
	"github.com/cartloom/hookrelay/internal/retry"
	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/tracing"
	"github.com/cartloom/hookrelay/internal/tracker"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// Executor runs one async delivery attempt per Task. Retries of the
// same delivery are sequential: each failed attempt produces a
// RetryScheduled result, and the worker re-enqueues a fresh task after
// the backoff delay.
type Executor struct {
	tracker *tracker.Tracker
	router  *transport.Router
	policy  retry.Policy
	domain  string
	logger  *logging.Logger
}

func NewExecutor(tr *tracker.Tracker, router *transport.Router, policy retry.Policy, domain string, logger *logging.Logger) *Executor {
	return &Executor{
		tracker: tr,
		router:  router,
		policy:  policy,
		domain:  domain,
		logger:  logger,
	}
}

// Execute performs one delivery attempt for the task.
func (e *Executor) Execute(ctx context.Context, t Task) Result {
	ctx, span := tracing.StartSpan(ctx, "delivery.execute",
		attribute.String("delivery_id", t.DeliveryID),
		attribute.String("task_id", t.TaskID),
		attribute.Int("retry_count", t.RetryCount),
	)
	defer span.End()

	d, err := e.tracker.Delivery(ctx, t.DeliveryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The record is gone; nothing to retry.
			e.logger.WithContext(ctx).WithDelivery(t.DeliveryID).Error("delivery not found")
			return Result{Kind: KindDropped}
		}
		e.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("delivery load failed")
		return Result{Kind: KindRetryScheduled, RetryAfter: e.policy.Delay(t.RetryCount)}
	}

	attempt, err := e.tracker.CreateAttempt(ctx, d, t.TaskID)
	if err != nil {
		e.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("attempt create failed")
		return Result{Kind: KindRetryScheduled, RetryAfter: e.policy.Delay(t.RetryCount)}
	}

	resp, err := e.router.Deliver(ctx, d.Webhook.TargetURL, e.domain, d.Webhook.SecretKey, d.EventType, d.Payload.Payload)
	if err != nil {
		// Unknown scheme: a configuration defect, not a transient
		// fault. Record it and fail the delivery without retrying.
		resp = transport.Failed(err.Error(), 0)
		e.recordOutcome(ctx, d, attempt, resp)
		e.finish(ctx, d, attempt, webhook.StatusFailed)
		e.logger.WithContext(ctx).WithDelivery(d.ID).WithWebhook(d.WebhookID).WithError(err).
			Error("unroutable webhook target")
		return Result{Kind: KindExhausted}
	}
	e.recordOutcome(ctx, d, attempt, resp)

	if resp.Status == webhook.StatusFailed {
		e.logger.WithContext(ctx).
			WithDelivery(d.ID).
			WithWebhook(d.WebhookID).
			WithEventType(d.EventType).
			WithAttempt(attempt.ID).
			WithField("target_url", d.Webhook.TargetURL).
			WithField("response", resp.Content).
			Info("delivery attempt failed")
		metrics.RecordRetry(classifyReason(resp.Content))

		if e.policy.Exhausted(t.RetryCount) {
			e.finish(ctx, d, attempt, webhook.StatusFailed)
			e.logger.WithContext(ctx).WithDelivery(d.ID).WithWebhook(d.WebhookID).
				WithField("target_url", d.Webhook.TargetURL).
				Warn("retry limit exceeded")
			return Result{Kind: KindExhausted}
		}

		delay := e.policy.Delay(t.RetryCount)
		next := time.Now().Add(delay)
		e.tracker.Report(ctx, d.EventType, attempt, &next)
		// Delivery stays PENDING while retries remain possible.
		return Result{Kind: KindRetryScheduled, RetryAfter: delay}
	}

	e.finish(ctx, d, attempt, webhook.StatusSuccess)
	return Result{Kind: KindSuccess}
}

// recordOutcome writes the transport response onto the attempt and
// updates metrics.
func (e *Executor) recordOutcome(ctx context.Context, d *webhook.EventDelivery, attempt *webhook.EventDeliveryAttempt, resp *transport.Response) {
	if err := e.tracker.UpdateAttempt(ctx, attempt, resp); err != nil {
		e.logger.WithContext(ctx).WithAttempt(attempt.ID).WithError(err).Error("attempt update failed")
	}
	metrics.RecordAttempt(string(resp.Status), schemeOf(d.Webhook.TargetURL), resp.Duration)
}

// finish persists the terminal delivery status, reports the attempt,
// and reaps the payload of successful deliveries.
func (e *Executor) finish(ctx context.Context, d *webhook.EventDelivery, attempt *webhook.EventDeliveryAttempt, status webhook.DeliveryStatus) {
	if err := e.tracker.UpdateDelivery(ctx, d, status); err != nil {
		e.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("delivery update failed")
	}
	e.tracker.Report(ctx, d.EventType, attempt, nil)
	if err := e.tracker.Reap(ctx, d); err != nil {
		e.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("delivery reap failed")
	}
}

func schemeOf(targetURL string) string {
	target, err := transport.ParseTarget(targetURL)
	if err != nil {
		return "unknown"
	}
	return target.Scheme.String()
}

// classifyReason buckets a failure for the retry metric.
func classifyReason(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "connection refused"):
		return "connection_refused"
	case strings.Contains(lower, "no such host") || strings.Contains(lower, "dns"):
		return "dns_error"
	default:
		return "other"
	}
}
