package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/metrics"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// BatchTask is one scheduled drain of up to BatchSize samples for one
// event type. A task found after ExpiresAt is stale: its samples are
// already covered by a newer cycle's tasks, so the worker drops it.
type BatchTask struct {
	EventType string    `json:"event_type"`
	BatchSize int       `json:"batch_size"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the task is past its drain window.
func (t BatchTask) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// SubscriberSource resolves the active webhooks subscribed to an event
// type. The delivery service satisfies this.
type SubscriberSource interface {
	WebhooksForEvent(ctx context.Context, eventType, appID string) ([]*webhook.Webhook, error)
}

// BatchScheduler enqueues drain tasks for workers to pick up.
type BatchScheduler interface {
	ScheduleBatch(ctx context.Context, task BatchTask) error
}

// Reporter drains buffered samples to observability subscribers.
// Samples are delivered outside the delivery tracking tables: no
// delivery or attempt rows are created, and a failed send simply loses
// the batch's fan-out to that one subscriber.
type Reporter struct {
	buffer    *Buffer
	source    SubscriberSource
	router    *transport.Router
	scheduler BatchScheduler
	domain    string
	batchSize int
	period    time.Duration
	logger    *logging.Logger
}

func NewReporter(buffer *Buffer, source SubscriberSource, router *transport.Router, scheduler BatchScheduler, domain string, batchSize int, period time.Duration, logger *logging.Logger) *Reporter {
	return &Reporter{
		buffer:    buffer,
		source:    source,
		router:    router,
		scheduler: scheduler,
		domain:    domain,
		batchSize: batchSize,
		period:    period,
		logger:    logger,
	}
}

// ReportAll enqueues one drain task per pending batch for every
// observability event type. Called on a fixed period by the reporter
// process; the tasks expire at the start of the next period.
func (r *Reporter) ReportAll(ctx context.Context) error {
	expiresAt := time.Now().Add(r.period)
	var firstErr error
	for _, eventType := range webhook.ObservabilityEvents {
		batches, err := r.buffer.BatchesCount(ctx, eventType, r.batchSize)
		if err != nil {
			r.logger.WithContext(ctx).WithEventType(eventType).WithError(err).
				Error("buffer batch count failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for i := 0; i < batches; i++ {
			task := BatchTask{EventType: eventType, BatchSize: r.batchSize, ExpiresAt: expiresAt}
			if err := r.scheduler.ScheduleBatch(ctx, task); err != nil {
				r.logger.WithContext(ctx).WithEventType(eventType).WithError(err).
					Error("drain task enqueue failed")
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
		if batches > 0 {
			r.logger.WithContext(ctx).WithEventType(eventType).
				WithField("batches", batches).
				Debug("drain tasks enqueued")
		}
	}
	return firstErr
}

// ReportEvents drains one batch of up to batchSize samples for
// eventType and returns the number of samples delivered to each
// subscriber. ErrBufferLocked means another drain holds the buffer and
// this cycle should be skipped, not retried.
func (r *Reporter) ReportEvents(ctx context.Context, eventType string, batchSize int) (int, error) {
	session, err := r.buffer.Acquire(ctx, eventType)
	if err != nil {
		if errors.Is(err, ErrBufferLocked) {
			r.logger.WithContext(ctx).WithEventType(eventType).Debug("buffer busy, skipping drain")
		}
		return 0, err
	}
	defer session.Release(ctx)

	samples, err := session.Peek(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("peeking buffer: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	hooks, err := r.source.WebhooksForEvent(ctx, eventType, "")
	if err != nil {
		return 0, fmt.Errorf("resolving subscribers: %w", err)
	}
	for _, w := range hooks {
		r.deliverBatch(ctx, w, eventType, samples)
	}

	if err := session.Ack(ctx, len(samples)); err != nil {
		return 0, fmt.Errorf("acking batch: %w", err)
	}
	metrics.RecordDrained(eventType, len(samples))
	r.logger.WithContext(ctx).WithEventType(eventType).
		WithField("samples", len(samples)).
		WithField("subscribers", len(hooks)).
		Info("observability batch drained")
	return len(samples), nil
}

// deliverBatch sends the samples to one subscriber. HTTP targets get a
// single JSON array body; broker targets get one message per sample,
// since consumers there process messages individually.
func (r *Reporter) deliverBatch(ctx context.Context, w *webhook.Webhook, eventType string, samples [][]byte) {
	target, err := transport.ParseTarget(w.TargetURL)
	if err != nil {
		r.logger.WithContext(ctx).WithWebhook(w.ID).WithError(err).
			Warn("unroutable observability target")
		return
	}

	if target.Scheme.IsHTTP() {
		body := joinJSONArray(samples)
		r.sendSample(ctx, w, eventType, body)
		return
	}
	for _, sample := range samples {
		r.sendSample(ctx, w, eventType, sample)
	}
}

func (r *Reporter) sendSample(ctx context.Context, w *webhook.Webhook, eventType string, body []byte) {
	resp, err := r.router.Deliver(ctx, w.TargetURL, r.domain, w.SecretKey, eventType, body)
	if err != nil {
		r.logger.WithContext(ctx).WithWebhook(w.ID).WithError(err).
			Warn("observability send failed")
		return
	}
	if resp.Status == webhook.StatusFailed {
		r.logger.WithContext(ctx).WithWebhook(w.ID).
			WithField("response", resp.Content).
			Warn("observability send rejected")
	}
}

// joinJSONArray builds a JSON array body from samples that are already
// serialized JSON objects, without re-parsing them.
func joinJSONArray(samples [][]byte) []byte {
	raws := make([]json.RawMessage, len(samples))
	for i, s := range samples {
		raws[i] = json.RawMessage(s)
	}
	body, err := json.Marshal(raws)
	if err != nil {
		return []byte("[]")
	}
	return body
}
