package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/cartloom/hookrelay/internal/delivery"
	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/metrics"
	"github.com/cartloom/hookrelay/internal/observability"
)

// taskExecutor runs one async delivery attempt.
type taskExecutor interface {
	Execute(ctx context.Context, t delivery.Task) delivery.Result
}

// retryScheduler enqueues a delivery task after a backoff delay.
type retryScheduler interface {
	ScheduleDeliveryAfter(ctx context.Context, task delivery.Task, delay time.Duration) error
}

// deliveryHandler consumes async delivery tasks. The executor returns
// an explicit result; the handler owns the queue verbs. A retry is a
// fresh deferred task carrying the incremented retry count: a requeue
// would make nsqd redeliver its stored copy with the count the task was
// originally published with, so the backoff would never grow and the
// retry ceiling would never be reached.
type deliveryHandler struct {
	executor  taskExecutor
	scheduler retryScheduler
	logger    *logging.Logger
}

func (h *deliveryHandler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()

	var t delivery.Task
	if err := json.Unmarshal(m.Body, &t); err != nil {
		h.logger.Plain().WithError(err).Error("bad task payload")
		m.Finish() // terminal: don't retry bad payloads
		return nil
	}
	if t.TaskID == "" {
		t.TaskID = string(m.ID[:])
	}

	res := h.executor.Execute(context.Background(), t)
	if res.Kind == delivery.KindRetryScheduled {
		t.RetryCount++
		if err := h.scheduler.ScheduleDeliveryAfter(context.Background(), t, res.RetryAfter); err != nil {
			h.logger.Plain().WithDelivery(t.DeliveryID).WithError(err).Error("retry schedule failed")
			// Fall back to a redelivery of the stored copy; the same
			// retry count runs once more.
			m.Requeue(res.RetryAfter)
			return nil
		}
	}
	m.Finish()
	return nil
}

// LogFailedMessage fires when the consumer gives up on a message after
// MaxAttempts redeliveries, so a discarded task always leaves a trace.
func (h *deliveryHandler) LogFailedMessage(m *nsq.Message) {
	var t delivery.Task
	if err := json.Unmarshal(m.Body, &t); err != nil {
		h.logger.Plain().WithError(err).Error("undecodable task discarded")
		return
	}
	h.logger.Plain().WithDelivery(t.DeliveryID).WithField("redeliveries", m.Attempts).
		Error("delivery task discarded after repeated redelivery")
}

// batchReporter drains one observability batch.
type batchReporter interface {
	ReportEvents(ctx context.Context, eventType string, batchSize int) (int, error)
}

// drainHandler consumes observability batch tasks. Expired tasks are
// dropped; a locked buffer means another worker is draining the same
// event type, which also finishes the task.
type drainHandler struct {
	reporter batchReporter
	logger   *logging.Logger
	now      func() time.Time
}

func (h *drainHandler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()

	var task observability.BatchTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		h.logger.Plain().WithError(err).Error("bad batch task payload")
		m.Finish()
		return nil
	}
	if task.Expired(h.now()) {
		metrics.ObservabilityDroppedTotal.Inc()
		h.logger.Plain().WithEventType(task.EventType).Warn("expired drain task dropped")
		m.Finish()
		return nil
	}

	_, err := h.reporter.ReportEvents(context.Background(), task.EventType, task.BatchSize)
	switch {
	case errors.Is(err, observability.ErrBufferLocked):
		m.Finish()
	case err != nil:
		h.logger.Plain().WithEventType(task.EventType).WithError(err).Error("drain failed")
		m.Requeue(-1)
	default:
		m.Finish()
	}
	return nil
}
