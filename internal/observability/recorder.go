package observability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// attemptSample is the buffered form of one attempt report.
type attemptSample struct {
	EventType  string     `json:"event_type"`
	AttemptID  string     `json:"attempt_id"`
	DeliveryID string     `json:"delivery_id"`
	TaskID     string     `json:"task_id,omitempty"`
	Status     string     `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	Response   string     `json:"response,omitempty"`
	NextRetry  *time.Time `json:"next_retry,omitempty"`
	ReportedAt time.Time  `json:"reported_at"`
}

// AttemptRecorder buffers attempt reports for the observability drain.
// It implements the tracker's observer hook; recording never blocks or
// fails a delivery, a full or unreachable buffer just drops the sample.
type AttemptRecorder struct {
	buffer *Buffer
	logger *logging.Logger
}

func NewAttemptRecorder(buffer *Buffer, logger *logging.Logger) *AttemptRecorder {
	return &AttemptRecorder{buffer: buffer, logger: logger}
}

// ObserveAttempt serializes the attempt into a sample and appends it to
// the observability buffer.
func (r *AttemptRecorder) ObserveAttempt(ctx context.Context, eventType string, attempt *webhook.EventDeliveryAttempt, nextRetry *time.Time) error {
	sample := attemptSample{
		EventType:  eventType,
		AttemptID:  attempt.ID,
		DeliveryID: attempt.DeliveryID,
		TaskID:     attempt.TaskID,
		Status:     string(attempt.Status),
		DurationMS: attempt.Duration.Milliseconds(),
		Response:   attempt.Response,
		NextRetry:  nextRetry,
		ReportedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return r.buffer.Put(ctx, webhook.EventObservability, data)
}
